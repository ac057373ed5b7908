// Package embed provides the pooled HTTP client for the embedding service.
//
// The service contract is POST /embed {"texts": [...]} returning one
// fixed-dimension vector per input text, plus a cheap GET /health probe.
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/aimemory/aimemory/internal/config"
)

// ErrTimeout marks a read timeout against the embedding service. Callers
// degrade to a pending-embedding store rather than failing.
var ErrTimeout = errors.New("embedding request timed out")

// ErrEmbedding marks any other transport or protocol failure.
var ErrEmbedding = errors.New("embedding request failed")

// Client talks to the embedding service over a keep-alive pool.
type Client struct {
	baseURL   string
	model     string
	dimension int
	httpc     *http.Client
}

// NewClient builds a client with granular timeouts: connect, read
// (response header), and an overall request deadline derived from the
// read timeout.
func NewClient(cfg config.EmbeddingConfig) *Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: cfg.ReadTimeout,
	}
	return &Client{
		baseURL:   strings.TrimSuffix(cfg.URL, "/"),
		model:     cfg.Model,
		dimension: cfg.Dimension,
		httpc: &http.Client{
			Transport: transport,
			Timeout:   cfg.ConnectTimeout + cfg.ReadTimeout + cfg.WriteTimeout,
		},
	}
}

// Dimension returns the fixed vector width for the configured model.
func (c *Client) Dimension() int { return c.dimension }

// Model returns the embedding model identifier.
func (c *Client) Model() string { return c.model }

// ZeroVector returns the placeholder vector used for records stored with
// embedding_status=pending.
func (c *Client) ZeroVector() []float32 {
	return make([]float32, c.dimension)
}

type embedRequest struct {
	Texts []string `json:"texts"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed maps texts to dense vectors in one batch request. It never returns
// a partial result: on success len(result) == len(texts) and every vector
// has the model dimension. An empty input returns an empty result without
// a network round-trip.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	body, err := json.Marshal(embedRequest{Texts: texts})
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %v", ErrEmbedding, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbedding, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrEmbedding, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d: %s", ErrEmbedding, resp.StatusCode, snippet)
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: decode response: %v", ErrEmbedding, err)
	}

	if len(parsed.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrEmbedding, len(parsed.Embeddings), len(texts))
	}
	for i, vec := range parsed.Embeddings {
		if len(vec) != c.dimension {
			return nil, fmt.Errorf("%w: vector %d has dimension %d, want %d", ErrEmbedding, i, len(vec), c.dimension)
		}
	}
	return parsed.Embeddings, nil
}

// HealthCheck probes GET /health. It reports availability and never
// returns an error.
func (c *Client) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

func isTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err)
}
