package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aimemory/aimemory/internal/config"
)

// ErrUnavailable marks transport-level failures against the vector store.
// The storage pipeline turns it into a retry-queue entry.
var ErrUnavailable = errors.New("vector store unavailable")

// Client is a connection-pool-safe REST client for the vector store.
type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

// New builds a client from config. timeout applies per operation.
func New(cfg config.VectorStoreConfig) *Client {
	scheme := "http"
	if cfg.UseTLS {
		scheme = "https"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: fmt.Sprintf("%s://%s:%d", scheme, cfg.Host, cfg.Port),
		apiKey:  cfg.APIKey,
		httpc:   &http.Client{Timeout: timeout},
	}
}

func (c *Client) doRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("vector store %s %s: status %d: %s", method, path, resp.StatusCode, truncateBody(data))
	}
	return data, nil
}

func truncateBody(b []byte) string {
	if len(b) > 256 {
		b = b[:256]
	}
	return string(b)
}

// Upsert writes one point with its vector and payload.
func (c *Client) Upsert(ctx context.Context, collection, id string, vector []float32, payload map[string]any) error {
	body := map[string]any{
		"points": []map[string]any{{
			"id":      id,
			"vector":  vector,
			"payload": payload,
		}},
	}
	_, err := c.doRequest(ctx, http.MethodPut, "/collections/"+collection+"/points?wait=true", body)
	if err != nil {
		return fmt.Errorf("upsert point %s: %w", id, err)
	}
	return nil
}

type rawPoint struct {
	ID      json.RawMessage `json:"id"`
	Score   float64         `json:"score"`
	Payload map[string]any  `json:"payload"`
}

func (p rawPoint) toPoint() Point {
	var id string
	// Point ids may come back as strings or integers.
	if err := json.Unmarshal(p.ID, &id); err != nil {
		var n int64
		if json.Unmarshal(p.ID, &n) == nil {
			id = fmt.Sprintf("%d", n)
		}
	}
	return Point{ID: id, Score: p.Score, Payload: p.Payload}
}

// Query executes one points query: either a vanilla vector search or a
// prefetch + formula rescoring round-trip.
func (c *Client) Query(ctx context.Context, collection string, q QueryRequest) ([]Point, error) {
	body := map[string]any{
		"limit":        q.Limit,
		"with_payload": true,
	}
	if q.Formula != nil {
		body["query"] = map[string]any{"formula": FormulaJSON(q.Formula)}
		if q.Prefetch != nil {
			prefetch := map[string]any{
				"query": q.Prefetch.Vector,
				"limit": q.Prefetch.Limit,
			}
			if q.Prefetch.Filter != nil {
				prefetch["filter"] = q.Prefetch.Filter
			}
			if q.Prefetch.ScoreThreshold > 0 {
				prefetch["score_threshold"] = q.Prefetch.ScoreThreshold
			}
			if q.Prefetch.Params != nil {
				prefetch["params"] = q.Prefetch.Params
			}
			body["prefetch"] = prefetch
		}
	} else {
		body["query"] = q.Vector
		if q.Filter != nil {
			body["filter"] = q.Filter
		}
		if q.ScoreThreshold > 0 {
			body["score_threshold"] = q.ScoreThreshold
		}
		if q.Params != nil {
			body["params"] = q.Params
		}
	}

	data, err := c.doRequest(ctx, http.MethodPost, "/collections/"+collection+"/points/query", body)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}

	var parsed struct {
		Result struct {
			Points []rawPoint `json:"points"`
		} `json:"result"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("query %s: parse response: %w", collection, err)
	}

	points := make([]Point, 0, len(parsed.Result.Points))
	for _, rp := range parsed.Result.Points {
		points = append(points, rp.toPoint())
	}
	return points, nil
}

// Scroll pages through points matching a filter. The returned offset is
// opaque; pass it back to continue, nil means exhausted.
func (c *Client) Scroll(ctx context.Context, collection string, filter *Filter, limit int, offset any) ([]Point, any, error) {
	body := map[string]any{
		"limit":        limit,
		"with_payload": true,
	}
	if filter != nil {
		body["filter"] = filter
	}
	if offset != nil {
		body["offset"] = offset
	}

	data, err := c.doRequest(ctx, http.MethodPost, "/collections/"+collection+"/points/scroll", body)
	if err != nil {
		return nil, nil, fmt.Errorf("scroll %s: %w", collection, err)
	}

	var parsed struct {
		Result struct {
			Points         []rawPoint `json:"points"`
			NextPageOffset any        `json:"next_page_offset"`
		} `json:"result"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, nil, fmt.Errorf("scroll %s: parse response: %w", collection, err)
	}

	points := make([]Point, 0, len(parsed.Result.Points))
	for _, rp := range parsed.Result.Points {
		points = append(points, rp.toPoint())
	}
	return points, parsed.Result.NextPageOffset, nil
}

// SetPayload merges payload fields onto the given points.
func (c *Client) SetPayload(ctx context.Context, collection string, ids []string, payload map[string]any) error {
	body := map[string]any{
		"points":  ids,
		"payload": payload,
	}
	_, err := c.doRequest(ctx, http.MethodPost, "/collections/"+collection+"/points/payload?wait=true", body)
	if err != nil {
		return fmt.Errorf("set payload on %d points: %w", len(ids), err)
	}
	return nil
}

// CreatePayloadIndex creates a payload index; idempotent on the server
// side, called once at init for the tenant key.
func (c *Client) CreatePayloadIndex(ctx context.Context, collection, field string, schema IndexSchema) error {
	body := map[string]any{
		"field_name":   field,
		"field_schema": schema,
	}
	_, err := c.doRequest(ctx, http.MethodPut, "/collections/"+collection+"/index", body)
	if err != nil {
		return fmt.Errorf("create index on %s.%s: %w", collection, field, err)
	}
	return nil
}

// Count returns the number of points matching the filter. An exact
// count; collections stay small enough for this to be cheap.
func (c *Client) Count(ctx context.Context, collection string, filter *Filter) (int, error) {
	body := map[string]any{"exact": true}
	if filter != nil {
		body["filter"] = filter
	}
	data, err := c.doRequest(ctx, http.MethodPost, "/collections/"+collection+"/points/count", body)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", collection, err)
	}

	var parsed struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return 0, fmt.Errorf("count %s: parse response: %w", collection, err)
	}
	return parsed.Result.Count, nil
}

// CollectionExists checks whether the named collection is present.
func (c *Client) CollectionExists(ctx context.Context, collection string) (bool, error) {
	data, err := c.doRequest(ctx, http.MethodGet, "/collections/"+collection+"/exists", nil)
	if err != nil {
		return false, fmt.Errorf("check collection %s: %w", collection, err)
	}
	var parsed struct {
		Result struct {
			Exists bool `json:"exists"`
		} `json:"result"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return false, fmt.Errorf("check collection %s: parse response: %w", collection, err)
	}
	return parsed.Result.Exists, nil
}

// CreateCollection creates a cosine-distance collection with the given
// vector dimension.
func (c *Client) CreateCollection(ctx context.Context, collection string, dimension int) error {
	body := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": "Cosine",
		},
	}
	_, err := c.doRequest(ctx, http.MethodPut, "/collections/"+collection, body)
	if err != nil {
		return fmt.Errorf("create collection %s: %w", collection, err)
	}
	return nil
}

// CheckHealth does a lightweight collections list. It reports availability
// and never returns an error.
func (c *Client) CheckHealth(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/collections", nil)
	if err != nil {
		return false
	}
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}
