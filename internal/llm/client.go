// Package llm wraps the upstream Anthropic SDK with rate limiting,
// bounded retries, and fire-and-forget conversation capture. Every call
// is scheduled through the dual token-bucket limiter before it reaches
// the wire.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/aimemory/aimemory/internal/ratelimit"
)

// Retry policy: 4 total attempts, exponential base delays with jitter.
const (
	maxRetries     = 3
	initialBackoff = 1 * time.Second
	maxBackoff     = 8 * time.Second
	jitterRange    = 400 * time.Millisecond
)

// errAPIKeyRequired is returned when an API key is needed but not provided.
var errAPIKeyRequired = errors.New("API key required")

// Params configures the client.
type Params struct {
	APIKey          string
	Model           string
	SessionID       string
	TokenMultiplier float64
}

// Response is the result of one completed exchange.
type Response struct {
	Content      string `json:"content"`
	SessionID    string `json:"session_id"`
	TurnNumber   int    `json:"turn_number"`
	InputTokens  int64  `json:"input_tokens"`
	OutputTokens int64  `json:"output_tokens"`
}

// Client is the rate-limited conversation client.
type Client struct {
	client  anthropic.Client
	model   anthropic.Model
	limiter *ratelimit.Limiter
	capture *Capture

	sessionID  string
	multiplier float64

	mu   sync.Mutex
	turn int
}

// New builds a client. Env var ANTHROPIC_API_KEY takes precedence over
// the configured key. capture may be nil to disable conversation
// storage. Extra client options are applied last so tests can redirect
// the base URL.
func New(p Params, limiter *ratelimit.Limiter, capture *Capture, clientOpts ...option.RequestOption) (*Client, error) {
	apiKey := p.APIKey
	if envKey := os.Getenv("ANTHROPIC_API_KEY"); envKey != "" {
		apiKey = envKey
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: set ANTHROPIC_API_KEY or provide via config", errAPIKeyRequired)
	}

	multiplier := p.TokenMultiplier
	if multiplier <= 0 {
		multiplier = 1.3
	}

	// The SDK's own retries are disabled; the retry policy here owns
	// backoff and retry-after handling.
	opts := append([]option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}, clientOpts...)

	return &Client{
		client:     anthropic.NewClient(opts...),
		model:      anthropic.Model(p.Model),
		limiter:    limiter,
		capture:    capture,
		sessionID:  p.SessionID,
		multiplier: multiplier,
	}, nil
}

// estimateTokens approximates prompt size for limiter accounting before
// the real usage is known.
func (c *Client) estimateTokens(prompt string) float64 {
	return float64(len(strings.Fields(prompt))) * c.multiplier
}

func (c *Client) nextTurn() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turn++
	return c.turn
}

// SendMessage runs one exchange: acquire limiter capacity, capture the
// user message in the background, call the API under the retry policy,
// and capture the agent response.
func (c *Client) SendMessage(ctx context.Context, prompt string, maxTokens int) (*Response, error) {
	if err := c.limiter.Acquire(ctx, c.estimateTokens(prompt)); err != nil {
		return nil, err
	}

	turn := c.nextTurn()
	if c.capture != nil {
		c.capture.CaptureUserMessage(prompt, c.sessionID, turn)
	}

	message, err := c.callWithRetry(ctx, prompt, maxTokens)
	if err != nil {
		c.limiter.RecordFailure()
		return nil, err
	}
	c.limiter.RecordSuccess()

	content := extractText(message)
	if c.capture != nil {
		c.capture.CaptureAgentResponse(content, c.sessionID, turn)
	}

	return &Response{
		Content:      content,
		SessionID:    c.sessionID,
		TurnNumber:   turn,
		InputTokens:  message.Usage.InputTokens,
		OutputTokens: message.Usage.OutputTokens,
	}, nil
}

func (c *Client) callWithRetry(ctx context.Context, prompt string, maxTokens int) (*anthropic.Message, error) {
	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := retryDelay(attempt, lastErr)
			slog.Info("retrying upstream call",
				"attempt", attempt, "delay", delay, "error", lastErr)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		var raw *http.Response
		message, err := c.client.Messages.New(ctx, params, option.WithResponseInto(&raw))
		if raw != nil {
			c.limiter.UpdateFromHeaders(raw.Header)
		}
		if err == nil {
			return message, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !isRetryable(err) {
			return nil, fmt.Errorf("upstream call failed: %w", err)
		}
	}
	return nil, fmt.Errorf("upstream call failed after %d attempts: %w", maxRetries+1, lastErr)
}

// SendMessageBuffered streams the response but buffers every chunk,
// returning the full text at once. A mid-stream error retries the whole
// operation from the start.
func (c *Client) SendMessageBuffered(ctx context.Context, prompt string, maxTokens int) (*Response, error) {
	if err := c.limiter.Acquire(ctx, c.estimateTokens(prompt)); err != nil {
		return nil, err
	}

	turn := c.nextTurn()
	if c.capture != nil {
		c.capture.CaptureUserMessage(prompt, c.sessionID, turn)
	}

	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}

	var message anthropic.Message
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := retryDelay(attempt, lastErr)
			slog.Info("retrying upstream stream",
				"attempt", attempt, "delay", delay, "error", lastErr)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		message = anthropic.Message{}
		var attemptErr error
		stream := c.client.Messages.NewStreaming(ctx, params)
		for stream.Next() {
			event := stream.Current()
			if err := message.Accumulate(event); err != nil {
				attemptErr = err
				break
			}
		}
		if attemptErr == nil {
			attemptErr = stream.Err()
		}
		if attemptErr == nil {
			c.limiter.RecordSuccess()
			content := extractText(&message)
			if c.capture != nil {
				c.capture.CaptureAgentResponse(content, c.sessionID, turn)
			}
			return &Response{
				Content:      content,
				SessionID:    c.sessionID,
				TurnNumber:   turn,
				InputTokens:  message.Usage.InputTokens,
				OutputTokens: message.Usage.OutputTokens,
			}, nil
		}
		lastErr = attemptErr

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !isRetryable(lastErr) {
			c.limiter.RecordFailure()
			return nil, fmt.Errorf("upstream stream failed: %w", lastErr)
		}
	}
	c.limiter.RecordFailure()
	return nil, fmt.Errorf("upstream stream failed after %d attempts: %w", maxRetries+1, lastErr)
}

// Close waits for outstanding capture tasks with a timeout.
func (c *Client) Close(timeout time.Duration) {
	if c.capture != nil {
		c.capture.Close(timeout)
	}
}

// extractText concatenates every text block of a message.
func extractText(m *anthropic.Message) string {
	var sb strings.Builder
	for _, block := range m.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String()
}

// retryDelay computes the wait before the given attempt: exponential
// base with random jitter, capped, and overridden by a retry-after
// header when the failure carried one.
func retryDelay(attempt int, err error) time.Duration {
	if ra, ok := retryAfter(err); ok {
		return ra
	}
	delay := time.Duration(float64(initialBackoff) * math.Pow(2, float64(attempt-1)))
	delay += time.Duration(rand.Int63n(int64(2*jitterRange))) - jitterRange
	if delay > maxBackoff {
		delay = maxBackoff
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}

// retryAfter extracts an integer-seconds retry-after header from an API
// error, when present.
func retryAfter(err error) (time.Duration, bool) {
	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) || apiErr.Response == nil {
		return 0, false
	}
	header := apiErr.Response.Header.Get("retry-after")
	if header == "" {
		return 0, false
	}
	secs, convErr := strconv.Atoi(strings.TrimSpace(header))
	if convErr != nil || secs < 0 {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

// isRetryable reports whether the error is a rate-limit or overloaded
// condition worth retrying. Other 4xx and 5xx fail immediately.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode == 529
	}
	return false
}
