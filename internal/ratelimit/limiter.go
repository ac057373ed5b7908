// Package ratelimit implements the dual token-bucket queue guarding the
// upstream LLM: one bucket for requests per minute, one for tokens per
// minute, refilled continuously, with a bounded wait queue and a
// process-level circuit breaker fed by upstream failures.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	// pollInterval bounds how long a waiter sleeps between refill checks.
	pollInterval = 100 * time.Millisecond

	// breakerThreshold consecutive upstream failures open the breaker.
	breakerThreshold = 5
	// breakerCooldown is how long the breaker stays open.
	breakerCooldown = 60 * time.Second

	// utilizationWarnRatio is the budget consumption level that logs a
	// warning when synchronising from response headers.
	utilizationWarnRatio = 0.8
)

// QueueDepthExceededError is returned when the wait queue is full. This is
// the canonical backpressure signal; callers surface it rather than retry.
type QueueDepthExceededError struct {
	Depth int
	Max   int
}

func (e *QueueDepthExceededError) Error() string {
	return fmt.Sprintf("rate limit queue depth %d exceeds maximum %d", e.Depth, e.Max)
}

// QueueTimeoutError is returned when a waiter exceeds the queue timeout.
type QueueTimeoutError struct {
	Waited time.Duration
}

func (e *QueueTimeoutError) Error() string {
	return fmt.Sprintf("rate limit acquire timed out after %s", e.Waited.Round(time.Millisecond))
}

// CircuitOpenError is returned while the process-level breaker is open.
type CircuitOpenError struct {
	Until time.Time
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("rate limit circuit open until %s", e.Until.Format(time.RFC3339))
}

// Limiter is the dual token-bucket queue. All state is mutated inside a
// single critical section per operation; waiters sleep outside it.
type Limiter struct {
	mu sync.Mutex

	rpmLimit float64
	tpmLimit float64

	availableRequests float64
	availableTokens   float64
	lastRefill        time.Time

	queueDepth    int
	maxQueueDepth int
	queueTimeout  time.Duration

	consecutiveFailures int
	circuitOpenUntil    time.Time

	now func() time.Time
}

// New builds a limiter with full buckets.
func New(requestsPerMinute, tokensPerMinute, maxQueueDepth int, queueTimeout time.Duration) *Limiter {
	l := &Limiter{
		rpmLimit:          float64(requestsPerMinute),
		tpmLimit:          float64(tokensPerMinute),
		availableRequests: float64(requestsPerMinute),
		availableTokens:   float64(tokensPerMinute),
		maxQueueDepth:     maxQueueDepth,
		queueTimeout:      queueTimeout,
		now:               time.Now,
	}
	l.lastRefill = l.now()
	return l
}

// refillLocked tops up both buckets at limit/60 per elapsed second,
// capped at the limit. Caller holds mu.
func (l *Limiter) refillLocked() {
	now := l.now()
	elapsed := now.Sub(l.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	l.lastRefill = now

	l.availableRequests += elapsed * l.rpmLimit / 60
	if l.availableRequests > l.rpmLimit {
		l.availableRequests = l.rpmLimit
	}
	l.availableTokens += elapsed * l.tpmLimit / 60
	if l.availableTokens > l.tpmLimit {
		l.availableTokens = l.tpmLimit
	}
}

// Acquire blocks until one request slot and estimatedTokens tokens are
// available, then deducts both atomically. It fails fast with
// QueueDepthExceededError when the wait queue is full, CircuitOpenError
// while the breaker is open, and QueueTimeoutError after queueTimeout.
// No fairness is guaranteed across concurrent waiters.
func (l *Limiter) Acquire(ctx context.Context, estimatedTokens float64) error {
	l.mu.Lock()
	if until := l.circuitOpenUntil; l.now().Before(until) {
		l.mu.Unlock()
		return &CircuitOpenError{Until: until}
	}
	l.queueDepth++
	if l.queueDepth > l.maxQueueDepth {
		depth := l.queueDepth
		l.queueDepth--
		l.mu.Unlock()
		return &QueueDepthExceededError{Depth: depth, Max: l.maxQueueDepth}
	}
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.queueDepth--
		l.mu.Unlock()
	}()

	start := l.now()
	for {
		l.mu.Lock()
		l.refillLocked()
		if l.availableRequests >= 1 && l.availableTokens >= estimatedTokens {
			l.availableRequests--
			l.availableTokens -= estimatedTokens
			l.mu.Unlock()
			return nil
		}
		wait := l.timeUntilAvailableLocked(estimatedTokens)
		l.mu.Unlock()

		if waited := l.now().Sub(start); waited >= l.queueTimeout {
			return &QueueTimeoutError{Waited: waited}
		}
		if wait > pollInterval {
			wait = pollInterval
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// timeUntilAvailableLocked computes how long until both buckets could
// satisfy the request at the continuous refill rate. Caller holds mu.
func (l *Limiter) timeUntilAvailableLocked(estimatedTokens float64) time.Duration {
	wait := time.Duration(0)
	if l.availableRequests < 1 && l.rpmLimit > 0 {
		need := (1 - l.availableRequests) * 60 / l.rpmLimit
		wait = time.Duration(need * float64(time.Second))
	}
	if l.availableTokens < estimatedTokens && l.tpmLimit > 0 {
		need := (estimatedTokens - l.availableTokens) * 60 / l.tpmLimit
		if d := time.Duration(need * float64(time.Second)); d > wait {
			wait = d
		}
	}
	if wait <= 0 {
		wait = pollInterval
	}
	return wait
}

// UpdateFromHeaders synchronises available budgets from upstream
// remaining-requests / remaining-tokens response headers, logging a
// warning when utilisation crosses 80%.
func (l *Limiter) UpdateFromHeaders(h http.Header) {
	l.mu.Lock()
	defer l.mu.Unlock()

	requests, inputTokens, outputTokens := -1.0, -1.0, -1.0
	for key, values := range h {
		if len(values) == 0 {
			continue
		}
		lower := strings.ToLower(key)
		switch {
		case strings.HasSuffix(lower, "-ratelimit-requests-remaining"):
			if v, err := strconv.ParseFloat(values[0], 64); err == nil {
				requests = v
			}
		case strings.HasSuffix(lower, "-ratelimit-input-tokens-remaining"):
			if v, err := strconv.ParseFloat(values[0], 64); err == nil {
				inputTokens = v
			}
		case strings.HasSuffix(lower, "-ratelimit-output-tokens-remaining"):
			if v, err := strconv.ParseFloat(values[0], 64); err == nil {
				outputTokens = v
			}
		}
	}

	if requests >= 0 {
		l.availableRequests = minFloat(requests, l.rpmLimit)
		l.warnUtilizationLocked("requests", requests, l.rpmLimit)
	}

	// When both token budgets are reported, the tighter one governs;
	// header-map iteration order must not decide.
	tokens := inputTokens
	if outputTokens >= 0 && (tokens < 0 || outputTokens < tokens) {
		tokens = outputTokens
	}
	if tokens >= 0 {
		l.availableTokens = minFloat(tokens, l.tpmLimit)
		l.warnUtilizationLocked("tokens", tokens, l.tpmLimit)
	}
}

func (l *Limiter) warnUtilizationLocked(bucket string, remaining, limit float64) {
	if limit <= 0 {
		return
	}
	used := 1 - remaining/limit
	if used >= utilizationWarnRatio {
		slog.Warn("rate limit utilisation high",
			"bucket", bucket,
			"remaining", remaining,
			"limit", limit,
			"utilisation", fmt.Sprintf("%.0f%%", used*100))
	}
}

// RecordFailure counts a consecutive upstream failure; crossing the
// threshold opens the breaker for a fixed cooldown.
func (l *Limiter) RecordFailure() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.consecutiveFailures++
	if l.consecutiveFailures >= breakerThreshold {
		l.circuitOpenUntil = l.now().Add(breakerCooldown)
		slog.Warn("rate limit circuit opened",
			"consecutive_failures", l.consecutiveFailures,
			"open_until", l.circuitOpenUntil.Format(time.RFC3339))
	}
}

// RecordSuccess clears the failure streak and closes the breaker.
func (l *Limiter) RecordSuccess() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.consecutiveFailures = 0
	l.circuitOpenUntil = time.Time{}
}

// QueueDepth reports the number of currently waiting acquires.
func (l *Limiter) QueueDepth() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.queueDepth
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
