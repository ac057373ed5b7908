package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"
)

func TestAcquireImmediateWhenBudgetAvailable(t *testing.T) {
	l := New(10, 1000, 5, time.Second)
	if err := l.Acquire(context.Background(), 100); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if l.QueueDepth() != 0 {
		t.Errorf("queue depth = %d after acquire returned", l.QueueDepth())
	}
}

func TestAcquireDeductsBoth(t *testing.T) {
	l := New(2, 300, 5, 50*time.Millisecond)

	for i := 0; i < 2; i++ {
		if err := l.Acquire(context.Background(), 100); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}

	// Request bucket exhausted; the next acquire must time out.
	err := l.Acquire(context.Background(), 1)
	var timeout *QueueTimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("expected QueueTimeoutError, got %v", err)
	}
}

func TestAcquireTokenBucketLimits(t *testing.T) {
	l := New(100, 200, 5, 50*time.Millisecond)

	if err := l.Acquire(context.Background(), 200); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	err := l.Acquire(context.Background(), 200)
	var timeout *QueueTimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("expected QueueTimeoutError, got %v", err)
	}
}

func TestContinuousRefill(t *testing.T) {
	l := New(60, 6000, 5, time.Second) // one request per second
	base := time.Now()
	l.now = func() time.Time { return base }
	l.availableRequests = 0
	l.availableTokens = 0
	l.lastRefill = base

	// Half a second refills half a request and 50 tokens.
	base = base.Add(500 * time.Millisecond)
	l.mu.Lock()
	l.refillLocked()
	reqs, toks := l.availableRequests, l.availableTokens
	l.mu.Unlock()

	if reqs < 0.49 || reqs > 0.51 {
		t.Errorf("availableRequests = %f, want ~0.5", reqs)
	}
	if toks < 49 || toks > 51 {
		t.Errorf("availableTokens = %f, want ~50", toks)
	}

	// A long idle period caps at the limits.
	base = base.Add(time.Hour)
	l.mu.Lock()
	l.refillLocked()
	reqs, toks = l.availableRequests, l.availableTokens
	l.mu.Unlock()
	if reqs != 60 || toks != 6000 {
		t.Errorf("refill not capped: %f, %f", reqs, toks)
	}
}

func TestQueueDepthExceeded(t *testing.T) {
	l := New(1, 1000, 2, 2*time.Second)

	// Exhaust the request bucket so later acquires queue up.
	if err := l.Acquire(context.Background(), 1); err != nil {
		t.Fatalf("priming acquire: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	started := make(chan struct{}, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			started <- struct{}{}
			_ = l.Acquire(ctx, 1)
		}()
	}
	<-started
	<-started
	// Give the two waiters time to enter the queue.
	deadline := time.Now().Add(time.Second)
	for l.QueueDepth() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	err := l.Acquire(ctx, 1)
	var depth *QueueDepthExceededError
	if !errors.As(err, &depth) {
		t.Fatalf("expected QueueDepthExceededError, got %v", err)
	}

	cancel()
	wg.Wait()
}

func TestCircuitBreaker(t *testing.T) {
	l := New(10, 1000, 5, time.Second)

	for i := 0; i < breakerThreshold; i++ {
		l.RecordFailure()
	}

	err := l.Acquire(context.Background(), 1)
	var open *CircuitOpenError
	if !errors.As(err, &open) {
		t.Fatalf("expected CircuitOpenError, got %v", err)
	}

	l.RecordSuccess()
	if err := l.Acquire(context.Background(), 1); err != nil {
		t.Fatalf("acquire after success: %v", err)
	}
}

func TestUpdateFromHeaders(t *testing.T) {
	l := New(100, 1000, 5, time.Second)

	h := http.Header{}
	h.Set("Anthropic-Ratelimit-Requests-Remaining", "10")
	h.Set("Anthropic-Ratelimit-Input-Tokens-Remaining", "50")
	l.UpdateFromHeaders(h)

	l.mu.Lock()
	reqs, toks := l.availableRequests, l.availableTokens
	l.mu.Unlock()

	if reqs != 10 {
		t.Errorf("availableRequests = %f, want 10", reqs)
	}
	if toks != 50 {
		t.Errorf("availableTokens = %f, want 50", toks)
	}
}

func TestUpdateFromHeadersTakesTighterTokenBudget(t *testing.T) {
	l := New(100, 1000, 5, time.Second)

	h := http.Header{}
	h.Set("Anthropic-Ratelimit-Input-Tokens-Remaining", "500")
	h.Set("Anthropic-Ratelimit-Output-Tokens-Remaining", "30")
	l.UpdateFromHeaders(h)

	l.mu.Lock()
	toks := l.availableTokens
	l.mu.Unlock()
	if toks != 30 {
		t.Errorf("availableTokens = %f, want 30 (tighter budget)", toks)
	}

	// Same headers with the tight side on input; the result must not
	// depend on which header is visited first.
	h = http.Header{}
	h.Set("Anthropic-Ratelimit-Input-Tokens-Remaining", "20")
	h.Set("Anthropic-Ratelimit-Output-Tokens-Remaining", "800")
	l.UpdateFromHeaders(h)

	l.mu.Lock()
	toks = l.availableTokens
	l.mu.Unlock()
	if toks != 20 {
		t.Errorf("availableTokens = %f, want 20 (tighter budget)", toks)
	}
}

func TestUpdateFromHeadersOutputTokensOnly(t *testing.T) {
	l := New(100, 1000, 5, time.Second)

	h := http.Header{}
	h.Set("Anthropic-Ratelimit-Output-Tokens-Remaining", "40")
	l.UpdateFromHeaders(h)

	l.mu.Lock()
	toks := l.availableTokens
	l.mu.Unlock()
	if toks != 40 {
		t.Errorf("availableTokens = %f, want 40", toks)
	}
}

func TestAcquireRespectsContext(t *testing.T) {
	l := New(1, 10, 5, 10*time.Second)
	if err := l.Acquire(context.Background(), 1); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := l.Acquire(ctx, 1)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context deadline, got %v", err)
	}
}
