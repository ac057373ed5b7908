package classify

import (
	"log/slog"
	"sync"
	"time"
)

// Circuit breaker defaults.
const (
	DefaultFailureThreshold = 5
	DefaultResetTimeout     = 60 * time.Second
	DefaultHalfOpenMax      = 3
)

// BreakerState is the three-state machine position.
type BreakerState string

const (
	StateClosed   BreakerState = "CLOSED"
	StateOpen     BreakerState = "OPEN"
	StateHalfOpen BreakerState = "HALF_OPEN"
)

// Breaker suppresses calls to a failing provider and probes recovery
// after a cooldown. CLOSED -> OPEN after N consecutive failures; after
// the reset timeout OPEN -> HALF_OPEN, admitting up to K test requests;
// any success closes it, any failure reopens it.
type Breaker struct {
	mu sync.Mutex

	state               BreakerState
	consecutiveFailures int
	lastFailureTime     time.Time
	lastSuccessTime     time.Time
	halfOpenAttempts    int

	failureThreshold int
	resetTimeout     time.Duration
	halfOpenMax      int

	now func() time.Time
}

// NewBreaker builds a closed breaker with the default thresholds.
func NewBreaker() *Breaker {
	return &Breaker{
		state:            StateClosed,
		failureThreshold: DefaultFailureThreshold,
		resetTimeout:     DefaultResetTimeout,
		halfOpenMax:      DefaultHalfOpenMax,
		now:              time.Now,
	}
}

// Allow reports whether a call may proceed, performing the OPEN ->
// HALF_OPEN transition when the cooldown has elapsed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Sub(b.lastFailureTime) >= b.resetTimeout {
			b.state = StateHalfOpen
			b.halfOpenAttempts = 1
			return true
		}
		return false
	case StateHalfOpen:
		if b.halfOpenAttempts < b.halfOpenMax {
			b.halfOpenAttempts++
			return true
		}
		return false
	}
	return false
}

// RecordSuccess closes the breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.consecutiveFailures = 0
	b.halfOpenAttempts = 0
	b.lastSuccessTime = b.now()
}

// RecordFailure counts a failure, opening the breaker when the threshold
// is crossed or when any half-open probe fails.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures++
	b.lastFailureTime = b.now()

	if b.state == StateHalfOpen || b.consecutiveFailures >= b.failureThreshold {
		if b.state != StateOpen {
			slog.Warn("classifier circuit opened",
				"consecutive_failures", b.consecutiveFailures)
		}
		b.state = StateOpen
		b.halfOpenAttempts = 0
	}
}

// State returns the current position.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// BreakerMap holds one breaker per provider. Entry creation uses a
// double-checked lock so the hot path stays cheap.
type BreakerMap struct {
	mu sync.Mutex
	m  map[string]*Breaker
}

// NewBreakerMap builds an empty map.
func NewBreakerMap() *BreakerMap {
	return &BreakerMap{m: make(map[string]*Breaker)}
}

// Get returns the breaker for a provider, creating it on first use.
func (bm *BreakerMap) Get(provider string) *Breaker {
	bm.mu.Lock()
	b, ok := bm.m[provider]
	if !ok {
		b = NewBreaker()
		bm.m[provider] = b
	}
	bm.mu.Unlock()
	return b
}
