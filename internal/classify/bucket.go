package classify

import (
	"sync"
	"time"
)

// Per-provider rate limit defaults.
const (
	providerRequestsPerMinute = 60
	providerBurst             = 10
)

// tokenBucket is the simple per-provider limiter. A denied request is not
// queued; it triggers fallback to the next provider.
type tokenBucket struct {
	mu         sync.Mutex
	rate       float64 // tokens per second
	burst      float64
	available  float64
	lastRefill time.Time

	now func() time.Time
}

func newTokenBucket(requestsPerMinute, burst int) *tokenBucket {
	b := &tokenBucket{
		rate:      float64(requestsPerMinute) / 60,
		burst:     float64(burst),
		available: float64(burst),
		now:       time.Now,
	}
	b.lastRefill = b.now()
	return b
}

// Allow consumes one token if available.
func (b *tokenBucket) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.available += now.Sub(b.lastRefill).Seconds() * b.rate
	if b.available > b.burst {
		b.available = b.burst
	}
	b.lastRefill = now

	if b.available < 1 {
		return false
	}
	b.available--
	return true
}
