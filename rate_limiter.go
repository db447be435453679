package compassone

import (
	"sync/atomic"
	"time"
)

// RateLimiter is a lock-free token bucket gating outbound requests. Tokens
// refill at a fixed interval up to the bucket capacity.
type RateLimiter struct {
	tokens     int64
	maxTokens  int64
	refillRate time.Duration
	lastRefill int64
}

// NewRateLimiter creates a bucket holding maxTokens that gains one token per
// refillRate.
func NewRateLimiter(maxTokens int, refillRate time.Duration) *RateLimiter {
	return &RateLimiter{
		maxTokens:  int64(maxTokens),
		tokens:     int64(maxTokens),
		refillRate: refillRate,
		lastRefill: time.Now().UnixNano(),
	}
}

// Allow consumes a token if one is available.
func (rl *RateLimiter) Allow() bool {
	rl.refill()
	return rl.consume()
}

// Tokens returns the current token count for observability.
func (rl *RateLimiter) Tokens() int {
	return int(atomic.LoadInt64(&rl.tokens))
}

func (rl *RateLimiter) refill() {
	now := time.Now().UnixNano()

	for {
		current := atomic.LoadInt64(&rl.tokens)
		last := atomic.LoadInt64(&rl.lastRefill)

		elapsed := now - last
		var toAdd int64
		if rl.refillRate > 0 {
			toAdd = elapsed / int64(rl.refillRate)
		}
		if toAdd == 0 {
			return
		}

		updated := current + toAdd
		if updated > rl.maxTokens {
			updated = rl.maxTokens
		}

		// Advance lastRefill by whole refill periods so fractional elapsed
		// time is not lost.
		newLast := last + toAdd*int64(rl.refillRate)
		if !atomic.CompareAndSwapInt64(&rl.lastRefill, last, newLast) {
			continue
		}

		atomic.StoreInt64(&rl.tokens, updated)
		return
	}
}

func (rl *RateLimiter) consume() bool {
	for {
		current := atomic.LoadInt64(&rl.tokens)
		if current <= 0 {
			return false
		}
		if atomic.CompareAndSwapInt64(&rl.tokens, current, current-1) {
			return true
		}
	}
}
