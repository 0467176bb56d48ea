// Package ratelimit paces API calls with a token bucket.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// RateLimiter implements a token bucket rate limiter.
// It allows bursts up to maxTokens, then refills at refillRate tokens/second.
// A nil *RateLimiter never blocks.
type RateLimiter struct {
	tokens       float64
	maxTokens    float64
	refillRate   float64
	lastRefill   time.Time
	lastWarnTime time.Time
	mu           sync.Mutex
}

// NewRateLimiter creates a new rate limiter. It returns nil when
// tokensPerSecond is not positive, which disables pacing.
func NewRateLimiter(tokensPerSecond float64, burstSize float64) *RateLimiter {
	if tokensPerSecond <= 0 {
		return nil
	}
	if burstSize < 1 {
		burstSize = 1
	}
	return &RateLimiter{
		tokens:     burstSize,
		maxTokens:  burstSize,
		refillRate: tokensPerSecond,
		lastRefill: time.Now(),
	}
}

// Wait blocks until a token is available or ctx is cancelled.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if rl == nil {
		return ctx.Err()
	}

	for {
		wait, ok := rl.reserve()
		if ok {
			return nil
		}

		if wait > 2*time.Second {
			rl.mu.Lock()
			if time.Since(rl.lastWarnTime) > 10*time.Second {
				log.Warn().Dur("wait", wait).Msg("rate limited: waiting for API capacity")
				rl.lastWarnTime = time.Now()
			}
			rl.mu.Unlock()
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// reserve takes a token if one is available, otherwise it reports how long
// until the next one is.
func (rl *RateLimiter) reserve() (time.Duration, bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refillLocked(time.Now())
	if rl.tokens >= 1.0 {
		rl.tokens -= 1.0
		return 0, true
	}

	needed := 1.0 - rl.tokens
	return time.Duration(needed / rl.refillRate * float64(time.Second)), false
}

func (rl *RateLimiter) refillLocked(now time.Time) {
	rl.tokens += now.Sub(rl.lastRefill).Seconds() * rl.refillRate
	if rl.tokens > rl.maxTokens {
		rl.tokens = rl.maxTokens
	}
	rl.lastRefill = now
}

// GetCurrentTokens returns the current number of tokens (for testing/debugging).
func (rl *RateLimiter) GetCurrentTokens() float64 {
	if rl == nil {
		return 0
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refillLocked(time.Now())
	return rl.tokens
}
