package resilience

import (
	"time"

	"golang.org/x/time/rate"
)

// RateLimiterConfig holds configuration for a token bucket
type RateLimiterConfig struct {
	Name              string
	RequestsPerSecond float64
	BurstLimit        int
	// Now overrides the clock, for tests
	Now func() time.Time
}

// LimiterSnapshot is a copy of the bucket state
type LimiterSnapshot struct {
	Name              string
	Tokens            float64
	BurstLimit        int
	RequestsPerSecond float64
	At                time.Time
}

// RateLimiter is a non-blocking token bucket. It is a pure admission oracle:
// callers that are denied decide themselves how to back off.
type RateLimiter struct {
	name    string
	now     func() time.Time
	limiter *rate.Limiter
}

// NewRateLimiter creates a full bucket
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = 10
	}
	if config.BurstLimit < 1 {
		config.BurstLimit = 20
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &RateLimiter{
		name:    config.Name,
		now:     config.Now,
		limiter: rate.NewLimiter(rate.Limit(config.RequestsPerSecond), config.BurstLimit),
	}
}

// Acquire consumes one token if at least one is available at the current time
func (rl *RateLimiter) Acquire() bool {
	return rl.limiter.AllowN(rl.now(), 1)
}

// Snapshot returns the bucket state as of now without consuming tokens
func (rl *RateLimiter) Snapshot() LimiterSnapshot {
	now := rl.now()
	return LimiterSnapshot{
		Name:              rl.name,
		Tokens:            rl.limiter.TokensAt(now),
		BurstLimit:        rl.limiter.Burst(),
		RequestsPerSecond: float64(rl.limiter.Limit()),
		At:                now,
	}
}

// Name returns the name of the rate limiter
func (rl *RateLimiter) Name() string {
	return rl.name
}
