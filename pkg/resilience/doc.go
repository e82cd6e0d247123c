// Package resilience provides the guards used around every external call
// made by the gateway.
//
// # Circuit Breaker
//
// A CircuitBreaker counts consecutive failures of one dependency. Once
// FailureThreshold is reached it rejects calls with a circuit-open error,
// without invoking them, until ResetTimeout has elapsed since the last
// failure. The next call after the window is the trial: it closes the
// circuit optimistically, and a failing trial re-opens it.
//
//	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
//		Name:             "content-generation",
//		FailureThreshold: 5,
//		ResetTimeout:     time.Minute,
//	})
//
//	result, err := cb.Execute(ctx, func(ctx context.Context) (interface{}, error) {
//		return client.Generate(ctx, params)
//	})
//
// By default every caller arriving after the window try at once. Set
// HalfOpenSingleTrial to admit exactly one trial at a time.
//
// # Rate Limiter
//
// RateLimiter is a non-blocking token bucket. Acquire refills for the elapsed
// time, capped at BurstLimit, and consumes one token when available.
//
// # Retry with Exponential Backoff
//
// Retrier.Do waits for limiter admission (polling, without spending an
// attempt), runs the call through the breaker under a per-attempt timeout and
// retries retryable failures with min(MaxDelay, InitialDelay*2^(n-1)) backoff.
// Client errors and malformed responses fail fast.
//
//	guards := registry.Get("twitter-publish")
//	result, stats, err := guards.Retrier.Do(ctx, guards.Breaker, guards.Limiter, op)
//
// # Registry
//
// Registry owns one breaker, limiter and retrier per dependency, created on
// first use.
package resilience
