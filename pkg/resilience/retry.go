package resilience

import (
	"context"
	stderrors "errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/drumcap/hooklabs-elite-sub003/pkg/errors"
	"github.com/drumcap/hooklabs-elite-sub003/pkg/logging"
)

// Operation is one attempt of an external call
type Operation func(ctx context.Context) (interface{}, error)

// RetryConfig holds configuration for retry logic
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts, including the first one
	MaxAttempts int
	// InitialDelay is the delay after the first failed attempt
	InitialDelay time.Duration
	// MaxDelay is the maximum delay between retries
	MaxDelay time.Duration
	// BackoffMultiplier is the multiplier for exponential backoff
	BackoffMultiplier float64
	// Jitter adds up to 10% randomness to each delay
	Jitter bool
	// AttemptTimeout bounds a single attempt
	AttemptTimeout time.Duration
	// RateLimitPollInterval is how long to wait when the rate limiter denies
	// admission. Waiting does not consume an attempt.
	RateLimitPollInterval time.Duration
	// RetryableErrors is a function that determines if an error is retryable
	RetryableErrors func(error) bool
	// OnRetry is called before each backoff sleep
	OnRetry func(attempt int, err error, delay time.Duration)
	// OnAttempt is called after each attempt with its outcome
	OnAttempt func(attempt int, err error, duration time.Duration)
	// Sleep overrides the wait primitive, for tests
	Sleep func(ctx context.Context, d time.Duration) error
}

// RetryStats describes what a Do call went through
type RetryStats struct {
	Attempts       int
	RetryCount     int
	RateLimitWaits int
	Delays         []time.Duration
}

// DefaultRetryConfig returns the gateway retry policy: three attempts with
// 1s, 2s, 4s... backoff capped at 5s and a 30s attempt timeout.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:           3,
		InitialDelay:          time.Second,
		MaxDelay:              5 * time.Second,
		BackoffMultiplier:     2.0,
		AttemptTimeout:        30 * time.Second,
		RateLimitPollInterval: 100 * time.Millisecond,
		RetryableErrors:       DefaultRetryableErrors,
	}
}

// DefaultRetryableErrors determines if an error is retryable by default
func DefaultRetryableErrors(err error) bool {
	return errors.IsRetryable(err)
}

// Retrier handles retry logic with exponential backoff
type Retrier struct {
	config RetryConfig
	logger *logging.Logger
}

// NewRetrier creates a new retrier with the given configuration
func NewRetrier(config RetryConfig) *Retrier {
	defaults := DefaultRetryConfig()

	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = defaults.InitialDelay
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = defaults.MaxDelay
	}
	if config.BackoffMultiplier <= 0 {
		config.BackoffMultiplier = defaults.BackoffMultiplier
	}
	if config.AttemptTimeout <= 0 {
		config.AttemptTimeout = defaults.AttemptTimeout
	}
	if config.RateLimitPollInterval <= 0 {
		config.RateLimitPollInterval = defaults.RateLimitPollInterval
	}
	if config.RetryableErrors == nil {
		config.RetryableErrors = DefaultRetryableErrors
	}
	if config.Sleep == nil {
		config.Sleep = sleepContext
	}

	return &Retrier{
		config: config,
		logger: logging.GetLogger(),
	}
}

// Config returns the effective configuration
func (r *Retrier) Config() RetryConfig {
	return r.config
}

// WithMaxAttempts returns a copy of the retrier with a different attempt bound
func (r *Retrier) WithMaxAttempts(maxAttempts int) *Retrier {
	if maxAttempts <= 0 || maxAttempts == r.config.MaxAttempts {
		return r
	}
	config := r.config
	config.MaxAttempts = maxAttempts
	return &Retrier{config: config, logger: r.logger}
}

// Do runs op until it succeeds, fails with a non-retryable error, or
// MaxAttempts is reached. Each attempt first waits for limiter admission and
// then runs through breaker with AttemptTimeout applied. Either guard may be
// nil. Exhausting the attempts returns a max-retries error wrapping the last
// failure.
func (r *Retrier) Do(ctx context.Context, breaker *CircuitBreaker, limiter *RateLimiter, op Operation) (interface{}, RetryStats, error) {
	var (
		stats   RetryStats
		lastErr error
	)

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		if err := r.awaitAdmission(ctx, limiter, &stats); err != nil {
			return nil, stats, err
		}

		stats.Attempts = attempt
		started := time.Now()
		result, err := r.attempt(ctx, breaker, op)
		if r.config.OnAttempt != nil {
			r.config.OnAttempt(attempt, err, time.Since(started))
		}

		if err == nil {
			if attempt > 1 {
				r.logger.Info("Operation succeeded after retry",
					"attempt", attempt,
					"max_attempts", r.config.MaxAttempts,
				)
			}
			return result, stats, nil
		}

		lastErr = err
		stats.RetryCount = attempt

		if !r.config.RetryableErrors(err) {
			r.logger.Debug("Error is not retryable, stopping",
				"error", err.Error(),
				"attempt", attempt,
			)
			return nil, stats, err
		}

		if attempt == r.config.MaxAttempts {
			break
		}

		delay := r.calculateDelay(attempt)
		stats.Delays = append(stats.Delays, delay)

		r.logger.Debug("Operation failed, retrying",
			"error", err.Error(),
			"attempt", attempt,
			"max_attempts", r.config.MaxAttempts,
			"delay", delay,
		)

		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, err, delay)
		}

		if err := r.config.Sleep(ctx, delay); err != nil {
			return nil, stats, errors.NewTimeoutError("retry backoff").WithCause(lastErr)
		}
	}

	r.logger.Warn("Operation failed after all retry attempts",
		"error", lastErr.Error(),
		"attempts", r.config.MaxAttempts,
	)

	return nil, stats, errors.NewMaxRetriesError(r.config.MaxAttempts, lastErr)
}

// Execute runs operation with retry logic and no guards
func (r *Retrier) Execute(ctx context.Context, operation func(context.Context) error) error {
	_, _, err := r.Do(ctx, nil, nil, func(ctx context.Context) (interface{}, error) {
		return nil, operation(ctx)
	})
	return err
}

func (r *Retrier) awaitAdmission(ctx context.Context, limiter *RateLimiter, stats *RetryStats) error {
	if limiter == nil {
		return nil
	}

	for !limiter.Acquire() {
		stats.RateLimitWaits++
		if err := r.config.Sleep(ctx, r.config.RateLimitPollInterval); err != nil {
			return errors.NewRateLimitError("rate limit admission not granted before the call was cancelled").
				WithDetail("limiter", limiter.Name()).
				WithCause(err)
		}
	}
	return nil
}

// attempt runs one guarded call. The call is abandoned when the attempt
// deadline passes even if op ignores its context.
func (r *Retrier) attempt(ctx context.Context, breaker *CircuitBreaker, op Operation) (interface{}, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, r.config.AttemptTimeout)
	defer cancel()

	bounded := func(ctx context.Context) (interface{}, error) {
		type outcome struct {
			result interface{}
			err    error
		}
		done := make(chan outcome, 1)

		go func() {
			defer func() {
				if rec := recover(); rec != nil {
					done <- outcome{err: errors.NewInternalError(fmt.Sprintf("external call panicked: %v", rec))}
				}
			}()
			result, err := op(ctx)
			done <- outcome{result: result, err: err}
		}()

		select {
		case out := <-done:
			return out.result, out.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	var (
		result interface{}
		err    error
	)
	if breaker != nil {
		result, err = breaker.Execute(attemptCtx, bounded)
	} else {
		result, err = bounded(attemptCtx)
	}

	if err != nil && stderrors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		if _, ok := errors.As(err); !ok {
			err = errors.NewTimeoutError("external call").WithCause(err)
		}
	}
	return result, err
}

func (r *Retrier) calculateDelay(attempt int) time.Duration {
	delay := float64(r.config.InitialDelay) * math.Pow(r.config.BackoffMultiplier, float64(attempt-1))

	if delay > float64(r.config.MaxDelay) {
		delay = float64(r.config.MaxDelay)
	}

	if r.config.Jitter {
		jitter := rand.Float64() * 0.1 * delay
		delay += jitter
	}

	return time.Duration(delay)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
