package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/drumcap/hooklabs-elite-sub003/pkg/errors"
	"github.com/drumcap/hooklabs-elite-sub003/pkg/logging"
)

// CircuitState represents the state of the circuit breaker
type CircuitState int

const (
	// StateClosed - circuit is closed, requests are allowed
	StateClosed CircuitState = iota
	// StateOpen - circuit is open, requests are rejected
	StateOpen
	// StateHalfOpen - a single trial is in flight (HalfOpenSingleTrial only)
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// CircuitBreakerConfig holds configuration for the circuit breaker
type CircuitBreakerConfig struct {
	// Name of the circuit breaker, usually the dependency key
	Name string
	// FailureThreshold is the number of consecutive failures that opens the circuit
	FailureThreshold int
	// ResetTimeout is how long the circuit stays open after the last failure
	ResetTimeout time.Duration
	// HalfOpenSingleTrial admits exactly one trial once ResetTimeout has elapsed.
	// When false any call arriving after the window closes the circuit and is
	// attempted, so concurrent callers may all try at once.
	HalfOpenSingleTrial bool
	// OnStateChange is called whenever the state of the circuit breaker changes.
	// It runs with the breaker lock held and must not block.
	OnStateChange func(name string, from CircuitState, to CircuitState)
	// Now overrides the clock, for tests
	Now func() time.Time
}

// BreakerSnapshot is a copy of the breaker bookkeeping
type BreakerSnapshot struct {
	Name            string
	State           CircuitState
	FailureCount    int
	SuccessCount    int
	LastFailureTime time.Time
}

// CircuitBreaker isolates a failing dependency. It counts consecutive
// failures and, once FailureThreshold is reached, rejects calls until
// ResetTimeout has elapsed since the last failure.
type CircuitBreaker struct {
	name             string
	failureThreshold int
	resetTimeout     time.Duration
	singleTrial      bool
	onStateChange    func(name string, from CircuitState, to CircuitState)
	now              func() time.Time

	mutex           sync.Mutex
	isOpen          bool
	inTrial         bool
	failureCount    int
	successCount    int
	lastFailureTime time.Time

	logger *logging.Logger
}

// NewCircuitBreaker creates a new circuit breaker with the given configuration
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:             config.Name,
		failureThreshold: config.FailureThreshold,
		resetTimeout:     config.ResetTimeout,
		singleTrial:      config.HalfOpenSingleTrial,
		onStateChange:    config.OnStateChange,
		now:              config.Now,
		logger:           logging.GetLogger(),
	}

	if cb.failureThreshold <= 0 {
		cb.failureThreshold = 5
	}
	if cb.resetTimeout <= 0 {
		cb.resetTimeout = 60 * time.Second
	}
	if cb.now == nil {
		cb.now = time.Now
	}

	return cb
}

// Execute runs the given request if the circuit breaker accepts it. A
// rejected call returns a circuit-open error without invoking req.
func (cb *CircuitBreaker) Execute(ctx context.Context, req func(context.Context) (interface{}, error)) (interface{}, error) {
	trial, err := cb.beforeRequest()
	if err != nil {
		return nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			cb.afterRequest(trial, false)
			panic(r)
		}
	}()

	result, err := req(ctx)
	cb.afterRequest(trial, err == nil)
	return result, err
}

// Call is a convenience method that wraps Execute for functions that don't need context
func (cb *CircuitBreaker) Call(fn func() (interface{}, error)) (interface{}, error) {
	return cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		return fn()
	})
}

// State returns the current state of the circuit breaker. An open circuit
// whose reset window has elapsed reports CLOSED (HALF_OPEN in single-trial
// mode) because the next call will be attempted.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	return cb.currentState(cb.now())
}

// Snapshot returns a copy of the breaker bookkeeping
func (cb *CircuitBreaker) Snapshot() BreakerSnapshot {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	return BreakerSnapshot{
		Name:            cb.name,
		State:           cb.currentState(cb.now()),
		FailureCount:    cb.failureCount,
		SuccessCount:    cb.successCount,
		LastFailureTime: cb.lastFailureTime,
	}
}

// Name returns the name of the circuit breaker
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

func (cb *CircuitBreaker) currentState(now time.Time) CircuitState {
	if !cb.isOpen {
		return StateClosed
	}
	if cb.inTrial {
		return StateHalfOpen
	}
	if now.Sub(cb.lastFailureTime) > cb.resetTimeout {
		if cb.singleTrial {
			return StateHalfOpen
		}
		return StateClosed
	}
	return StateOpen
}

// beforeRequest admits or rejects a call. It reports whether the admitted
// call is the single half-open trial.
func (cb *CircuitBreaker) beforeRequest() (bool, error) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if !cb.isOpen {
		return false, nil
	}

	now := cb.now()
	if now.Sub(cb.lastFailureTime) <= cb.resetTimeout {
		return false, errors.NewCircuitOpenError(cb.name)
	}

	if cb.singleTrial {
		if cb.inTrial {
			return false, errors.NewCircuitOpenError(cb.name).
				WithDetail("state", StateHalfOpen.String())
		}
		cb.inTrial = true
		cb.notify(StateOpen, StateHalfOpen)
		return true, nil
	}

	// Optimistic close. failureCount is kept so that a failing trial re-opens.
	cb.isOpen = false
	cb.notify(StateOpen, StateClosed)
	return false, nil
}

func (cb *CircuitBreaker) afterRequest(trial bool, success bool) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if success {
		cb.onSuccess(trial)
	} else {
		cb.onFailure(trial, cb.now())
	}
}

func (cb *CircuitBreaker) onSuccess(trial bool) {
	cb.successCount++
	cb.failureCount = 0

	if trial {
		cb.inTrial = false
		cb.isOpen = false
		cb.notify(StateHalfOpen, StateClosed)
	}
}

func (cb *CircuitBreaker) onFailure(trial bool, now time.Time) {
	cb.failureCount++
	cb.lastFailureTime = now

	if trial {
		cb.inTrial = false
		cb.notify(StateHalfOpen, StateOpen)
		return
	}

	if !cb.isOpen && cb.failureCount >= cb.failureThreshold {
		cb.isOpen = true
		cb.notify(StateClosed, StateOpen)
	}
}

func (cb *CircuitBreaker) notify(from, to CircuitState) {
	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, from, to)
	}

	cb.logger.Info("Circuit breaker state changed",
		"name", cb.name,
		"from", from.String(),
		"to", to.String(),
		"failure_count", cb.failureCount,
	)
}

// IsCircuitBreakerError checks if an error is a circuit-open rejection
func IsCircuitBreakerError(err error) bool {
	return errors.IsType(err, errors.ErrorTypeCircuitOpen)
}
