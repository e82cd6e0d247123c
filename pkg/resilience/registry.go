package resilience

import (
	"sort"
	"sync"
	"time"
)

// DependencyPolicy is the resilience configuration of one dependency
type DependencyPolicy struct {
	FailureThreshold    int
	ResetTimeout        time.Duration
	RequestsPerSecond   float64
	BurstLimit          int
	MaxRetries          int
	AttemptTimeout      time.Duration
	HalfOpenSingleTrial bool
}

// DefaultPolicy returns the gateway defaults
func DefaultPolicy() DependencyPolicy {
	return DependencyPolicy{
		FailureThreshold:  5,
		ResetTimeout:      60 * time.Second,
		RequestsPerSecond: 10,
		BurstLimit:        20,
		MaxRetries:        3,
		AttemptTimeout:    30 * time.Second,
	}
}

// DependencyGuards is the breaker, limiter and retrier owned by one dependency
type DependencyGuards struct {
	Name    string
	Policy  DependencyPolicy
	Breaker *CircuitBreaker
	Limiter *RateLimiter
	Retrier *Retrier
}

// RegistryOption configures a Registry
type RegistryOption func(*Registry)

// WithPolicy overrides the policy of one dependency
func WithPolicy(dependency string, policy DependencyPolicy) RegistryOption {
	return func(r *Registry) {
		r.policies[dependency] = policy
	}
}

// WithStateChangeHandler is attached to every breaker the registry creates
func WithStateChangeHandler(fn func(name string, from, to CircuitState)) RegistryOption {
	return func(r *Registry) {
		r.onStateChange = fn
	}
}

// WithClock overrides the clock of every breaker and limiter, for tests
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		r.now = now
	}
}

// WithRetryTemplate sets the retry settings shared by all dependencies.
// MaxAttempts and AttemptTimeout still come from each dependency policy.
func WithRetryTemplate(config RetryConfig) RegistryOption {
	return func(r *Registry) {
		r.retryTemplate = config
	}
}

// Registry owns exactly one set of guards per dependency. Guards are created
// on first use and live as long as the registry.
type Registry struct {
	defaults      DependencyPolicy
	policies      map[string]DependencyPolicy
	onStateChange func(name string, from, to CircuitState)
	now           func() time.Time
	retryTemplate RetryConfig

	mutex  sync.RWMutex
	guards map[string]*DependencyGuards
}

// NewRegistry creates an empty registry
func NewRegistry(defaults DependencyPolicy, opts ...RegistryOption) *Registry {
	r := &Registry{
		defaults:      defaults,
		policies:      make(map[string]DependencyPolicy),
		retryTemplate: DefaultRetryConfig(),
		guards:        make(map[string]*DependencyGuards),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Get returns the guards of dependency, creating them on first use
func (r *Registry) Get(dependency string) *DependencyGuards {
	r.mutex.RLock()
	guards, ok := r.guards[dependency]
	r.mutex.RUnlock()
	if ok {
		return guards
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if guards, ok := r.guards[dependency]; ok {
		return guards
	}

	policy := r.Policy(dependency)
	retry := r.retryTemplate
	retry.MaxAttempts = policy.MaxRetries
	retry.AttemptTimeout = policy.AttemptTimeout

	guards = &DependencyGuards{
		Name:   dependency,
		Policy: policy,
		Breaker: NewCircuitBreaker(CircuitBreakerConfig{
			Name:                dependency,
			FailureThreshold:    policy.FailureThreshold,
			ResetTimeout:        policy.ResetTimeout,
			HalfOpenSingleTrial: policy.HalfOpenSingleTrial,
			OnStateChange:       r.onStateChange,
			Now:                 r.now,
		}),
		Limiter: NewRateLimiter(RateLimiterConfig{
			Name:              dependency,
			RequestsPerSecond: policy.RequestsPerSecond,
			BurstLimit:        policy.BurstLimit,
			Now:               r.now,
		}),
		Retrier: NewRetrier(retry),
	}
	r.guards[dependency] = guards
	return guards
}

// Breaker returns the circuit breaker of dependency
func (r *Registry) Breaker(dependency string) *CircuitBreaker {
	return r.Get(dependency).Breaker
}

// Limiter returns the rate limiter of dependency
func (r *Registry) Limiter(dependency string) *RateLimiter {
	return r.Get(dependency).Limiter
}

// Policy returns the configured policy of dependency
func (r *Registry) Policy(dependency string) DependencyPolicy {
	if policy, ok := r.policies[dependency]; ok {
		return policy
	}
	return r.defaults
}

// Dependencies returns the names of all dependencies with live guards, sorted
func (r *Registry) Dependencies() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	names := make([]string, 0, len(r.guards))
	for name := range r.guards {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// OpenBreakers returns the dependencies whose circuit currently rejects calls
func (r *Registry) OpenBreakers() []string {
	var open []string
	for _, name := range r.Dependencies() {
		if r.Breaker(name).State() == StateOpen {
			open = append(open, name)
		}
	}
	return open
}
