package resilience

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/drumcap/hooklabs-elite-sub003/pkg/errors"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func failing(ctx context.Context) (interface{}, error) {
	return nil, errors.New("upstream failure")
}

func succeeding(ctx context.Context) (interface{}, error) {
	return "ok", nil
}

func TestCircuitBreaker_DefaultBehavior(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "test-cb"})

	assert.Equal(t, StateClosed, cb.State())

	for i := 0; i < 5; i++ {
		result, err := cb.Execute(context.Background(), succeeding)
		require.NoError(t, err)
		assert.Equal(t, "ok", result)
		assert.Equal(t, StateClosed, cb.State())
	}

	snapshot := cb.Snapshot()
	assert.Equal(t, 5, snapshot.SuccessCount)
	assert.Equal(t, 0, snapshot.FailureCount)
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "test-cb", FailureThreshold: 3})

	for i := 0; i < 2; i++ {
		_, _ = cb.Execute(context.Background(), failing)
	}
	assert.Equal(t, 2, cb.Snapshot().FailureCount)

	_, err := cb.Execute(context.Background(), succeeding)
	require.NoError(t, err)
	assert.Equal(t, 0, cb.Snapshot().FailureCount)

	for i := 0; i < 2; i++ {
		_, _ = cb.Execute(context.Background(), failing)
	}
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_RejectsWithoutInvokingWhileOpen(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "content-generation",
		FailureThreshold: 5,
		ResetTimeout:     time.Minute,
		Now:              clock.Now,
	})

	for i := 0; i < 5; i++ {
		_, err := cb.Execute(context.Background(), failing)
		require.Error(t, err)
	}
	assert.Equal(t, StateOpen, cb.State())

	var invoked int32
	for i := 0; i < 10; i++ {
		clock.Advance(5 * time.Second)
		_, err := cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
			atomic.AddInt32(&invoked, 1)
			return "should not execute", nil
		})
		require.Error(t, err)
		assert.True(t, IsCircuitBreakerError(err))
		assert.Equal(t, apperrors.CodeCircuitOpen, apperrors.GetCode(err))
	}
	assert.Zero(t, atomic.LoadInt32(&invoked))
}

func TestCircuitBreaker_ThresholdTwoScenario(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "twitter-publish",
		FailureThreshold: 2,
		ResetTimeout:     time.Minute,
		Now:              clock.Now,
	})

	calls := 0
	request := func(ctx context.Context) (interface{}, error) {
		calls++
		return nil, errors.New("boom")
	}

	_, err := cb.Execute(context.Background(), request)
	require.Error(t, err)
	_, err = cb.Execute(context.Background(), request)
	require.Error(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, StateOpen, cb.State())

	clock.Advance(30 * time.Second)
	_, err = cb.Execute(context.Background(), request)
	assert.True(t, IsCircuitBreakerError(err))
	assert.Equal(t, 2, calls)

	clock.Advance(31 * time.Second)
	_, err = cb.Execute(context.Background(), request)
	require.Error(t, err)
	assert.False(t, IsCircuitBreakerError(err))
	assert.Equal(t, 3, calls)

	// The failed trial re-opens the circuit and refreshes the window
	assert.Equal(t, StateOpen, cb.State())
	_, err = cb.Execute(context.Background(), request)
	assert.True(t, IsCircuitBreakerError(err))
	assert.Equal(t, 3, calls)
}

func TestCircuitBreaker_SuccessfulTrialCloses(t *testing.T) {
	clock := newFakeClock()
	var transitions []string
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "linkedin-publish",
		FailureThreshold: 1,
		ResetTimeout:     10 * time.Second,
		Now:              clock.Now,
		OnStateChange: func(name string, from, to CircuitState) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	_, _ = cb.Execute(context.Background(), failing)
	assert.Equal(t, StateOpen, cb.State())

	clock.Advance(11 * time.Second)
	assert.Equal(t, StateClosed, cb.State())

	result, err := cb.Execute(context.Background(), succeeding)
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, cb.Snapshot().FailureCount)

	assert.Equal(t, []string{"CLOSED->OPEN", "OPEN->CLOSED"}, transitions)
}

func TestCircuitBreaker_HalfOpenSingleTrial(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:                "threads-publish",
		FailureThreshold:    1,
		ResetTimeout:        10 * time.Second,
		HalfOpenSingleTrial: true,
		Now:                 clock.Now,
	})

	_, _ = cb.Execute(context.Background(), failing)
	clock.Advance(11 * time.Second)
	assert.Equal(t, StateHalfOpen, cb.State())

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		_, err := cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
			close(started)
			<-release
			return "trial", nil
		})
		done <- err
	}()

	<-started

	// A second caller is rejected while the trial is in flight
	_, err := cb.Execute(context.Background(), succeeding)
	assert.True(t, IsCircuitBreakerError(err))

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenTrialFailureReopens(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:                "threads-publish",
		FailureThreshold:    1,
		ResetTimeout:        10 * time.Second,
		HalfOpenSingleTrial: true,
		Now:                 clock.Now,
	})

	_, _ = cb.Execute(context.Background(), failing)
	clock.Advance(11 * time.Second)

	_, err := cb.Execute(context.Background(), failing)
	require.Error(t, err)
	assert.False(t, IsCircuitBreakerError(err))
	assert.Equal(t, StateOpen, cb.State())

	clock.Advance(11 * time.Second)
	_, err = cb.Execute(context.Background(), succeeding)
	require.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_PanicCountsAsFailure(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "test-cb", FailureThreshold: 1})

	assert.Panics(t, func() {
		_, _ = cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
			panic("boom")
		})
	})

	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_Call(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "test-cb"})

	result, err := cb.Call(func() (interface{}, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, result)
	assert.Equal(t, "test-cb", cb.Name())
}

func TestCircuitState_String(t *testing.T) {
	assert.Equal(t, "CLOSED", StateClosed.String())
	assert.Equal(t, "OPEN", StateOpen.String())
	assert.Equal(t, "HALF_OPEN", StateHalfOpen.String())
	assert.Equal(t, "UNKNOWN", CircuitState(99).String())
}
