package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/drumcap/hooklabs-elite-sub003/pkg/errors"
	"github.com/drumcap/hooklabs-elite-sub003/pkg/logging"
	"github.com/drumcap/hooklabs-elite-sub003/pkg/metrics"
	"github.com/drumcap/hooklabs-elite-sub003/pkg/resilience"
	"github.com/drumcap/hooklabs-elite-sub003/pkg/tracing"
	"github.com/drumcap/hooklabs-elite-sub003/pkg/types"
)

// RequestFunc performs one attempt against an external service
type RequestFunc func(ctx context.Context) (json.RawMessage, error)

// Recorder receives the outcome of every call
type Recorder interface {
	Record(dependency types.DependencyKey, result types.CallResult)
}

type nopRecorder struct{}

func (nopRecorder) Record(types.DependencyKey, types.CallResult) {}

// Invoker runs request functions through the guards of their dependency and
// turns every outcome into a CallResult.
type Invoker struct {
	registry *resilience.Registry
	recorder Recorder
	tracer   *tracing.TracingService
	metrics  *metrics.Metrics
	logger   *logging.Logger
}

// NewInvoker creates an invoker. recorder, tracer and m may be nil.
func NewInvoker(registry *resilience.Registry, recorder Recorder, tracer *tracing.TracingService, m *metrics.Metrics) *Invoker {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if tracer == nil {
		tracer = tracing.NewNoopService()
	}
	if m == nil {
		m = &metrics.Metrics{}
	}

	return &Invoker{
		registry: registry,
		recorder: recorder,
		tracer:   tracer,
		metrics:  m,
		logger:   logging.GetLogger(),
	}
}

// Invoke calls fn with retries, rate limiting and circuit breaking. A positive
// maxRetries overrides the attempt bound of the dependency policy. Invoke
// never returns an error: failures are reported in the result.
func (i *Invoker) Invoke(ctx context.Context, dependency types.DependencyKey, maxRetries int, fn RequestFunc) (result types.CallResult) {
	started := time.Now()
	guards := i.registry.Get(string(dependency))
	retrier := guards.Retrier.WithMaxAttempts(maxRetries)

	ctx, span := i.tracer.StartCallSpan(ctx, string(dependency))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			i.metrics.RecordPanic("invoker")
			result = types.FailedResult(dependency, errors.NewInternalError(fmt.Sprintf("call panicked: %v", r)))
			result.ResponseTime = time.Since(started).Milliseconds()
			i.recorder.Record(dependency, result)
		}
	}()

	var attempts atomic.Int32
	op := func(ctx context.Context) (interface{}, error) {
		n := int(attempts.Add(1))
		ctx, attemptSpan := i.tracer.StartAttemptSpan(ctx, string(dependency), n)
		defer attemptSpan.End()

		data, err := fn(ctx)
		if err != nil {
			i.tracer.RecordError(attemptSpan, err)
			return nil, err
		}
		i.tracer.SetOK(attemptSpan)
		return data, nil
	}

	value, stats, err := retrier.Do(ctx, guards.Breaker, guards.Limiter, op)
	i.metrics.RecordRateLimitWaits(string(dependency), stats.RateLimitWaits)

	if err == nil {
		data, ok := value.(json.RawMessage)
		if !ok && value != nil {
			err = errors.NewMalformedResponseError(string(dependency),
				fmt.Sprintf("unexpected response type %T", value))
		} else {
			result = types.CallResult{
				Success:    true,
				Data:       data,
				RetryCount: stats.RetryCount,
				Dependency: dependency,
			}
		}
	}

	if err != nil {
		result = types.FailedResult(dependency, err)
		result.RetryCount = stats.RetryCount
		i.tracer.RecordError(span, err)
	} else {
		i.tracer.SetOK(span)
	}

	result.ResponseTime = time.Since(started).Milliseconds()
	result.CompletedAt = time.Now()

	fields := logrus.Fields{
		"attempts":         stats.Attempts,
		"retry_count":      result.RetryCount,
		"rate_limit_waits": stats.RateLimitWaits,
		"response_time_ms": result.ResponseTime,
	}
	if !result.Success {
		fields["error_code"] = result.ErrorCode
		fields["error"] = result.Error
	}
	i.logger.LogCallEvent(ctx, string(dependency), result.Success, fields)

	i.recorder.Record(dependency, result)
	return result
}
