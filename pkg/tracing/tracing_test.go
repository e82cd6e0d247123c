package tracing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRecordingService() (*TracingService, *tracetest.SpanRecorder) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	return NewTracingServiceWithProvider(tp, nil), recorder
}

func TestNewTracingService_DisabledIsNoop(t *testing.T) {
	ts, err := NewTracingService(&Config{Enabled: false})
	require.NoError(t, err)
	assert.False(t, ts.Enabled())

	ctx, span := ts.StartCallSpan(context.Background(), "twitter-publish")
	span.End()
	assert.Empty(t, GetTraceID(ctx))
	assert.NoError(t, ts.Shutdown(context.Background()))

	base := http.DefaultTransport
	assert.Equal(t, base, ts.Transport(base))
}

func TestStartAttemptSpan_RecordsAttributes(t *testing.T) {
	ts, recorder := newRecordingService()

	ctx, call := ts.StartCallSpan(context.Background(), "content-generation")
	_, attempt := ts.StartAttemptSpan(ctx, "content-generation", 2)
	ts.RecordError(attempt, errors.New("upstream 503"))
	attempt.End()
	ts.SetOK(call)
	call.End()

	assert.NotEmpty(t, GetTraceID(ctx))
	assert.NotEmpty(t, GetSpanID(ctx))

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "gateway.attempt.content-generation", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, spans[1].SpanContext().SpanID(), spans[0].Parent().SpanID())

	var attemptNo int64
	for _, kv := range spans[0].Attributes() {
		if kv.Key == "gateway.attempt" {
			attemptNo = kv.Value.AsInt64()
		}
	}
	assert.Equal(t, int64(2), attemptNo)
	assert.Equal(t, codes.Ok, spans[1].Status().Code)
}

func TestTransport_RecordsClientSpan(t *testing.T) {
	ts, recorder := newRecordingService()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := &http.Client{Transport: ts.Transport(nil)}
	req, err := http.NewRequest(http.MethodGet, server.URL, nil)
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "HTTP GET", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
}

func TestTraceableFunction(t *testing.T) {
	ts, recorder := newRecordingService()

	err := ts.TraceableFunction(context.Background(), "flush", func(ctx context.Context) error {
		return errors.New("boom")
	})
	assert.Error(t, err)
	require.NoError(t, ts.TraceableFunction(context.Background(), "flush", func(ctx context.Context) error {
		return nil
	}))

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, codes.Ok, spans[1].Status().Code)
}
