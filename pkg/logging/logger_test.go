package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferedLogger(t *testing.T, level string) (*Logger, *bytes.Buffer) {
	t.Helper()

	var buf bytes.Buffer
	logger, err := NewLogger(&Config{
		Level:       level,
		Format:      "json",
		Output:      "stdout",
		ServiceName: "test-service",
		Version:     "1.0.0",
	})
	require.NoError(t, err)
	logger.SetOutput(&buf)
	return logger, &buf
}

func decodeEntry(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{
			name: "valid config",
			config: &Config{
				Level:       "info",
				Format:      "json",
				Output:      "stdout",
				ServiceName: "test-service",
				Version:     "1.0.0",
			},
		},
		{
			name:    "invalid log level",
			config:  &Config{Level: "invalid", Format: "json", Output: "stdout"},
			wantErr: true,
		},
		{
			name:    "invalid format",
			config:  &Config{Level: "info", Format: "invalid", Output: "stdout"},
			wantErr: true,
		},
		{
			name:   "nil config uses defaults",
			config: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, logger)
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, logger)
			}
		})
	}
}

func TestLogger_WithContext(t *testing.T) {
	logger, buf := newBufferedLogger(t, "info")

	ctx := WithCorrelationID(context.Background(), "test-correlation-id")
	ctx = WithClientID(ctx, "scheduler")
	ctx = WithRequestID(ctx, "req-1")

	logger.WithContext(ctx).Info("test message")

	entry := decodeEntry(t, buf)
	assert.Equal(t, "test-correlation-id", entry["correlation_id"])
	assert.Equal(t, "scheduler", entry["client_id"])
	assert.Equal(t, "req-1", entry["request_id"])
	assert.Equal(t, "test-service", entry["service"])
	assert.Equal(t, "test message", entry["message"])
}

func TestLogger_LogRequest(t *testing.T) {
	logger, buf := newBufferedLogger(t, "info")

	logger.LogRequest(context.Background(), "POST", "/api/v1/gateway/calls", "curl", "127.0.0.1", 202, 100*time.Millisecond)

	entry := decodeEntry(t, buf)
	assert.Equal(t, "POST", entry["http_method"])
	assert.Equal(t, "/api/v1/gateway/calls", entry["http_path"])
	assert.Equal(t, float64(202), entry["http_status"])
	assert.Equal(t, float64(100), entry["response_time_ms"])
}

func TestLogger_LogCallEvent(t *testing.T) {
	logger, buf := newBufferedLogger(t, "info")

	logger.LogCallEvent(context.Background(), "content-generation", false, logrus.Fields{
		"error_code":  "circuit-open",
		"retry_count": 3,
	})

	entry := decodeEntry(t, buf)
	assert.Equal(t, "warning", entry["level"])
	assert.Equal(t, "content-generation", entry["dependency"])
	assert.Equal(t, false, entry["success"])
	assert.Equal(t, "circuit-open", entry["error_code"])
	assert.Equal(t, float64(3), entry["retry_count"])
}

func TestLogger_LogError(t *testing.T) {
	logger, buf := newBufferedLogger(t, "debug")

	logger.LogError(context.Background(), assert.AnError, "test error message", logrus.Fields{
		"component": "batch",
	})

	entry := decodeEntry(t, buf)
	assert.Equal(t, "test error message", entry["message"])
	assert.Equal(t, assert.AnError.Error(), entry["error"])
	assert.Equal(t, "batch", entry["component"])
	assert.Contains(t, entry, "stack_trace")
}

func TestLogger_KeyValueHelpers(t *testing.T) {
	logger, buf := newBufferedLogger(t, "info")

	logger.Info("breaker opened", "dependency", "twitter-publish", "failures", 5, "dangling")

	entry := decodeEntry(t, buf)
	assert.Equal(t, "breaker opened", entry["message"])
	assert.Equal(t, "twitter-publish", entry["dependency"])
	assert.Equal(t, float64(5), entry["failures"])
	assert.NotContains(t, entry, "dangling")
}

func TestContextIDs(t *testing.T) {
	id1 := NewCorrelationID()
	id2 := NewCorrelationID()
	assert.NotEqual(t, id1, id2)

	ctx := WithCorrelationID(context.Background(), id1)
	assert.Equal(t, id1, GetCorrelationID(ctx))
	assert.Empty(t, GetCorrelationID(context.Background()))

	ctx = WithClientID(ctx, "svc")
	assert.Equal(t, "svc", GetClientID(ctx))
	assert.Empty(t, GetClientID(context.Background()))
}

func TestLogger_ContextAndComponentFields(t *testing.T) {
	logger, buf := newBufferedLogger(t, "info")

	ctx := WithClientID(WithCorrelationID(context.Background(), "corr-1"), "svc")
	logger.WithContext(ctx).Info("with ids")
	entry := decodeEntry(t, buf)
	assert.Equal(t, "corr-1", entry["correlation_id"])
	assert.Equal(t, "svc", entry["client_id"])

	buf.Reset()
	logger.WithContext(WithClientID(context.Background(), "")).Info("empty id")
	entry = decodeEntry(t, buf)
	assert.NotContains(t, entry, "client_id")
	assert.NotContains(t, entry, "correlation_id")

	buf.Reset()
	logger.WithComponent("batch-scheduler").Info("component")
	entry = decodeEntry(t, buf)
	assert.Equal(t, "batch-scheduler", entry["component"])
	assert.Equal(t, "test-service", entry["service"])
}

func TestLogger_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&Config{
		Level:       "info",
		Format:      "text",
		Output:      "stdout",
		ServiceName: "test-service",
	})
	require.NoError(t, err)
	logger.SetOutput(&buf)

	logger.WithFields(logrus.Fields{"test_field": "test_value"}).Info("test message")

	output := buf.String()
	assert.Contains(t, output, "test message")
	assert.Contains(t, output, "test_field=test_value")
	assert.Contains(t, output, "service=test-service")
}
