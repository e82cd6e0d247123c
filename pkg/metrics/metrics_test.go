package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMetrics() *Metrics {
	return NewMetrics(&Config{Namespace: "test", Enabled: true, Registry: prometheus.NewRegistry()})
}

func TestRecordCall(t *testing.T) {
	m := newTestMetrics()

	m.RecordCall("twitter-publish", true, false, 1, "", 120*time.Millisecond)
	m.RecordCall("twitter-publish", true, true, 0, "", time.Millisecond)
	m.RecordCall("twitter-publish", false, false, 3, "max-retries-exceeded", time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.CallsTotal.WithLabelValues("twitter-publish", "success", "network")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CallsTotal.WithLabelValues("twitter-publish", "success", "cache")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CallsTotal.WithLabelValues("twitter-publish", "failure", "network")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CallErrors.WithLabelValues("twitter-publish", "max-retries-exceeded")))
}

func TestRecordBreakerTransition(t *testing.T) {
	m := newTestMetrics()

	m.RecordBreakerTransition("content-generation", "CLOSED", "OPEN")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BreakerState.WithLabelValues("content-generation")))

	m.RecordBreakerTransition("content-generation", "OPEN", "HALF_OPEN")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.BreakerState.WithLabelValues("content-generation")))

	m.UpdateBreakerState("content-generation", "CLOSED")
	assert.Equal(t, 0.0, testutil.ToFloat64(m.BreakerState.WithLabelValues("content-generation")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BreakerTransitions.WithLabelValues("content-generation", "CLOSED", "OPEN")))
}

func TestRecordBatch(t *testing.T) {
	m := newTestMetrics()

	m.RecordBatch("threads-publish", false, 4, 1, time.Second)
	m.RecordBatch("threads-publish", true, 0, 0, 0)
	m.RecordBatch("threads-publish", false, 0, 0, 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.BatchesTotal.WithLabelValues("threads-publish")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BatchesSkipped.WithLabelValues("threads-publish")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.BatchRequests.WithLabelValues("threads-publish", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BatchRequests.WithLabelValues("threads-publish", "failure")))
}

func TestDisabledMetricsAreNoops(t *testing.T) {
	m := NewMetrics(&Config{Enabled: false})

	assert.NotPanics(t, func() {
		m.RecordCall("x", true, false, 0, "", time.Second)
		m.RecordRateLimitWaits("x", 2)
		m.RecordBreakerTransition("x", "CLOSED", "OPEN")
		m.UpdateQueueDepth("x", 3)
		m.RecordQueueRejected("x")
		m.RecordBatch("x", false, 1, 0, time.Second)
		m.RecordCacheOperation("get", "hit", time.Millisecond)
		m.RecordSinkDropped()
		m.RecordDatabaseQuery("insert", "call_metrics", time.Millisecond)
		m.RecordError("api", "internal")
		m.RecordPanic("api")
	})
}

func TestPrometheusMiddlewareAndHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := newTestMetrics()

	router := gin.New()
	router.Use(m.PrometheusMiddleware())
	router.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	router.GET("/metrics", gin.WrapH(m.Handler()))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/ping", "200")))

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "test_http_requests_total"))
}

func TestMetricsCollector_RunsCollectors(t *testing.T) {
	m := newTestMetrics()
	ctx, cancel := context.WithCancel(context.Background())

	collected := make(chan struct{}, 1)
	mc := NewMetricsCollector(m, time.Hour, func(m *Metrics) {
		m.UpdateQueueDepth("twitter-publish", 7)
		select {
		case collected <- struct{}{}:
		default:
		}
	})

	done := make(chan struct{})
	go func() {
		mc.Start(ctx)
		close(done)
	}()

	<-collected
	cancel()
	<-done

	assert.Equal(t, 7.0, testutil.ToFloat64(m.QueueDepth.WithLabelValues("twitter-publish")))
}
