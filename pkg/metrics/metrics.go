package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight *prometheus.GaugeVec

	// Gateway call metrics
	CallsTotal     *prometheus.CounterVec
	CallDuration   *prometheus.HistogramVec
	CallRetries    *prometheus.HistogramVec
	CallErrors     *prometheus.CounterVec
	RateLimitWaits *prometheus.CounterVec

	// Breaker metrics
	BreakerState       *prometheus.GaugeVec
	BreakerTransitions *prometheus.CounterVec

	// Batch metrics
	QueueDepth     *prometheus.GaugeVec
	BatchesTotal   *prometheus.CounterVec
	BatchRequests  *prometheus.CounterVec
	BatchDuration  *prometheus.HistogramVec
	QueueRejected  *prometheus.CounterVec
	BatchesSkipped *prometheus.CounterVec

	// Cache metrics
	CacheOperations        *prometheus.CounterVec
	CacheOperationDuration *prometheus.HistogramVec

	// Sink and storage metrics
	SinkDropped           prometheus.Counter
	DatabaseQueryDuration *prometheus.HistogramVec

	// Error metrics
	ErrorsTotal *prometheus.CounterVec
	PanicsTotal *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// Config holds metrics configuration
type Config struct {
	Namespace string `json:"namespace"`
	Subsystem string `json:"subsystem"`
	Enabled   bool   `json:"enabled"`

	// Registry receives the collectors; nil uses the process default registry
	Registry *prometheus.Registry `json:"-"`
}

// DefaultConfig returns default metrics configuration
func DefaultConfig() *Config {
	return &Config{
		Namespace: "gateway",
		Subsystem: "",
		Enabled:   true,
	}
}

// NewMetrics creates and registers all Prometheus metrics. A disabled
// configuration returns a Metrics whose recorders do nothing.
func NewMetrics(config *Config) *Metrics {
	if config == nil {
		config = DefaultConfig()
	}

	if !config.Enabled {
		return &Metrics{}
	}

	ns, sub := config.Namespace, config.Subsystem
	callBuckets := []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

	m := &Metrics{
		// HTTP metrics
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: sub,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: ns,
				Subsystem: sub,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestsInFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: ns,
				Subsystem: sub,
				Name:      "http_requests_in_flight",
				Help:      "Number of HTTP requests currently being processed",
			},
			[]string{"method", "path"},
		),

		// Gateway call metrics
		CallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: sub,
				Name:      "calls_total",
				Help:      "Total number of gateway calls by outcome",
			},
			[]string{"dependency", "outcome", "source"},
		),
		CallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: ns,
				Subsystem: sub,
				Name:      "call_duration_seconds",
				Help:      "Gateway call duration in seconds",
				Buckets:   callBuckets,
			},
			[]string{"dependency", "source"},
		),
		CallRetries: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: ns,
				Subsystem: sub,
				Name:      "call_retries",
				Help:      "Failed attempts per gateway call",
				Buckets:   []float64{0, 1, 2, 3, 5, 8},
			},
			[]string{"dependency"},
		),
		CallErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: sub,
				Name:      "call_errors_total",
				Help:      "Failed gateway calls by error code",
			},
			[]string{"dependency", "error_code"},
		),
		RateLimitWaits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: sub,
				Name:      "rate_limit_waits_total",
				Help:      "Number of times a call waited for a rate limiter token",
			},
			[]string{"dependency"},
		),

		// Breaker metrics
		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: ns,
				Subsystem: sub,
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state (0 closed, 1 open, 2 half-open)",
			},
			[]string{"dependency"},
		),
		BreakerTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: sub,
				Name:      "circuit_breaker_transitions_total",
				Help:      "Circuit breaker state transitions",
			},
			[]string{"dependency", "from", "to"},
		),

		// Batch metrics
		QueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: ns,
				Subsystem: sub,
				Name:      "batch_queue_depth",
				Help:      "Number of deferred requests waiting per dependency",
			},
			[]string{"dependency"},
		),
		BatchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: sub,
				Name:      "batches_total",
				Help:      "Total number of processed batches",
			},
			[]string{"dependency"},
		),
		BatchRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: sub,
				Name:      "batch_requests_total",
				Help:      "Batched requests by outcome",
			},
			[]string{"dependency", "outcome"},
		),
		BatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: ns,
				Subsystem: sub,
				Name:      "batch_duration_seconds",
				Help:      "Batch processing duration in seconds",
				Buckets:   callBuckets,
			},
			[]string{"dependency"},
		),
		QueueRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: sub,
				Name:      "batch_queue_rejected_total",
				Help:      "Requests rejected because the batch queue was full",
			},
			[]string{"dependency"},
		),
		BatchesSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: sub,
				Name:      "batches_skipped_total",
				Help:      "Batch runs skipped because one was already in progress",
			},
			[]string{"dependency"},
		),

		// Cache metrics
		CacheOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: sub,
				Name:      "cache_operations_total",
				Help:      "Cache operations by result",
			},
			[]string{"operation", "result"},
		),
		CacheOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: ns,
				Subsystem: sub,
				Name:      "cache_operation_duration_seconds",
				Help:      "Cache operation duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"operation"},
		),

		// Sink and storage metrics
		SinkDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: sub,
				Name:      "metrics_sink_dropped_total",
				Help:      "Call records dropped because the sink buffer was full",
			},
		),
		DatabaseQueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: ns,
				Subsystem: sub,
				Name:      "database_query_duration_seconds",
				Help:      "Database query duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"operation", "table"},
		),

		// Error metrics
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: sub,
				Name:      "errors_total",
				Help:      "Total number of errors",
			},
			[]string{"component", "error_type"},
		),
		PanicsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: sub,
				Name:      "panics_total",
				Help:      "Total number of panics",
			},
			[]string{"component"},
		),
	}

	var registerer prometheus.Registerer = prometheus.DefaultRegisterer
	m.gatherer = prometheus.DefaultGatherer
	if config.Registry != nil {
		registerer = config.Registry
		m.gatherer = config.Registry
	}

	// Register all metrics
	registerer.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.CallsTotal,
		m.CallDuration,
		m.CallRetries,
		m.CallErrors,
		m.RateLimitWaits,
		m.BreakerState,
		m.BreakerTransitions,
		m.QueueDepth,
		m.BatchesTotal,
		m.BatchRequests,
		m.BatchDuration,
		m.QueueRejected,
		m.BatchesSkipped,
		m.CacheOperations,
		m.CacheOperationDuration,
		m.SinkDropped,
		m.DatabaseQueryDuration,
		m.ErrorsTotal,
		m.PanicsTotal,
	)

	return m
}

// RecordHTTPRequest records HTTP request metrics
func (m *Metrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	if m.HTTPRequestsTotal == nil {
		return
	}

	statusStr := strconv.Itoa(statusCode)
	m.HTTPRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, statusStr).Observe(duration.Seconds())
}

// RecordCall records the outcome of one gateway call
func (m *Metrics) RecordCall(dependency string, success, fromCache bool, retryCount int, errorCode string, duration time.Duration) {
	if m.CallsTotal == nil {
		return
	}

	outcome := "success"
	if !success {
		outcome = "failure"
	}
	source := "network"
	if fromCache {
		source = "cache"
	}

	m.CallsTotal.WithLabelValues(dependency, outcome, source).Inc()
	m.CallDuration.WithLabelValues(dependency, source).Observe(duration.Seconds())
	if !fromCache {
		m.CallRetries.WithLabelValues(dependency).Observe(float64(retryCount))
	}
	if !success && errorCode != "" {
		m.CallErrors.WithLabelValues(dependency, errorCode).Inc()
	}
}

// RecordRateLimitWaits counts waits for a limiter token
func (m *Metrics) RecordRateLimitWaits(dependency string, waits int) {
	if m.RateLimitWaits == nil || waits <= 0 {
		return
	}

	m.RateLimitWaits.WithLabelValues(dependency).Add(float64(waits))
}

// RecordBreakerTransition records a breaker state change and the new state
func (m *Metrics) RecordBreakerTransition(dependency, from, to string) {
	if m.BreakerTransitions == nil {
		return
	}

	m.BreakerTransitions.WithLabelValues(dependency, from, to).Inc()
	m.BreakerState.WithLabelValues(dependency).Set(breakerStateValue(to))
}

// UpdateBreakerState sets the breaker state gauge
func (m *Metrics) UpdateBreakerState(dependency, state string) {
	if m.BreakerState == nil {
		return
	}

	m.BreakerState.WithLabelValues(dependency).Set(breakerStateValue(state))
}

// UpdateQueueDepth updates the batch queue depth gauge
func (m *Metrics) UpdateQueueDepth(dependency string, depth int) {
	if m.QueueDepth == nil {
		return
	}

	m.QueueDepth.WithLabelValues(dependency).Set(float64(depth))
}

// RecordQueueRejected counts a request rejected by a full queue
func (m *Metrics) RecordQueueRejected(dependency string) {
	if m.QueueRejected == nil {
		return
	}

	m.QueueRejected.WithLabelValues(dependency).Inc()
}

// RecordBatch records a finished batch run
func (m *Metrics) RecordBatch(dependency string, skipped bool, succeeded, failed int, duration time.Duration) {
	if m.BatchesTotal == nil {
		return
	}

	if skipped {
		m.BatchesSkipped.WithLabelValues(dependency).Inc()
		return
	}
	if succeeded+failed == 0 {
		return
	}

	m.BatchesTotal.WithLabelValues(dependency).Inc()
	m.BatchRequests.WithLabelValues(dependency, "success").Add(float64(succeeded))
	m.BatchRequests.WithLabelValues(dependency, "failure").Add(float64(failed))
	m.BatchDuration.WithLabelValues(dependency).Observe(duration.Seconds())
}

// RecordCacheOperation records cache operation metrics
func (m *Metrics) RecordCacheOperation(operation, result string, duration time.Duration) {
	if m.CacheOperations == nil {
		return
	}

	m.CacheOperations.WithLabelValues(operation, result).Inc()
	m.CacheOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordSinkDropped counts call records dropped by the metrics sink
func (m *Metrics) RecordSinkDropped() {
	if m.SinkDropped == nil {
		return
	}

	m.SinkDropped.Inc()
}

// RecordDatabaseQuery records database query metrics
func (m *Metrics) RecordDatabaseQuery(operation, table string, duration time.Duration) {
	if m.DatabaseQueryDuration == nil {
		return
	}

	m.DatabaseQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// RecordError records error metrics
func (m *Metrics) RecordError(component, errorType string) {
	if m.ErrorsTotal == nil {
		return
	}

	m.ErrorsTotal.WithLabelValues(component, errorType).Inc()
}

// RecordPanic records panic metrics
func (m *Metrics) RecordPanic(component string) {
	if m.PanicsTotal == nil {
		return
	}

	m.PanicsTotal.WithLabelValues(component).Inc()
}

// PrometheusMiddleware creates a middleware for Prometheus metrics collection
func (m *Metrics) PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m.HTTPRequestsInFlight != nil {
			m.HTTPRequestsInFlight.WithLabelValues(c.Request.Method, c.FullPath()).Inc()
			defer m.HTTPRequestsInFlight.WithLabelValues(c.Request.Method, c.FullPath()).Dec()
		}

		start := time.Now()
		c.Next()
		duration := time.Since(start)

		m.RecordHTTPRequest(c.Request.Method, c.FullPath(), c.Writer.Status(), duration)
	}
}

// Handler returns the Prometheus metrics HTTP handler
func (m *Metrics) Handler() http.Handler {
	if m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func breakerStateValue(state string) float64 {
	switch state {
	case "OPEN":
		return 1
	case "HALF_OPEN":
		return 2
	default:
		return 0
	}
}

// Collector refreshes gauges that are derived from live state
type Collector func(m *Metrics)

// MetricsCollector runs collectors periodically
type MetricsCollector struct {
	metrics    *Metrics
	interval   time.Duration
	collectors []Collector
	stopCh     chan struct{}
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(metrics *Metrics, interval time.Duration, collectors ...Collector) *MetricsCollector {
	return &MetricsCollector{
		metrics:    metrics,
		interval:   interval,
		collectors: collectors,
		stopCh:     make(chan struct{}),
	}
}

// Start begins metrics collection
func (mc *MetricsCollector) Start(ctx context.Context) {
	ticker := time.NewTicker(mc.interval)
	defer ticker.Stop()

	mc.collectMetrics()
	for {
		select {
		case <-ctx.Done():
			return
		case <-mc.stopCh:
			return
		case <-ticker.C:
			mc.collectMetrics()
		}
	}
}

// Stop stops metrics collection
func (mc *MetricsCollector) Stop() {
	close(mc.stopCh)
}

func (mc *MetricsCollector) collectMetrics() {
	for _, collect := range mc.collectors {
		collect(mc.metrics)
	}
}
