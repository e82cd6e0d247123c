package monitoring

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/drumcap/hooklabs-elite-sub003/pkg/errors"
	"github.com/drumcap/hooklabs-elite-sub003/pkg/logging"
	"github.com/drumcap/hooklabs-elite-sub003/pkg/metrics"
	"github.com/drumcap/hooklabs-elite-sub003/pkg/types"
)

// Writer persists call records in bulk
type Writer interface {
	SaveBatch(ctx context.Context, records []types.CallRecord) error
}

// Config holds metrics sink configuration
type Config struct {
	BufferSize    int           `json:"buffer_size"`
	FlushSize     int           `json:"flush_size"`
	FlushInterval time.Duration `json:"flush_interval"`
	WriteTimeout  time.Duration `json:"write_timeout"`
}

// DefaultConfig returns default sink configuration
func DefaultConfig() *Config {
	return &Config{
		BufferSize:    1024,
		FlushSize:     100,
		FlushInterval: 5 * time.Second,
		WriteTimeout:  5 * time.Second,
	}
}

// Sink receives the outcome of every gateway call. Record never blocks the
// caller: Prometheus and the in-memory aggregates are updated inline and the
// record is handed to a background writer through a bounded buffer. Records
// that do not fit are dropped and counted.
type Sink struct {
	config  *Config
	writer  Writer
	metrics *metrics.Metrics
	logger  *logging.Logger

	records chan types.CallRecord
	stopCh  chan struct{}
	doneCh  chan struct{}

	mu      sync.RWMutex
	running bool
	totals  map[types.DependencyKey]*aggregate

	recorded atomic.Int64
	dropped  atomic.Int64
	written  atomic.Int64
}

type aggregate struct {
	calls       int64
	successes   int64
	cacheHits   int64
	responseSum int64
	retrySum    int64
}

// SinkStats are the sink counters
type SinkStats struct {
	Recorded int64 `json:"recorded"`
	Dropped  int64 `json:"dropped"`
	Written  int64 `json:"written"`
	Buffered int   `json:"buffered"`
}

// NewSink creates a metrics sink. writer and m may be nil.
func NewSink(writer Writer, m *metrics.Metrics, config *Config) *Sink {
	if config == nil {
		config = DefaultConfig()
	}
	defaults := DefaultConfig()
	if config.BufferSize <= 0 {
		config.BufferSize = defaults.BufferSize
	}
	if config.FlushSize <= 0 {
		config.FlushSize = defaults.FlushSize
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = defaults.FlushInterval
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if m == nil {
		m = &metrics.Metrics{}
	}

	return &Sink{
		config:  config,
		writer:  writer,
		metrics: m,
		logger:  logging.GetLogger(),
		records: make(chan types.CallRecord, config.BufferSize),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
		totals:  make(map[types.DependencyKey]*aggregate),
	}
}

// Record accepts the outcome of one call
func (s *Sink) Record(dependency types.DependencyKey, result types.CallResult) {
	s.recorded.Add(1)

	s.metrics.RecordCall(string(dependency), result.Success, result.FromCache, result.RetryCount,
		result.ErrorCode, time.Duration(result.ResponseTime)*time.Millisecond)
	s.aggregate(dependency, result)

	if s.writer == nil {
		return
	}

	select {
	case s.records <- types.NewCallRecord(dependency, result):
	default:
		s.dropped.Add(1)
		s.metrics.RecordSinkDropped()
	}
}

// Start starts the background writer
func (s *Sink) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.NewValidationError("metrics sink is already running")
	}
	s.running = true
	s.mu.Unlock()

	go s.run(ctx)
	return nil
}

// Stop stops the writer after flushing buffered records
func (s *Sink) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)

	select {
	case <-s.doneCh:
		return nil
	case <-time.After(s.config.WriteTimeout * 2):
		return errors.NewTimeoutError("metrics sink shutdown")
	}
}

// Stats returns the sink counters
func (s *Sink) Stats() SinkStats {
	return SinkStats{
		Recorded: s.recorded.Load(),
		Dropped:  s.dropped.Load(),
		Written:  s.written.Load(),
		Buffered: len(s.records),
	}
}

// Summary returns the in-process aggregates since start, sorted by dependency
func (s *Sink) Summary() []types.MetricsSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summaries := make([]types.MetricsSummary, 0, len(s.totals))
	for dep, agg := range s.totals {
		summary := types.MetricsSummary{
			Dependency: string(dep),
			TotalCalls: agg.calls,
			Successes:  agg.successes,
			CacheHits:  agg.cacheHits,
		}
		if agg.calls > 0 {
			summary.AvgResponseMs = float64(agg.responseSum) / float64(agg.calls)
			summary.AvgRetries = float64(agg.retrySum) / float64(agg.calls)
		}
		summary.Finalize()
		summaries = append(summaries, summary)
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].Dependency < summaries[j].Dependency
	})
	return summaries
}

func (s *Sink) aggregate(dependency types.DependencyKey, result types.CallResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	agg, ok := s.totals[dependency]
	if !ok {
		agg = &aggregate{}
		s.totals[dependency] = agg
	}
	agg.calls++
	if result.Success {
		agg.successes++
	}
	if result.FromCache {
		agg.cacheHits++
	}
	agg.responseSum += result.ResponseTime
	agg.retrySum += int64(result.RetryCount)
}

func (s *Sink) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.config.FlushInterval)
	defer ticker.Stop()

	batch := make([]types.CallRecord, 0, s.config.FlushSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		s.write(batch)
		batch = make([]types.CallRecord, 0, s.config.FlushSize)
	}

	for {
		select {
		case record := <-s.records:
			batch = append(batch, record)
			if len(batch) >= s.config.FlushSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-s.stopCh:
			batch = s.drain(batch)
			flush()
			return
		case <-ctx.Done():
			batch = s.drain(batch)
			flush()
			return
		}
	}
}

func (s *Sink) drain(batch []types.CallRecord) []types.CallRecord {
	for {
		select {
		case record := <-s.records:
			batch = append(batch, record)
		default:
			return batch
		}
	}
}

// write persists one batch. Failures are logged and the batch is discarded.
func (s *Sink) write(batch []types.CallRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.WriteTimeout)
	defer cancel()

	if err := s.writer.SaveBatch(ctx, batch); err != nil {
		s.metrics.RecordError("metrics_sink", string(errors.GetType(err)))
		s.logger.WithComponent("metrics-sink").WithFields(logrus.Fields{
			"records": len(batch),
			"error":   err.Error(),
		}).Error("Failed to persist call metrics")
		return
	}
	s.written.Add(int64(len(batch)))
}
