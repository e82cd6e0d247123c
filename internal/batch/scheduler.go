package batch

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/drumcap/hooklabs-elite-sub003/internal/queue"
	"github.com/drumcap/hooklabs-elite-sub003/pkg/errors"
	"github.com/drumcap/hooklabs-elite-sub003/pkg/logging"
	"github.com/drumcap/hooklabs-elite-sub003/pkg/types"
)

// SchedulerConfig contains scheduler configuration
type SchedulerConfig struct {
	BatchSize       int           `json:"batch_size"`
	FlushInterval   time.Duration `json:"flush_interval"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
}

// DefaultSchedulerConfig returns default scheduler configuration
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		BatchSize:       10,
		FlushInterval:   1 * time.Second,
		ShutdownTimeout: 30 * time.Second,
	}
}

// SchedulerStats contains scheduler statistics
type SchedulerStats struct {
	BatchesRun   int64     `json:"batches_run"`
	BatchesEmpty int64     `json:"batches_empty"`
	Triggered    int64     `json:"triggered"`
	LastBatchAt  time.Time `json:"last_batch_at"`
	StartedAt    time.Time `json:"started_at"`
}

// Scheduler runs batches on a flush interval, and early for a dependency
// whose queue reaches the batch size.
type Scheduler struct {
	processor *Processor
	queues    *queue.Manager
	config    SchedulerConfig
	logger    *logging.Logger

	trigger  chan types.DependencyKey
	stopCh   chan struct{}
	stopOnce sync.Once
	doneCh   chan struct{}
	wg       sync.WaitGroup

	mu      sync.RWMutex
	running bool
	stats   SchedulerStats
}

// NewScheduler creates a scheduler and registers it for enqueue notifications
func NewScheduler(processor *Processor, queues *queue.Manager, config SchedulerConfig) *Scheduler {
	defaults := DefaultSchedulerConfig()
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = defaults.FlushInterval
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = defaults.ShutdownTimeout
	}

	s := &Scheduler{
		processor: processor,
		queues:    queues,
		config:    config,
		logger:    logging.GetLogger(),
		trigger:   make(chan types.DependencyKey, 64),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	previous := queues.OnEnqueue
	queues.OnEnqueue = func(dependency types.DependencyKey, depth int) {
		if previous != nil {
			previous(dependency, depth)
		}
		s.Notify(dependency, depth)
	}
	return s
}

// Notify requests an early batch once depth reaches the batch size. It never
// blocks; a trigger that does not fit is covered by the next flush tick.
func (s *Scheduler) Notify(dependency types.DependencyKey, depth int) {
	if depth < s.config.BatchSize {
		return
	}
	select {
	case s.trigger <- dependency:
	default:
	}
}

// Start starts the scheduler loop
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.NewValidationError("scheduler is already running")
	}
	s.running = true
	s.stats.StartedAt = time.Now()
	s.mu.Unlock()

	go func() {
		s.loop(ctx)
		s.wg.Wait()
		close(s.doneCh)
	}()

	s.logger.WithComponent("batch-scheduler").WithFields(logrus.Fields{
		"batch_size":     s.config.BatchSize,
		"flush_interval": s.config.FlushInterval.String(),
	}).Info("Batch scheduler started")
	return nil
}

// Stop stops the scheduler and waits for running batches
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return errors.NewValidationError("scheduler is not running")
	}
	s.mu.Unlock()

	s.stopOnce.Do(func() { close(s.stopCh) })

	select {
	case <-s.doneCh:
	case <-time.After(s.config.ShutdownTimeout):
		return errors.NewTimeoutError("scheduler shutdown")
	}

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	s.logger.WithComponent("batch-scheduler").Info("Batch scheduler stopped")
	return nil
}

// IsRunning returns whether the scheduler is running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// GetStats returns scheduler statistics
func (s *Scheduler) GetStats() SchedulerStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// Flush starts a batch for every dependency with queued requests
func (s *Scheduler) Flush(ctx context.Context) {
	for _, dependency := range s.queues.Dependencies() {
		s.dispatch(ctx, dependency)
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	ticker := time.NewTicker(s.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case dependency := <-s.trigger:
			s.mu.Lock()
			s.stats.Triggered++
			s.mu.Unlock()
			s.dispatch(ctx, dependency)
		case <-ticker.C:
			s.Flush(ctx)
		}
	}
}

// dispatch runs one batch of dependency in the background. The processor
// skips it when a batch of the same dependency is still running.
func (s *Scheduler) dispatch(ctx context.Context, dependency types.DependencyKey) {
	if s.processor.IsProcessing(dependency) {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		summary := s.processor.ProcessBatch(ctx, dependency, s.config.BatchSize)
		if summary.Skipped {
			return
		}

		s.mu.Lock()
		if summary.Processed == 0 {
			s.stats.BatchesEmpty++
		} else {
			s.stats.BatchesRun++
			s.stats.LastBatchAt = time.Now()
		}
		s.mu.Unlock()
	}()
}
