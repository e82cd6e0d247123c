package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/drumcap/hooklabs-elite-sub003/internal/queue"
	"github.com/drumcap/hooklabs-elite-sub003/pkg/errors"
	"github.com/drumcap/hooklabs-elite-sub003/pkg/logging"
	"github.com/drumcap/hooklabs-elite-sub003/pkg/types"
)

// Executor runs one dequeued request through the cache-assisted call path
type Executor func(ctx context.Context, req *queue.BatchRequest) types.CallResult

// Config holds batch execution settings
type Config struct {
	BatchSize      int           `json:"batch_size"`
	MaxConcurrency int           `json:"max_concurrency"`
	ChunkDelay     time.Duration `json:"chunk_delay"`
}

// DefaultConfig returns default batch settings
func DefaultConfig() Config {
	return Config{
		BatchSize:      10,
		MaxConcurrency: 3,
		ChunkDelay:     200 * time.Millisecond,
	}
}

// Processor drains dependency queues in bounded-concurrency chunks. At most
// one batch runs per dependency at a time.
type Processor struct {
	queues  *queue.Manager
	results *ResultStore
	execute Executor
	config  Config
	logger  *logging.Logger

	mu         sync.Mutex
	processing map[types.DependencyKey]bool

	// Sleep paces chunks; it is replaced in tests
	Sleep func(ctx context.Context, d time.Duration) error
	// OnChunkStart is called before each chunk runs
	OnChunkStart func(dependency types.DependencyKey, index, size int)
	// OnResult is called for every stored result
	OnResult func(req *queue.BatchRequest, result types.CallResult)
	// OnBatch is called with the summary of every ProcessBatch call
	OnBatch func(summary types.BatchSummary)
}

// NewProcessor creates a batch processor
func NewProcessor(queues *queue.Manager, results *ResultStore, execute Executor, config Config) *Processor {
	defaults := DefaultConfig()
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = defaults.MaxConcurrency
	}
	if config.ChunkDelay < 0 {
		config.ChunkDelay = 0
	}

	return &Processor{
		queues:     queues,
		results:    results,
		execute:    execute,
		config:     config,
		logger:     logging.GetLogger(),
		processing: make(map[types.DependencyKey]bool),
		Sleep:      sleep,
	}
}

// Config returns the effective batch settings
func (p *Processor) Config() Config {
	return p.config
}

// Enqueue defers req until the next batch of its dependency
func (p *Processor) Enqueue(req *queue.BatchRequest) error {
	return p.queues.Enqueue(req)
}

// IsProcessing reports whether a batch of dependency is running
func (p *Processor) IsProcessing(dependency types.DependencyKey) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.processing[dependency]
}

// ProcessBatch dequeues up to batchSize requests of dependency and runs them
// in chunks of MaxConcurrency, pausing ChunkDelay between chunks. It returns
// immediately with Skipped set when a batch of dependency is already running.
// Dequeued requests always run to completion; ctx only carries values.
func (p *Processor) ProcessBatch(ctx context.Context, dependency types.DependencyKey, batchSize int) types.BatchSummary {
	summary := types.BatchSummary{Dependency: dependency}

	if !p.begin(dependency) {
		summary.Skipped = true
		summary.Remaining = p.queues.Depth(dependency)
		p.report(summary)
		return summary
	}
	defer p.end(dependency)

	if batchSize <= 0 {
		batchSize = p.config.BatchSize
	}

	started := time.Now()
	runCtx := context.WithoutCancel(ctx)

	batch := p.queues.Dequeue(dependency, batchSize)
	for index, chunk := range chunkRequests(batch, p.config.MaxConcurrency) {
		if index > 0 && p.config.ChunkDelay > 0 {
			_ = p.Sleep(runCtx, p.config.ChunkDelay)
		}

		if p.OnChunkStart != nil {
			p.OnChunkStart(dependency, index, len(chunk))
		}

		for _, result := range p.runChunk(runCtx, chunk) {
			if result.Success {
				summary.Succeeded++
			} else {
				summary.Failed++
			}
		}
		summary.Chunks++
	}

	summary.Processed = len(batch)
	summary.Remaining = p.queues.Depth(dependency)
	summary.Duration = time.Since(started)

	if summary.Processed > 0 {
		p.logger.Info("Batch processed",
			"dependency", string(dependency),
			"processed", summary.Processed,
			"succeeded", summary.Succeeded,
			"failed", summary.Failed,
			"chunks", summary.Chunks,
			"remaining", summary.Remaining,
			"duration_ms", summary.Duration.Milliseconds(),
		)
	}

	p.report(summary)
	return summary
}

func (p *Processor) report(summary types.BatchSummary) {
	if p.OnBatch != nil {
		p.OnBatch(summary)
	}
}

// runChunk executes every request of chunk in parallel and stores each result.
// A failing request never affects the others.
func (p *Processor) runChunk(ctx context.Context, chunk []*queue.BatchRequest) []types.CallResult {
	results := make([]types.CallResult, len(chunk))

	var g errgroup.Group
	for i, req := range chunk {
		i, req := i, req
		g.Go(func() error {
			results[i] = p.runOne(ctx, req)
			return nil
		})
	}
	_ = g.Wait()

	for i, req := range chunk {
		if err := p.results.Save(ctx, results[i]); err != nil {
			p.logger.Error("Failed to store batch result",
				"request_id", req.ID,
				"dependency", string(req.Dependency),
				"error", err.Error(),
			)
		}
		p.queues.Done(req.ID)

		if p.OnResult != nil {
			p.OnResult(req, results[i])
		}
	}

	return results
}

func (p *Processor) runOne(ctx context.Context, req *queue.BatchRequest) (result types.CallResult) {
	defer func() {
		if r := recover(); r != nil {
			result = types.FailedResult(req.Dependency,
				errors.NewInternalError(fmt.Sprintf("batched call panicked: %v", r)))
		}
		result.RequestID = req.ID
		result.Dependency = req.Dependency
		if result.CompletedAt.IsZero() {
			result.CompletedAt = time.Now()
		}
	}()

	ctx = logging.WithRequestID(ctx, req.ID)
	return p.execute(ctx, req)
}

func (p *Processor) begin(dependency types.DependencyKey) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.processing[dependency] {
		return false
	}
	p.processing[dependency] = true
	return true
}

func (p *Processor) end(dependency types.DependencyKey) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.processing, dependency)
}

func chunkRequests(batch []*queue.BatchRequest, size int) [][]*queue.BatchRequest {
	if size <= 0 {
		size = 1
	}

	var chunks [][]*queue.BatchRequest
	for start := 0; start < len(batch); start += size {
		end := start + size
		if end > len(batch) {
			end = len(batch)
		}
		chunks = append(chunks, batch[start:end])
	}
	return chunks
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
