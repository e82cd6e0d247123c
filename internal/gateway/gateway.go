package gateway

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/drumcap/hooklabs-elite-sub003/internal/batch"
	"github.com/drumcap/hooklabs-elite-sub003/internal/cache"
	"github.com/drumcap/hooklabs-elite-sub003/internal/queue"
	"github.com/drumcap/hooklabs-elite-sub003/pkg/errors"
	"github.com/drumcap/hooklabs-elite-sub003/pkg/logging"
	"github.com/drumcap/hooklabs-elite-sub003/pkg/metrics"
	"github.com/drumcap/hooklabs-elite-sub003/pkg/resilience"
	"github.com/drumcap/hooklabs-elite-sub003/pkg/tracing"
	"github.com/drumcap/hooklabs-elite-sub003/pkg/types"
)

// Caller performs the network call of a request
type Caller interface {
	Call(ctx context.Context, req types.Request) (json.RawMessage, error)
}

// Config holds gateway settings
type Config struct {
	CacheTTL       time.Duration `json:"cache_ttl"`
	ResultTTL      time.Duration `json:"result_ttl"`
	BatchSize      int           `json:"batch_size"`
	MaxConcurrency int           `json:"max_concurrency"`
	ChunkDelay     time.Duration `json:"chunk_delay"`
	MaxQueueSize   int           `json:"max_queue_size"`
}

// DefaultConfig returns default gateway settings
func DefaultConfig() Config {
	return Config{
		CacheTTL:       time.Hour,
		ResultTTL:      batch.DefaultResultTTL,
		BatchSize:      10,
		MaxConcurrency: 3,
		ChunkDelay:     200 * time.Millisecond,
		MaxQueueSize:   queue.DefaultMaxQueueSize,
	}
}

// Options are the collaborators of a Gateway. Registry and Cache are created
// with defaults when nil; the others are optional.
type Options struct {
	Config   Config
	Registry *resilience.Registry
	Cache    *cache.Service
	Recorder Recorder
	Metrics  *metrics.Metrics
	Tracer   *tracing.TracingService
}

// Gateway is the entry point for external calls. It routes each call to the
// cache, the batch queue or an immediate guarded invocation.
type Gateway struct {
	caller    Caller
	config    Config
	registry  *resilience.Registry
	invoker   *Invoker
	cache     *CacheAdapter
	queues    *queue.Manager
	results   *batch.ResultStore
	processor *batch.Processor
	metrics   *metrics.Metrics
	tracer    *tracing.TracingService
	logger    *logging.Logger
}

// New creates a gateway around caller
func New(caller Caller, opts Options) *Gateway {
	config := opts.Config
	defaults := DefaultConfig()
	if config.CacheTTL <= 0 {
		config.CacheTTL = defaults.CacheTTL
	}
	if config.ResultTTL <= 0 {
		config.ResultTTL = defaults.ResultTTL
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = defaults.MaxConcurrency
	}
	if config.ChunkDelay < 0 {
		config.ChunkDelay = defaults.ChunkDelay
	}

	registry := opts.Registry
	if registry == nil {
		registry = resilience.NewRegistry(resilience.DefaultPolicy())
	}
	service := opts.Cache
	if service == nil {
		service = cache.NewService(cache.NewMemoryStore(), nil)
	}
	m := opts.Metrics
	if m == nil {
		m = &metrics.Metrics{}
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = tracing.NewNoopService()
	}

	g := &Gateway{
		caller:   caller,
		config:   config,
		registry: registry,
		invoker:  NewInvoker(registry, opts.Recorder, tracer, m),
		cache:    NewCacheAdapter(service, cache.NewKeyBuilder(cache.PrefixCall), config.CacheTTL, opts.Recorder, m),
		queues:   queue.NewManager(config.MaxQueueSize),
		results:  batch.NewResultStore(service, config.ResultTTL),
		metrics:  m,
		tracer:   tracer,
		logger:   logging.GetLogger(),
	}

	g.processor = batch.NewProcessor(g.queues, g.results, g.executeQueued, batch.Config{
		BatchSize:      config.BatchSize,
		MaxConcurrency: config.MaxConcurrency,
		ChunkDelay:     config.ChunkDelay,
	})
	g.processor.OnBatch = g.recordBatch
	g.queues.OnEnqueue = func(dependency types.DependencyKey, depth int) {
		m.UpdateQueueDepth(string(dependency), depth)
	}

	return g
}

// CallOptimized runs req according to opts. Batchable low priority calls are
// queued and answered with a request id; everything else returns the result
// of an immediate, optionally cached, invocation.
func (g *Gateway) CallOptimized(ctx context.Context, req types.Request, opts types.CallOptions) types.CallResponse {
	if err := req.Validate(); err != nil {
		result := types.FailedResult(req.Dependency, err)
		return types.CallResponse{Result: &result}
	}

	if opts.Deferred() {
		if cached, hit := g.cachedResult(ctx, req, opts); hit {
			cached.RequestID = uuid.New().String()
			return types.CallResponse{RequestID: cached.RequestID, Result: &cached}
		}

		id, err := g.Enqueue(ctx, req, opts)
		if err != nil {
			result := types.FailedResult(req.Dependency, err)
			return types.CallResponse{Result: &result}
		}
		return types.CallResponse{Queued: true, RequestID: id}
	}

	requestID := uuid.New().String()
	ctx = logging.WithRequestID(ctx, requestID)

	result := g.execute(ctx, req, opts)
	result.RequestID = requestID
	return types.CallResponse{RequestID: requestID, Result: &result}
}

// Enqueue defers req until the next batch of its dependency and returns the
// request id under which its result will be available.
func (g *Gateway) Enqueue(ctx context.Context, req types.Request, opts types.CallOptions) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	breq := queue.NewBatchRequest(req, opts)
	if err := g.processor.Enqueue(breq); err != nil {
		g.metrics.RecordQueueRejected(string(req.Dependency))
		g.logger.Warn("Batch request rejected",
			"dependency", string(req.Dependency),
			"error", err.Error(),
		)
		return "", err
	}

	g.logger.WithContext(ctx).WithField("request_id", breq.ID).
		WithField("dependency", string(req.Dependency)).
		WithField("priority", string(breq.Priority)).
		Debug("Request queued for batch")
	return breq.ID, nil
}

// ProcessBatch runs one batch of dependency. batchSize falls back to the
// configured size when not positive.
func (g *Gateway) ProcessBatch(ctx context.Context, dependency types.DependencyKey, batchSize int) types.BatchSummary {
	if batchSize <= 0 {
		batchSize = g.config.BatchSize
	}

	ctx, span := g.tracer.StartBatchSpan(ctx, string(dependency), batchSize)
	defer span.End()

	return g.processor.ProcessBatch(ctx, dependency, batchSize)
}

// GetBatchResult looks up the result of a queued request. A request that is
// neither stored nor pending has expired or never existed.
func (g *Gateway) GetBatchResult(ctx context.Context, requestID string) types.BatchLookup {
	lookup := types.BatchLookup{RequestID: requestID}

	result, found, err := g.results.Get(ctx, requestID)
	if err != nil {
		g.logger.Warn("Batch result lookup failed",
			"request_id", requestID,
			"error", err.Error(),
		)
	}
	if found {
		lookup.Status = types.BatchStatusCompleted
		lookup.Result = result
		return lookup
	}

	if _, pending := g.queues.Status(requestID); pending {
		lookup.Status = types.BatchStatusPending
		return lookup
	}

	lookup.Status = types.BatchStatusExpired
	lookup.Expired = true
	return lookup
}

// Dependencies returns the guard state of every known dependency and of any
// other dependency the registry has seen, sorted by name.
func (g *Gateway) Dependencies() []types.DependencyStatus {
	names := make(map[string]struct{})
	for _, dep := range types.KnownDependencies() {
		names[string(dep)] = struct{}{}
	}
	for _, name := range g.registry.Dependencies() {
		names[name] = struct{}{}
	}

	statuses := make([]types.DependencyStatus, 0, len(names))
	for name := range names {
		guards := g.registry.Get(name)
		breaker := guards.Breaker.Snapshot()
		limiter := guards.Limiter.Snapshot()
		dep := types.DependencyKey(name)

		statuses = append(statuses, types.DependencyStatus{
			Dependency:      name,
			State:           breaker.State.String(),
			FailureCount:    breaker.FailureCount,
			SuccessCount:    breaker.SuccessCount,
			LastFailureTime: breaker.LastFailureTime,
			Tokens:          limiter.Tokens,
			BurstLimit:      limiter.BurstLimit,
			QueueDepth:      g.queues.Depth(dep),
			Processing:      g.processor.IsProcessing(dep),
		})
	}

	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Dependency < statuses[j].Dependency
	})
	return statuses
}

// InvalidateCache drops every cached result carrying tag
func (g *Gateway) InvalidateCache(ctx context.Context, tag string) (int64, error) {
	if tag == "" {
		return 0, errors.NewValidationError("tag is required")
	}
	removed, err := g.cache.InvalidateTag(ctx, tag)
	if err != nil {
		return 0, err
	}

	g.logger.Info("Cache tag invalidated", "tag", tag, "removed", removed)
	return removed, nil
}

// Processor exposes the batch processor for scheduling
func (g *Gateway) Processor() *batch.Processor {
	return g.processor
}

// Queues exposes the batch queues for scheduling
func (g *Gateway) Queues() *queue.Manager {
	return g.queues
}

// Registry returns the dependency guards registry
func (g *Gateway) Registry() *resilience.Registry {
	return g.registry
}

// Cache returns the cache adapter
func (g *Gateway) Cache() *CacheAdapter {
	return g.cache
}

// Config returns the effective gateway settings
func (g *Gateway) Config() Config {
	return g.config
}

// execute runs req immediately, through the cache when requested
func (g *Gateway) execute(ctx context.Context, req types.Request, opts types.CallOptions) types.CallResult {
	fn := func(ctx context.Context) (json.RawMessage, error) {
		return g.caller.Call(ctx, req)
	}
	invoke := func(ctx context.Context) types.CallResult {
		return g.invoker.Invoke(ctx, req.Dependency, opts.MaxRetries, fn)
	}

	if !opts.UseCache {
		return invoke(ctx)
	}

	key, err := g.cache.Key(req)
	if err != nil {
		g.logger.Warn("Cache key derivation failed, calling without cache",
			"dependency", string(req.Dependency),
			"error", err.Error(),
		)
		return invoke(ctx)
	}

	tags := append([]string{DependencyTag(req.Dependency)}, opts.Tags...)
	return g.cache.GetOrInvoke(ctx, req.Dependency, key, opts.TTL, tags, invoke)
}

// cachedResult answers req from the cache without invoking it
func (g *Gateway) cachedResult(ctx context.Context, req types.Request, opts types.CallOptions) (types.CallResult, bool) {
	if !opts.UseCache {
		return types.CallResult{}, false
	}
	key, err := g.cache.Key(req)
	if err != nil {
		return types.CallResult{}, false
	}
	return g.cache.Lookup(ctx, req.Dependency, key)
}

func (g *Gateway) executeQueued(ctx context.Context, breq *queue.BatchRequest) types.CallResult {
	return g.execute(ctx, breq.Payload, breq.Options())
}

func (g *Gateway) recordBatch(summary types.BatchSummary) {
	dep := string(summary.Dependency)
	g.metrics.RecordBatch(dep, summary.Skipped, summary.Succeeded, summary.Failed, summary.Duration)
	g.metrics.UpdateQueueDepth(dep, summary.Remaining)
}
