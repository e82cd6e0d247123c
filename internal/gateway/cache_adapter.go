package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/drumcap/hooklabs-elite-sub003/internal/cache"
	"github.com/drumcap/hooklabs-elite-sub003/pkg/errors"
	"github.com/drumcap/hooklabs-elite-sub003/pkg/logging"
	"github.com/drumcap/hooklabs-elite-sub003/pkg/metrics"
	"github.com/drumcap/hooklabs-elite-sub003/pkg/types"
)

// DefaultCacheWriteTimeout bounds a background cache write
const DefaultCacheWriteTimeout = 2 * time.Second

// CacheAdapter serves successful call results from the cache store and
// populates it after misses. Store failures never fail a call.
type CacheAdapter struct {
	cache        *cache.Service
	keys         *cache.KeyBuilder
	defaultTTL   time.Duration
	writeTimeout time.Duration
	recorder     Recorder
	metrics      *metrics.Metrics
	logger       *logging.Logger

	writes sync.WaitGroup
}

// NewCacheAdapter creates a cache adapter. A non-positive defaultTTL uses the
// cache service default.
func NewCacheAdapter(service *cache.Service, keys *cache.KeyBuilder, defaultTTL time.Duration, recorder Recorder, m *metrics.Metrics) *CacheAdapter {
	if keys == nil {
		keys = cache.NewKeyBuilder("")
	}
	if defaultTTL <= 0 {
		defaultTTL = service.Config().DefaultTTL
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if m == nil {
		m = &metrics.Metrics{}
	}

	return &CacheAdapter{
		cache:        service,
		keys:         keys,
		defaultTTL:   defaultTTL,
		writeTimeout: DefaultCacheWriteTimeout,
		recorder:     recorder,
		metrics:      m,
		logger:       logging.GetLogger(),
	}
}

// Key derives the cache key of req
func (a *CacheAdapter) Key(req types.Request) (string, error) {
	return a.keys.Build(string(req.Dependency), req.Payload(), nil)
}

// GetOrInvoke returns the cached result under key or runs invoke on a miss.
// Only successful results are written back, asynchronously, with ttl (or the
// default TTL when ttl is not positive).
func (a *CacheAdapter) GetOrInvoke(ctx context.Context, dependency types.DependencyKey, key string, ttl time.Duration, tags []string, invoke func(ctx context.Context) types.CallResult) types.CallResult {
	if result, hit := a.Lookup(ctx, dependency, key); hit {
		return result
	}

	result := invoke(ctx)
	if result.Success {
		a.store(ctx, dependency, key, result.Data, ttl, tags)
	}
	return result
}

// Lookup reads the cached result under key. A hit reports fromCache with zero
// retries and the lookup time as response time, and is recorded. Store
// failures count as misses.
func (a *CacheAdapter) Lookup(ctx context.Context, dependency types.DependencyKey, key string) (types.CallResult, bool) {
	started := time.Now()

	var data json.RawMessage
	err := a.cache.GetRaw(ctx, key, &data)
	lookup := time.Since(started)

	switch {
	case err == nil:
		a.metrics.RecordCacheOperation("get", "hit", lookup)
		result := types.CallResult{
			Success:      true,
			Data:         data,
			ResponseTime: lookup.Milliseconds(),
			RetryCount:   0,
			FromCache:    true,
			Dependency:   dependency,
			CompletedAt:  time.Now(),
		}
		a.recorder.Record(dependency, result)
		return result, true
	case errors.IsNotFound(err):
		a.metrics.RecordCacheOperation("get", "miss", lookup)
	default:
		a.metrics.RecordCacheOperation("get", "error", lookup)
		a.logger.Warn("Cache lookup failed, treating as miss",
			"dependency", string(dependency),
			"key", key,
			"error", err.Error(),
		)
	}
	return types.CallResult{}, false
}

// Wait blocks until pending background writes have finished
func (a *CacheAdapter) Wait() {
	a.writes.Wait()
}

// InvalidateTag removes every cached result written with tag
func (a *CacheAdapter) InvalidateTag(ctx context.Context, tag string) (int64, error) {
	return a.cache.InvalidateTag(ctx, tag)
}

func (a *CacheAdapter) store(ctx context.Context, dependency types.DependencyKey, key string, data json.RawMessage, ttl time.Duration, tags []string) {
	if ttl <= 0 {
		ttl = a.defaultTTL
	}
	if data == nil {
		data = json.RawMessage("null")
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.writeTimeout)

	a.writes.Add(1)
	go func() {
		defer a.writes.Done()
		defer cancel()

		started := time.Now()
		if err := a.cache.SetRaw(writeCtx, key, data, ttl, tags...); err != nil {
			a.metrics.RecordCacheOperation("set", "error", time.Since(started))
			a.logger.Warn("Cache write failed",
				"dependency", string(dependency),
				"key", key,
				"error", err.Error(),
			)
			return
		}
		a.metrics.RecordCacheOperation("set", "ok", time.Since(started))
	}()
}

// DependencyTag is the tag every cached result of dependency carries
func DependencyTag(dependency types.DependencyKey) string {
	return "dependency:" + string(dependency)
}
