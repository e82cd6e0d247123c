package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/drumcap/hooklabs-elite-sub003/internal/cache"
	"github.com/drumcap/hooklabs-elite-sub003/pkg/errors"
	"github.com/drumcap/hooklabs-elite-sub003/pkg/resilience"
	"github.com/drumcap/hooklabs-elite-sub003/pkg/types"
)

type mockCaller struct {
	mock.Mock
}

func (m *mockCaller) Call(ctx context.Context, req types.Request) (json.RawMessage, error) {
	args := m.Called(ctx, req)
	var data json.RawMessage
	if v := args.Get(0); v != nil {
		data = v.(json.RawMessage)
	}
	return data, args.Error(1)
}

type callerFunc func(ctx context.Context, req types.Request) (json.RawMessage, error)

func (f callerFunc) Call(ctx context.Context, req types.Request) (json.RawMessage, error) {
	return f(ctx, req)
}

type collectingRecorder struct {
	mu      sync.Mutex
	results []types.CallResult
}

func (r *collectingRecorder) Record(dependency types.DependencyKey, result types.CallResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, result)
}

func (r *collectingRecorder) all() []types.CallResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.CallResult(nil), r.results...)
}

type unavailableStore struct{}

func (unavailableStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return nil, false, errors.NewCacheUnavailableError("get")
}

func (unavailableStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags ...string) error {
	return errors.NewCacheUnavailableError("set")
}

func (unavailableStore) Delete(ctx context.Context, key string) error {
	return errors.NewCacheUnavailableError("delete")
}

func (unavailableStore) InvalidateTag(ctx context.Context, tag string) (int64, error) {
	return 0, errors.NewCacheUnavailableError("invalidate")
}

func (unavailableStore) Health(ctx context.Context) error {
	return errors.NewCacheUnavailableError("health")
}

func noSleep(ctx context.Context, d time.Duration) error { return nil }

func newTestRegistry(policy resilience.DependencyPolicy, opts ...resilience.RegistryOption) *resilience.Registry {
	template := resilience.DefaultRetryConfig()
	template.Sleep = noSleep
	return resilience.NewRegistry(policy, append([]resilience.RegistryOption{resilience.WithRetryTemplate(template)}, opts...)...)
}

func newTestGateway(caller Caller, recorder Recorder, opts ...func(*Options)) *Gateway {
	options := Options{
		Registry: newTestRegistry(resilience.DefaultPolicy()),
		Cache:    cache.NewService(cache.NewMemoryStore(), nil),
		Recorder: recorder,
	}
	for _, opt := range opts {
		opt(&options)
	}
	g := New(caller, options)
	g.Processor().Sleep = noSleep
	return g
}

func contentRequest(prompt string) types.Request {
	return types.Request{
		Dependency: types.DependencyContentGeneration,
		Content:    &types.ContentGenerationParams{Prompt: prompt, Tone: "friendly"},
	}
}

func publishRequest(text string) types.Request {
	return types.Request{
		Dependency: types.DependencyTwitterPublish,
		Publish:    &types.PublishParams{Text: text},
	}
}

func TestCallOptimized_ImmediateSuccess(t *testing.T) {
	caller := &mockCaller{}
	caller.On("Call", mock.Anything, mock.Anything).Return(json.RawMessage(`{"text":"hi"}`), nil)
	recorder := &collectingRecorder{}
	g := newTestGateway(caller, recorder)

	resp := g.CallOptimized(context.Background(), contentRequest("hello"), types.CallOptions{Priority: types.PriorityHigh})

	assert.False(t, resp.Queued)
	require.NotNil(t, resp.Result)
	assert.True(t, resp.Result.Success)
	assert.JSONEq(t, `{"text":"hi"}`, string(resp.Result.Data))
	assert.Zero(t, resp.Result.RetryCount)
	assert.False(t, resp.Result.FromCache)
	assert.NotEmpty(t, resp.RequestID)
	assert.Equal(t, resp.RequestID, resp.Result.RequestID)

	records := recorder.all()
	require.Len(t, records, 1)
	assert.True(t, records[0].Success)
	caller.AssertNumberOfCalls(t, "Call", 1)
}

func TestCallOptimized_IdenticalCachedCallsInvokeOnce(t *testing.T) {
	caller := &mockCaller{}
	caller.On("Call", mock.Anything, mock.Anything).Return(json.RawMessage(`{"text":"generated"}`), nil)
	recorder := &collectingRecorder{}
	g := newTestGateway(caller, recorder)
	ctx := context.Background()
	opts := types.CallOptions{UseCache: true, Priority: types.PriorityMedium}

	first := g.CallOptimized(ctx, contentRequest("launch post"), opts)
	require.True(t, first.Result.Success)
	g.Cache().Wait()

	second := g.CallOptimized(ctx, contentRequest("launch post"), opts)
	require.True(t, second.Result.Success)

	assert.False(t, first.Result.FromCache)
	assert.True(t, second.Result.FromCache)
	assert.Zero(t, second.Result.RetryCount)
	assert.JSONEq(t, string(first.Result.Data), string(second.Result.Data))
	caller.AssertNumberOfCalls(t, "Call", 1)

	records := recorder.all()
	require.Len(t, records, 2)
	assert.True(t, records[1].FromCache)
}

func TestCallOptimized_FailuresAreNotCached(t *testing.T) {
	caller := &mockCaller{}
	caller.On("Call", mock.Anything, mock.Anything).Return(nil, errors.NewHTTPError("content", 400, "bad prompt"))
	g := newTestGateway(caller, nil)
	ctx := context.Background()
	opts := types.CallOptions{UseCache: true}

	first := g.CallOptimized(ctx, contentRequest("bad"), opts)
	g.Cache().Wait()
	second := g.CallOptimized(ctx, contentRequest("bad"), opts)

	assert.False(t, first.Result.Success)
	assert.Equal(t, "http-error:400", first.Result.ErrorCode)
	assert.Equal(t, 1, first.Result.RetryCount)
	assert.False(t, second.Result.FromCache)
	caller.AssertNumberOfCalls(t, "Call", 2)
}

func TestCallOptimized_RetriesUntilExhausted(t *testing.T) {
	caller := &mockCaller{}
	caller.On("Call", mock.Anything, mock.Anything).Return(nil, errors.NewHTTPError("twitter", 503, ""))
	g := newTestGateway(caller, nil)

	resp := g.CallOptimized(context.Background(), publishRequest("post"), types.CallOptions{})

	require.NotNil(t, resp.Result)
	assert.False(t, resp.Result.Success)
	assert.Equal(t, errors.CodeMaxRetries, resp.Result.ErrorCode)
	assert.Equal(t, 3, resp.Result.RetryCount)
	caller.AssertNumberOfCalls(t, "Call", 3)
}

func TestCallOptimized_MaxRetriesOverride(t *testing.T) {
	caller := &mockCaller{}
	caller.On("Call", mock.Anything, mock.Anything).Return(nil, errors.NewExternalError("twitter", "connection reset"))
	g := newTestGateway(caller, nil)

	resp := g.CallOptimized(context.Background(), publishRequest("post"), types.CallOptions{MaxRetries: 5})

	assert.Equal(t, 5, resp.Result.RetryCount)
	caller.AssertNumberOfCalls(t, "Call", 5)
}

func TestCallOptimized_OpenCircuitSkipsNetwork(t *testing.T) {
	caller := &mockCaller{}
	caller.On("Call", mock.Anything, mock.Anything).Return(nil, errors.NewHTTPError("twitter", 502, ""))

	policy := resilience.DefaultPolicy()
	policy.FailureThreshold = 1
	g := newTestGateway(caller, nil, func(o *Options) {
		o.Registry = newTestRegistry(policy)
	})
	ctx := context.Background()

	first := g.CallOptimized(ctx, publishRequest("a"), types.CallOptions{MaxRetries: 1})
	assert.False(t, first.Result.Success)

	second := g.CallOptimized(ctx, publishRequest("b"), types.CallOptions{MaxRetries: 1})
	assert.False(t, second.Result.Success)
	assert.Equal(t, errors.CodeMaxRetries, second.Result.ErrorCode)
	assert.Equal(t, errors.CodeCircuitOpen, second.Result.CauseCode)
	assert.Equal(t, "http-error:502", first.Result.CauseCode)
	assert.Contains(t, second.Result.Error, "circuit")
	caller.AssertNumberOfCalls(t, "Call", 1)

	var twitter types.DependencyStatus
	for _, status := range g.Dependencies() {
		if status.Dependency == string(types.DependencyTwitterPublish) {
			twitter = status
		}
	}
	assert.Equal(t, "OPEN", twitter.State)
}

func TestCallOptimized_CacheStoreUnavailableDegradesToMiss(t *testing.T) {
	caller := &mockCaller{}
	caller.On("Call", mock.Anything, mock.Anything).Return(json.RawMessage(`{"ok":true}`), nil)
	g := newTestGateway(caller, nil, func(o *Options) {
		o.Cache = cache.NewService(unavailableStore{}, nil)
	})
	ctx := context.Background()
	opts := types.CallOptions{UseCache: true}

	first := g.CallOptimized(ctx, contentRequest("x"), opts)
	g.Cache().Wait()
	second := g.CallOptimized(ctx, contentRequest("x"), opts)
	g.Cache().Wait()

	assert.True(t, first.Result.Success)
	assert.True(t, second.Result.Success)
	assert.False(t, second.Result.FromCache)
	caller.AssertNumberOfCalls(t, "Call", 2)
}

func TestCallOptimized_InvalidRequest(t *testing.T) {
	caller := &mockCaller{}
	g := newTestGateway(caller, nil)

	resp := g.CallOptimized(context.Background(), types.Request{Dependency: "fax-send"}, types.CallOptions{})

	require.NotNil(t, resp.Result)
	assert.False(t, resp.Result.Success)
	assert.Equal(t, errors.CodeValidation, resp.Result.ErrorCode)
	caller.AssertNotCalled(t, "Call", mock.Anything, mock.Anything)
}

func TestCallOptimized_PanickingCallerBecomesFailure(t *testing.T) {
	g := newTestGateway(callerFunc(func(ctx context.Context, req types.Request) (json.RawMessage, error) {
		panic("driver bug")
	}), nil)

	var resp types.CallResponse
	assert.NotPanics(t, func() {
		resp = g.CallOptimized(context.Background(), contentRequest("x"), types.CallOptions{})
	})
	assert.False(t, resp.Result.Success)
	assert.Equal(t, errors.CodeInternal, resp.Result.ErrorCode)
}

func TestCallOptimized_DeferredLifecycle(t *testing.T) {
	caller := &mockCaller{}
	caller.On("Call", mock.Anything, mock.Anything).Return(json.RawMessage(`{"post_id":"42"}`), nil)
	g := newTestGateway(caller, nil)
	ctx := context.Background()

	resp := g.CallOptimized(ctx, publishRequest("later"), types.CallOptions{Batchable: true, Priority: types.PriorityLow})
	require.True(t, resp.Queued)
	require.NotEmpty(t, resp.RequestID)
	assert.Nil(t, resp.Result)
	caller.AssertNotCalled(t, "Call", mock.Anything, mock.Anything)

	pending := g.GetBatchResult(ctx, resp.RequestID)
	assert.Equal(t, types.BatchStatusPending, pending.Status)

	summary := g.ProcessBatch(ctx, types.DependencyTwitterPublish, 0)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, summary.Succeeded)

	done := g.GetBatchResult(ctx, resp.RequestID)
	assert.Equal(t, types.BatchStatusCompleted, done.Status)
	require.NotNil(t, done.Result)
	assert.True(t, done.Result.Success)
	assert.Equal(t, resp.RequestID, done.Result.RequestID)

	unknown := g.GetBatchResult(ctx, "does-not-exist")
	assert.Equal(t, types.BatchStatusExpired, unknown.Status)
	assert.True(t, unknown.Expired)
}

func TestCallOptimized_DeferredCallServedFromCache(t *testing.T) {
	caller := &mockCaller{}
	caller.On("Call", mock.Anything, mock.Anything).Return(json.RawMessage(`{"post_id":"7"}`), nil)
	recorder := &collectingRecorder{}
	g := newTestGateway(caller, recorder)
	ctx := context.Background()

	warm := g.CallOptimized(ctx, publishRequest("weekly digest"), types.CallOptions{Priority: types.PriorityMedium, UseCache: true})
	require.True(t, warm.Result.Success)
	g.Cache().Wait()

	resp := g.CallOptimized(ctx, publishRequest("weekly digest"), types.CallOptions{
		Priority:  types.PriorityLow,
		Batchable: true,
		UseCache:  true,
	})

	assert.False(t, resp.Queued)
	require.NotNil(t, resp.Result)
	assert.True(t, resp.Result.Success)
	assert.True(t, resp.Result.FromCache)
	assert.JSONEq(t, `{"post_id":"7"}`, string(resp.Result.Data))
	assert.NotEmpty(t, resp.RequestID)
	assert.Equal(t, resp.RequestID, resp.Result.RequestID)
	assert.Zero(t, g.Queues().Depth(types.DependencyTwitterPublish))
	caller.AssertNumberOfCalls(t, "Call", 1)

	records := recorder.all()
	require.Len(t, records, 2)
	assert.True(t, records[1].FromCache)

	miss := g.CallOptimized(ctx, publishRequest("not cached yet"), types.CallOptions{
		Priority:  types.PriorityLow,
		Batchable: true,
		UseCache:  true,
	})
	assert.True(t, miss.Queued)
	assert.Equal(t, 1, g.Queues().Depth(types.DependencyTwitterPublish))
}

func TestProcessBatch_UsesDependencyPolicyRetries(t *testing.T) {
	caller := &mockCaller{}
	caller.On("Call", mock.Anything, mock.Anything).Return(nil, errors.NewHTTPError("twitter", 503, ""))

	policy := resilience.DefaultPolicy()
	policy.FailureThreshold = 100
	policy.MaxRetries = 5
	g := newTestGateway(caller, nil, func(o *Options) {
		o.Registry = newTestRegistry(policy)
	})
	ctx := context.Background()

	immediate := g.CallOptimized(ctx, publishRequest("now"), types.CallOptions{})
	require.NotNil(t, immediate.Result)
	assert.Equal(t, 5, immediate.Result.RetryCount)

	queued := g.CallOptimized(ctx, publishRequest("later"), types.CallOptions{Batchable: true, Priority: types.PriorityLow})
	require.True(t, queued.Queued)

	summary := g.ProcessBatch(ctx, types.DependencyTwitterPublish, 0)
	assert.Equal(t, 1, summary.Failed)

	lookup := g.GetBatchResult(ctx, queued.RequestID)
	require.Equal(t, types.BatchStatusCompleted, lookup.Status)
	require.NotNil(t, lookup.Result)
	assert.Equal(t, 5, lookup.Result.RetryCount)
	assert.Equal(t, errors.CodeMaxRetries, lookup.Result.ErrorCode)
	caller.AssertNumberOfCalls(t, "Call", 10)
}

func TestCallOptimized_BatchableNonLowRunsImmediately(t *testing.T) {
	caller := &mockCaller{}
	caller.On("Call", mock.Anything, mock.Anything).Return(json.RawMessage(`{}`), nil)
	g := newTestGateway(caller, nil)

	resp := g.CallOptimized(context.Background(), publishRequest("now"), types.CallOptions{Batchable: true, Priority: types.PriorityMedium})

	assert.False(t, resp.Queued)
	require.NotNil(t, resp.Result)
	assert.True(t, resp.Result.Success)
}

func TestEnqueue_RejectsWhenQueueFull(t *testing.T) {
	g := newTestGateway(&mockCaller{}, nil, func(o *Options) {
		o.Config.MaxQueueSize = 1
	})
	ctx := context.Background()
	opts := types.CallOptions{Batchable: true, Priority: types.PriorityLow}

	first := g.CallOptimized(ctx, publishRequest("1"), opts)
	require.True(t, first.Queued)

	second := g.CallOptimized(ctx, publishRequest("2"), opts)
	assert.False(t, second.Queued)
	require.NotNil(t, second.Result)
	assert.Equal(t, errors.CodeRateLimited, second.Result.ErrorCode)
}

func TestInvalidateCache_ForcesRefetch(t *testing.T) {
	caller := &mockCaller{}
	caller.On("Call", mock.Anything, mock.Anything).Return(json.RawMessage(`{"text":"v"}`), nil)
	g := newTestGateway(caller, nil)
	ctx := context.Background()
	opts := types.CallOptions{UseCache: true, Tags: []string{"campaign:7"}}

	g.CallOptimized(ctx, contentRequest("x"), opts)
	g.Cache().Wait()

	removed, err := g.InvalidateCache(ctx, "campaign:7")
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	again := g.CallOptimized(ctx, contentRequest("x"), opts)
	assert.False(t, again.Result.FromCache)
	caller.AssertNumberOfCalls(t, "Call", 2)

	g.Cache().Wait()
	removed, err = g.InvalidateCache(ctx, DependencyTag(types.DependencyContentGeneration))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, err = g.InvalidateCache(ctx, "")
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestDependencies_ListsKnownDependencies(t *testing.T) {
	g := newTestGateway(&mockCaller{}, nil)

	statuses := g.Dependencies()
	require.Len(t, statuses, 4)
	assert.Equal(t, "content-generation", statuses[0].Dependency)
	for _, status := range statuses {
		assert.Equal(t, "CLOSED", status.State)
		assert.Equal(t, 20, status.BurstLimit)
		assert.InDelta(t, 20.0, status.Tokens, 0.5)
	}
}
