package queue

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drumcap/hooklabs-elite-sub003/pkg/errors"
	"github.com/drumcap/hooklabs-elite-sub003/pkg/types"
)

func newRequest(dep types.DependencyKey, priority types.Priority, text string) *BatchRequest {
	return NewBatchRequest(types.Request{
		Dependency: dep,
		Publish:    &types.PublishParams{Text: text},
	}, types.CallOptions{Priority: priority, Batchable: true})
}

func TestQueue_HighPriorityDrainsFirst(t *testing.T) {
	q := NewQueue(types.DependencyTwitterPublish)

	q.Push(newRequest(types.DependencyTwitterPublish, types.PriorityLow, "first"))
	q.Push(newRequest(types.DependencyTwitterPublish, types.PriorityLow, "second"))
	q.Push(newRequest(types.DependencyTwitterPublish, types.PriorityHigh, "urgent"))

	batch := q.Pop(1)
	require.Len(t, batch, 1)
	assert.Equal(t, "urgent", batch[0].Payload.Publish.Text)

	rest := q.Pop(10)
	require.Len(t, rest, 2)
	assert.Equal(t, "first", rest[0].Payload.Publish.Text)
	assert.Equal(t, "second", rest[1].Payload.Publish.Text)
	assert.Zero(t, q.Len())
	assert.Nil(t, q.Pop(1))
}

func TestNewBatchRequest_Defaults(t *testing.T) {
	req := NewBatchRequest(types.Request{
		Dependency: types.DependencyContentGeneration,
		Content:    &types.ContentGenerationParams{Prompt: "p"},
	}, types.CallOptions{})

	assert.NotEmpty(t, req.ID)
	assert.Equal(t, types.PriorityMedium, req.Priority)
	assert.Zero(t, req.MaxRetries, "zero defers to the dependency policy")
	assert.Equal(t, types.DependencyContentGeneration, req.Dependency)
	assert.False(t, req.CreatedAt.IsZero())

	other := NewBatchRequest(req.Payload, types.CallOptions{MaxRetries: 5, Priority: types.PriorityLow})
	assert.NotEqual(t, req.ID, other.ID)
	assert.Equal(t, 5, other.Options().MaxRetries)
}

func TestManager_EnqueueDequeueLifecycle(t *testing.T) {
	m := NewManager(0)

	var depths []int
	m.OnEnqueue = func(dep types.DependencyKey, depth int) {
		depths = append(depths, depth)
	}

	a := newRequest(types.DependencyLinkedInPublish, types.PriorityLow, "a")
	b := newRequest(types.DependencyLinkedInPublish, types.PriorityLow, "b")
	require.NoError(t, m.Enqueue(a))
	require.NoError(t, m.Enqueue(b))
	assert.Equal(t, []int{1, 2}, depths)
	assert.Equal(t, 2, m.Depth(types.DependencyLinkedInPublish))
	assert.Equal(t, []types.DependencyKey{types.DependencyLinkedInPublish}, m.Dependencies())

	status, ok := m.Status(a.ID)
	require.True(t, ok)
	assert.Equal(t, RequestStatusQueued, status)

	batch := m.Dequeue(types.DependencyLinkedInPublish, 1)
	require.Len(t, batch, 1)
	status, _ = m.Status(a.ID)
	assert.Equal(t, RequestStatusRunning, status)

	m.Done(a.ID)
	_, ok = m.Status(a.ID)
	assert.False(t, ok)

	assert.Nil(t, m.Dequeue(types.DependencyThreadsPublish, 5))
	assert.Zero(t, m.Depth(types.DependencyThreadsPublish))
}

func TestManager_RejectsWhenFull(t *testing.T) {
	m := NewManager(2)

	require.NoError(t, m.Enqueue(newRequest(types.DependencyThreadsPublish, types.PriorityLow, "1")))
	require.NoError(t, m.Enqueue(newRequest(types.DependencyThreadsPublish, types.PriorityLow, "2")))

	err := m.Enqueue(newRequest(types.DependencyThreadsPublish, types.PriorityLow, "3"))
	require.Error(t, err)
	assert.Equal(t, errors.CodeRateLimited, errors.GetCode(err))

	// other dependencies have their own bound
	assert.NoError(t, m.Enqueue(newRequest(types.DependencyTwitterPublish, types.PriorityLow, "x")))
	assert.Error(t, m.Enqueue(nil))
}

func TestManager_ConcurrentEnqueue(t *testing.T) {
	m := NewManager(0)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = m.Enqueue(newRequest(types.DependencyTwitterPublish, types.PriorityLow, fmt.Sprint(i)))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 100, m.Depth(types.DependencyTwitterPublish))
	assert.Len(t, m.Dequeue(types.DependencyTwitterPublish, 1000), 100)
}
