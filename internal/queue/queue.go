package queue

import (
	"sync"

	"github.com/drumcap/hooklabs-elite-sub003/pkg/types"
)

// Queue is the pending request list of one dependency. Requests are FIFO
// except that high priority requests are inserted at the front.
type Queue struct {
	dependency types.DependencyKey

	mu    sync.Mutex
	items []*BatchRequest
}

// NewQueue creates an empty queue
func NewQueue(dependency types.DependencyKey) *Queue {
	return &Queue{dependency: dependency}
}

// Push adds req according to its priority and returns the new depth
func (q *Queue) Push(req *BatchRequest) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	if req.Priority == types.PriorityHigh {
		q.items = append([]*BatchRequest{req}, q.items...)
	} else {
		q.items = append(q.items, req)
	}
	return len(q.items)
}

// Pop removes and returns up to n requests from the front
func (q *Queue) Pop(n int) []*BatchRequest {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n <= 0 || len(q.items) == 0 {
		return nil
	}
	if n > len(q.items) {
		n = len(q.items)
	}

	batch := make([]*BatchRequest, n)
	copy(batch, q.items[:n])

	remaining := make([]*BatchRequest, len(q.items)-n)
	copy(remaining, q.items[n:])
	q.items = remaining

	return batch
}

// Len returns the number of queued requests
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dependency returns the dependency the queue belongs to
func (q *Queue) Dependency() types.DependencyKey {
	return q.dependency
}
