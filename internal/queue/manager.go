package queue

import (
	"fmt"
	"sort"
	"sync"

	"github.com/drumcap/hooklabs-elite-sub003/pkg/errors"
	"github.com/drumcap/hooklabs-elite-sub003/pkg/types"
)

// DefaultMaxQueueSize bounds each dependency queue
const DefaultMaxQueueSize = 1000

// Manager owns one Queue per dependency and indexes requests that have not
// finished yet, so callers can tell a pending request from an expired one.
type Manager struct {
	maxSize int

	mu      sync.RWMutex
	queues  map[types.DependencyKey]*Queue
	pending map[string]RequestStatus

	// OnEnqueue is called after each successful Enqueue with the new depth
	OnEnqueue func(dependency types.DependencyKey, depth int)
}

// NewManager creates a manager. A non-positive maxSize uses DefaultMaxQueueSize.
func NewManager(maxSize int) *Manager {
	if maxSize <= 0 {
		maxSize = DefaultMaxQueueSize
	}
	return &Manager{
		maxSize: maxSize,
		queues:  make(map[types.DependencyKey]*Queue),
		pending: make(map[string]RequestStatus),
	}
}

// Enqueue adds req to the queue of its dependency. A full queue rejects the
// request with a rate-limited error.
func (m *Manager) Enqueue(req *BatchRequest) error {
	if req == nil {
		return errors.NewValidationError("batch request is required")
	}

	q := m.queue(req.Dependency)

	m.mu.Lock()
	if q.Len() >= m.maxSize {
		m.mu.Unlock()
		return errors.NewRateLimitError(fmt.Sprintf("batch queue for %s is full", req.Dependency)).
			WithDetail("dependency", string(req.Dependency)).
			WithDetail("max_queue_size", fmt.Sprintf("%d", m.maxSize))
	}
	m.pending[req.ID] = RequestStatusQueued
	depth := q.Push(req)
	m.mu.Unlock()

	if m.OnEnqueue != nil {
		m.OnEnqueue(req.Dependency, depth)
	}
	return nil
}

// Dequeue removes up to n requests of dependency and marks them running
func (m *Manager) Dequeue(dependency types.DependencyKey, n int) []*BatchRequest {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.queues[dependency]
	if !ok {
		return nil
	}

	batch := q.Pop(n)
	for _, req := range batch {
		m.pending[req.ID] = RequestStatusRunning
	}
	return batch
}

// Done forgets a request once its result has been stored
func (m *Manager) Done(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, id)
}

// Status reports whether id is still queued or running
func (m *Manager) Status(id string) (RequestStatus, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status, ok := m.pending[id]
	return status, ok
}

// Depth returns the number of queued requests of dependency
func (m *Manager) Depth(dependency types.DependencyKey) int {
	m.mu.RLock()
	q, ok := m.queues[dependency]
	m.mu.RUnlock()
	if !ok {
		return 0
	}
	return q.Len()
}

// Dependencies returns the dependencies that have queued requests, sorted
func (m *Manager) Dependencies() []types.DependencyKey {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var deps []types.DependencyKey
	for dep, q := range m.queues {
		if q.Len() > 0 {
			deps = append(deps, dep)
		}
	}
	sort.Slice(deps, func(i, j int) bool { return deps[i] < deps[j] })
	return deps
}

func (m *Manager) queue(dependency types.DependencyKey) *Queue {
	m.mu.RLock()
	q, ok := m.queues[dependency]
	m.mu.RUnlock()
	if ok {
		return q
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if q, ok := m.queues[dependency]; ok {
		return q
	}
	q = NewQueue(dependency)
	m.queues[dependency] = q
	return q
}
