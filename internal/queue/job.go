package queue

import (
	"time"

	"github.com/google/uuid"

	"github.com/drumcap/hooklabs-elite-sub003/pkg/types"
)

// RequestStatus is the lifecycle position of a queued request
type RequestStatus string

const (
	RequestStatusQueued  RequestStatus = "queued"
	RequestStatusRunning RequestStatus = "running"
)

// BatchRequest is a deferred gateway call. It is owned by its dependency
// queue from Enqueue until it is dequeued into a batch.
type BatchRequest struct {
	ID         string              `json:"id"`
	Dependency types.DependencyKey `json:"dependency"`
	Payload    types.Request       `json:"payload"`
	Priority   types.Priority      `json:"priority"`
	CreatedAt  time.Time           `json:"created_at"`
	MaxRetries int                 `json:"max_retries"`
	UseCache   bool                `json:"use_cache"`
	CacheTTL   time.Duration       `json:"cache_ttl"`
	Tags       []string            `json:"tags,omitempty"`
}

// NewBatchRequest creates a request with a fresh id
func NewBatchRequest(payload types.Request, opts types.CallOptions) *BatchRequest {
	priority := opts.Priority
	if !priority.Valid() {
		priority = types.PriorityMedium
	}

	// zero leaves the attempt bound to the dependency policy
	maxRetries := opts.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	return &BatchRequest{
		ID:         uuid.New().String(),
		Dependency: payload.Dependency,
		Payload:    payload,
		Priority:   priority,
		CreatedAt:  time.Now(),
		MaxRetries: maxRetries,
		UseCache:   opts.UseCache,
		CacheTTL:   opts.TTL,
		Tags:       opts.Tags,
	}
}

// Options rebuilds the call options the request was queued with
func (r *BatchRequest) Options() types.CallOptions {
	return types.CallOptions{
		Priority:   r.Priority,
		UseCache:   r.UseCache,
		TTL:        r.CacheTTL,
		MaxRetries: r.MaxRetries,
		Tags:       r.Tags,
	}
}
