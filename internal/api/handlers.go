package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/drumcap/hooklabs-elite-sub003/pkg/errors"
	"github.com/drumcap/hooklabs-elite-sub003/pkg/types"
)

// Gateway is the call surface the HTTP handlers drive
type Gateway interface {
	CallOptimized(ctx context.Context, req types.Request, opts types.CallOptions) types.CallResponse
	ProcessBatch(ctx context.Context, dependency types.DependencyKey, batchSize int) types.BatchSummary
	GetBatchResult(ctx context.Context, requestID string) types.BatchLookup
	Dependencies() []types.DependencyStatus
	InvalidateCache(ctx context.Context, tag string) (int64, error)
}

// SummaryStore aggregates durable call metrics
type SummaryStore interface {
	Summarize(ctx context.Context, since time.Time) ([]types.MetricsSummary, error)
}

// LiveSummary aggregates the calls recorded since process start
type LiveSummary interface {
	Summary() []types.MetricsSummary
}

// CallOptionsRequest is the wire form of types.CallOptions
type CallOptionsRequest struct {
	Priority   types.Priority `json:"priority"`
	UseCache   *bool          `json:"use_cache"`
	Batchable  bool           `json:"batchable"`
	TTLSeconds int            `json:"ttl_seconds"`
	MaxRetries *int           `json:"max_retries"`
	Tags       []string       `json:"tags"`
}

// CallRequest is the body of POST /gateway/calls
type CallRequest struct {
	types.Request
	Options CallOptionsRequest `json:"options"`
}

// CallOptions converts the wire options. Caching is on unless disabled and
// priority defaults to medium.
func (r CallOptionsRequest) CallOptions() (types.CallOptions, error) {
	opts := types.CallOptions{
		Priority:  r.Priority,
		UseCache:  true,
		Batchable: r.Batchable,
		Tags:      r.Tags,
	}
	if opts.Priority == "" {
		opts.Priority = types.PriorityMedium
	}
	if !opts.Priority.Valid() {
		return opts, errors.NewValidationError("priority must be high, medium or low").
			WithDetail("priority", string(r.Priority))
	}
	if r.UseCache != nil {
		opts.UseCache = *r.UseCache
	}
	if r.TTLSeconds < 0 {
		return opts, errors.NewValidationError("ttl_seconds must not be negative")
	}
	opts.TTL = time.Duration(r.TTLSeconds) * time.Second
	if r.MaxRetries != nil {
		if *r.MaxRetries < 0 {
			return opts, errors.NewValidationError("max_retries must not be negative")
		}
		opts.MaxRetries = *r.MaxRetries
	}
	return opts, nil
}

// GatewayHandler serves the gateway operations over HTTP
type GatewayHandler struct {
	gateway Gateway
	store   SummaryStore
	live    LiveSummary
}

// NewGatewayHandler creates a gateway handler. store may be nil when no
// durable metrics store is configured.
func NewGatewayHandler(gateway Gateway, store SummaryStore, live LiveSummary) *GatewayHandler {
	return &GatewayHandler{gateway: gateway, store: store, live: live}
}

// Call handles POST /gateway/calls
func (h *GatewayHandler) Call(c *gin.Context) {
	var body CallRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		BadRequestResponse(c, "Invalid request body: "+err.Error())
		return
	}

	opts, err := body.Options.CallOptions()
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}

	resp := h.gateway.CallOptimized(c.Request.Context(), body.Request, opts)
	if resp.Queued {
		AcceptedResponse(c, resp)
		return
	}

	status := http.StatusOK
	if resp.Result != nil && !resp.Result.Success {
		switch resp.Result.ErrorCode {
		case errors.CodeValidation:
			status = http.StatusBadRequest
		case errors.CodeRateLimited:
			status = http.StatusTooManyRequests
		}
	}
	respond(c, status, resp)
}

// GetResult handles GET /gateway/results/:id
func (h *GatewayHandler) GetResult(c *gin.Context) {
	lookup := h.gateway.GetBatchResult(c.Request.Context(), c.Param("id"))

	switch lookup.Status {
	case types.BatchStatusCompleted:
		SuccessResponse(c, lookup)
	case types.BatchStatusPending:
		AcceptedResponse(c, lookup)
	default:
		GoneResponse(c, lookup)
	}
}

// ProcessBatch handles POST /gateway/batches/:dependency
func (h *GatewayHandler) ProcessBatch(c *gin.Context) {
	dependency := types.DependencyKey(c.Param("dependency"))
	if !dependency.Valid() {
		ErrorResponseFromError(c, errors.NewValidationError("unknown dependency").
			WithDetail("dependency", string(dependency)))
		return
	}

	batchSize := 0
	if raw := c.Query("batch_size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			BadRequestResponse(c, "batch_size must be a positive integer")
			return
		}
		batchSize = n
	}

	SuccessResponse(c, h.gateway.ProcessBatch(c.Request.Context(), dependency, batchSize))
}

// Dependencies handles GET /gateway/dependencies
func (h *GatewayHandler) Dependencies(c *gin.Context) {
	SuccessResponse(c, h.gateway.Dependencies())
}

// InvalidateCacheTag handles DELETE /gateway/cache/tags/:tag
func (h *GatewayHandler) InvalidateCacheTag(c *gin.Context) {
	tag := c.Param("tag")
	removed, err := h.gateway.InvalidateCache(c.Request.Context(), tag)
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}

	SuccessResponse(c, gin.H{"tag": tag, "removed": removed})
}

// MetricsSummary handles GET /gateway/metrics/summary. since is an RFC 3339
// time or a duration back from now and defaults to 24h.
func (h *GatewayHandler) MetricsSummary(c *gin.Context) {
	if h.store == nil {
		var summaries []types.MetricsSummary
		if h.live != nil {
			summaries = h.live.Summary()
		}
		SuccessResponse(c, gin.H{"source": "live", "dependencies": summaries})
		return
	}

	since, err := parseSince(c.Query("since"), time.Now())
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}

	summaries, err := h.store.Summarize(c.Request.Context(), since)
	if err != nil {
		_ = c.Error(err)
		InternalErrorResponse(c, "failed to summarize call metrics")
		return
	}

	SuccessResponse(c, gin.H{"source": "database", "since": since, "dependencies": summaries})
}

func parseSince(raw string, now time.Time) (time.Time, error) {
	if raw == "" {
		return now.Add(-24 * time.Hour), nil
	}
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return now.Add(-d), nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Time{}, errors.NewValidationError("since must be a positive duration or an RFC 3339 time").
		WithDetail("since", raw)
}
