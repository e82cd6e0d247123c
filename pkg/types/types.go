package types

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/drumcap/hooklabs-elite-sub003/pkg/errors"
)

// DependencyKey identifies one external service class. Each key owns exactly
// one circuit breaker and one rate limiter for the lifetime of the process.
type DependencyKey string

const (
	DependencyContentGeneration DependencyKey = "content-generation"
	DependencyTwitterPublish    DependencyKey = "twitter-publish"
	DependencyLinkedInPublish   DependencyKey = "linkedin-publish"
	DependencyThreadsPublish    DependencyKey = "threads-publish"
)

// KnownDependencies returns every dependency the gateway can route to
func KnownDependencies() []DependencyKey {
	return []DependencyKey{
		DependencyContentGeneration,
		DependencyTwitterPublish,
		DependencyLinkedInPublish,
		DependencyThreadsPublish,
	}
}

// Valid reports whether d is a known dependency
func (d DependencyKey) Valid() bool {
	for _, known := range KnownDependencies() {
		if d == known {
			return true
		}
	}
	return false
}

// IsPublish reports whether d is a social publishing dependency
func (d DependencyKey) IsPublish() bool {
	return d.Valid() && strings.HasSuffix(string(d), "-publish")
}

// Platform returns the social platform behind a publish dependency
func (d DependencyKey) Platform() Platform {
	if !d.IsPublish() {
		return ""
	}
	return Platform(strings.TrimSuffix(string(d), "-publish"))
}

// Platform is a social publishing platform
type Platform string

const (
	PlatformTwitter  Platform = "twitter"
	PlatformLinkedIn Platform = "linkedin"
	PlatformThreads  Platform = "threads"
)

// Dependency returns the publish dependency key of the platform
func (p Platform) Dependency() DependencyKey {
	return DependencyKey(string(p) + "-publish")
}

// Priority of a gateway call
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Valid reports whether p is a known priority
func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return true
	default:
		return false
	}
}

// ContentGenerationParams is the payload of a content-generation call
type ContentGenerationParams struct {
	Prompt      string  `json:"prompt"`
	Persona     string  `json:"persona,omitempty"`
	Tone        string  `json:"tone,omitempty"`
	Model       string  `json:"model,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

// PublishParams is the payload of a social publish call
type PublishParams struct {
	Text      string   `json:"text"`
	MediaURLs []string `json:"media_urls,omitempty"`
	AccountID string   `json:"account_id,omitempty"`
}

// Request is a gateway call payload. Exactly one of Content or Publish is set,
// selected by Dependency.
type Request struct {
	Dependency DependencyKey            `json:"dependency"`
	Content    *ContentGenerationParams `json:"content,omitempty"`
	Publish    *PublishParams           `json:"publish,omitempty"`
}

// Validate checks that the payload matches its dependency
func (r *Request) Validate() error {
	if !r.Dependency.Valid() {
		return errors.NewValidationError("unknown dependency").
			WithDetail("dependency", string(r.Dependency))
	}

	if r.Dependency == DependencyContentGeneration {
		if r.Content == nil || r.Publish != nil {
			return errors.NewValidationError("content-generation requires a content payload only")
		}
		if strings.TrimSpace(r.Content.Prompt) == "" {
			return errors.NewValidationError("prompt is required")
		}
		if r.Content.MaxTokens < 0 {
			return errors.NewValidationError("max_tokens must not be negative")
		}
		return nil
	}

	if r.Publish == nil || r.Content != nil {
		return errors.NewValidationError("publish dependencies require a publish payload only").
			WithDetail("dependency", string(r.Dependency))
	}
	if strings.TrimSpace(r.Publish.Text) == "" {
		return errors.NewValidationError("text is required")
	}
	return nil
}

// Payload returns the dependency-specific parameters
func (r *Request) Payload() interface{} {
	if r.Content != nil {
		return r.Content
	}
	return r.Publish
}

// CallOptions controls how a gateway call is routed
type CallOptions struct {
	Priority   Priority      `json:"priority,omitempty"`
	UseCache   bool          `json:"use_cache"`
	Batchable  bool          `json:"batchable"`
	TTL        time.Duration `json:"ttl,omitempty"`
	MaxRetries int           `json:"max_retries,omitempty"`
	Tags       []string      `json:"tags,omitempty"`
}

// Deferred reports whether the call should go through the batch queue
func (o CallOptions) Deferred() bool {
	return o.Batchable && o.Priority == PriorityLow
}

// CallResult is the terminal outcome of one gateway call. It is never
// mutated after being produced.
type CallResult struct {
	Success      bool            `json:"success"`
	Data         json.RawMessage `json:"data,omitempty"`
	Error        string          `json:"error,omitempty"`
	ErrorCode    string          `json:"error_code,omitempty"`
	CauseCode    string          `json:"cause_code,omitempty"`
	ResponseTime int64           `json:"response_time_ms"`
	RetryCount   int             `json:"retry_count"`
	FromCache    bool            `json:"from_cache"`
	Dependency   DependencyKey   `json:"dependency,omitempty"`
	RequestID    string          `json:"request_id,omitempty"`
	CompletedAt  time.Time       `json:"completed_at"`
}

// FailedResult builds an unsuccessful CallResult from err
func FailedResult(dependency DependencyKey, err error) CallResult {
	return CallResult{
		Success:     false,
		Error:       err.Error(),
		ErrorCode:   errors.GetCode(err),
		CauseCode:   errors.GetCauseCode(err),
		Dependency:  dependency,
		CompletedAt: time.Now(),
	}
}

// CallResponse is what CallOptimized returns: either an immediate result or
// a ticket for a queued request.
type CallResponse struct {
	Queued    bool        `json:"queued"`
	RequestID string      `json:"request_id,omitempty"`
	Result    *CallResult `json:"result,omitempty"`
}

// BatchStatus of a queued request
type BatchStatus string

const (
	BatchStatusPending   BatchStatus = "pending"
	BatchStatusCompleted BatchStatus = "completed"
	BatchStatusExpired   BatchStatus = "expired"
)

// BatchLookup is the answer to a batch result pickup
type BatchLookup struct {
	RequestID string      `json:"request_id"`
	Status    BatchStatus `json:"status"`
	Expired   bool        `json:"expired,omitempty"`
	Result    *CallResult `json:"result,omitempty"`
}

// BatchSummary describes one ProcessBatch run
type BatchSummary struct {
	Dependency DependencyKey `json:"dependency"`
	Skipped    bool          `json:"skipped"`
	Processed  int           `json:"processed"`
	Succeeded  int           `json:"succeeded"`
	Failed     int           `json:"failed"`
	Chunks     int           `json:"chunks"`
	Remaining  int           `json:"remaining"`
	Duration   time.Duration `json:"duration"`
}

// GeneratedContent is the response payload of content-generation
type GeneratedContent struct {
	Text         string `json:"text"`
	Model        string `json:"model"`
	PromptTokens int    `json:"prompt_tokens"`
	OutputTokens int    `json:"output_tokens"`
	FinishReason string `json:"finish_reason,omitempty"`
}

// PublishReceipt is the response payload of a publish dependency
type PublishReceipt struct {
	Platform    Platform  `json:"platform"`
	PostID      string    `json:"post_id"`
	URL         string    `json:"url,omitempty"`
	PublishedAt time.Time `json:"published_at"`
}

// DependencyStatus is a point-in-time view of one dependency's guards
type DependencyStatus struct {
	Dependency      string    `json:"dependency"`
	State           string    `json:"state"`
	FailureCount    int       `json:"failure_count"`
	SuccessCount    int       `json:"success_count"`
	LastFailureTime time.Time `json:"last_failure_time,omitempty"`
	Tokens          float64   `json:"tokens"`
	BurstLimit      int       `json:"burst_limit"`
	QueueDepth      int       `json:"queue_depth"`
	Processing      bool      `json:"processing"`
}

// MetricsSummary aggregates durable call metrics of one dependency
type MetricsSummary struct {
	Dependency    string  `json:"dependency" db:"dependency"`
	TotalCalls    int64   `json:"total_calls" db:"total_calls"`
	Successes     int64   `json:"successes" db:"successes"`
	CacheHits     int64   `json:"cache_hits" db:"cache_hits"`
	AvgResponseMs float64 `json:"avg_response_ms" db:"avg_response_ms"`
	AvgRetries    float64 `json:"avg_retries" db:"avg_retries"`
	SuccessRate   float64 `json:"success_rate" db:"-"`
	CacheHitRate  float64 `json:"cache_hit_rate" db:"-"`
}

// Finalize derives the rate fields from the counters
func (s *MetricsSummary) Finalize() {
	s.SuccessRate, s.CacheHitRate = 0, 0
	if s.TotalCalls > 0 {
		s.SuccessRate = float64(s.Successes) / float64(s.TotalCalls)
		s.CacheHitRate = float64(s.CacheHits) / float64(s.TotalCalls)
	}
}

// CallRecord is one metrics sink entry, persisted by the durable store
type CallRecord struct {
	ID             string        `json:"id" db:"id"`
	Dependency     DependencyKey `json:"dependency" db:"dependency"`
	RequestID      string        `json:"request_id,omitempty" db:"request_id"`
	Success        bool          `json:"success" db:"success"`
	ResponseTimeMs int64         `json:"response_time_ms" db:"response_time_ms"`
	RetryCount     int           `json:"retry_count" db:"retry_count"`
	FromCache      bool          `json:"from_cache" db:"from_cache"`
	ErrorCode      string        `json:"error_code,omitempty" db:"error_code"`
	RecordedAt     time.Time     `json:"recorded_at" db:"recorded_at"`
}

// NewCallRecord builds the sink entry of a finished call
func NewCallRecord(dependency DependencyKey, result CallResult) CallRecord {
	recordedAt := result.CompletedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now()
	}
	return CallRecord{
		ID:             uuid.New().String(),
		Dependency:     dependency,
		RequestID:      result.RequestID,
		Success:        result.Success,
		ResponseTimeMs: result.ResponseTime,
		RetryCount:     result.RetryCount,
		FromCache:      result.FromCache,
		ErrorCode:      result.ErrorCode,
		RecordedAt:     recordedAt,
	}
}
