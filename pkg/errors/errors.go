package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorType represents the type of error
type ErrorType string

const (
	ErrorTypeValidation     ErrorType = "validation"
	ErrorTypeAuthentication ErrorType = "authentication"
	ErrorTypeNotFound       ErrorType = "not_found"
	ErrorTypeInternal       ErrorType = "internal"
	ErrorTypeTimeout        ErrorType = "timeout"

	// Gateway taxonomy
	ErrorTypeRateLimit        ErrorType = "rate_limit"
	ErrorTypeCircuitOpen      ErrorType = "circuit_open"
	ErrorTypeUpstreamClient   ErrorType = "upstream_client"
	ErrorTypeUpstreamServer   ErrorType = "upstream_server"
	ErrorTypeExternal         ErrorType = "external"
	ErrorTypeMalformed        ErrorType = "malformed"
	ErrorTypeMaxRetries       ErrorType = "max_retries"
	ErrorTypeCacheUnavailable ErrorType = "cache_unavailable"
)

// Codes surfaced to gateway callers in CallResult.ErrorCode.
const (
	CodeRateLimited      = "rate-limited"
	CodeCircuitOpen      = "circuit-open"
	CodeTimeout          = "timeout"
	CodeNetworkError     = "network-error"
	CodeMalformed        = "malformed-response"
	CodeMaxRetries       = "max-retries-exceeded"
	CodeCacheUnavailable = "cache-store-unavailable"
	CodeValidation       = "validation-error"
	CodeNotFound         = "not-found"
	CodeInternal         = "internal-error"
	CodeAuthentication   = "authentication-error"
)

// DetailLastErrorCode is the detail key holding the code of the final failed
// attempt behind a max-retries error
const DetailLastErrorCode = "last_error_code"

// AppError represents an application error with context
type AppError struct {
	Type       ErrorType         `json:"type"`
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Details    map[string]string `json:"details,omitempty"`
	HTTPStatus int               `json:"http_status,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
	Cause      error             `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewAppError creates a new application error
func NewAppError(errorType ErrorType, code, message string) *AppError {
	return &AppError{
		Type:      errorType,
		Code:      code,
		Message:   message,
		Details:   make(map[string]string),
		Timestamp: time.Now(),
	}
}

// WithCause adds a cause to the error
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithDetail adds a detail to the error
func (e *AppError) WithDetail(key, value string) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// Common error constructors
func NewValidationError(message string) *AppError {
	return NewAppError(ErrorTypeValidation, CodeValidation, message)
}

func NewAuthenticationError(message string) *AppError {
	return NewAppError(ErrorTypeAuthentication, CodeAuthentication, message)
}

func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrorTypeNotFound, CodeNotFound, fmt.Sprintf("%s not found", resource))
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrorTypeInternal, CodeInternal, message)
}

func NewTimeoutError(operation string) *AppError {
	return NewAppError(ErrorTypeTimeout, CodeTimeout, fmt.Sprintf("%s timed out", operation))
}

func NewRateLimitError(message string) *AppError {
	return NewAppError(ErrorTypeRateLimit, CodeRateLimited, message)
}

func NewCircuitOpenError(dependency string) *AppError {
	return NewAppError(ErrorTypeCircuitOpen, CodeCircuitOpen,
		fmt.Sprintf("service unavailable: circuit for %s is open", dependency)).
		WithDetail("dependency", dependency)
}

// NewHTTPError classifies a non-2xx upstream response. 4xx statuses are
// client faults, everything else is treated as an upstream server fault.
func NewHTTPError(service string, status int, message string) *AppError {
	errorType := ErrorTypeUpstreamServer
	if status >= 400 && status < 500 {
		errorType = ErrorTypeUpstreamClient
	}
	if message == "" {
		message = http.StatusText(status)
	}
	e := NewAppError(errorType, fmt.Sprintf("http-error:%d", status), message).
		WithDetail("service", service)
	e.HTTPStatus = status
	return e
}

func NewExternalError(service, message string) *AppError {
	return NewAppError(ErrorTypeExternal, CodeNetworkError, message).
		WithDetail("service", service)
}

func NewMalformedResponseError(service, message string) *AppError {
	return NewAppError(ErrorTypeMalformed, CodeMalformed, message).
		WithDetail("service", service)
}

// NewMaxRetriesError wraps the last attempt's error. Its code is kept as the
// last_error_code detail.
func NewMaxRetriesError(attempts int, last error) *AppError {
	err := NewAppError(ErrorTypeMaxRetries, CodeMaxRetries,
		fmt.Sprintf("operation failed after %d attempts", attempts)).
		WithCause(last)
	if last != nil {
		err.WithDetail(DetailLastErrorCode, GetCode(last))
	}
	return err
}

func NewCacheUnavailableError(operation string) *AppError {
	return NewAppError(ErrorTypeCacheUnavailable, CodeCacheUnavailable,
		fmt.Sprintf("cache store unavailable during %s", operation))
}

// As finds the first AppError in err's chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetCauseCode returns the code of the last attempt behind a max-retries
// error, or "" for any other error
func GetCauseCode(err error) string {
	if appErr, ok := As(err); ok && appErr.Type == ErrorTypeMaxRetries {
		return appErr.Details[DetailLastErrorCode]
	}
	return ""
}

// IsType checks if the error is of a specific type
func IsType(err error, errorType ErrorType) bool {
	if appErr, ok := As(err); ok {
		return appErr.Type == errorType
	}
	return false
}

// IsNotFound reports whether err is a not-found error
func IsNotFound(err error) bool {
	return IsType(err, ErrorTypeNotFound)
}

// GetCode returns the error code if it's an AppError
func GetCode(err error) string {
	if appErr, ok := As(err); ok {
		return appErr.Code
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return CodeTimeout
	}
	return CodeInternal
}

// GetType returns the error type if it's an AppError
func GetType(err error) ErrorType {
	if appErr, ok := As(err); ok {
		return appErr.Type
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return ErrorTypeTimeout
	}
	return ErrorTypeInternal
}

// IsRetryable decides whether a failed upstream attempt may be retried.
// Request timeouts (408) and upstream throttling (429) are transient even
// though they are 4xx.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, context.Canceled) {
		return false
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}

	appErr, ok := As(err)
	if !ok {
		return true
	}

	switch appErr.Type {
	case ErrorTypeCircuitOpen, ErrorTypeTimeout, ErrorTypeUpstreamServer,
		ErrorTypeExternal, ErrorTypeRateLimit:
		return true
	case ErrorTypeUpstreamClient:
		return appErr.HTTPStatus == http.StatusRequestTimeout ||
			appErr.HTTPStatus == http.StatusTooManyRequests
	default:
		return false
	}
}
