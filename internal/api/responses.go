package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/drumcap/hooklabs-elite-sub003/internal/middleware"
	"github.com/drumcap/hooklabs-elite-sub003/pkg/errors"
)

// APIResponse represents a standard API response
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// APIError represents an API error
type APIError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func requestID(c *gin.Context) string {
	return c.GetString(middleware.RequestIDKey)
}

func respond(c *gin.Context, status int, data interface{}) {
	c.JSON(status, APIResponse{
		Success:   status < http.StatusBadRequest,
		Data:      data,
		RequestID: requestID(c),
		Timestamp: time.Now(),
	})
}

func respondError(c *gin.Context, status int, code, message string, details map[string]interface{}) {
	c.AbortWithStatusJSON(status, APIResponse{
		Success: false,
		Error: &APIError{
			Code:    code,
			Message: message,
			Details: details,
		},
		RequestID: requestID(c),
		Timestamp: time.Now(),
	})
}

// SuccessResponse sends a 200 response
func SuccessResponse(c *gin.Context, data interface{}) {
	respond(c, http.StatusOK, data)
}

// AcceptedResponse sends a 202 response for work that is not finished yet
func AcceptedResponse(c *gin.Context, data interface{}) {
	respond(c, http.StatusAccepted, data)
}

// GoneResponse sends a 410 response carrying data
func GoneResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusGone, APIResponse{
		Success:   false,
		Data:      data,
		Error:     &APIError{Code: "expired", Message: "result expired or unknown"},
		RequestID: requestID(c),
		Timestamp: time.Now(),
	})
}

// StatusForError maps an error to its HTTP status
func StatusForError(err error) int {
	switch errors.GetType(err) {
	case errors.ErrorTypeValidation:
		return http.StatusBadRequest
	case errors.ErrorTypeAuthentication:
		return http.StatusUnauthorized
	case errors.ErrorTypeNotFound:
		return http.StatusNotFound
	case errors.ErrorTypeRateLimit:
		return http.StatusTooManyRequests
	case errors.ErrorTypeCircuitOpen, errors.ErrorTypeCacheUnavailable:
		return http.StatusServiceUnavailable
	case errors.ErrorTypeTimeout:
		return http.StatusGatewayTimeout
	case errors.ErrorTypeUpstreamClient, errors.ErrorTypeUpstreamServer,
		errors.ErrorTypeExternal, errors.ErrorTypeMalformed, errors.ErrorTypeMaxRetries:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ErrorResponseFromError sends an error response based on the error type
func ErrorResponseFromError(c *gin.Context, err error) {
	appErr, ok := errors.As(err)
	if !ok {
		_ = c.Error(err)
		InternalErrorResponse(c, "internal server error")
		return
	}

	var details map[string]interface{}
	if len(appErr.Details) > 0 {
		details = make(map[string]interface{}, len(appErr.Details))
		for k, v := range appErr.Details {
			details[k] = v
		}
	}

	respondError(c, StatusForError(appErr), appErr.Code, appErr.Message, details)
}

// BadRequestResponse sends a 400 Bad Request response
func BadRequestResponse(c *gin.Context, message string) {
	respondError(c, http.StatusBadRequest, errors.CodeValidation, message, nil)
}

// UnauthorizedResponse sends a 401 Unauthorized response
func UnauthorizedResponse(c *gin.Context, message string) {
	respondError(c, http.StatusUnauthorized, errors.CodeAuthentication, message, nil)
}

// NotFoundResponse sends a 404 Not Found response
func NotFoundResponse(c *gin.Context, message string) {
	respondError(c, http.StatusNotFound, errors.CodeNotFound, message, nil)
}

// InternalErrorResponse sends a 500 Internal Server Error response
func InternalErrorResponse(c *gin.Context, message string) {
	respondError(c, http.StatusInternalServerError, errors.CodeInternal, message, nil)
}
