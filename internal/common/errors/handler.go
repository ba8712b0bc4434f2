// internal/common/errors/handler.go
package errors

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Recovery actions offered to the user alongside an error.
const (
	ActionRetry   = "retry"
	ActionRestart = "restart"
	ActionSignIn  = "signin"
)

// ErrorHandler turns errors into HTTP responses with standardized handling
type ErrorHandler struct {
	logger Logger
}

type Logger interface {
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
}

func NewErrorHandler(logger Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// ErrorResponse is the JSON body written for every failed request.
type ErrorResponse struct {
	Error   *StandardError `json:"error"`
	Actions []string       `json:"actions,omitempty"`
	Route   string         `json:"route,omitempty"`
}

// Respond normalizes err, logs it and writes the matching status code.
func (h *ErrorHandler) Respond(c *gin.Context, err error) {
	stdErr := Normalize(err)
	status := HTTPStatus(stdErr.Code)

	h.logError(c, stdErr, status)

	c.AbortWithStatusJSON(status, BuildResponse(stdErr))
}

// BuildResponse attaches the recovery path for the error's category.
func BuildResponse(stdErr *StandardError) ErrorResponse {
	resp := ErrorResponse{Error: stdErr}
	switch GetErrorCategory(stdErr.Code) {
	case "GENERATION":
		resp.Actions = []string{ActionRetry, ActionRestart}
	case "AUTH":
		if stdErr.Code == ErrCodeAuthInvalid {
			resp.Actions = []string{ActionSignIn}
			resp.Route = "signin"
		}
	case "SUBSCRIPTION":
		if stdErr.Code != ErrCodeSubscriptionCheckFailed {
			resp.Route = "subscription_expired"
		}
	case "STORAGE":
		resp.Actions = []string{ActionRetry, ActionRestart}
	}
	return resp
}

// HTTPStatus maps an error code to a response status.
func HTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeValidationFailed:
		return http.StatusUnprocessableEntity
	case ErrCodeInvalidState, ErrCodeGenerationInFlight:
		return http.StatusConflict
	case ErrCodeAuthInvalid:
		return http.StatusUnauthorized
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeSubscriptionExpired, ErrCodeSubscriptionInvalid:
		return http.StatusPaymentRequired
	case ErrCodeReportNotFound:
		return http.StatusNotFound
	case ErrCodeGenerationTimeout:
		return http.StatusGatewayTimeout
	case ErrCodeGenerationFailed, ErrCodeMalformedResponse, ErrCodeLLMFailed:
		return http.StatusBadGateway
	case ErrCodeStorageQuotaExceeded:
		return http.StatusInsufficientStorage
	case ErrCodeStorageFailed,
		ErrCodeDatabaseConnectionFailed,
		ErrCodeElasticsearchConnectionFailed,
		ErrCodeSearchQueryFailed,
		ErrCodeSubscriptionCheckFailed,
		ErrCodeAuthUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *ErrorHandler) logError(c *gin.Context, stdErr *StandardError, status int) {
	fields := map[string]interface{}{
		"path":          c.FullPath(),
		"method":        c.Request.Method,
		"status":        status,
		"errorCode":     string(stdErr.Code),
		"message":       stdErr.Message,
		"details":       stdErr.Details,
		"retryable":     stdErr.Retryable,
		"errorCategory": GetErrorCategory(stdErr.Code),
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed", fields)
		return
	}
	h.logger.Warn("Request rejected", fields)
}
