// Package errors provides the standardized error taxonomy shared by the form
// flow, the generation pipeline and the HTTP layer.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrCodeInvalidState     ErrorCode = "INVALID_STATE"

	ErrCodeGenerationTimeout  ErrorCode = "GENERATION_TIMEOUT"
	ErrCodeGenerationFailed   ErrorCode = "GENERATION_FAILED"
	ErrCodeGenerationInFlight ErrorCode = "GENERATION_IN_FLIGHT"
	ErrCodeMalformedResponse  ErrorCode = "MALFORMED_RESPONSE"
	ErrCodeLLMFailed          ErrorCode = "LLM_FAILED"

	ErrCodeStorageFailed        ErrorCode = "STORAGE_FAILED"
	ErrCodeStorageQuotaExceeded ErrorCode = "STORAGE_QUOTA_EXCEEDED"
	ErrCodeReportNotFound       ErrorCode = "REPORT_NOT_FOUND"

	ErrCodeDatabaseConnectionFailed      ErrorCode = "DATABASE_CONNECTION_FAILED"
	ErrCodeElasticsearchConnectionFailed ErrorCode = "ELASTICSEARCH_CONNECTION_FAILED"
	ErrCodeSearchQueryFailed             ErrorCode = "SEARCH_QUERY_FAILED"

	ErrCodeAuthInvalid     ErrorCode = "AUTH_INVALID"
	ErrCodeAuthUnavailable ErrorCode = "AUTH_SERVICE_UNAVAILABLE"
	ErrCodeForbidden       ErrorCode = "FORBIDDEN"

	ErrCodeSubscriptionInvalid     ErrorCode = "SUBSCRIPTION_INVALID"
	ErrCodeSubscriptionExpired     ErrorCode = "SUBSCRIPTION_EXPIRED"
	ErrCodeSubscriptionCheckFailed ErrorCode = "SUBSCRIPTION_CHECK_FAILED"

	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// FieldError points at a single offending input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Fields    []FieldError           `json:"fields,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`

	cause error
}

func (e *StandardError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("StandardError[%s]: %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

func (e *StandardError) Unwrap() error {
	return e.cause
}

// WithMetadata attaches a key to the error and returns it for chaining.
func (e *StandardError) WithMetadata(key string, value interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

func newError(code ErrorCode, message string, cause error, retryable bool) *StandardError {
	e := &StandardError{
		Code:      code,
		Message:   message,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
		cause:     cause,
	}
	if cause != nil {
		e.Details = cause.Error()
	}
	return e
}

// ==========================
// 2. Error Constructors
// ==========================

// NewValidationError reports missing or invalid input. Never retried.
func NewValidationError(message string, fields []FieldError) *StandardError {
	e := newError(ErrCodeValidationFailed, message, nil, false)
	e.Fields = fields
	return e
}

func NewInvalidStateError(details string) *StandardError {
	e := newError(ErrCodeInvalidState, "Operation not allowed in the current state", nil, false)
	e.Details = details
	return e
}

// NewGenerationTimeoutError is returned when one attempt exceeds its deadline.
func NewGenerationTimeoutError(timeout time.Duration) *StandardError {
	e := newError(ErrCodeGenerationTimeout, "Analysis generation timed out", nil, true)
	e.Details = fmt.Sprintf("no response within %s", timeout)
	return e
}

func NewGenerationFailedError(err error) *StandardError {
	return newError(ErrCodeGenerationFailed, "Analysis generation failed", err, true)
}

func NewGenerationInFlightError() *StandardError {
	return newError(ErrCodeGenerationInFlight, "A generation is already running for this session", nil, false)
}

// NewMalformedResponseError is raised when the generated text breaks the
// section contract. Surfaced immediately, never retried.
func NewMalformedResponseError(details string) *StandardError {
	e := newError(ErrCodeMalformedResponse, "Analysis response did not match the expected format", nil, false)
	e.Details = details
	return e
}

func NewLLMFailedError(err error) *StandardError {
	return newError(ErrCodeLLMFailed, "Language model request failed", err, true)
}

// NewStorageError means a result was produced but could not be stored.
func NewStorageError(operation string, err error) *StandardError {
	e := newError(ErrCodeStorageFailed, "Failed to store data", err, true)
	return e.WithMetadata("operation", operation)
}

func NewStorageQuotaError(details string) *StandardError {
	e := newError(ErrCodeStorageQuotaExceeded, "Storage quota exceeded", nil, false)
	e.Details = details
	return e
}

func NewReportNotFoundError(reportID string) *StandardError {
	e := newError(ErrCodeReportNotFound, "Report not found", nil, false)
	e.Details = fmt.Sprintf("report %s", reportID)
	return e
}

func NewDatabaseConnectionFailedError(err error) *StandardError {
	return newError(ErrCodeDatabaseConnectionFailed, "Database connection failed", err, true)
}

func NewElasticsearchConnectionFailedError(err error) *StandardError {
	return newError(ErrCodeElasticsearchConnectionFailed, "Elasticsearch connection failed", err, true)
}

func NewSearchQueryFailedError(err error) *StandardError {
	return newError(ErrCodeSearchQueryFailed, "Search query failed", err, true)
}

// NewAuthError forces the caller back to the sign-in flow.
func NewAuthError(details string) *StandardError {
	e := newError(ErrCodeAuthInvalid, "Session invalid or expired", nil, false)
	e.Details = details
	return e
}

func NewAuthUnavailableError(err error) *StandardError {
	return newError(ErrCodeAuthUnavailable, "Identity provider unavailable", err, true)
}

func NewForbiddenError(details string) *StandardError {
	e := newError(ErrCodeForbidden, "Insufficient permissions", nil, false)
	e.Details = details
	return e
}

func NewSubscriptionInvalidError(details string) *StandardError {
	e := newError(ErrCodeSubscriptionInvalid, "Invalid or not found subscription", nil, false)
	e.Details = details
	return e
}

func NewSubscriptionExpiredError(details string) *StandardError {
	e := newError(ErrCodeSubscriptionExpired, "Subscription has expired", nil, false)
	e.Details = details
	return e
}

func NewSubscriptionCheckFailedError(err error) *StandardError {
	return newError(ErrCodeSubscriptionCheckFailed, "Database error during subscription check", err, true)
}

func NewInternalError(err error) *StandardError {
	return newError(ErrCodeInternal, "Unexpected error", err, false)
}

// ==========================
// 3. Utility Functions
// ==========================

// As extracts a StandardError from an error chain.
func As(err error) (*StandardError, bool) {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr, true
	}
	return nil, false
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code ErrorCode) bool {
	stdErr, ok := As(err)
	return ok && stdErr.Code == code
}

// Normalize always returns a StandardError, wrapping foreign errors as internal.
func Normalize(err error) *StandardError {
	if err == nil {
		return nil
	}
	if stdErr, ok := As(err); ok {
		return stdErr
	}
	return NewInternalError(err)
}

// GetRetryCount returns how many automatic retries a code allows.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeGenerationTimeout,
		ErrCodeGenerationFailed:
		return 2 // three attempts in total

	case ErrCodeStorageFailed,
		ErrCodeDatabaseConnectionFailed,
		ErrCodeElasticsearchConnectionFailed,
		ErrCodeSubscriptionCheckFailed,
		ErrCodeAuthUnavailable,
		ErrCodeLLMFailed:
		return 1

	default:
		return 0
	}
}

// IsRetryable reports whether err should be retried automatically.
func IsRetryable(err error) bool {
	stdErr, ok := As(err)
	if !ok {
		return false
	}
	return stdErr.Retryable && IsRetryableErrorCode(stdErr.Code)
}

// IsRetryableErrorCode checks if an error code is retryable.
func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "SUBSCRIPTION"):
		return "SUBSCRIPTION"
	case strings.Contains(codeStr, "AUTH") || code == ErrCodeForbidden:
		return "AUTH"
	case strings.Contains(codeStr, "GENERATION") || strings.Contains(codeStr, "LLM") || code == ErrCodeMalformedResponse:
		return "GENERATION"
	case strings.Contains(codeStr, "STORAGE") || strings.Contains(codeStr, "DATABASE") || strings.Contains(codeStr, "REPORT"):
		return "STORAGE"
	case strings.Contains(codeStr, "ELASTICSEARCH") || strings.Contains(codeStr, "SEARCH"):
		return "SEARCH"
	case strings.Contains(codeStr, "VALIDATION") || strings.Contains(codeStr, "STATE"):
		return "VALIDATION"
	default:
		return "OTHER"
	}
}
