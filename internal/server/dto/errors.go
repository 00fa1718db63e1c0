// Package dto defines API request/response types and error handling.
//
// Request types carry path/query/json struct tags for parameter binding and
// implement Validatable. Response types use string IDs and unix timestamps
// for JSON serialization. The package is the API contract layer and has no
// dependency on the storage packages; handlers convert between the two.
//
// Error handling follows a structured pattern:
//   - ErrorCode provides machine-readable error classification
//   - APIError wraps errors with HTTP status codes and details
//   - Constructor functions (NotFound, BadRequest, etc.) create common errors
package dto

import (
	"fmt"
	"maps"
	"net/http"
)

// ErrorCode defines specific error types for the API.
type ErrorCode string

const (
	// ErrorCodeValidationFailed is returned when input data fails validation.
	ErrorCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	// ErrorCodeMissingField is returned when a required field is missing.
	ErrorCodeMissingField ErrorCode = "MISSING_FIELD"
	// ErrorCodeInvalidFormat is returned when a field has an invalid format.
	ErrorCodeInvalidFormat ErrorCode = "INVALID_FORMAT"

	// ErrorCodeNotFound is returned when a resource is not found.
	ErrorCodeNotFound ErrorCode = "NOT_FOUND"
	// ErrorCodeFileNotFound is returned when a file is not found.
	ErrorCodeFileNotFound ErrorCode = "FILE_NOT_FOUND"
	// ErrorCodeStorageError is returned when a storage operation fails.
	ErrorCodeStorageError ErrorCode = "STORAGE_ERROR"

	// ErrorCodeUserExists is returned when registering an already taken username.
	ErrorCodeUserExists ErrorCode = "USER_EXISTS"
	// ErrorCodeUserNotFound is returned when logging in with an unknown username.
	ErrorCodeUserNotFound ErrorCode = "USER_NOT_FOUND"
	// ErrorCodeInvalidPassword is returned when the password does not match.
	ErrorCodeInvalidPassword ErrorCode = "INVALID_PASSWORD"
	// ErrorCodePasswordMismatch is returned when password and confirmation differ.
	ErrorCodePasswordMismatch ErrorCode = "PASSWORD_MISMATCH"

	// ErrorCodeInternal is returned when an unexpected server error occurs.
	ErrorCodeInternal ErrorCode = "INTERNAL_ERROR"
	// ErrorCodeConflict is returned when there is a resource conflict.
	ErrorCodeConflict ErrorCode = "CONFLICT"
	// ErrorCodeUnauthorized is returned when authentication is missing or invalid.
	ErrorCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	// ErrorCodeForbidden is returned when a user has insufficient permissions.
	ErrorCodeForbidden ErrorCode = "FORBIDDEN"
	// ErrorCodePayloadTooLarge is returned when the request body exceeds limits.
	ErrorCodePayloadTooLarge ErrorCode = "PAYLOAD_TOO_LARGE"
	// ErrorCodeRateLimited is returned when a rate limit is hit.
	ErrorCodeRateLimited ErrorCode = "RATE_LIMITED"
	// ErrorCodeQuotaExceeded is returned when a storage quota is hit.
	ErrorCodeQuotaExceeded ErrorCode = "QUOTA_EXCEEDED"
	// ErrorCodeExpired is returned when a resource has expired.
	ErrorCodeExpired ErrorCode = "EXPIRED"
)

// ErrorDetails defines the structured error information in a response.
type ErrorDetails struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// ErrorResponse is the standard API error response.
type ErrorResponse struct {
	Error   ErrorDetails   `json:"error"`
	Details map[string]any `json:"details,omitempty"`
}

// ErrorWithStatus is an error that includes an HTTP status code and error code.
type ErrorWithStatus interface {
	Error() string
	StatusCode() int
	Code() ErrorCode
	Details() map[string]any
}

// APIError is a concrete error type with status code and optional details.
type APIError struct {
	statusCode int
	code       ErrorCode
	message    string
	details    map[string]any
	wrappedErr error
}

// NewAPIError creates a new APIError with the given status code and message.
func NewAPIError(statusCode int, code ErrorCode, message string) *APIError {
	return &APIError{
		statusCode: statusCode,
		code:       code,
		message:    message,
		details:    make(map[string]any),
	}
}

// WithDetails adds details to the error.
func (e *APIError) WithDetails(details map[string]any) *APIError {
	if e.details == nil {
		e.details = make(map[string]any)
	}
	maps.Copy(e.details, details)
	return e
}

// WithDetail adds a single detail to the error.
func (e *APIError) WithDetail(key string, value any) *APIError {
	if e.details == nil {
		e.details = make(map[string]any)
	}
	e.details[key] = value
	return e
}

// Wrap wraps an underlying error.
func (e *APIError) Wrap(err error) *APIError {
	e.wrappedErr = err
	return e
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.wrappedErr != nil {
		return fmt.Sprintf("%s: %v", e.message, e.wrappedErr)
	}
	return e.message
}

// StatusCode returns the HTTP status code.
func (e *APIError) StatusCode() int {
	return e.statusCode
}

// Code returns the error code.
func (e *APIError) Code() ErrorCode {
	return e.code
}

// Details returns additional error details.
func (e *APIError) Details() map[string]any {
	return e.details
}

// Unwrap returns the wrapped error if any.
func (e *APIError) Unwrap() error {
	return e.wrappedErr
}

// Predefined error constructors for common cases

// NotFound creates a 404 Not Found error.
func NotFound(resource string) *APIError {
	return NewAPIError(http.StatusNotFound, ErrorCodeNotFound, resource+" not found")
}

// BadRequest creates a 400 Bad Request error.
func BadRequest(message string) *APIError {
	return NewAPIError(http.StatusBadRequest, ErrorCodeValidationFailed, message)
}

// MissingField creates a 400 Bad Request error for a missing field.
func MissingField(fieldName string) *APIError {
	return NewAPIError(http.StatusBadRequest, ErrorCodeMissingField, "Missing required field: "+fieldName)
}

// Forbidden returns a 403 Forbidden error.
func Forbidden(message string) error {
	return NewAPIError(http.StatusForbidden, ErrorCodeForbidden, message)
}

// Unauthorized returns a 401 Unauthorized error.
func Unauthorized() error {
	return NewAPIError(http.StatusUnauthorized, ErrorCodeUnauthorized, "Unauthorized")
}

// Internal returns a 500 Internal Server Error.
func Internal(message string) *APIError {
	return NewAPIError(http.StatusInternalServerError, ErrorCodeInternal, message)
}

// InternalWithError creates a 500 error wrapping an underlying error.
func InternalWithError(message string, err error) *APIError {
	return Internal(message).Wrap(err)
}

// Conflict creates a 409 Conflict error.
func Conflict(code ErrorCode, message string) *APIError {
	return NewAPIError(http.StatusConflict, code, message)
}

// PayloadTooLarge creates a 413 error for oversized request bodies.
func PayloadTooLarge(limit int64) *APIError {
	return NewAPIError(http.StatusRequestEntityTooLarge, ErrorCodePayloadTooLarge,
		"Request body too large").WithDetail("limit_bytes", limit)
}

// RateLimitExceeded creates a 429 error.
func RateLimitExceeded(retryAfterSeconds int) *APIError {
	return NewAPIError(http.StatusTooManyRequests, ErrorCodeRateLimited,
		"Rate limit exceeded").WithDetail("retry_after_seconds", retryAfterSeconds)
}

// QuotaExceeded creates a 403 error for storage quotas.
func QuotaExceeded(what string, limit int64) *APIError {
	return NewAPIError(http.StatusForbidden, ErrorCodeQuotaExceeded,
		what+" quota exceeded").WithDetail("limit_bytes", limit)
}
