// Package errors defines structured error types shared by the engine and the API.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode defines specific error types for the API.
type ErrorCode string

const (
	// ErrValidationFailed is returned when input data fails validation
	ErrValidationFailed ErrorCode = "VALIDATION_FAILED"

	// ErrNotFound is returned when a TM, segment or field is not found
	ErrNotFound ErrorCode = "NOT_FOUND"
	// ErrTypeMismatch is returned when a value is read as the wrong kind
	ErrTypeMismatch ErrorCode = "TYPE_MISMATCH"
	// ErrSchemaConflict is returned when a mutation targets a reserved field name
	ErrSchemaConflict ErrorCode = "SCHEMA_CONFLICT"

	// ErrStorageError is returned when a persistence operation fails
	ErrStorageError ErrorCode = "STORAGE_ERROR"
	// ErrIndexUnavailable is returned when the full-text index cannot commit or search
	ErrIndexUnavailable ErrorCode = "INDEX_UNAVAILABLE"

	// ErrInternal is returned when an unexpected server error occurs
	ErrInternal ErrorCode = "INTERNAL_ERROR"
	// ErrConflict is returned when there is a resource conflict
	ErrConflict ErrorCode = "CONFLICT"
	// ErrTooManyRequests is returned when a client exceeds its rate limit
	ErrTooManyRequests ErrorCode = "TOO_MANY_REQUESTS"
)

// ErrorWithStatus is an error that includes an HTTP status code and error code.
type ErrorWithStatus interface {
	Error() string
	StatusCode() int
	Code() ErrorCode
	Details() map[string]any
}

// APIError is a concrete error type with status code, code, and optional details.
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
	}
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

// Is reports whether target is an *APIError with the same code, so that
// errors.Is(err, errors.NotFound("")) matches any not-found error.
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	return ok && t.code == e.code
}

// Predefined error constructors for common cases

// NotFound creates a 404 Not Found error.
func NotFound(format string, args ...any) *APIError {
	return NewAPIError(http.StatusNotFound, ErrNotFound, fmt.Sprintf(format, args...)+" not found")
}

// TypeMismatch creates a 400 error for a value read as the wrong kind.
func TypeMismatch(want, got string) *APIError {
	return NewAPIError(http.StatusBadRequest, ErrTypeMismatch, fmt.Sprintf("type mismatch: want %s, got %s", want, got))
}

// SchemaConflict creates a 409 error for a mutation of a reserved field.
func SchemaConflict(field string) *APIError {
	return NewAPIError(http.StatusConflict, ErrSchemaConflict, fmt.Sprintf("field %q is reserved", field)).WithDetail("field", field)
}

// BadRequest creates a 400 Bad Request error.
func BadRequest(format string, args ...any) *APIError {
	return NewAPIError(http.StatusBadRequest, ErrValidationFailed, fmt.Sprintf(format, args...))
}

// Conflict creates a 409 Conflict error.
func Conflict(format string, args ...any) *APIError {
	return NewAPIError(http.StatusConflict, ErrConflict, fmt.Sprintf(format, args...))
}

// Storage creates a 500 error wrapping a persistence failure.
func Storage(message string, err error) *APIError {
	return NewAPIError(http.StatusInternalServerError, ErrStorageError, message).Wrap(err)
}

// IndexUnavailable creates a 503 error wrapping a full-text index failure.
func IndexUnavailable(message string, err error) *APIError {
	return NewAPIError(http.StatusServiceUnavailable, ErrIndexUnavailable, message).Wrap(err)
}

// RateLimitExceeded creates a 429 error telling the client when to retry.
func RateLimitExceeded(retryAfterSec int) *APIError {
	return NewAPIError(http.StatusTooManyRequests, ErrTooManyRequests, "rate limit exceeded").WithDetail("retry_after", retryAfterSec)
}

// Internal returns a 500 Internal Server Error.
func Internal(message string) *APIError {
	return NewAPIError(http.StatusInternalServerError, ErrInternal, message)
}

// CodeOf returns the ErrorCode carried by err, or ErrInternal.
func CodeOf(err error) ErrorCode {
	var e ErrorWithStatus
	if errors.As(err, &e) {
		return e.Code()
	}
	return ErrInternal
}

// IsNotFound reports whether err is a NOT_FOUND error.
func IsNotFound(err error) bool { return CodeOf(err) == ErrNotFound }

// IsTypeMismatch reports whether err is a TYPE_MISMATCH error.
func IsTypeMismatch(err error) bool { return CodeOf(err) == ErrTypeMismatch }

// IsSchemaConflict reports whether err is a SCHEMA_CONFLICT error.
func IsSchemaConflict(err error) bool { return CodeOf(err) == ErrSchemaConflict }

// IsIndexUnavailable reports whether err is an INDEX_UNAVAILABLE error.
func IsIndexUnavailable(err error) bool { return CodeOf(err) == ErrIndexUnavailable }
