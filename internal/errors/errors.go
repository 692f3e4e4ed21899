package errors

import (
	stderrors "errors"
	"fmt"
)

// CoreError is the standard error type carried across the realtime core.
// It wraps an underlying cause with a classification code so callers can
// decide between "surface a toast" and "log and move on".
type CoreError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// Error implements the error interface
func (e *CoreError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the cause for errors.Is/As
func (e *CoreError) Unwrap() error {
	return e.Cause
}

// Transient creates a TRANSIENT error
func Transient(message string, cause error) *CoreError {
	return &CoreError{Code: ErrTransient, Message: message, Cause: cause}
}

// Decode creates a DECODE error
func Decode(message string, cause error) *CoreError {
	return &CoreError{Code: ErrDecode, Message: message, Cause: cause}
}

// Resolution creates a RESOLUTION error
func Resolution(message string) *CoreError {
	return &CoreError{Code: ErrResolution, Message: message}
}

// Conflict creates a CONFLICT error
func Conflict(message string) *CoreError {
	return &CoreError{Code: ErrConflict, Message: message}
}

// NotFound creates a NOT_FOUND error
func NotFound(resource string) *CoreError {
	return &CoreError{Code: ErrNotFound, Message: fmt.Sprintf("%s not found", resource)}
}

// Unauthorized creates an UNAUTHORIZED error
func Unauthorized(message string) *CoreError {
	return &CoreError{Code: ErrUnauthorized, Message: message}
}

// Unavailable creates a SERVICE_UNAVAILABLE error
func Unavailable(service string) *CoreError {
	return &CoreError{Code: ErrUnavailable, Message: fmt.Sprintf("%s is unavailable", service)}
}

// CodeOf returns the classification of err, or ErrTransient when err is not
// a CoreError (unknown failures are treated as retryable by the next pass)
func CodeOf(err error) ErrorCode {
	var ce *CoreError
	if stderrors.As(err, &ce) {
		return ce.Code
	}
	return ErrTransient
}

// Is reports whether err carries the given code
func Is(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}
