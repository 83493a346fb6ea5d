package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorType represents different types of errors in the system
type ErrorType string

const (
	// ErrorTypeNotFound indicates a resource was not found
	ErrorTypeNotFound ErrorType = "NOT_FOUND"

	// ErrorTypeValidation indicates a validation error
	ErrorTypeValidation ErrorType = "VALIDATION"

	// ErrorTypeConflict indicates a conflict with existing data
	ErrorTypeConflict ErrorType = "CONFLICT"

	// ErrorTypeUnauthorized indicates unauthorized access
	ErrorTypeUnauthorized ErrorType = "UNAUTHORIZED"

	// ErrorTypeInternal indicates an internal server error
	ErrorTypeInternal ErrorType = "INTERNAL"

	// ErrorTypeExternal indicates an error from external service
	ErrorTypeExternal ErrorType = "EXTERNAL"

	// ErrorTypeSecurityViolation is a rejected inbound request (signature,
	// timestamp, nonce, rate limit, api key). Never retried.
	ErrorTypeSecurityViolation ErrorType = "SECURITY_VIOLATION"

	// ErrorTypeTransientNetwork is a timeout, 5xx or connection failure
	// talking to a partner API.
	ErrorTypeTransientNetwork ErrorType = "TRANSIENT_NETWORK"

	// ErrorTypeAuth is a 400/401/403/404 answer from a partner API.
	ErrorTypeAuth ErrorType = "AUTH"

	// ErrorTypeLinkResolution means a dependent record has no local parent consultation.
	ErrorTypeLinkResolution ErrorType = "LINK_RESOLUTION"

	// ErrorTypeTransform means an external payload had an unexpected shape.
	ErrorTypeTransform ErrorType = "TRANSFORM"

	// ErrorTypeJobExhausted marks a sync job that used up all of its retries.
	ErrorTypeJobExhausted ErrorType = "JOB_EXHAUSTED"
)

// AppError represents an application error
type AppError struct {
	Type    ErrorType
	Message string
	Err     error
	// StatusCode carries the upstream HTTP status for partner errors, 0 otherwise.
	StatusCode int
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements the unwrap interface
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(message string) *AppError {
	return &AppError{
		Type:    ErrorTypeNotFound,
		Message: message,
	}
}

// NewValidationError creates a new validation error
func NewValidationError(message string) *AppError {
	return &AppError{
		Type:    ErrorTypeValidation,
		Message: message,
	}
}

// NewConflictError creates a new conflict error
func NewConflictError(message string) *AppError {
	return &AppError{
		Type:    ErrorTypeConflict,
		Message: message,
	}
}

// NewUnauthorizedError creates a new unauthorized error
func NewUnauthorizedError(message string) *AppError {
	return &AppError{
		Type:    ErrorTypeUnauthorized,
		Message: message,
	}
}

// NewInternalError creates a new internal error
func NewInternalError(message string, err error) *AppError {
	return &AppError{
		Type:    ErrorTypeInternal,
		Message: message,
		Err:     err,
	}
}

// NewExternalError creates a new external service error
func NewExternalError(message string, err error) *AppError {
	return &AppError{
		Type:    ErrorTypeExternal,
		Message: message,
		Err:     err,
	}
}

// NewSecurityViolation creates an error for a rejected inbound request
func NewSecurityViolation(reason string) *AppError {
	return &AppError{
		Type:    ErrorTypeSecurityViolation,
		Message: reason,
	}
}

// NewTransientNetworkError wraps a retryable partner failure
func NewTransientNetworkError(message string, statusCode int, err error) *AppError {
	return &AppError{
		Type:       ErrorTypeTransientNetwork,
		Message:    message,
		Err:        err,
		StatusCode: statusCode,
	}
}

// NewAuthError wraps a non-retryable partner answer
func NewAuthError(message string, statusCode int) *AppError {
	return &AppError{
		Type:       ErrorTypeAuth,
		Message:    message,
		StatusCode: statusCode,
	}
}

// NewLinkResolutionError reports a missing parent consultation
func NewLinkResolutionError(message string) *AppError {
	return &AppError{
		Type:    ErrorTypeLinkResolution,
		Message: message,
	}
}

// NewTransformError reports a malformed external payload
func NewTransformError(message string, err error) *AppError {
	return &AppError{
		Type:    ErrorTypeTransform,
		Message: message,
		Err:     err,
	}
}

// NewJobExhaustedError marks a job that failed maxRetries times
func NewJobExhaustedError(jobID string, retries int, err error) *AppError {
	return &AppError{
		Type:    ErrorTypeJobExhausted,
		Message: fmt.Sprintf("job %s failed after %d retries", jobID, retries),
		Err:     err,
	}
}

// IsType reports whether err (or anything it wraps) is an AppError of type t.
func IsType(err error, t ErrorType) bool {
	var appErr *AppError
	if !stderrors.As(err, &appErr) {
		return false
	}
	return appErr.Type == t
}

// TypeOf returns the AppError type of err, or ErrorTypeInternal for foreign errors.
func TypeOf(err error) ErrorType {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrorTypeInternal
}
