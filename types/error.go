package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the engine.
type ErrorCode string

// Orchestration error codes
const (
	ErrValidation       ErrorCode = "VALIDATION"
	ErrExecutor         ErrorCode = "EXECUTOR"
	ErrTimeout          ErrorCode = "TIMEOUT"
	ErrCompensation     ErrorCode = "COMPENSATION"
	ErrCoordinatorFault ErrorCode = "COORDINATOR_FAULT"
)

// Request error codes
const (
	ErrUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrNotFound           ErrorCode = "NOT_FOUND"
	ErrRateLimited        ErrorCode = "RATE_LIMITED"
	ErrInvalidTransition  ErrorCode = "INVALID_TRANSITION"
	ErrVersionConflict    ErrorCode = "VERSION_CONFLICT"
	ErrExecutorNotFound   ErrorCode = "EXECUTOR_NOT_FOUND"
	ErrDefinitionNotFound ErrorCode = "DEFINITION_NOT_FOUND"
	ErrEngineOverloaded   ErrorCode = "ENGINE_OVERLOADED"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	StepID    string    `json:"step_id,omitempty"`
	Attempt   int       `json:"attempt,omitempty"`
	Retryable bool      `json:"retryable"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.StepID != "" {
		if e.Cause != nil {
			return fmt.Sprintf("[%s] step %s: %s: %v", e.Code, e.StepID, e.Message, e.Cause)
		}
		return fmt.Sprintf("[%s] step %s: %s", e.Code, e.StepID, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithStep attaches the step id and attempt the error belongs to.
func (e *Error) WithStep(stepID string, attempt int) *Error {
	e.StepID = stepID
	e.Attempt = attempt
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// IsRetryable checks if an error is retryable. Timeouts count as retryable
// executor failures regardless of the flag.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable || e.Code == ErrTimeout
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}
