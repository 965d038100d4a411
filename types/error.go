package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the framework.
type ErrorCode string

// Graph and configuration error codes. These are terminal: they describe a
// malformed input, not a transient condition.
const (
	ErrValidation        ErrorCode = "VALIDATION"
	ErrCyclicDependency  ErrorCode = "CYCLIC_DEPENDENCY"
	ErrStepConfiguration ErrorCode = "STEP_CONFIGURATION"
)

// Backend call error codes.
const (
	ErrMalformedRequest  ErrorCode = "MALFORMED_REQUEST"
	ErrAuthentication    ErrorCode = "AUTHENTICATION"
	ErrUnsupportedTarget ErrorCode = "UNSUPPORTED_TARGET"
	ErrRateLimited       ErrorCode = "RATE_LIMITED"
	ErrOverloaded        ErrorCode = "OVERLOADED"
	ErrUnavailable       ErrorCode = "UNAVAILABLE"
	ErrTimeout           ErrorCode = "TIMEOUT"
	ErrBackend           ErrorCode = "BACKEND"
)

// Resilience and infrastructure error codes.
const (
	ErrCircuitOpen ErrorCode = "CIRCUIT_OPEN"
	ErrStore       ErrorCode = "STORE"
	ErrNotFound    ErrorCode = "NOT_FOUND"
	ErrInternal    ErrorCode = "INTERNAL"
)

// retryableByDefault lists the codes that describe transient conditions.
// Everything else is terminal unless a call site overrides it.
var retryableByDefault = map[ErrorCode]bool{
	ErrRateLimited: true,
	ErrOverloaded:  true,
	ErrUnavailable: true,
	ErrTimeout:     true,
	ErrBackend:     true,
}

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	Op         string    `json:"op,omitempty"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message. Retryable
// defaults from the code's class.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message, Retryable: retryableByDefault[code]}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithOp records the logical operation or step the error belongs to.
func (e *Error) WithOp(op string) *Error {
	e.Op = op
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable overrides the retryable marking.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// NewValidationError reports a structurally invalid workflow.
func NewValidationError(message string) *Error {
	return NewError(ErrValidation, message)
}

// NewCyclicDependencyError reports a dependency cycle, naming a step on it.
func NewCyclicDependencyError(stepID string) *Error {
	return NewError(ErrCyclicDependency, fmt.Sprintf("dependency cycle through step %q", stepID)).WithOp(stepID)
}

// NewStepConfigurationError reports a malformed step. Fatal for that step,
// never retried.
func NewStepConfigurationError(stepID, message string) *Error {
	return NewError(ErrStepConfiguration, message).WithOp(stepID)
}

// NewCircuitOpenError reports a fast-fail on an open circuit, distinct from
// backend errors so callers can tell "service degraded" from "call failed".
func NewCircuitOpenError(op string) *Error {
	return NewError(ErrCircuitOpen, fmt.Sprintf("circuit open for operation %q", op)).WithOp(op)
}

// IsRetryable checks whether an error (possibly wrapped) is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// CodeOf extracts the error code from an error, unwrapping as needed.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}
