package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the pipeline.
type ErrorCode string

// Stage-recoverable error codes
const (
	ErrGateFailure        ErrorCode = "GATE_FAILURE"
	ErrAdapterUnavailable ErrorCode = "ADAPTER_UNAVAILABLE"
	ErrAdapterTimeout     ErrorCode = "ADAPTER_TIMEOUT"
)

// Surfaced (non-fault) error codes
const (
	ErrEvidenceIncomplete ErrorCode = "EVIDENCE_INCOMPLETE"
	ErrUnresolvedIdentity ErrorCode = "UNRESOLVED_IDENTITY"
)

// Fatal error codes
const (
	ErrInvalidConfig    ErrorCode = "INVALID_CONFIG"
	ErrInvalidState     ErrorCode = "INVALID_STATE"
	ErrRunTimeout       ErrorCode = "RUN_TIMEOUT"
	ErrStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Stage     Stage     `json:"stage,omitempty"`
	Retryable bool      `json:"retryable"`
	Cause     error     `json:"-"`
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

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithStage tags the error with the stage that produced it.
func (e *Error) WithStage(stage Stage) *Error {
	e.Stage = stage
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error, unwrapping as needed.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsGateFailure reports whether err is a stage quality-gate failure.
func IsGateFailure(err error) bool {
	return GetErrorCode(err) == ErrGateFailure
}

// IsAdapterError reports whether err came from a capability adapter.
func IsAdapterError(err error) bool {
	code := GetErrorCode(err)
	return code == ErrAdapterUnavailable || code == ErrAdapterTimeout
}
