package engine

import (
	"errors"
	"fmt"
)

// ErrorClass classifies a failure by the point in the pipeline it occurred.
type ErrorClass string

const (
	// ErrorClassRejected indicates a generator refused the update before any side effect.
	ErrorClassRejected ErrorClass = "rejected"

	// ErrorClassExecution indicates a plan operation failed mid-flight.
	ErrorClassExecution ErrorClass = "execution"

	// ErrorClassAbort indicates a compensating operation failed once.
	ErrorClassAbort ErrorClass = "abort"

	// ErrorClassFatal indicates unwinding was abandoned and the system state is unknown.
	ErrorClassFatal ErrorClass = "fatal"
)

// EngineError is a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Chute is the chute the error relates to, if any.
	Chute string `json:"chute,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.Chute != "" {
		msg += fmt.Sprintf(" (chute=%s)", e.Chute)
	}
	if e.Operation != "" {
		msg += fmt.Sprintf(" (operation=%s)", e.Operation)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewRejectedError creates an error a generator returns to refuse an update.
func NewRejectedError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassRejected,
		Message: message,
		Err:     err,
	}
}

// NewExecutionError creates an error describing a failed plan operation.
func NewExecutionError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassExecution,
		Message: message,
		Err:     err,
	}
}

// WithChute adds chute context to an error.
func (e *EngineError) WithChute(name string) *EngineError {
	e.Chute = name
	return e
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// IsRejected returns true if the error refused an update during generation.
func IsRejected(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassRejected
	}
	return false
}

// IsFatal returns true if the error reports an abandoned unwind.
func IsFatal(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassFatal
	}
	return false
}

// Common error codes.
const (
	ErrCodeValidation      = "VALIDATION_ERROR"
	ErrCodeUnknownType     = "UNKNOWN_UPDATE_TYPE"
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeAlreadyExists   = "ALREADY_EXISTS"
	ErrCodePolicyDenied    = "POLICY_DENIED"
	ErrCodeOperationFailed = "OPERATION_FAILED"
	ErrCodePanic           = "OPERATION_PANIC"
	ErrCodeUnwindFailed    = "UNWIND_FAILED"
)
