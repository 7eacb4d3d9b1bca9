package core

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors for handling decisions.
type ErrorCategory string

const (
	ErrCatValidation ErrorCategory = "validation" // Invalid input or config payload
	ErrCatNotFound   ErrorCategory = "not_found"  // Unknown simulation id
	ErrCatState      ErrorCategory = "state"      // Operation illegal in current state
	ErrCatCapacity   ErrorCategory = "capacity"   // Concurrency ceiling reached
	ErrCatProcess    ErrorCategory = "process"    // OS-level process failure
	ErrCatStorage    ErrorCategory = "storage"    // Persistence failure
	ErrCatInternal   ErrorCategory = "internal"   // Unexpected internal error
)

// DomainError represents a structured error from the domain layer.
type DomainError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Retryable bool
	Cause     error
	Details   map[string]interface{}
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches a target.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Category == t.Category && e.Code == t.Code
}

// WithCause wraps an underlying error.
func (e *DomainError) WithCause(cause error) *DomainError {
	e.Cause = cause
	return e
}

// WithDetail adds contextual information.
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Predefined error codes.
const (
	CodeNotFound          = "NOT_FOUND"
	CodeInvalidState      = "INVALID_STATE"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeCapacityExceeded  = "CAPACITY_EXCEEDED"
	CodeLaunchFailed      = "LAUNCH_FAILED"
	CodeSignalFailed      = "SIGNAL_FAILED"
	CodeProcessNotFound   = "PROCESS_NOT_FOUND"
	CodeInvalidConfig     = "INVALID_CONFIG"
	CodeStorageFailed     = "STORAGE_FAILED"
)

// ErrNotFound creates a not found error for an unknown simulation.
func ErrNotFound(resource, id string) *DomainError {
	return &DomainError{
		Category:  ErrCatNotFound,
		Code:      CodeNotFound,
		Message:   fmt.Sprintf("%s not found: %s", resource, id),
		Retryable: false,
	}
}

// ErrInvalidState reports an operation that is illegal in the current state.
func ErrInvalidState(op string, status Status) *DomainError {
	return &DomainError{
		Category:  ErrCatState,
		Code:      CodeInvalidState,
		Message:   fmt.Sprintf("cannot %s simulation in %s state", op, status),
		Retryable: false,
		Details:   map[string]interface{}{"status": string(status)},
	}
}

// ErrInvalidTransition reports a rejected (state, event) pair. The current
// state is left unchanged by the caller.
func ErrInvalidTransition(status Status, event Event) *DomainError {
	return &DomainError{
		Category:  ErrCatState,
		Code:      CodeInvalidTransition,
		Message:   fmt.Sprintf("no transition from %s on %s", status, event),
		Retryable: false,
		Details: map[string]interface{}{
			"status": string(status),
			"event":  string(event),
		},
	}
}

// ErrCapacityExceeded reports that the concurrency ceiling is reached.
// Retryable: the caller decides whether to try again later.
func ErrCapacityExceeded(limit int) *DomainError {
	return &DomainError{
		Category:  ErrCatCapacity,
		Code:      CodeCapacityExceeded,
		Message:   fmt.Sprintf("maximum of %d concurrent running simulations reached", limit),
		Retryable: true,
		Details:   map[string]interface{}{"limit": limit},
	}
}

// ErrLaunch reports a failure to spawn the external simulation process.
func ErrLaunch(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatProcess,
		Code:      CodeLaunchFailed,
		Message:   message,
		Retryable: false,
	}
}

// ErrSignal reports a failure to deliver a control signal.
func ErrSignal(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatProcess,
		Code:      CodeSignalFailed,
		Message:   message,
		Retryable: false,
	}
}

// ErrProcessNotFound reports a signal sent to an already-exited process.
func ErrProcessNotFound(pid int) *DomainError {
	return &DomainError{
		Category:  ErrCatProcess,
		Code:      CodeProcessNotFound,
		Message:   fmt.Sprintf("process %d no longer exists", pid),
		Retryable: false,
		Details:   map[string]interface{}{"pid": pid},
	}
}

// ErrConfig reports a config payload that cannot be parsed or materialized.
func ErrConfig(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatValidation,
		Code:      CodeInvalidConfig,
		Message:   message,
		Retryable: false,
	}
}

// ErrStorage reports a persistence failure.
func ErrStorage(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatStorage,
		Code:      CodeStorageFailed,
		Message:   message,
		Retryable: true,
	}
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Retryable
	}
	return false
}

// GetCategory extracts the error category.
func GetCategory(err error) ErrorCategory {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Category
	}
	return ErrCatInternal
}

// IsCategory checks if an error belongs to a category.
func IsCategory(err error, cat ErrorCategory) bool {
	return GetCategory(err) == cat
}

// IsCode checks if an error carries a specific domain code.
func IsCode(err error, code string) bool {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Code == code
	}
	return false
}
