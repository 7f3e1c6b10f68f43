package core

import (
	"context"
	"errors"
	"fmt"
)

// ErrorCategory classifies errors for handling decisions.
type ErrorCategory string

const (
	ErrCatValidation     ErrorCategory = "validation"      // Invalid input
	ErrCatToolInvocation ErrorCategory = "tool_invocation" // Boundary transport/availability failure
	ErrCatVerdict        ErrorCategory = "validation_failure"
	ErrCatEnforcement    ErrorCategory = "enforcement" // Ceiling hit, terminal
	ErrCatState          ErrorCategory = "state"       // State corruption/conflict
	ErrCatNotFound       ErrorCategory = "not_found"   // Resource not found
	ErrCatConflict       ErrorCategory = "conflict"    // Concurrent modification
	ErrCatInternal       ErrorCategory = "internal"    // Unexpected internal error
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

// ErrValidation creates a validation error.
func ErrValidation(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatValidation,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// ErrTool creates a boundary failure of the given kind. All kinds are
// retryable; the Enforcer decides whether a retry actually happens.
func ErrTool(kind FailureKind, tool ToolName, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatToolInvocation,
		Code:      string(kind),
		Message:   fmt.Sprintf("%s: %s", tool, message),
		Retryable: true,
		Details: map[string]interface{}{
			"tool": string(tool),
		},
	}
}

// ErrState creates a state error.
func ErrState(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatState,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// ErrEnforcementStop creates the terminal error surfaced when a ceiling is hit
// or the run is cancelled.
func ErrEnforcementStop(reason StopReason, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatEnforcement,
		Code:      string(reason),
		Message:   message,
		Retryable: false,
	}
}

// ErrNotFound creates a not found error.
func ErrNotFound(resource, id string) *DomainError {
	return &DomainError{
		Category:  ErrCatNotFound,
		Code:      "NOT_FOUND",
		Message:   fmt.Sprintf("%s not found: %s", resource, id),
		Retryable: false,
	}
}

// ErrStillRunning is returned by result lookups for workflows that have not
// reached a terminal status yet.
var ErrStillRunning = &DomainError{
	Category: ErrCatConflict,
	Code:     CodeStillRunning,
	Message:  "still running",
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

// FailureKindOf returns the boundary failure kind carried by err. Context
// deadlines map to timeout; anything else unclassified is unavailable.
func FailureKindOf(err error) FailureKind {
	if err == nil {
		return ""
	}
	var domErr *DomainError
	if errors.As(err, &domErr) && domErr.Category == ErrCatToolInvocation {
		return FailureKind(domErr.Code)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	return FailureUnavailable
}

// Predefined error codes
const (
	CodeWorkflowNotFound  = "WORKFLOW_NOT_FOUND"
	CodeInvalidState      = "INVALID_STATE"
	CodeAlreadyTerminal   = "ALREADY_TERMINAL"
	CodeUnattributed      = "UNATTRIBUTED_RESULT"
	CodeStillRunning      = "STILL_RUNNING"
	CodeStateCorrupted    = "STATE_CORRUPTED"
	CodeEmptyInstruction  = "EMPTY_INSTRUCTION"
	CodeInstructionLength = "INSTRUCTION_TOO_LONG"
	CodeInvalidConfig     = "INVALID_CONFIG"
	CodeInvalidOptions    = "INVALID_OPTIONS"
	CodeInvalidArgs       = "INVALID_ARGS"
	CodeContractMismatch  = "CONTRACT_MISMATCH"
)

// MaxInstructionLength is the maximum allowed instruction length.
const MaxInstructionLength = 20000
