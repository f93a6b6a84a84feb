package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory represents different types of errors that can occur
type ErrorCategory string

const (
	// Critical errors that should stop the engine
	ErrorCategoryFatal         ErrorCategory = "FATAL"
	ErrorCategoryConfiguration ErrorCategory = "CONFIG"

	// Boundary errors rejected at the edge
	ErrorCategoryValidation ErrorCategory = "VALIDATION"
	ErrorCategoryLedger     ErrorCategory = "LEDGER"

	// Recoverable errors at the execution boundary
	ErrorCategoryExecution ErrorCategory = "EXECUTION"
	ErrorCategoryNetwork   ErrorCategory = "NETWORK"
	ErrorCategoryTimeout   ErrorCategory = "TIMEOUT"
)

// EngineError represents a categorized error with context
type EngineError struct {
	Category   ErrorCategory
	Component  string
	Operation  string
	Message    string
	Underlying error
	Retryable  bool
}

// Error implements the error interface
func (e *EngineError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("[%s:%s] %s: %s: %v", e.Category, e.Component, e.Operation, e.Message, e.Underlying)
	}
	return fmt.Sprintf("[%s:%s] %s: %s", e.Category, e.Component, e.Operation, e.Message)
}

// Unwrap returns the underlying error for error unwrapping
func (e *EngineError) Unwrap() error {
	return e.Underlying
}

// IsRetryable returns whether this error can be retried
func (e *EngineError) IsRetryable() bool {
	return e.Retryable
}

// IsFatal returns whether this error should stop the engine
func (e *EngineError) IsFatal() bool {
	return e.Category == ErrorCategoryFatal || e.Category == ErrorCategoryConfiguration
}

// NewConfigError creates a fatal configuration error
func NewConfigError(component, operation, message string, underlying error) *EngineError {
	return &EngineError{
		Category:   ErrorCategoryConfiguration,
		Component:  component,
		Operation:  operation,
		Message:    message,
		Underlying: underlying,
		Retryable:  false,
	}
}

// NewValidationError creates a boundary validation error (logged, never silently dropped)
func NewValidationError(component, operation, message string) *EngineError {
	return &EngineError{
		Category:  ErrorCategoryValidation,
		Component: component,
		Operation: operation,
		Message:   message,
		Retryable: false,
	}
}

// NewLedgerError creates an error for a malformed or unknown ledger entry
func NewLedgerError(operation, message string) *EngineError {
	return &EngineError{
		Category:  ErrorCategoryLedger,
		Component: "ledger",
		Operation: operation,
		Message:   message,
		Retryable: false,
	}
}

// NewExecutionError creates a retryable execution-boundary error
func NewExecutionError(operation, message string, underlying error) *EngineError {
	return &EngineError{
		Category:   ErrorCategoryExecution,
		Component:  "broker",
		Operation:  operation,
		Message:    message,
		Underlying: underlying,
		Retryable:  true,
	}
}

// NewFatalError creates a fatal error that must reach a human operator
func NewFatalError(component, operation, message string, underlying error) *EngineError {
	return &EngineError{
		Category:   ErrorCategoryFatal,
		Component:  component,
		Operation:  operation,
		Message:    message,
		Underlying: underlying,
		Retryable:  false,
	}
}

// IsCategory checks whether err (or anything it wraps) carries the given category
func IsCategory(err error, category ErrorCategory) bool {
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return engineErr.Category == category
	}
	return false
}
