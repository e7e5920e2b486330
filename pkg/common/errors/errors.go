// Package errors defines the error values and error types shared by joinq packages.
package errors

import (
	"errors"
	"fmt"
)

// Common error values used across joinq

var (
	// ErrClosed indicates that an operation was attempted on a closed queue
	ErrClosed = errors.New("queue is closed")

	// ErrInvalidConfiguration indicates invalid configuration parameters
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrRetriesExhausted indicates that an item failed more often than its retry policy allows
	ErrRetriesExhausted = errors.New("retries exhausted")

	// ErrProcessingPanic indicates that a processing function panicked
	ErrProcessingPanic = errors.New("processing panicked")
)

// ValidationError describes a rejected configuration value.
type ValidationError struct {
	Module string
	Field  string
	Value  interface{}
	Reason string
	Hint   string
}

// NewValidationError creates a ValidationError without a hint.
func NewValidationError(module, field string, value interface{}, reason string) *ValidationError {
	return &ValidationError{
		Module: module,
		Field:  field,
		Value:  value,
		Reason: reason,
	}
}

// WithHint attaches a remediation hint and returns the same error for chaining.
func (e *ValidationError) WithHint(hint string) *ValidationError {
	e.Hint = hint
	return e
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("%s: invalid %s=%v (%s)", e.Module, e.Field, e.Value, e.Reason)
	if e.Hint != "" {
		msg += " - " + e.Hint
	}
	return msg
}

// Unwrap makes every ValidationError match ErrInvalidConfiguration.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidConfiguration
}

// OperationError wraps a failure of a named operation inside a module.
type OperationError struct {
	Module    string
	Operation string
	Cause     error
	Context   string
}

// NewOperationError creates an OperationError for module.operation caused by cause.
func NewOperationError(module, operation string, cause error) *OperationError {
	return &OperationError{
		Module:    module,
		Operation: operation,
		Cause:     cause,
	}
}

// WithContext attaches extra detail and returns the same error for chaining.
func (e *OperationError) WithContext(context string) *OperationError {
	e.Context = context
	return e
}

func (e *OperationError) Error() string {
	msg := fmt.Sprintf("%s.%s failed: %v", e.Module, e.Operation, e.Cause)
	if e.Context != "" {
		msg += " (" + e.Context + ")"
	}
	return msg
}

func (e *OperationError) Unwrap() error {
	return e.Cause
}

// IsValidationError reports whether err is or wraps a *ValidationError.
func IsValidationError(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}
