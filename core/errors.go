package core

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidState is returned when an operation is attempted against a
	// record whose lifecycle state forbids it (e.g. toggling an archived
	// playbook, updating a finished execution).
	ErrInvalidState = errors.New("invalid state for operation")

	// ErrStepOutOfRange is returned when a step index falls outside the
	// execution's step list or does not match the current step.
	ErrStepOutOfRange = errors.New("step out of range")

	// ErrExecutionConflict is returned when a concurrent writer updated the
	// execution first and the optimistic version check failed.
	ErrExecutionConflict = errors.New("execution was modified concurrently")
)

// ValidationError describes a rejected field on a create or update request.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidationError builds a ValidationError for a single field.
func NewValidationError(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsValidationError reports whether err is (or wraps) a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
