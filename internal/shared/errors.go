package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates bad input; nothing has been written.
	ErrValidation = errors.New("validation failed")
	// ErrConflict indicates a state-incompatible operation; nothing has been written.
	ErrConflict = errors.New("conflicting state")
	// ErrPersistence indicates a store-level failure.
	ErrPersistence = errors.New("persistence failure")
)

// ValidationError wraps ErrValidation (or a more specific sentinel that
// unwraps to it) with human-readable details.
type ValidationError struct {
	Err     error
	Details string
}

func (e *ValidationError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s", e.Err.Error(), e.Details)
	}
	return e.Err.Error()
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError builds a ValidationError around ErrValidation.
func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Err: ErrValidation, Details: fmt.Sprintf(format, args...)}
}
