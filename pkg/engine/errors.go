// Package engine implements the prediction/learning core: the observation
// pipeline, pattern matcher, prediction scorer, learning engine, and the
// stateless router that runs them over session state.
package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound is returned for unknown, expired or deleted
	// sessions.
	ErrSessionNotFound = errors.New("session not found")

	// ErrEmptySTM is returned by learn when the session has nothing to
	// compress.
	ErrEmptySTM = errors.New("short-term memory is empty")

	// ErrStorageUnavailable wraps transient backend failures after retries
	// are exhausted. The failed mutation left session state untouched.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrStorageConflict is returned when optimistic retries on a
	// conflicting write are exhausted.
	ErrStorageConflict = errors.New("storage conflict")
)

// ValidationError wraps field-specific validation errors.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error.
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// IsValidationError checks if an error is a validation error.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
