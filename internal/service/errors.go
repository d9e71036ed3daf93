package service

import (
	"errors"
	"fmt"

	"lifelog/internal/storage"
)

var (
	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound is returned when a requested resource is not found.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a resource with the same id already exists.
	ErrConflict = errors.New("already exists")
	// ErrUnavailable is returned when the storage engine fails. Callers may retry.
	ErrUnavailable = errors.New("storage unavailable")
)

// ValidationError represents a validation error with a field name.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field %s: %s", e.Field, e.Message)
}

// Is lets errors.Is match ErrInvalidInput.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// WrapError wraps an error with additional context.
func WrapError(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// storeError translates a storage failure into the service taxonomy while
// keeping the original error in the chain.
func storeError(err error, msg string) error {
	if err == nil {
		return nil
	}
	var kind error
	switch {
	case errors.Is(err, storage.ErrNotFound):
		kind = ErrNotFound
	case errors.Is(err, storage.ErrConflict):
		kind = ErrConflict
	case errors.Is(err, storage.ErrInvalidRecord), errors.Is(err, storage.ErrUnknownIndex):
		kind = ErrInvalidInput
	default:
		kind = ErrUnavailable
	}
	return fmt.Errorf("%s: %w: %w", msg, kind, err)
}
