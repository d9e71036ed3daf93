package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a record is not found.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a record id already exists in its collection.
	ErrConflict = errors.New("record already exists")
	// ErrInvalidRecord is returned for records without a usable id.
	ErrInvalidRecord = errors.New("invalid record")
	// ErrUnknownCollection is returned for collections that were never registered.
	ErrUnknownCollection = errors.New("unknown collection")
	// ErrUnknownIndex is returned when querying a field that is not indexed.
	ErrUnknownIndex = errors.New("unknown index")
)

// NotFoundError reports an update or delete against an absent id.
type NotFoundError struct {
	Collection string
	ID         string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s/%s: %s", e.Collection, e.ID, ErrNotFound)
}

// Is lets errors.Is match ErrNotFound.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// ConflictError reports a create with an id that is already taken.
type ConflictError struct {
	Collection string
	ID         string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s/%s: %s", e.Collection, e.ID, ErrConflict)
}

// Is lets errors.Is match ErrConflict.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// TransactionError wraps a failure of the underlying engine.
type TransactionError struct {
	Op         string
	Collection string
	Err        error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("transaction %s on %s failed: %v", e.Op, e.Collection, e.Err)
}

func (e *TransactionError) Unwrap() error {
	return e.Err
}
