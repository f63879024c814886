package domain

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a spec does not exist.
	ErrNotFound = errors.New("spec not found")

	// ErrConcurrencyConflict is returned when an append loses an optimistic
	// concurrency race. Callers may reload the aggregate and retry.
	ErrConcurrencyConflict = errors.New("concurrency conflict: sequence number mismatch")

	// ErrDuplicateName is returned when a spec name is already taken.
	ErrDuplicateName = errors.New("spec name already exists")

	// ErrValidation is returned when an input value fails validation.
	ErrValidation = errors.New("validation failed")
)

// ValidationKind identifies which rule an input value broke.
type ValidationKind string

const (
	EmptyName         ValidationKind = "empty_name"
	NameTooLong       ValidationKind = "name_too_long"
	InvalidCharacters ValidationKind = "invalid_characters"
	EmptyContent      ValidationKind = "empty_content"
	ContentTooLarge   ValidationKind = "content_too_large"
	InvalidYAML       ValidationKind = "invalid_yaml"
	InvalidID         ValidationKind = "invalid_id"
	InvalidState      ValidationKind = "invalid_state"
)

// ValidationError reports a rejected input value.
type ValidationError struct {
	Kind    ValidationKind
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NotFoundError identifies the missing spec.
type NotFoundError struct {
	ID uuid.UUID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("spec not found: %s", e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// InvalidStateTransitionError is returned when a command requests an
// illegal state machine edge.
type InvalidStateTransitionError struct {
	From SpecState
	To   SpecState
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("invalid state transition from %s to %s", e.From, e.To)
}

// VersionMismatchError is returned when a command carries an expected
// version that differs from the aggregate's current version.
type VersionMismatchError struct {
	Expected uint32
	Actual   uint32
}

func (e *VersionMismatchError) Error() string {
	return fmt.Sprintf("version mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// DuplicateNameError identifies the contested name.
type DuplicateNameError struct {
	Name string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("spec already exists with name: %s", e.Name)
}

func (e *DuplicateNameError) Is(target error) bool {
	return target == ErrDuplicateName
}

// InvalidStateError is returned when the spec's current state forbids
// the requested operation.
type InvalidStateError struct {
	State SpecState
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot modify spec in %s state", e.State)
}

// ConflictError is returned when an append detects a concurrent writer.
// It matches ErrConcurrencyConflict and is safe to retry after reloading
// the aggregate.
type ConflictError struct {
	AggregateID uuid.UUID
	ExpectedSeq int64
	ActualSeq   int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("concurrency conflict on aggregate %s: expected sequence %d, found %d",
		e.AggregateID, e.ExpectedSeq, e.ActualSeq)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConcurrencyConflict
}

// StoreError wraps an event store I/O failure.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("event store error: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// ProjectionError wraps a read model I/O failure.
type ProjectionError struct {
	Op  string
	Err error
}

func (e *ProjectionError) Error() string {
	return fmt.Sprintf("projection error: %s: %v", e.Op, e.Err)
}

func (e *ProjectionError) Unwrap() error {
	return e.Err
}
