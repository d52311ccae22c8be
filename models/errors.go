package models

import "fmt"

// ValidationError is a malformed or stale submission input. It is
// recovered locally and surfaced to the submitting form only; the Reason
// is safe to show to the user. Referential failures (a user id that no
// longer exists) are reported through the same type.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// StoreError wraps a failure reported by the record store. The operation
// is aborted and no partial local state is kept.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}
