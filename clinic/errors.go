/*
clinic/errors.go - Sentinel and structured error types

PURPOSE:
  Every operational failure in the engine maps to one of the sentinel
  errors below, so callers can branch with errors.Is regardless of which
  package produced the failure. Structured error types wrap a sentinel
  and carry the context a caller or an API handler needs to explain the
  failure without string parsing.

ERROR CATEGORIES:
  - Validation:  bad input, caller must fix the request
  - Conflict:    the time slot collides with a committed session
  - Credit:      a credit draw exceeds the available balance
  - Transition:  the lifecycle move is not allowed, or a guard blocks it
  - Not found:   the referenced entity does not exist
*/
package clinic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINELS
// =============================================================================

var (
	// ErrValidation marks request-level input errors.
	ErrValidation = errors.New("validation failed")

	// ErrConflict marks a time-slot collision with a committed session.
	ErrConflict = errors.New("schedule conflict")

	// ErrDuplicateSlot marks the (patient, date, start) uniqueness breach.
	ErrDuplicateSlot = errors.New("duplicate session slot")

	// ErrInsufficientCredit marks a credit draw exceeding available credit.
	ErrInsufficientCredit = errors.New("insufficient credit")

	// ErrInvalidTransition marks a lifecycle move the state machine forbids.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrGuarded marks an operation blocked by a dependency guard, e.g.
	// voiding a payment that a credit draw already consumed.
	ErrGuarded = errors.New("operation blocked by dependent records")

	// ErrNotFound marks a missing entity.
	ErrNotFound = errors.New("not found")

	// ErrLedgerMismatch marks an account whose stored snapshot disagrees
	// with the recomputed one beyond tolerance.
	ErrLedgerMismatch = errors.New("ledger mismatch")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// FieldError reports a validation failure on a specific field.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *FieldError) Unwrap() error { return ErrValidation }

// ConflictError reports a time-slot collision, naming the party and the
// committed session that blocks the booking.
type ConflictError struct {
	Party      string // "patient" or "professional"
	PartyID    string
	Date       DayDate
	Requested  TimeSlot
	BlockingID SessionID
	Blocking   TimeSlot
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("schedule conflict: %s %s already has session %s at %s %s (requested %s)",
		e.Party, e.PartyID, e.BlockingID, e.Date, e.Blocking, e.Requested)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// InsufficientCreditError reports a rejected credit draw.
type InsufficientCreditError struct {
	PatientID PatientID
	Requested Money
	Available Money
}

func (e *InsufficientCreditError) Error() string {
	return fmt.Sprintf("insufficient credit for patient %s: requested %s, available %s",
		e.PatientID, e.Requested, e.Available)
}

func (e *InsufficientCreditError) Unwrap() error { return ErrInsufficientCredit }

// TransitionError reports a forbidden lifecycle move.
type TransitionError struct {
	Entity string
	ID     string
	From   string
	To     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid state transition for %s %s: %s -> %s", e.Entity, e.ID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// GuardError reports an operation blocked by dependent records, naming
// the records so the caller can act on them first.
type GuardError struct {
	Operation string
	Reason    string
	Dependent []string
}

func (e *GuardError) Error() string {
	if len(e.Dependent) == 0 {
		return fmt.Sprintf("%s blocked: %s", e.Operation, e.Reason)
	}
	return fmt.Sprintf("%s blocked: %s (dependent: %v)", e.Operation, e.Reason, e.Dependent)
}

func (e *GuardError) Unwrap() error { return ErrGuarded }

// NotFoundError reports a missing entity with its kind and identifier.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s %s not found", e.Kind, e.ID) }

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// =============================================================================
// CLASSIFICATION HELPERS
// =============================================================================

// IsClientError reports whether the failure is the caller's fault, i.e.
// fixable by changing the request rather than retrying.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrDuplicateSlot) ||
		errors.Is(err, ErrInsufficientCredit) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrGuarded) ||
		errors.Is(err, ErrNotFound)
}
