/*
errors.go - Centralized error types for the allocation engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Every validation failure of a core operation surfaces as one of these,
  synchronously, with a message fit for a user-facing response.

ERROR CATEGORIES:
  1. Conflict      - resource or booking already claimed, duplicate invoice,
                     duplicate pending request
  2. State         - InvalidState, NotApproved, TooEarly
  3. Access        - Forbidden
  4. Lookup        - NotFound, UnknownKind
  5. Races         - Stale (a check made at request time no longer holds)

USAGE:
  if errors.Is(err, generic.ErrConflict) {
      // 409
  }

  var early *generic.TooEarlyError
  if errors.As(err, &early) {
      fmt.Println(early.DaysLeft)
  }

SEE ALSO:
  - api/errors.go: maps these errors to HTTP statuses
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrConflict is returned when a resource, booking or request is already claimed.
	ErrConflict = errors.New("conflict")

	// ErrInvalidState is returned when an operation is not valid for the current status.
	ErrInvalidState = errors.New("invalid state")

	// ErrNotApproved is returned when an operation needs an approved booking.
	ErrNotApproved = errors.New("booking not approved")

	// ErrTooEarly is returned when the next invoice is requested before the
	// last three days of the current billing cycle.
	ErrTooEarly = errors.New("too early")

	// ErrForbidden is returned when the actor's role or ownership check fails.
	ErrForbidden = errors.New("forbidden")

	// ErrNotFound is returned when a referenced entity doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrStale is returned when a race invalidated a prior check at commit time.
	ErrStale = errors.New("stale")

	// ErrDuplicateInvoice is returned when an invoice already exists for the month.
	ErrDuplicateInvoice = errors.New("duplicate invoice")

	// ErrValidation is returned for malformed or incomplete input.
	ErrValidation = errors.New("validation failed")

	// ErrUnknownKind is returned when a resource kind is not registered.
	ErrUnknownKind = errors.New("unknown resource kind")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// Error pairs a sentinel with a user-facing message.
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Kind }

func newError(kind error, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// DuplicateInvoiceError reports the invoice that already covers the month.
// NextOpens is the first day the following month can be billed.
type DuplicateInvoiceError struct {
	Booking   BookingID
	Month     Date
	Number    string
	NextOpens Date
}

func (e *DuplicateInvoiceError) Error() string {
	return fmt.Sprintf("invoice %s already generated for %s", e.Number, e.Month.Format("January 2006"))
}

func (e *DuplicateInvoiceError) Unwrap() []error {
	return []error{ErrDuplicateInvoice, ErrConflict}
}

// TooEarlyError reports how far the current billing cycle is from its last three days.
type TooEarlyError struct {
	CycleEnd Date
	DaysLeft int
}

func (e *TooEarlyError) Error() string {
	return fmt.Sprintf("Next invoice can only be generated in last 3 days of current invoice cycle. %d days remaining.", e.DaysLeft)
}

func (e *TooEarlyError) Unwrap() error { return ErrTooEarly }

// StaleError reports a precondition that held at request time but not at approval.
type StaleError struct {
	Reason string
}

func (e *StaleError) Error() string { return e.Reason }

func (e *StaleError) Unwrap() []error {
	return []error{ErrStale, ErrConflict}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to the caller's input or
// the current state rather than an internal failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrNotApproved) ||
		errors.Is(err, ErrTooEarly) ||
		errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrStale) ||
		errors.Is(err, ErrUnknownKind)
}

// IsNotFound returns true if the error indicates a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrUnknownKind)
}

// IsForbidden returns true if the actor may not perform the operation.
func IsForbidden(err error) bool {
	return errors.Is(err, ErrForbidden)
}
