/*
errors.go - Centralized error types for the ledger core

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain packages should wrap these errors with additional context.

ERROR CATEGORIES:
  1. Ledger errors - Entry persistence failures
  2. Usage errors - Invalid operations (reversal without a backup)
  3. Store errors - Database-level failures

USAGE:
  Domain packages can wrap sentinel errors:

    if errors.Is(err, ledger.ErrInvalidReversal) {
        // no cancellation backup to reverse
    }

SEE ALSO:
  - ledger.go: Uses these errors
  - store.go: Uses these errors
  - invoicing: Wraps these errors with domain context
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrDuplicateIdempotencyKey is returned when an entry with the same
	// idempotency key already exists. This is expected behavior for retries.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrInvalidReversal is returned when reversing an invoice that holds no
	// cancellation backup. This is a usage error, never a silent no-op: a
	// reversal without a backup would apply a bogus adjustment.
	ErrInvalidReversal = errors.New("no cancellation backup to reverse")

	// ErrEntryFailed is returned when an entry cannot be persisted.
	ErrEntryFailed = errors.New("ledger entry failed")

	// ErrConcurrentModification is returned when optimistic locking detects
	// a conflicting write on an invoice or client record.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrInvoiceNotFound is returned when a referenced invoice doesn't exist.
	ErrInvoiceNotFound = errors.New("invoice not found")

	// ErrClientNotFound is returned when a referenced client doesn't exist.
	ErrClientNotFound = errors.New("client not found")

	// ErrPersistence is returned when the backing store fails. The enclosing
	// transaction must have been rolled back in full when this surfaces.
	ErrPersistence = errors.New("persistence failure")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// PersistenceError wraps a store-level failure with the operation that hit it.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure in %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return ErrPersistence
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidReversal) ||
		errors.Is(err, ErrDuplicateIdempotencyKey)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrInvoiceNotFound) ||
		errors.Is(err, ErrClientNotFound)
}
