/*
store.go - Persistence interface for ledger entries

PURPOSE:
  Defines the interface between the ledger core and the database.
  The Store handles persistence while maintaining append-only semantics.
  Different implementations can use SQLite or in-memory storage.

APPEND-ONLY CONTRACT:
  The Store interface enforces append-only semantics:
  - Append(): Single entry write
  - NO Update() or Delete() methods exist

IDEMPOTENCY:
  Every write includes an idempotency key. If the key already exists,
  the write is rejected. This prevents duplicate entries from network
  retries or user double-clicks.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Production SQLite
  - store/memory/memory.go: In-memory for testing

SEE ALSO:
  - ledger.go: Higher-level interface using Store
*/
package ledger

import (
	"context"
	"time"
)

// =============================================================================
// STORE - Interface for entry persistence (append-only)
// =============================================================================

// Store handles persistence of ledger entries.
// IMPORTANT: Store is APPEND-ONLY. No Update, No Delete. Ever.
// Corrections are made via reversal entries.
type Store interface {
	// Append persists an entry. Returns ErrDuplicateIdempotencyKey if the
	// idempotency key exists. This is the ONLY write operation.
	Append(ctx context.Context, e LedgerEntry) error

	// Entries returns all entries for an invoice, ordered by CreatedAt.
	Entries(ctx context.Context, invoiceID InvoiceID) ([]LedgerEntry, error)

	// EntriesInRange returns entries recorded in [from, to].
	EntriesInRange(ctx context.Context, invoiceID InvoiceID, from, to time.Time) ([]LedgerEntry, error)

	// Exists checks if an idempotency key already exists.
	Exists(ctx context.Context, idempotencyKey string) (bool, error)
}
