/*
store.go - Persistence interface for invoices and clients

PURPOSE:
  Extends the ledger's append-only store with the mutable records the
  invoicing domain needs: invoice rows and client rows. Both carry a
  version column; writes are optimistic and fail with
  ErrConcurrentModification on a stale version.

TRANSACTION SCOPE:
  Every balance-changing operation runs inside WithTx: re-read, re-check
  preconditions, then mutate invoice + client + append entries as one unit.
  A failure anywhere rolls back everything - the invoice balance and the
  client balance are never updated independently.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Production SQLite
  - store/memory/memory.go: In-memory for testing

SEE ALSO:
  - ledger/store.go: Append-only entry persistence (embedded here)
*/
package invoicing

import (
	"context"

	"github.com/warp/billing-engine/ledger"
)

// =============================================================================
// STORE - Ledger store plus invoice/client records
// =============================================================================

// Store persists invoices and clients alongside ledger entries.
//
// PutInvoice/PutClient use optimistic versioning: a record with Version 0 is
// inserted; otherwise the write only succeeds if the stored version matches,
// and the version is bumped. A mismatch returns ErrConcurrentModification.
type Store interface {
	ledger.Store

	GetInvoice(ctx context.Context, id ledger.InvoiceID) (*Invoice, error)
	PutInvoice(ctx context.Context, inv *Invoice) error
	InvoicesByClient(ctx context.Context, clientID ledger.ClientID) ([]*Invoice, error)

	GetClient(ctx context.Context, id ledger.ClientID) (*Client, error)
	PutClient(ctx context.Context, c *Client) error
}

// =============================================================================
// TRANSACTIONAL STORE - For atomic read-check-write operations
// =============================================================================

// TxStore wraps Store with transaction support.
// Use this for every operation that touches both an invoice and its client.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	// If fn returns nil, the transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
