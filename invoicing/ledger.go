/*
ledger.go - Invoice-specific ledger that keeps the invoice record in step

PURPOSE:
  Wraps the generic ledger with the invoicing invariant: the invoice's
  persisted Balance field is the fold of its ledger entries. Record appends
  an entry AND adjusts the invoice balance in the same store scope, so the
  two can never drift apart.

WHY A WRAPPER?
  The generic ledger doesn't know about invoices. It handles entries without
  understanding that each one must be mirrored into a balance column. This
  wrapper enforces that domain-specific constraint, the same way the store
  transaction enforces invoice+client atomicity one level up.

USAGE:
  Always construct the wrapper over the transaction-scoped store handed to
  you by TxStore.WithTx, so the append and the balance write commit (or roll
  back) together.

SEE ALSO:
  - ledger/ledger.go: Base ledger interface
  - cancellation.go, lifecycle.go: The only writers
*/
package invoicing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/billing-engine/ledger"
)

// =============================================================================
// INVOICE LEDGER - Wrapper with the balance-fold invariant
// =============================================================================

// InvoiceLedger records balance changes for an invoice.
//
// INVARIANT: invoice.Balance == fold of all ledger deltas for the invoice.
// Record is the only way the invoicing package changes a balance.
type InvoiceLedger struct {
	store Store
	inner ledger.Ledger
}

// NewInvoiceLedger creates an invoice ledger over the given store. Inside a
// transaction, pass the transaction-scoped store.
func NewInvoiceLedger(store Store) *InvoiceLedger {
	return &InvoiceLedger{
		store: store,
		inner: ledger.NewLedger(store),
	}
}

// Record appends an entry for the invoice and adjusts its balance by delta,
// persisting the new balance. Returns the recorded entry.
func (l *InvoiceLedger) Record(ctx context.Context, inv *Invoice, delta decimal.Decimal, kind ledger.EntryKind, reason string) (ledger.LedgerEntry, error) {
	entry := ledger.LedgerEntry{
		ID:             ledger.EntryID(uuid.NewString()),
		InvoiceID:      inv.ID,
		ClientID:       inv.ClientID,
		Delta:          delta,
		Kind:           kind,
		Reason:         reason,
		IdempotencyKey: uuid.NewString(),
		CreatedAt:      time.Now().UTC(),
	}

	if err := l.inner.Append(ctx, entry); err != nil {
		return ledger.LedgerEntry{}, err
	}

	inv.Balance = inv.Balance.Add(delta)
	inv.UpdatedAt = entry.CreatedAt
	if err := l.store.PutInvoice(ctx, inv); err != nil {
		return ledger.LedgerEntry{}, err
	}
	return entry, nil
}

// Entries returns the invoice's full entry history (delegated).
func (l *InvoiceLedger) Entries(ctx context.Context, invoiceID ledger.InvoiceID) ([]ledger.LedgerEntry, error) {
	return l.inner.Entries(ctx, invoiceID)
}

// BalanceAt reconstructs the invoice balance at a point in time (delegated).
func (l *InvoiceLedger) BalanceAt(ctx context.Context, invoiceID ledger.InvoiceID, at time.Time) (decimal.Decimal, error) {
	return l.inner.BalanceAt(ctx, invoiceID, at)
}
