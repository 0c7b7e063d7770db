/*
ledger.go - Append-only balance change log

PURPOSE:
  The Ledger is the immutable source of truth for all balance changes.
  Every opening balance, recalculation, cancellation, and reversal is
  recorded here. An invoice's outstanding balance is the fold of its
  entries since creation - if the stored balance and the ledger ever
  disagree, the ledger wins.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete. EVER.
  2. IMMUTABLE: Once written, entries cannot be modified
  3. AUDITABLE: Every balance change is traceable with a kind and reason
  4. IDEMPOTENT: Same idempotency key = same entry (no duplicates)

CORRECTIONS:
  If a cancellation must be undone, you don't edit the entry. Instead:
  1. Record a reversal entry (opposite sign, reason tagged "REVERSAL")
  2. Both original and reversal remain in the ledger
  3. Net effect is the correction, but history is preserved

EXAMPLE FLOW:
  1. Invoice created for $100:  opening       +100
  2. Invoice cancelled:         cancellation  -100  "Invoice cancellation"
  3. Cancellation reversed:     reversal      +100  "Invoice cancellation REVERSAL"

  Fold: [+100, -100, +100] = 100 outstanding

SEE ALSO:
  - store.go: Low-level persistence interface
  - invoicing: Domain wrapper that keeps the invoice record in step
*/
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// LEDGER - Append-only entry log
// =============================================================================

// Ledger is the source of truth for all balance changes.
//
// INVARIANTS:
//   - Append-only: No Update, No Delete. EVER.
//   - Immutable: Once written, entries cannot be modified.
//   - Auditable: Every balance change is traceable.
//
// Corrections are made via reversal entries, not edits.
type Ledger interface {
	// Append adds an entry. Fails if its idempotency key exists.
	// This is the ONLY write operation.
	Append(ctx context.Context, e LedgerEntry) error

	// Entries returns all entries for an invoice, chronologically. Read-only.
	Entries(ctx context.Context, invoiceID InvoiceID) ([]LedgerEntry, error)

	// BalanceAt reconstructs the balance at a specific time.
	// This is a derived value, computed from entries.
	BalanceAt(ctx context.Context, invoiceID InvoiceID, at time.Time) (decimal.Decimal, error)
}

// =============================================================================
// DEFAULT LEDGER - Implementation using Store
// =============================================================================

type DefaultLedger struct {
	Store Store
}

func NewLedger(store Store) *DefaultLedger {
	return &DefaultLedger{Store: store}
}

func (l *DefaultLedger) Append(ctx context.Context, e LedgerEntry) error {
	if e.IdempotencyKey != "" {
		exists, err := l.Store.Exists(ctx, e.IdempotencyKey)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicateIdempotencyKey
		}
	}
	return l.Store.Append(ctx, e)
}

func (l *DefaultLedger) Entries(ctx context.Context, invoiceID InvoiceID) ([]LedgerEntry, error) {
	return l.Store.Entries(ctx, invoiceID)
}

func (l *DefaultLedger) BalanceAt(ctx context.Context, invoiceID InvoiceID, at time.Time) (decimal.Decimal, error) {
	entries, err := l.Store.Entries(ctx, invoiceID)
	if err != nil {
		return decimal.Zero, err
	}

	h := History{Entries: entries}
	return h.BalanceAt(at), nil
}
