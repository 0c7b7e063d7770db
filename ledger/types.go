/*
Package ledger provides the financial record-keeping core.

PURPOSE:
  This package contains the domain-agnostic types and contracts for tracking
  monetary balance changes. Every change to an invoice's outstanding balance
  is recorded here as an immutable ledger entry; the balance itself is the
  fold of all entries recorded since the invoice was created.

KEY CONCEPTS IN THIS FILE (types.go):
  - LedgerEntry: An immutable record of a single balance change
  - EntryKind: Classification of why the balance changed
  - Invoice/Client/Entry IDs: Type-safe identifiers

DESIGN PRINCIPLES:
  1. Immutability: Entries are never modified, only reversed
  2. Precision: Uses decimal.Decimal to avoid floating-point errors
  3. Type Safety: Strong typing for IDs prevents mixing invoice/client IDs
  4. Auditability: Every entry has a kind, reason, and idempotency key

SEE ALSO:
  - ledger.go: Append and balance reconstruction
  - store.go: Low-level persistence interface
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type InvoiceID string
type ClientID string
type EntryID string

// =============================================================================
// LEDGER ENTRY - Atomic change to an invoice balance
// =============================================================================

type EntryKind string

const (
	KindOpening      EntryKind = "opening"       // Initial balance when the invoice is created
	KindAmountChange EntryKind = "amount_change" // Recalculated total changed the outstanding balance
	KindCancellation EntryKind = "cancellation"  // Balance driven to zero by cancellation
	KindReversal     EntryKind = "reversal"      // Undo of a previous cancellation
	KindAdjustment   EntryKind = "adjustment"    // Manual admin correction
)

// Well-known reasons carried on cancellation entries. The reversal reason is
// derived from the cancellation reason so the pair is greppable in audits.
const (
	ReasonCancellation         = "Invoice cancellation"
	ReasonCancellationReversal = "Invoice cancellation REVERSAL"
)

type LedgerEntry struct {
	ID             EntryID
	InvoiceID      InvoiceID
	ClientID       ClientID
	Delta          decimal.Decimal
	Kind           EntryKind
	Reason         string
	IdempotencyKey string
	CreatedAt      time.Time
}

// =============================================================================
// HISTORY - Fold of entries over time
// =============================================================================

// History is an ordered view of entries used for balance reconstruction.
type History struct {
	Entries []LedgerEntry
}

// BalanceAt folds deltas up to and including the given time.
func (h History) BalanceAt(at time.Time) decimal.Decimal {
	balance := decimal.Zero
	for _, e := range h.Entries {
		if e.CreatedAt.After(at) {
			break
		}
		balance = balance.Add(e.Delta)
	}
	return balance
}

// Net returns the sum of all deltas in the history.
func (h History) Net() decimal.Decimal {
	total := decimal.Zero
	for _, e := range h.Entries {
		total = total.Add(e.Delta)
	}
	return total
}
