/*
Package invoicing implements the invoice lifecycle on top of the ledger core.

PURPOSE:
  Wraps the generic ledger with invoice-specific business rules: status
  transitions, amount recalculation, reversible cancellation, and the
  client's incrementally-maintained aggregate balance.

KEY CONCEPTS IN THIS FILE (types.go):
  - Invoice: The financial document; Balance is the outstanding amount owed
  - CancellationRecord: Single-slot reversible snapshot of a cancellation
  - Client: Owner of invoices; Balance mirrors the sum of invoice balances
  - Invitation: Recipient contact; stamped once when the invoice is sent

INVARIANTS:
  - 0 <= Balance <= Amount under normal operation; cancellation drives
    Balance to exactly 0
  - Backup.Cancellation is non-nil only between a successful cancellation
    and its reversal
  - At most one CancellationRecord exists per invoice; cancellations never
    stack

SEE ALSO:
  - lifecycle.go: Save, MarkSent, status transitions
  - cancellation.go: Cancel and Reverse
  - clientsync.go: Incremental client balance projection
*/
package invoicing

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/billing-engine/ledger"
)

// =============================================================================
// INVOICE STATUS
// =============================================================================

type Status string

const (
	StatusDraft         Status = "draft"
	StatusSent          Status = "sent"
	StatusCancelled     Status = "cancelled"
	StatusPaid          Status = "paid"
	StatusPartiallyPaid Status = "partially_paid"
)

// =============================================================================
// INVOICE
// =============================================================================

type Invoice struct {
	ID          ledger.InvoiceID
	ClientID    ledger.ClientID
	Number      string
	Status      Status
	Amount      decimal.Decimal // current total, set by the calculator
	Balance     decimal.Decimal // outstanding amount owed
	LineItems   []LineItem
	Invitations []Invitation
	Backup      *Backup

	// Version backs optimistic concurrency in the store. A write with a
	// stale version fails with ErrConcurrentModification.
	Version int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Cancellable reports whether the invoice may be cancelled.
// Already-cancelled and fully-paid invoices cannot be cancelled.
func (inv *Invoice) Cancellable() bool {
	switch inv.Status {
	case StatusDraft, StatusSent, StatusPartiallyPaid:
		return true
	default:
		return false
	}
}

// =============================================================================
// CANCELLATION BACKUP - Single reversible slot
// =============================================================================

// Backup is the invoice's single-slot backup structure. The slot itself may
// outlive a reversal; only the cancellation record inside it is cleared.
type Backup struct {
	Cancellation *CancellationRecord
}

// CancellationRecord snapshots what a cancellation changed, so it can be
// reversed exactly. Adjustment is always the negated pre-cancel balance.
type CancellationRecord struct {
	Adjustment  decimal.Decimal
	PriorStatus Status
}

// =============================================================================
// CLIENT
// =============================================================================

// Client owns invoices. Balance is a derived projection: the sum of all
// owned invoices' outstanding balances, maintained incrementally via deltas
// rather than recomputed on every change.
type Client struct {
	ID      ledger.ClientID
	Name    string
	Balance decimal.Decimal

	Version int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// =============================================================================
// LINE ITEMS AND INVITATIONS
// =============================================================================

type LineItem struct {
	Description  string
	Quantity     decimal.Decimal
	UnitPrice    decimal.Decimal
	DiscountRate decimal.Decimal // fraction, e.g. 0.10 for 10%
	TaxRate      decimal.Decimal // fraction, e.g. 0.20 for 20%
	Total        decimal.Decimal // derived by the calculator
}

// Invitation links an invoice to a recipient contact. SentAt is stamped the
// first time the invoice is marked sent and never overwritten.
type Invitation struct {
	ID        string
	ContactID string
	SentAt    *time.Time
}
