/*
cancellation.go - Reversible invoice cancellation

PURPOSE:
  Cancelling an invoice zeroes its outstanding balance; the adjustment that
  did so is snapshotted into the invoice's single backup slot BEFORE any
  balance mutation, so the cancellation can later be reversed bit-for-bit.

ROUND-TRIP LAW:
  For a cancellable invoice with balance B and status S:
    Reverse(Cancel(invoice)) yields balance == B and status == S,
  and the client's aggregate balance is unchanged net of the two operations.

DOUBLE-CANCEL SAFETY:
  Cancel re-reads the invoice and re-checks cancellability inside the store
  transaction. A second concurrent cancel observes Cancelled and no-ops; a
  racing stale write is rejected by the version check and rolls back whole.
  If the backup slot somehow already holds a record, it is overwritten -
  cancellations never stack.

ERROR HANDLING:
  Cancel on a non-cancellable invoice: idempotent no-op, never an error.
  Reverse without a backed-up cancellation: InvalidReversalError. Proceeding
  silently would apply a bogus adjustment.

SEE ALSO:
  - ledger.go: Balance mutation goes through the invoice ledger
  - clientsync.go: The client picks up the same adjustment
*/
package invoicing

import (
	"context"
	"fmt"
	"time"

	"github.com/warp/billing-engine/ledger"
)

// =============================================================================
// CANCELLATION MANAGER
// =============================================================================

type CancellationManager struct {
	store   TxStore
	clients *ClientSync
	events  *Dispatcher
}

func NewCancellationManager(store TxStore, events *Dispatcher) *CancellationManager {
	return &CancellationManager{
		store:   store,
		clients: NewClientSync(),
		events:  events,
	}
}

// Cancel drives the invoice balance to zero and transitions it to Cancelled.
// The pre-cancel adjustment and status are backed up first so Reverse can
// restore them exactly. Not-cancellable invoices are returned unchanged.
func (m *CancellationManager) Cancel(ctx context.Context, inv *Invoice) (*Invoice, error) {
	var result *Invoice
	cancelled := false
	err := m.store.WithTx(ctx, func(s Store) error {
		cur, err := s.GetInvoice(ctx, inv.ID)
		if err != nil {
			return err
		}

		// Check again, on fresh state, inside the transaction.
		if !cur.Cancellable() {
			result = cur
			return nil
		}

		adjustment := cur.Balance.Neg()

		// Backup the cancellation in case we ever need to reverse it.
		// Written and persisted before the balance moves.
		if cur.Backup == nil {
			cur.Backup = &Backup{}
		}
		cur.Backup.Cancellation = &CancellationRecord{
			Adjustment:  adjustment,
			PriorStatus: cur.Status,
		}
		cur.UpdatedAt = time.Now().UTC()
		if err := s.PutInvoice(ctx, cur); err != nil {
			return err
		}

		// Set invoice balance to 0.
		led := NewInvoiceLedger(s)
		if _, err := led.Record(ctx, cur, adjustment, ledger.KindCancellation, ledger.ReasonCancellation); err != nil {
			return err
		}

		cur.Status = StatusCancelled
		if err := s.PutInvoice(ctx, cur); err != nil {
			return err
		}

		// Adjust client balance by the same amount.
		if err := m.clients.ApplyDelta(ctx, s, cur.ClientID, adjustment); err != nil {
			return err
		}

		result = cur
		cancelled = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if cancelled {
		m.events.Emit(Event{Type: EventInvoiceCancelled, InvoiceID: result.ID, ClientID: result.ClientID})
	}
	return result, nil
}

// Reverse undoes a prior cancellation: records the exact inverse adjustment,
// restores the pre-cancel status, mirrors the adjustment to the client, and
// clears the backup slot. Requires a backed-up cancellation record.
func (m *CancellationManager) Reverse(ctx context.Context, inv *Invoice) (*Invoice, error) {
	var result *Invoice
	err := m.store.WithTx(ctx, func(s Store) error {
		cur, err := s.GetInvoice(ctx, inv.ID)
		if err != nil {
			return err
		}

		if cur.Backup == nil || cur.Backup.Cancellation == nil {
			return &InvalidReversalError{InvoiceID: cur.ID}
		}
		cancellation := cur.Backup.Cancellation

		adjustment := cancellation.Adjustment.Neg()

		led := NewInvoiceLedger(s)
		if _, err := led.Record(ctx, cur, adjustment, ledger.KindReversal, ledger.ReasonCancellationReversal); err != nil {
			return err
		}

		// Restore the invoice status, then pop the cancellation out of the
		// backup slot. The slot itself stays.
		cur.Status = cancellation.PriorStatus
		cur.Backup.Cancellation = nil
		cur.UpdatedAt = time.Now().UTC()
		if err := s.PutInvoice(ctx, cur); err != nil {
			return err
		}

		if err := m.clients.ApplyDelta(ctx, s, cur.ClientID, adjustment); err != nil {
			return err
		}

		result = cur
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.events.Emit(Event{Type: EventCancellationReversed, InvoiceID: result.ID, ClientID: result.ClientID})
	return result, nil
}

// =============================================================================
// ERROR TYPES
// =============================================================================

// InvalidReversalError is returned when reversing an invoice that has no
// backed-up cancellation.
type InvalidReversalError struct {
	InvoiceID ledger.InvoiceID
}

func (e *InvalidReversalError) Error() string {
	return fmt.Sprintf("invoice %s has no cancellation backup to reverse", e.InvoiceID)
}

func (e *InvalidReversalError) Unwrap() error {
	return ledger.ErrInvalidReversal
}
