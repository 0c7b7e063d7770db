/*
lifecycle.go - Invoice creation, saving, and the draft -> sent transition

PURPOSE:
  Owns every status transition except cancellation, and the only legal way
  an invoice's amount changes: a save that runs the calculator and records
  the *net* amount delta into the ledger and the client projection.

STATE MACHINE:
  {Draft} --Save--> {Draft}          (balance may change)
  {Draft} --MarkSent--> {Sent}       (no-op from any other status)
  {Sent|Draft|PartiallyPaid} --Cancel--> {Cancelled}   (cancellation.go)
  {Cancelled} --Reverse--> prior status                (cancellation.go)

SAVE GUARANTEE:
  The client's aggregate balance reflects only the net change
  (finished - starting amount), never a recomputation pass over all of the
  client's invoices.

SEE ALSO:
  - calculator.go: Amount recalculation collaborator
  - cancellation.go: Cancel/Reverse
*/
package invoicing

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/warp/billing-engine/ledger"
)

// =============================================================================
// SAVE DATA - Field updates applied before recalculation
// =============================================================================

// SaveData carries the field updates a save applies. Nil slices/pointers
// leave the corresponding invoice fields unchanged.
type SaveData struct {
	Number      *string
	LineItems   []LineItem
	Invitations []Invitation
}

// =============================================================================
// LIFECYCLE
// =============================================================================

type Lifecycle struct {
	store    TxStore
	calc     BalanceCalculator
	settings Settings
	clients  *ClientSync
	events   *Dispatcher
}

func NewLifecycle(store TxStore, calc BalanceCalculator, settings Settings, events *Dispatcher) *Lifecycle {
	return &Lifecycle{
		store:    store,
		calc:     calc,
		settings: settings,
		clients:  NewClientSync(),
		events:   events,
	}
}

// Create persists a new Draft invoice. The calculator derives the amount,
// an opening ledger entry sets balance == amount, and the client's
// aggregate balance picks up the new outstanding amount.
func (l *Lifecycle) Create(ctx context.Context, inv *Invoice) (*Invoice, error) {
	var result *Invoice
	err := l.store.WithTx(ctx, func(s Store) error {
		built := l.calc.Build(inv, l.settings)
		if built.ID == "" {
			built.ID = ledger.InvoiceID(uuid.NewString())
		}
		now := time.Now().UTC()
		built.Status = StatusDraft
		built.Version = 0
		built.CreatedAt = now
		built.UpdatedAt = now

		if err := s.PutInvoice(ctx, built); err != nil {
			return err
		}

		led := NewInvoiceLedger(s)
		if _, err := led.Record(ctx, built, built.Amount, ledger.KindOpening, "Invoice created"); err != nil {
			return err
		}
		if !built.Amount.IsZero() {
			if err := l.clients.ApplyDelta(ctx, s, built.ClientID, built.Amount); err != nil {
				return err
			}
		}

		result = built
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.events.Emit(Event{Type: EventInvoiceCreated, InvoiceID: result.ID, ClientID: result.ClientID})
	return result, nil
}

// Save applies field updates, recalculates the amount, and persists. If the
// amount changed, the net delta is recorded in the ledger (attributed as an
// amount change, distinct from a cancellation) and mirrored to the client.
func (l *Lifecycle) Save(ctx context.Context, data SaveData, inv *Invoice) (*Invoice, error) {
	var result *Invoice
	err := l.store.WithTx(ctx, func(s Store) error {
		cur, err := s.GetInvoice(ctx, inv.ID)
		if err != nil {
			return err
		}

		// Always carry forward the initial amount; client balance tracking
		// depends on the net change, not the final value.
		startingAmount := cur.Amount

		applySaveData(cur, data)
		built := l.calc.Build(cur, l.settings)
		built.UpdatedAt = time.Now().UTC()

		if err := s.PutInvoice(ctx, built); err != nil {
			return err
		}

		finishedAmount := built.Amount
		if !finishedAmount.Equal(startingAmount) {
			delta := finishedAmount.Sub(startingAmount)
			led := NewInvoiceLedger(s)
			if _, err := led.Record(ctx, built, delta, ledger.KindAmountChange, "Invoice amount recalculated"); err != nil {
				return err
			}
			if err := l.clients.ApplyDelta(ctx, s, built.ClientID, delta); err != nil {
				return err
			}
		}

		result = built
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.events.Emit(Event{Type: EventInvoiceUpdated, InvoiceID: result.ID, ClientID: result.ClientID})
	return result, nil
}

// MarkSent transitions a Draft invoice to Sent and stamps every unsent
// invitation with a sent timestamp, exactly once. On any other status it is
// an idempotent no-op: the invoice is returned unchanged and no event fires.
func (l *Lifecycle) MarkSent(ctx context.Context, inv *Invoice) (*Invoice, error) {
	var result *Invoice
	transitioned := false
	err := l.store.WithTx(ctx, func(s Store) error {
		cur, err := s.GetInvoice(ctx, inv.ID)
		if err != nil {
			return err
		}

		// Return immediately if status is not draft.
		if cur.Status != StatusDraft {
			result = cur
			return nil
		}

		now := time.Now().UTC()
		cur.Status = StatusSent
		for i := range cur.Invitations {
			if cur.Invitations[i].SentAt == nil {
				sentAt := now
				cur.Invitations[i].SentAt = &sentAt
			}
		}
		cur.UpdatedAt = now

		if err := s.PutInvoice(ctx, cur); err != nil {
			return err
		}

		result = cur
		transitioned = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if transitioned {
		l.events.Emit(Event{Type: EventInvoiceSent, InvoiceID: result.ID, ClientID: result.ClientID})
	}
	return result, nil
}

func applySaveData(inv *Invoice, data SaveData) {
	if data.Number != nil {
		inv.Number = *data.Number
	}
	if data.LineItems != nil {
		inv.LineItems = data.LineItems
	}
	if data.Invitations != nil {
		inv.Invitations = data.Invitations
	}
}
