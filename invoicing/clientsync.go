/*
clientsync.go - Incremental client balance projection

PURPOSE:
  A client's aggregate balance mirrors the sum of its invoices' outstanding
  balances. It is maintained incrementally: every balance-changing code path
  applies its delta here exactly once. No code path recomputes the sum from
  scratch - that keeps every update O(1) instead of O(invoices).

CONSISTENCY:
  Because the projection is never rebuilt inline, its correctness depends on
  the transaction scope in lifecycle.go and cancellation.go: the invoice
  mutation and the client delta commit together or not at all.
  RecomputeBalance exists for audits and tests to check the projection
  against the authoritative sum; production write paths never call it.

SEE ALSO:
  - lifecycle.go, cancellation.go: The only callers of ApplyDelta
*/
package invoicing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/billing-engine/ledger"
)

// =============================================================================
// CLIENT SYNC
// =============================================================================

type ClientSync struct{}

func NewClientSync() *ClientSync {
	return &ClientSync{}
}

// ApplyDelta adds delta to the client's aggregate balance and persists it.
// Call inside the same store transaction as the invoice mutation that
// produced the delta.
func (cs *ClientSync) ApplyDelta(ctx context.Context, s Store, clientID ledger.ClientID, delta decimal.Decimal) error {
	client, err := s.GetClient(ctx, clientID)
	if err != nil {
		return err
	}

	client.Balance = client.Balance.Add(delta)
	client.UpdatedAt = time.Now().UTC()
	return s.PutClient(ctx, client)
}

// RecomputeBalance sums the outstanding balances of all invoices owned by
// the client. Audit/test helper only - write paths rely on ApplyDelta.
func (cs *ClientSync) RecomputeBalance(ctx context.Context, s Store, clientID ledger.ClientID) (decimal.Decimal, error) {
	invoices, err := s.InvoicesByClient(ctx, clientID)
	if err != nil {
		return decimal.Zero, err
	}

	total := decimal.Zero
	for _, inv := range invoices {
		total = total.Add(inv.Balance)
	}
	return total, nil
}
