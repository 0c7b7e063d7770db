package invoicing_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/billing-engine/invoicing"
	"github.com/warp/billing-engine/ledger"
)

// =============================================================================
// CANCEL
// =============================================================================

func TestCancellation_Cancel(t *testing.T) {
	// GIVEN: A sent invoice for 100.00, fully outstanding
	// WHEN: Cancelling it
	// THEN: Balance drops to 0, status is Cancelled, the adjustment is backed
	//       up, and the client's balance loses the 100

	store, lifecycle, cancellations, sink := newTestEnv(t)
	ctx := context.Background()

	inv, err := lifecycle.Create(ctx, newInvoice("100"))
	require.NoError(t, err)
	inv, err = lifecycle.MarkSent(ctx, inv)
	require.NoError(t, err)

	cancelled, err := cancellations.Cancel(ctx, inv)
	require.NoError(t, err)

	assert.Equal(t, invoicing.StatusCancelled, cancelled.Status)
	assert.True(t, cancelled.Balance.IsZero())

	require.NotNil(t, cancelled.Backup)
	require.NotNil(t, cancelled.Backup.Cancellation)
	assert.True(t, cancelled.Backup.Cancellation.Adjustment.Equal(decimal.NewFromInt(-100)))
	assert.Equal(t, invoicing.StatusSent, cancelled.Backup.Cancellation.PriorStatus)

	entries, err := store.Entries(ctx, inv.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, ledger.KindCancellation, entries[1].Kind)
	assert.Equal(t, ledger.ReasonCancellation, entries[1].Reason)
	assert.True(t, entries[1].Delta.Equal(decimal.NewFromInt(-100)))

	assert.True(t, clientBalance(t, store).IsZero())
	waitForEvent(t, sink, invoicing.EventInvoiceCancelled)
}

func TestCancellation_Cancel_AlreadyCancelled_NoOp(t *testing.T) {
	// GIVEN: An invoice that has been cancelled
	// WHEN: Cancelling it again
	// THEN: Nothing changes; no new entry, no second adjustment

	store, lifecycle, cancellations, _ := newTestEnv(t)
	ctx := context.Background()

	inv, err := lifecycle.Create(ctx, newInvoice("100"))
	require.NoError(t, err)
	inv, err = cancellations.Cancel(ctx, inv)
	require.NoError(t, err)

	again, err := cancellations.Cancel(ctx, inv)
	require.NoError(t, err)

	assert.Equal(t, invoicing.StatusCancelled, again.Status)
	assert.True(t, again.Backup.Cancellation.Adjustment.Equal(decimal.NewFromInt(-100)),
		"backup keeps the original adjustment, cancellations never stack")

	entries, err := store.Entries(ctx, inv.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "opening + one cancellation, nothing more")
	assert.True(t, clientBalance(t, store).IsZero())
}

func TestCancellation_Cancel_PaidInvoice_NoOp(t *testing.T) {
	store, lifecycle, cancellations, _ := newTestEnv(t)
	ctx := context.Background()

	inv, err := lifecycle.Create(ctx, newInvoice("100"))
	require.NoError(t, err)

	// Force the terminal status directly; payment application lives upstream.
	inv.Status = invoicing.StatusPaid
	require.NoError(t, store.PutInvoice(ctx, inv))

	result, err := cancellations.Cancel(ctx, inv)
	require.NoError(t, err)
	assert.Equal(t, invoicing.StatusPaid, result.Status)
	assert.Nil(t, result.Backup)
}

// =============================================================================
// REVERSE
// =============================================================================

func TestCancellation_RoundTrip(t *testing.T) {
	// GIVEN: A sent 100.00 invoice
	// WHEN: Cancelling and then reversing the cancellation
	// THEN: Balance, status, and client balance are restored exactly, and the
	//       ledger holds the full audit trail of both moves

	store, lifecycle, cancellations, sink := newTestEnv(t)
	ctx := context.Background()

	inv, err := lifecycle.Create(ctx, newInvoice("100"))
	require.NoError(t, err)
	inv, err = lifecycle.MarkSent(ctx, inv)
	require.NoError(t, err)

	balanceBefore := inv.Balance
	clientBefore := clientBalance(t, store)

	cancelled, err := cancellations.Cancel(ctx, inv)
	require.NoError(t, err)
	restored, err := cancellations.Reverse(ctx, cancelled)
	require.NoError(t, err)

	assert.True(t, restored.Balance.Equal(balanceBefore))
	assert.Equal(t, invoicing.StatusSent, restored.Status)
	assert.Nil(t, restored.Backup.Cancellation, "the backup slot is cleared after a reversal")
	assert.True(t, clientBalance(t, store).Equal(clientBefore))

	entries, err := store.Entries(ctx, inv.ID)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, ledger.KindReversal, entries[2].Kind)
	assert.Equal(t, ledger.ReasonCancellationReversal, entries[2].Reason)
	assert.True(t, entries[2].Delta.Equal(decimal.NewFromInt(100)))

	net := ledger.History{Entries: entries}.Net()
	assert.True(t, net.Equal(restored.Balance), "the fold of the ledger equals the restored balance")

	waitForEvent(t, sink, invoicing.EventCancellationReversed)
}

func TestCancellation_Reverse_WithoutBackup(t *testing.T) {
	// GIVEN: An invoice that was never cancelled
	// WHEN: Reversing it
	// THEN: InvalidReversalError; nothing written

	store, lifecycle, cancellations, _ := newTestEnv(t)
	ctx := context.Background()

	inv, err := lifecycle.Create(ctx, newInvoice("100"))
	require.NoError(t, err)

	_, err = cancellations.Reverse(ctx, inv)
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrInvalidReversal)

	var irErr *invoicing.InvalidReversalError
	require.ErrorAs(t, err, &irErr)
	assert.Equal(t, inv.ID, irErr.InvoiceID)

	entries, err := store.Entries(ctx, inv.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "a failed reversal must not touch the ledger")
	assert.True(t, clientBalance(t, store).Equal(decimal.NewFromInt(100)))
}

func TestCancellation_Reverse_Twice(t *testing.T) {
	// GIVEN: A cancellation that has already been reversed
	// WHEN: Reversing again
	// THEN: The cleared backup slot rejects the second reversal

	_, lifecycle, cancellations, _ := newTestEnv(t)
	ctx := context.Background()

	inv, err := lifecycle.Create(ctx, newInvoice("100"))
	require.NoError(t, err)
	inv, err = cancellations.Cancel(ctx, inv)
	require.NoError(t, err)
	inv, err = cancellations.Reverse(ctx, inv)
	require.NoError(t, err)

	_, err = cancellations.Reverse(ctx, inv)
	assert.ErrorIs(t, err, ledger.ErrInvalidReversal)
}

func TestCancellation_CancelDraft_RestoresDraft(t *testing.T) {
	// The prior status round-trips whatever it was, not just Sent.
	_, lifecycle, cancellations, _ := newTestEnv(t)
	ctx := context.Background()

	inv, err := lifecycle.Create(ctx, newInvoice("42.75"))
	require.NoError(t, err)

	cancelled, err := cancellations.Cancel(ctx, inv)
	require.NoError(t, err)
	assert.Equal(t, invoicing.StatusDraft, cancelled.Backup.Cancellation.PriorStatus)

	restored, err := cancellations.Reverse(ctx, cancelled)
	require.NoError(t, err)
	assert.Equal(t, invoicing.StatusDraft, restored.Status)
	assert.True(t, restored.Balance.Equal(decimal.RequireFromString("42.75")))
}
