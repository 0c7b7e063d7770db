package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/billing-engine/invoicing"
	"github.com/warp/billing-engine/ledger"
	"github.com/warp/billing-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testEntry(id string, delta int64) ledger.LedgerEntry {
	return ledger.LedgerEntry{
		ID:             ledger.EntryID(id),
		InvoiceID:      "inv-1",
		ClientID:       "client-1",
		Delta:          decimal.NewFromInt(delta),
		Kind:           ledger.KindAdjustment,
		Reason:         "test adjustment",
		IdempotencyKey: id,
		CreatedAt:      time.Now().UTC(),
	}
}

func testInvoice(id string) *invoicing.Invoice {
	now := time.Now().UTC()
	return &invoicing.Invoice{
		ID:       ledger.InvoiceID(id),
		ClientID: "client-1",
		Number:   "INV-0001",
		Status:   invoicing.StatusDraft,
		Amount:   decimal.RequireFromString("100.50"),
		Balance:  decimal.RequireFromString("100.50"),
		LineItems: []invoicing.LineItem{
			{
				Description: "Consulting",
				Quantity:    decimal.NewFromInt(1),
				UnitPrice:   decimal.RequireFromString("100.50"),
				Total:       decimal.RequireFromString("100.50"),
			},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// =============================================================================
// LEDGER ENTRIES
// =============================================================================

func TestSQLite_Entries_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	e := testEntry("e-1", 100)
	require.NoError(t, store.Append(ctx, e))

	entries, err := store.Entries(ctx, "inv-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)

	got := entries[0]
	assert.Equal(t, e.ID, got.ID)
	assert.Equal(t, e.Kind, got.Kind)
	assert.Equal(t, e.Reason, got.Reason)
	assert.Equal(t, e.IdempotencyKey, got.IdempotencyKey)
	assert.True(t, got.Delta.Equal(e.Delta))
	assert.WithinDuration(t, e.CreatedAt, got.CreatedAt, time.Millisecond)
}

func TestSQLite_Append_DuplicateIdempotencyKey(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, testEntry("e-1", 100)))

	dup := testEntry("e-2", 50)
	dup.IdempotencyKey = "e-1"
	err := store.Append(ctx, dup)
	assert.ErrorIs(t, err, ledger.ErrDuplicateIdempotencyKey)

	exists, err := store.Exists(ctx, "e-1")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestSQLite_EntriesInRange(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

	for i, offset := range []time.Duration{0, time.Hour, 2 * time.Hour} {
		e := testEntry(string(rune('a'+i)), 10)
		e.CreatedAt = base.Add(offset)
		require.NoError(t, store.Append(ctx, e))
	}

	entries, err := store.EntriesInRange(ctx, "inv-1", base, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

// =============================================================================
// INVOICES
// =============================================================================

func TestSQLite_Invoice_RoundTrip(t *testing.T) {
	// GIVEN: An invoice with line items, invitations, and a cancellation backup
	// WHEN: Persisting and re-reading it
	// THEN: Every field survives, JSON columns included

	store := newTestStore(t)
	ctx := context.Background()

	sentAt := time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)
	inv := testInvoice("inv-1")
	inv.Invitations = []invoicing.Invitation{
		{ID: "invite-1", ContactID: "contact-1", SentAt: &sentAt},
		{ID: "invite-2", ContactID: "contact-2"},
	}
	inv.Backup = &invoicing.Backup{
		Cancellation: &invoicing.CancellationRecord{
			Adjustment:  decimal.RequireFromString("-100.50"),
			PriorStatus: invoicing.StatusSent,
		},
	}

	require.NoError(t, store.PutInvoice(ctx, inv))
	assert.Equal(t, int64(1), inv.Version)

	got, err := store.GetInvoice(ctx, "inv-1")
	require.NoError(t, err)

	assert.Equal(t, inv.Number, got.Number)
	assert.Equal(t, invoicing.StatusDraft, got.Status)
	assert.True(t, got.Amount.Equal(inv.Amount))
	assert.True(t, got.Balance.Equal(inv.Balance))
	require.Len(t, got.LineItems, 1)
	assert.Equal(t, "Consulting", got.LineItems[0].Description)
	require.Len(t, got.Invitations, 2)
	require.NotNil(t, got.Invitations[0].SentAt)
	assert.True(t, got.Invitations[0].SentAt.Equal(sentAt))
	assert.Nil(t, got.Invitations[1].SentAt)
	require.NotNil(t, got.Backup)
	require.NotNil(t, got.Backup.Cancellation)
	assert.True(t, got.Backup.Cancellation.Adjustment.Equal(decimal.RequireFromString("-100.50")))
	assert.Equal(t, invoicing.StatusSent, got.Backup.Cancellation.PriorStatus)
	assert.Equal(t, int64(1), got.Version)
}

func TestSQLite_Invoice_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetInvoice(context.Background(), "missing")
	assert.ErrorIs(t, err, ledger.ErrInvoiceNotFound)
	assert.True(t, ledger.IsNotFound(err))
}

func TestSQLite_Invoice_VersionConflict(t *testing.T) {
	// GIVEN: Two readers holding the same invoice version
	// WHEN: Both write
	// THEN: The first wins, the second gets ErrConcurrentModification

	store := newTestStore(t)
	ctx := context.Background()

	inv := testInvoice("inv-1")
	require.NoError(t, store.PutInvoice(ctx, inv))

	first, err := store.GetInvoice(ctx, "inv-1")
	require.NoError(t, err)
	second, err := store.GetInvoice(ctx, "inv-1")
	require.NoError(t, err)

	first.Number = "INV-0002"
	require.NoError(t, store.PutInvoice(ctx, first))
	assert.Equal(t, int64(2), first.Version)

	second.Number = "INV-0003"
	err = store.PutInvoice(ctx, second)
	assert.ErrorIs(t, err, ledger.ErrConcurrentModification)
	assert.True(t, ledger.IsRetryable(err))
}

func TestSQLite_Invoice_InsertConflict(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.PutInvoice(ctx, testInvoice("inv-1")))

	err := store.PutInvoice(ctx, testInvoice("inv-1"))
	assert.ErrorIs(t, err, ledger.ErrConcurrentModification)
}

func TestSQLite_InvoicesByClient(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := testInvoice("inv-a")
	b := testInvoice("inv-b")
	other := testInvoice("inv-other")
	other.ClientID = "client-2"
	require.NoError(t, store.PutInvoice(ctx, a))
	require.NoError(t, store.PutInvoice(ctx, b))
	require.NoError(t, store.PutInvoice(ctx, other))

	invoices, err := store.InvoicesByClient(ctx, "client-1")
	require.NoError(t, err)
	assert.Len(t, invoices, 2)
}

// =============================================================================
// CLIENTS
// =============================================================================

func TestSQLite_Client_RoundTripAndVersioning(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	c := &invoicing.Client{
		ID:        "client-1",
		Name:      "Acme Corp",
		Balance:   decimal.RequireFromString("12.34"),
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, store.PutClient(ctx, c))
	assert.Equal(t, int64(1), c.Version)

	got, err := store.GetClient(ctx, "client-1")
	require.NoError(t, err)
	assert.Equal(t, "Acme Corp", got.Name)
	assert.True(t, got.Balance.Equal(decimal.RequireFromString("12.34")))

	stale := *got
	got.Balance = decimal.NewFromInt(50)
	require.NoError(t, store.PutClient(ctx, got))

	stale.Balance = decimal.NewFromInt(99)
	err = store.PutClient(ctx, &stale)
	assert.ErrorIs(t, err, ledger.ErrConcurrentModification)

	_, err = store.GetClient(ctx, "missing")
	assert.ErrorIs(t, err, ledger.ErrClientNotFound)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestSQLite_WithTx_RollbackOnError(t *testing.T) {
	// GIVEN: A transaction that writes an entry and an invoice, then fails
	// WHEN: The function returns an error
	// THEN: Neither write is visible afterwards

	store := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.WithTx(ctx, func(s invoicing.Store) error {
		if err := s.Append(ctx, testEntry("e-1", 100)); err != nil {
			return err
		}
		if err := s.PutInvoice(ctx, testInvoice("inv-1")); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	entries, err := store.Entries(ctx, "inv-1")
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = store.GetInvoice(ctx, "inv-1")
	assert.ErrorIs(t, err, ledger.ErrInvoiceNotFound)
}

func TestSQLite_WithTx_CommitsAtomically(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.WithTx(ctx, func(s invoicing.Store) error {
		if err := s.Append(ctx, testEntry("e-1", 100)); err != nil {
			return err
		}
		return s.PutInvoice(ctx, testInvoice("inv-1"))
	})
	require.NoError(t, err)

	entries, err := store.Entries(ctx, "inv-1")
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	inv, err := store.GetInvoice(ctx, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), inv.Version)
}

// =============================================================================
// ACTIVITY LOG
// =============================================================================

func TestSQLite_ActivityLog(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, time.March, 3, 10, 0, 0, 0, time.UTC)

	require.NoError(t, store.Notify(ctx, invoicing.Event{
		Type: invoicing.EventInvoiceCreated, InvoiceID: "inv-1", ClientID: "client-1", At: base,
	}))
	require.NoError(t, store.Notify(ctx, invoicing.Event{
		Type: invoicing.EventInvoiceCancelled, InvoiceID: "inv-1", ClientID: "client-1", At: base.Add(time.Minute),
	}))

	events, err := store.Activity(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, invoicing.EventInvoiceCancelled, events[0].Type, "newest first")
	assert.Equal(t, invoicing.EventInvoiceCreated, events[1].Type)

	limited, err := store.Activity(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}
