package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/billing-engine/ledger"
	"github.com/warp/billing-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestLedger() *ledger.DefaultLedger {
	return ledger.NewLedger(memory.New())
}

func entry(invoiceID, id string, delta int64, at time.Time) ledger.LedgerEntry {
	return ledger.LedgerEntry{
		ID:             ledger.EntryID(id),
		InvoiceID:      ledger.InvoiceID(invoiceID),
		ClientID:       "client-1",
		Delta:          decimal.NewFromInt(delta),
		Kind:           ledger.KindAdjustment,
		IdempotencyKey: id,
		CreatedAt:      at,
	}
}

// =============================================================================
// APPEND + FOLD
// =============================================================================

func TestLedger_BalanceIsFoldOfEntries(t *testing.T) {
	// GIVEN: An invoice with an opening entry and two adjustments
	// WHEN: Reconstructing the balance
	// THEN: The balance is the sum of all deltas, in order

	l := newTestLedger()
	ctx := context.Background()
	base := time.Date(2026, time.January, 10, 12, 0, 0, 0, time.UTC)

	require.NoError(t, l.Append(ctx, entry("inv-1", "e-1", 100, base)))
	require.NoError(t, l.Append(ctx, entry("inv-1", "e-2", -100, base.Add(time.Hour))))
	require.NoError(t, l.Append(ctx, entry("inv-1", "e-3", 100, base.Add(2*time.Hour))))

	balance, err := l.BalanceAt(ctx, "inv-1", base.Add(3*time.Hour))
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(100)), "fold of [+100,-100,+100] should be 100")

	// Balance mid-history only folds entries up to that point.
	mid, err := l.BalanceAt(ctx, "inv-1", base.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, mid.IsZero(), "balance after cancellation entry should be 0")
}

func TestLedger_EntriesAreChronological(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()
	base := time.Date(2026, time.January, 10, 12, 0, 0, 0, time.UTC)

	// Appended out of order.
	require.NoError(t, l.Append(ctx, entry("inv-1", "e-2", -50, base.Add(time.Hour))))
	require.NoError(t, l.Append(ctx, entry("inv-1", "e-1", 50, base)))

	entries, err := l.Entries(ctx, "inv-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, ledger.EntryID("e-1"), entries[0].ID)
	assert.Equal(t, ledger.EntryID("e-2"), entries[1].ID)
}

// =============================================================================
// IDEMPOTENCY
// =============================================================================

func TestLedger_DuplicateIdempotencyKey_Rejected(t *testing.T) {
	// GIVEN: An entry already recorded with key "e-1"
	// WHEN: Appending another entry with the same key
	// THEN: The append fails and the history is unchanged

	l := newTestLedger()
	ctx := context.Background()
	at := time.Date(2026, time.January, 10, 12, 0, 0, 0, time.UTC)

	require.NoError(t, l.Append(ctx, entry("inv-1", "e-1", 100, at)))

	dup := entry("inv-1", "e-2", 100, at)
	dup.IdempotencyKey = "e-1"
	err := l.Append(ctx, dup)
	assert.ErrorIs(t, err, ledger.ErrDuplicateIdempotencyKey)
	assert.True(t, ledger.IsClientError(err))

	entries, err := l.Entries(ctx, "inv-1")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

// =============================================================================
// HISTORY HELPERS
// =============================================================================

func TestHistory_Net(t *testing.T) {
	entries := []ledger.LedgerEntry{
		{Delta: decimal.NewFromInt(100)},
		{Delta: decimal.NewFromInt(50)},
		{Delta: decimal.NewFromInt(-70)},
	}

	// Callable straight off a composite literal; no addressable variable needed.
	net := ledger.History{Entries: entries}.Net()
	assert.True(t, net.Equal(decimal.NewFromInt(80)))

	at := ledger.History{Entries: entries}.BalanceAt(time.Now())
	assert.True(t, at.Equal(decimal.NewFromInt(80)))
}
