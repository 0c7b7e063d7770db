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
// INCREMENTAL PROJECTION VS AUTHORITATIVE SUM
// =============================================================================

func TestClientSync_ProjectionMatchesRecomputedSum(t *testing.T) {
	// GIVEN: A client whose invoices are created, resized, cancelled, and
	//        reversed in sequence
	// WHEN: Comparing the incrementally-maintained balance to a from-scratch
	//       recomputation after every operation
	// THEN: They never diverge

	store, lifecycle, cancellations, _ := newTestEnv(t)
	ctx := context.Background()
	sync := invoicing.NewClientSync()

	checkConsistent := func() {
		t.Helper()
		recomputed, err := sync.RecomputeBalance(ctx, store, testClientID)
		require.NoError(t, err)
		assert.True(t, clientBalance(t, store).Equal(recomputed),
			"projection %s != recomputed %s", clientBalance(t, store), recomputed)
	}

	invA, err := lifecycle.Create(ctx, newInvoice("100"))
	require.NoError(t, err)
	checkConsistent()

	invB, err := lifecycle.Create(ctx, newInvoice("250.25"))
	require.NoError(t, err)
	checkConsistent()

	invA, err = lifecycle.Save(ctx, invoicing.SaveData{
		LineItems: []invoicing.LineItem{
			{Description: "Consulting", Quantity: decimal.NewFromInt(2), UnitPrice: decimal.NewFromInt(80)},
		},
	}, invA)
	require.NoError(t, err)
	checkConsistent()

	invB, err = cancellations.Cancel(ctx, invB)
	require.NoError(t, err)
	checkConsistent()

	_, err = cancellations.Reverse(ctx, invB)
	require.NoError(t, err)
	checkConsistent()

	_, err = cancellations.Cancel(ctx, invA)
	require.NoError(t, err)
	checkConsistent()
}

func TestClientSync_ApplyDelta_UnknownClient(t *testing.T) {
	store, _, _, _ := newTestEnv(t)
	ctx := context.Background()
	sync := invoicing.NewClientSync()

	err := sync.ApplyDelta(ctx, store, "missing-client", decimal.NewFromInt(10))
	assert.ErrorIs(t, err, ledger.ErrClientNotFound)
	assert.True(t, ledger.IsNotFound(err))
}

func TestClientSync_RecomputeBalance_NoInvoices(t *testing.T) {
	store, _, _, _ := newTestEnv(t)
	sync := invoicing.NewClientSync()

	total, err := sync.RecomputeBalance(context.Background(), store, testClientID)
	require.NoError(t, err)
	assert.True(t, total.IsZero())
}
