package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/stock-allocation/internal/core/domain"
)

func newTestReconciler() *Reconciler {
	ledger := NewLedger()
	now := func() time.Time { return time.Unix(0, 0).UTC() }
	n := 0
	newID := func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
	return NewReconciler(NewResolver(ledger), NewTransaction(ledger, now, newID), now, newID)
}

// allocateCommitted creates a sale through rec in its own unit of work.
func allocateCommitted(t *testing.T, f *fixture, rec *Reconciler, req domain.CreateRequest) domain.SaleResult {
	t.Helper()
	tx, err := f.ledger.Begin(context.Background())
	require.NoError(t, err)
	r, err := rec.Create(context.Background(), tx, req)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	return r
}

func requireSameAllocations(t *testing.T, want, got []domain.Allocation) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].ID, got[i].ID)
		assert.Equal(t, want[i].BatchID, got[i].BatchID)
		assert.True(t, want[i].Quantity.Equal(got[i].Quantity), "allocation %s: want %s got %s", want[i].ID, want[i].Quantity, got[i].Quantity)
	}
}

func TestReconcilerUpdate_RestoresOriginalInsideUnit(t *testing.T) {
	f := newFixture(t, "409.5")
	rec := newTestReconciler()
	ctx := context.Background()
	orig := allocateCommitted(t, f, rec, domain.CreateRequest{SaleID: "s-1", ItemID: f.item.ID, Quantity: domain.Qty("100")})
	allocateCommitted(t, f, rec, domain.CreateRequest{SaleID: "s-2", ItemID: f.item.ID, Quantity: domain.Qty("250")})

	tx, err := f.ledger.Begin(ctx)
	require.NoError(t, err)
	_, err = rec.Update(ctx, tx, domain.UpdateRequest{SaleID: "s-1", Quantity: domain.Qty("200")})
	require.ErrorIs(t, err, domain.ErrInsufficientStock)

	// same unit, before any rollback
	held, err := tx.ListAllocationsBySale(ctx, "s-1")
	require.NoError(t, err)
	requireSameAllocations(t, orig.Allocations, held)
	b, err := tx.GetBatch(ctx, f.batches[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "59.50", b.Remaining.StringFixed(domain.QtyPlaces))

	// committing what the failed update left behind changes nothing
	require.NoError(t, tx.Commit())
	assert.Equal(t, "59.50", f.remaining(t, f.batches[0].ID))

	after := f.begin(t)
	held, err = after.ListAllocationsBySale(ctx, "s-1")
	require.NoError(t, err)
	requireSameAllocations(t, orig.Allocations, held)
	sale, err := after.GetSale(ctx, "s-1")
	require.NoError(t, err)
	require.NotNil(t, sale)
	assert.Equal(t, domain.SaleAllocated, sale.Status)
	assert.Equal(t, "100.00", sale.Requested.StringFixed(domain.QtyPlaces))
}

func TestReconcilerUpdate_RestoresAcrossBatchesAfterExplicitPlanFails(t *testing.T) {
	f := newFixture(t, "20", "30", "10")
	rec := newTestReconciler()
	ctx := context.Background()
	orig := allocateCommitted(t, f, rec, domain.CreateRequest{SaleID: "s-1", ItemID: f.item.ID, Quantity: domain.Qty("35")})
	require.Len(t, orig.Allocations, 2)

	tx, err := f.ledger.Begin(ctx)
	require.NoError(t, err)
	_, err = rec.Update(ctx, tx, domain.UpdateRequest{
		SaleID: "s-1",
		Policy: domain.Explicit(map[int64]decimal.Decimal{
			f.batches[1].ID: domain.Qty("25"),
			f.batches[2].ID: domain.Qty("11"),
		}),
	})
	require.ErrorIs(t, err, domain.ErrInsufficientStock)

	held, err := tx.ListAllocationsBySale(ctx, "s-1")
	require.NoError(t, err)
	requireSameAllocations(t, orig.Allocations, held)
	for i, want := range []string{"0.00", "15.00", "10.00"} {
		b, err := tx.GetBatch(ctx, f.batches[i].ID)
		require.NoError(t, err)
		assert.Equal(t, want, b.Remaining.StringFixed(domain.QtyPlaces), "batch %d", i)
	}
	require.NoError(t, tx.Commit())
	assert.Equal(t, "25.00", f.totalRemaining(t))
}

func TestReconcilerDelete_RestoresStockAndRemovesSale(t *testing.T) {
	f := newFixture(t, "20", "30")
	rec := newTestReconciler()
	ctx := context.Background()
	allocateCommitted(t, f, rec, domain.CreateRequest{SaleID: "s-1", ItemID: f.item.ID, Quantity: domain.Qty("35")})

	tx, err := f.ledger.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, rec.Delete(ctx, tx, "s-1"))
	require.NoError(t, tx.Commit())

	assert.Equal(t, "50.00", f.totalRemaining(t))
	check := f.begin(t)
	held, err := check.ListAllocationsBySale(ctx, "s-1")
	require.NoError(t, err)
	assert.Empty(t, held)
}
