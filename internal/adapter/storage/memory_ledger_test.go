package storage

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/stock-allocation/internal/core/domain"
)

func seedCopper(t *testing.T) (*MemoryLedger, domain.Batch) {
	t.Helper()
	m := NewMemoryLedger()
	item := m.AddItem(domain.Item{Name: "Copper"})
	b := m.AddBatch(domain.Batch{ItemID: item.ID, ContainerRef: "MSKU-1", Purchased: domain.Qty("409.5")})
	return m, b
}

func TestMemoryLedger_AddBatchAssignsAscendingIDs(t *testing.T) {
	m := NewMemoryLedger()
	b1 := m.AddBatch(domain.Batch{ItemID: 1, Purchased: domain.Qty("5")})
	b2 := m.AddBatch(domain.Batch{ItemID: 1, Purchased: domain.Qty("5")})

	assert.Less(t, b1.ID, b2.ID)
	assert.True(t, b1.Remaining.Equal(domain.Qty("5")))
}

func TestMemoryLedger_CommitAppliesBufferedWrites(t *testing.T) {
	m, b := seedCopper(t)
	ctx := context.Background()

	tx, err := m.Begin(ctx)
	require.NoError(t, err)

	next, err := b.Decrement(domain.Qty("100"))
	require.NoError(t, err)
	require.NoError(t, tx.UpdateBatch(ctx, next))

	// not visible outside the unit before commit
	other, err := m.Begin(ctx)
	require.NoError(t, err)
	seen, err := other.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, seen.Remaining.Equal(domain.Qty("409.5")))
	require.NoError(t, other.Rollback())

	require.NoError(t, tx.Commit())

	after, err := m.Begin(ctx)
	require.NoError(t, err)
	got, err := after.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, got.Remaining.Equal(domain.Qty("309.5")))
	assert.Equal(t, b.Version+1, got.Version)
}

func TestMemoryLedger_CommitRejectsStaleBatchVersion(t *testing.T) {
	m, b := seedCopper(t)
	ctx := context.Background()

	first, _ := m.Begin(ctx)
	second, _ := m.Begin(ctx)

	d1, _ := b.Decrement(domain.Qty("300"))
	d2, _ := b.Decrement(domain.Qty("300"))
	require.NoError(t, first.UpdateBatch(ctx, d1))
	require.NoError(t, second.UpdateBatch(ctx, d2))

	require.NoError(t, first.Commit())
	err := second.Commit()
	require.ErrorIs(t, err, domain.ErrConcurrentModification)

	check, _ := m.Begin(ctx)
	got, _ := check.GetBatch(ctx, b.ID)
	assert.True(t, got.Remaining.Equal(domain.Qty("109.5")))
}

func TestMemoryLedger_UpdateBatchRejectsWrongVersion(t *testing.T) {
	m, b := seedCopper(t)
	ctx := context.Background()
	tx, _ := m.Begin(ctx)

	b.Version = 7
	err := tx.UpdateBatch(ctx, b)
	assert.ErrorIs(t, err, domain.ErrConcurrentModification)
}

func TestMemoryLedger_RollbackDiscards(t *testing.T) {
	m, b := seedCopper(t)
	ctx := context.Background()

	tx, _ := m.Begin(ctx)
	sale := domain.NewSale("s-1", b.ItemID, domain.Qty("1"), b.CreatedAt)
	require.NoError(t, tx.InsertSale(ctx, sale))
	require.NoError(t, tx.Rollback())

	_, err := tx.GetSale(ctx, "s-1")
	assert.ErrorIs(t, err, ErrTxDone)
	assert.NoError(t, tx.Rollback())

	check, _ := m.Begin(ctx)
	got, err := check.GetSale(ctx, "s-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryLedger_ReinsertedAllocationKeepsID(t *testing.T) {
	m, b := seedCopper(t)
	ctx := context.Background()

	alloc := domain.Allocation{ID: "a-1", SaleID: "s-1", BatchID: b.ID, ItemID: b.ItemID, Quantity: domain.Qty("10")}
	tx, _ := m.Begin(ctx)
	require.NoError(t, tx.InsertAllocations(ctx, []domain.Allocation{alloc}))
	require.NoError(t, tx.Commit())

	tx, _ = m.Begin(ctx)
	require.NoError(t, tx.DeleteAllocations(ctx, []string{"a-1"}))
	got, _ := tx.ListAllocationsBySale(ctx, "s-1")
	assert.Empty(t, got)

	require.NoError(t, tx.InsertAllocations(ctx, []domain.Allocation{alloc}))
	got, _ = tx.ListAllocationsBySale(ctx, "s-1")
	require.Len(t, got, 1)
	require.NoError(t, tx.Commit())

	tx, _ = m.Begin(ctx)
	got, _ = tx.ListAllocationsByItem(ctx, b.ItemID)
	require.Len(t, got, 1)
	assert.Equal(t, "a-1", got[0].ID)
}

func TestMemoryLedger_SaleInsertConflict(t *testing.T) {
	m, b := seedCopper(t)
	ctx := context.Background()
	sale := domain.NewSale("s-1", b.ItemID, domain.Qty("1"), b.CreatedAt)

	first, _ := m.Begin(ctx)
	second, _ := m.Begin(ctx)
	require.NoError(t, first.InsertSale(ctx, sale))
	require.NoError(t, second.InsertSale(ctx, sale))
	require.NoError(t, first.Commit())
	assert.ErrorIs(t, second.Commit(), domain.ErrConcurrentModification)

	third, _ := m.Begin(ctx)
	assert.ErrorIs(t, third.InsertSale(ctx, sale), domain.ErrSaleExists)
}

func TestMemoryLedger_FindItemByNormalizedName(t *testing.T) {
	m := NewMemoryLedger()
	item := m.AddItem(domain.Item{Name: "Copper  Wire"})

	got, err := m.FindItemByName(context.Background(), "  copper wire ")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, item.ID, got.ID)

	missing, err := m.FindItemByName(context.Background(), "brass")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMemoryLedger_ListItemIDs(t *testing.T) {
	m := NewMemoryLedger()
	m.AddItem(domain.Item{ID: 3, Name: "Brass"})
	m.AddBatch(domain.Batch{ItemID: 1, Purchased: domain.Qty("1")})

	tx, _ := m.Begin(context.Background())
	ids, err := tx.ListItemIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, ids)
}

func TestMemoryLedger_AddBatchWithRemaining(t *testing.T) {
	m := NewMemoryLedger()
	full := m.AddBatch(domain.Batch{ItemID: 1, Purchased: domain.Qty("5"), Remaining: domain.Qty("2")})
	empty := m.AddBatch(domain.Batch{ItemID: 1, Purchased: domain.Qty("5")}, WithRemaining(decimal.Zero))
	part := m.AddBatch(domain.Batch{ItemID: 1, Purchased: domain.Qty("5")}, WithRemaining(domain.Qty("1.234")))

	assert.Equal(t, "5.00", full.Remaining.StringFixed(2))
	assert.True(t, empty.IsExhausted())
	assert.Equal(t, "1.23", part.Remaining.StringFixed(2))
}

func TestMemoryLedger_ReadsComeFromOneSnapshot(t *testing.T) {
	m, b := seedCopper(t)
	ctx := context.Background()

	reader, _ := m.Begin(ctx)
	before, err := reader.ListBatches(ctx, b.ItemID)
	require.NoError(t, err)
	require.Len(t, before, 1)

	writer, _ := m.Begin(ctx)
	next, err := b.Decrement(domain.Qty("100"))
	require.NoError(t, err)
	require.NoError(t, writer.UpdateBatch(ctx, next))
	sale := domain.NewSale("s-1", b.ItemID, domain.Qty("100"), b.CreatedAt)
	require.NoError(t, writer.InsertSale(ctx, sale))
	require.NoError(t, writer.InsertAllocations(ctx, []domain.Allocation{
		{ID: "a-1", SaleID: "s-1", BatchID: b.ID, ItemID: b.ItemID, Quantity: domain.Qty("100")},
	}))
	require.NoError(t, writer.Commit())

	// the reader keeps seeing the state it started from
	got, err := reader.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "409.50", got.Remaining.StringFixed(2))
	allocs, err := reader.ListAllocationsByItem(ctx, b.ItemID)
	require.NoError(t, err)
	assert.Empty(t, allocs)
	sales, err := reader.ListSales(ctx, b.ItemID)
	require.NoError(t, err)
	assert.Empty(t, sales)

	// and cannot commit a write based on it
	stale, err := got.Decrement(domain.Qty("1"))
	require.NoError(t, err)
	require.NoError(t, reader.UpdateBatch(ctx, stale))
	assert.ErrorIs(t, reader.Commit(), domain.ErrConcurrentModification)

	fresh, _ := m.Begin(ctx)
	got, err = fresh.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "309.50", got.Remaining.StringFixed(2))
	allocs, err = fresh.ListAllocationsByItem(ctx, b.ItemID)
	require.NoError(t, err)
	assert.Len(t, allocs, 1)
}
