package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/stock-allocation/internal/core/domain"
)

func getMySQLDB(t *testing.T) *sql.DB {
	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		dsn = "root:root@tcp(localhost:3306)/allocation?parseTime=true"
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		t.Skipf("MySQL not available: %v", err)
	}

	if err := db.Ping(); err != nil {
		t.Skipf("MySQL not available: %v", err)
	}

	require.NoError(t, Migrate(context.Background(), db))
	return db
}

func seedMySQLBatch(t *testing.T, adapter *MySQLAdapter, purchased string) domain.Batch {
	t.Helper()
	ctx := context.Background()

	item, err := adapter.CreateItem(ctx, domain.Item{Name: fmt.Sprintf("test-item-%d", time.Now().UnixNano())})
	require.NoError(t, err)

	b, err := adapter.RecordPurchase(ctx, domain.Batch{
		ItemID:       item.ID,
		ContainerRef: "TEST-CONTAINER",
		Purchased:    domain.Qty(purchased),
	})
	require.NoError(t, err)
	return b
}

func TestMySQL_UpdateBatchWithVersion(t *testing.T) {
	db := getMySQLDB(t)
	defer db.Close()

	ctx := context.Background()
	adapter := NewMySQLAdapter(db)
	b := seedMySQLBatch(t, adapter, "409.5")

	tx, err := adapter.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	got, err := tx.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	require.NotNil(t, got)

	next, err := got.Decrement(domain.Qty("100"))
	require.NoError(t, err)
	require.NoError(t, tx.UpdateBatch(ctx, next))

	// the version read before the write is stale now
	err = tx.UpdateBatch(ctx, next)
	assert.ErrorIs(t, err, domain.ErrConcurrentModification)

	require.NoError(t, tx.Commit())

	var remaining string
	require.NoError(t, db.QueryRowContext(ctx, `SELECT remaining_qty FROM batches WHERE id = ?`, b.ID).Scan(&remaining))
	assert.Equal(t, "309.50", remaining)
}

func TestMySQL_GetBatchMissing(t *testing.T) {
	db := getMySQLDB(t)
	defer db.Close()

	ctx := context.Background()
	tx, err := NewMySQLAdapter(db).Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	got, err := tx.GetBatch(ctx, -1)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMySQL_SaleAndAllocationRoundTrip(t *testing.T) {
	db := getMySQLDB(t)
	defer db.Close()

	ctx := context.Background()
	adapter := NewMySQLAdapter(db)
	b := seedMySQLBatch(t, adapter, "50")

	saleID := uuid.NewString()
	sale := domain.NewSale(saleID, b.ItemID, domain.Qty("20"), time.Now().UTC())
	require.NoError(t, sale.Transition(domain.SaleAllocated))

	tx, err := adapter.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.InsertSale(ctx, sale))
	require.NoError(t, tx.InsertAllocations(ctx, []domain.Allocation{{
		ID: uuid.NewString(), SaleID: saleID, BatchID: b.ID, ItemID: b.ItemID,
		Quantity: domain.Qty("20"), CreatedAt: time.Now().UTC(),
	}}))
	require.NoError(t, tx.Commit())

	tx, err = adapter.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	allocs, err := tx.ListAllocationsBySale(ctx, saleID)
	require.NoError(t, err)
	require.Len(t, allocs, 1)
	assert.True(t, allocs[0].Quantity.Equal(domain.Qty("20")))

	assert.ErrorIs(t, tx.InsertSale(ctx, sale), domain.ErrSaleExists)

	// cleanup
	db.ExecContext(ctx, `DELETE FROM allocations WHERE sale_id = ?`, saleID)
	db.ExecContext(ctx, `DELETE FROM sales WHERE id = ?`, saleID)
}

func TestMySQL_FindItemByName(t *testing.T) {
	db := getMySQLDB(t)
	defer db.Close()

	ctx := context.Background()
	adapter := NewMySQLAdapter(db)
	name := fmt.Sprintf("Copper Wire %d", time.Now().UnixNano())
	item, err := adapter.CreateItem(ctx, domain.Item{Name: name})
	require.NoError(t, err)

	got, err := adapter.FindItemByName(ctx, "  "+strings.ToUpper(name)+" ")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, item.ID, got.ID)
}
