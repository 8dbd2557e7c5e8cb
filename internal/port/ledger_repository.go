package port

import (
	"context"

	"github.com/rl1809/stock-allocation/internal/core/domain"
)

// LedgerRepository opens units of work against the batch ledger.
type LedgerRepository interface {
	Begin(ctx context.Context) (LedgerTx, error)
}

// LedgerTx is one unit of work. Reads return nil, nil for missing rows.
// Versioned writes fail with domain.ErrConcurrentModification when the
// version they carry is no longer current; the write is expected to be
// issued with the version returned by the preceding read in the same unit.
type LedgerTx interface {
	ListItemIDs(ctx context.Context) ([]int64, error)

	// ListBatches returns every batch of the item ordered by id.
	ListBatches(ctx context.Context, itemID int64) ([]domain.Batch, error)
	GetBatch(ctx context.Context, id int64) (*domain.Batch, error)
	UpdateBatch(ctx context.Context, batch domain.Batch) error

	GetSale(ctx context.Context, id string) (*domain.Sale, error)
	ListSales(ctx context.Context, itemID int64) ([]domain.Sale, error)
	InsertSale(ctx context.Context, sale domain.Sale) error
	UpdateSale(ctx context.Context, sale domain.Sale) error
	DeleteSale(ctx context.Context, sale domain.Sale) error

	ListAllocationsBySale(ctx context.Context, saleID string) ([]domain.Allocation, error)
	ListAllocationsByItem(ctx context.Context, itemID int64) ([]domain.Allocation, error)
	InsertAllocations(ctx context.Context, allocs []domain.Allocation) error
	DeleteAllocations(ctx context.Context, ids []string) error

	Commit() error
	// Rollback discards the unit; it is a no-op after Commit.
	Rollback() error
}
