package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rl1809/stock-allocation/internal/adapter/storage"
	"github.com/rl1809/stock-allocation/internal/core/domain"
	"github.com/rl1809/stock-allocation/internal/port"
)

type fixture struct {
	ledger  *storage.MemoryLedger
	item    domain.Item
	batches []domain.Batch
}

// newFixture seeds one item with a batch per purchase, in the given order,
// in container "C1".
func newFixture(t *testing.T, purchases ...string) *fixture {
	t.Helper()
	f := &fixture{ledger: storage.NewMemoryLedger()}
	f.item = f.ledger.AddItem(domain.Item{Name: "Copper"})
	for _, p := range purchases {
		f.addBatch("C1", p)
	}
	return f
}

func (f *fixture) addBatch(container, purchased string) domain.Batch {
	b := f.ledger.AddBatch(domain.Batch{
		ItemID:       f.item.ID,
		ContainerRef: container,
		Purchased:    domain.Qty(purchased),
	})
	f.batches = append(f.batches, b)
	return b
}

func (f *fixture) service(opts ...Option) *AllocationService {
	opts = append([]Option{WithItemDirectory(f.ledger)}, opts...)
	return NewAllocationService(f.ledger, opts...)
}

func (f *fixture) begin(t *testing.T) port.LedgerTx {
	t.Helper()
	tx, err := f.ledger.Begin(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { tx.Rollback() })
	return tx
}

func (f *fixture) remaining(t *testing.T, batchID int64) string {
	t.Helper()
	tx := f.begin(t)
	b, err := tx.GetBatch(context.Background(), batchID)
	require.NoError(t, err)
	require.NotNil(t, b)
	return b.Remaining.StringFixed(domain.QtyPlaces)
}

func (f *fixture) totalRemaining(t *testing.T) string {
	t.Helper()
	tx := f.begin(t)
	batches, err := tx.ListBatches(context.Background(), f.item.ID)
	require.NoError(t, err)
	total := domain.Qty("0")
	for _, b := range batches {
		total = total.Add(b.Remaining)
	}
	return total.StringFixed(domain.QtyPlaces)
}

func planOf(lines ...any) domain.Plan {
	var plan domain.Plan
	for i := 0; i < len(lines); i += 2 {
		plan = append(plan, domain.PlanLine{BatchID: lines[i].(int64), Quantity: domain.Qty(lines[i+1].(string))})
	}
	return plan
}

func requirePlan(t *testing.T, want, got domain.Plan) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		require.Equal(t, want[i].BatchID, got[i].BatchID, "line %d batch", i)
		require.True(t, want[i].Quantity.Equal(got[i].Quantity), "line %d: want %s got %s", i, want[i].Quantity, got[i].Quantity)
	}
}
