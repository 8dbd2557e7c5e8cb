package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/rl1809/stock-allocation/internal/core/domain"
	"github.com/rl1809/stock-allocation/internal/port"
)

// Ledger guards batch remaining quantities. Every mutation reads the batch
// inside the caller's unit of work, applies the bounds check and writes it
// back with the version it read.
type Ledger struct{}

func NewLedger() *Ledger {
	return &Ledger{}
}

// ListAvailableBatches returns the item's batches that still hold stock.
func (l *Ledger) ListAvailableBatches(ctx context.Context, tx port.LedgerTx, itemID int64, q domain.BatchQuery) ([]domain.Batch, error) {
	batches, err := tx.ListBatches(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}

	held := make(map[int64]bool)
	if q.ForSaleID != "" {
		allocs, err := tx.ListAllocationsBySale(ctx, q.ForSaleID)
		if err != nil {
			return nil, fmt.Errorf("list sale allocations: %w", err)
		}
		heldQty := make(map[int64]domain.Allocation)
		for _, a := range allocs {
			if cur, ok := heldQty[a.BatchID]; ok {
				a.Quantity = cur.Quantity.Add(a.Quantity)
			}
			heldQty[a.BatchID] = a
		}
		for i := range batches {
			if a, ok := heldQty[batches[i].ID]; ok {
				batches[i].Remaining = domain.RoundQty(batches[i].Remaining.Add(a.Quantity))
				held[batches[i].ID] = true
			}
		}
	}

	exempt := make(map[int64]bool, len(q.ExcludeBatchIDs))
	for _, id := range q.ExcludeBatchIDs {
		exempt[id] = true
	}

	out := make([]domain.Batch, 0, len(batches))
	for _, b := range batches {
		if !q.AsOf.IsZero() && b.UnloadedAt.After(q.AsOf) {
			continue
		}
		if b.IsExhausted() && !exempt[b.ID] && !held[b.ID] {
			continue
		}
		out = append(out, b)
	}

	switch q.Order {
	case domain.OrderByUnloadDate:
		sort.SliceStable(out, func(i, j int) bool {
			if !out[i].UnloadedAt.Equal(out[j].UnloadedAt) {
				return out[i].UnloadedAt.Before(out[j].UnloadedAt)
			}
			return out[i].ID < out[j].ID
		})
	default:
		sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	}
	return out, nil
}

// Decrement consumes qty from the batch.
func (l *Ledger) Decrement(ctx context.Context, tx port.LedgerTx, batchID int64, qty decimal.Decimal) (domain.Batch, error) {
	b, err := l.load(ctx, tx, batchID)
	if err != nil {
		return domain.Batch{}, err
	}
	next, err := b.Decrement(qty)
	if err != nil {
		return b, err
	}
	if err := tx.UpdateBatch(ctx, next); err != nil {
		return b, fmt.Errorf("update batch %d: %w", batchID, err)
	}
	return next, nil
}

// Increment restores qty to the batch. It never depends on what the batch
// held when the allocation was made, only on its purchased ceiling.
func (l *Ledger) Increment(ctx context.Context, tx port.LedgerTx, batchID int64, qty decimal.Decimal) (domain.Batch, error) {
	b, err := l.load(ctx, tx, batchID)
	if err != nil {
		return domain.Batch{}, err
	}
	next, err := b.Increment(qty)
	if err != nil {
		return b, err
	}
	if err := tx.UpdateBatch(ctx, next); err != nil {
		return b, fmt.Errorf("update batch %d: %w", batchID, err)
	}
	return next, nil
}

func (l *Ledger) load(ctx context.Context, tx port.LedgerTx, batchID int64) (domain.Batch, error) {
	b, err := tx.GetBatch(ctx, batchID)
	if err != nil {
		return domain.Batch{}, fmt.Errorf("get batch %d: %w", batchID, err)
	}
	if b == nil {
		return domain.Batch{}, domain.BatchNotFound(batchID)
	}
	return *b, nil
}
