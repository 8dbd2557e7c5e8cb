package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/stock-allocation/internal/core/domain"
	"github.com/rl1809/stock-allocation/internal/port"
)

// Transaction applies and reverses allocation plans against the ledger. Each
// call either changes every batch it names or none of them.
type Transaction struct {
	ledger *Ledger
	now    func() time.Time
	newID  func() string
}

func NewTransaction(ledger *Ledger, now func() time.Time, newID func() string) *Transaction {
	return &Transaction{ledger: ledger, now: now, newID: newID}
}

// Apply decrements every batch in the plan and records the allocations for
// the sale. On InsufficientStock the error names the first batch, in
// ascending id order, that could not cover its portion.
func (t *Transaction) Apply(ctx context.Context, tx port.LedgerTx, sale domain.Sale, plan domain.Plan) ([]domain.Allocation, error) {
	plan = plan.Normalized()
	if len(plan) == 0 {
		return nil, fmt.Errorf("%w: empty allocation plan", domain.ErrInvalidQuantity)
	}
	now := t.now()
	records := make([]domain.Allocation, 0, len(plan))
	for _, line := range plan {
		qty, err := domain.PositiveQty(line.Quantity)
		if err != nil {
			return nil, fmt.Errorf("batch %d: %w", line.BatchID, err)
		}
		records = append(records, domain.Allocation{
			ID:        t.newID(),
			SaleID:    sale.ID,
			BatchID:   line.BatchID,
			ItemID:    sale.ItemID,
			Quantity:  qty,
			CreatedAt: now,
		})
	}
	if err := t.commit(ctx, tx, records); err != nil {
		return nil, err
	}
	return records, nil
}

// Reapply puts previously reversed records back exactly as they were, ids
// included.
func (t *Transaction) Reapply(ctx context.Context, tx port.LedgerTx, records []domain.Allocation) error {
	if len(records) == 0 {
		return nil
	}
	return t.commit(ctx, tx, records)
}

// Reverse restores every referenced batch by its recorded quantity and
// deletes the records. Restores are additive, so a batch drained by other
// sales since the allocation was made is restored just the same.
func (t *Transaction) Reverse(ctx context.Context, tx port.LedgerTx, records []domain.Allocation) error {
	if len(records) == 0 {
		return nil
	}
	totals := batchTotals(records)
	ids := sortedBatchIDs(totals)

	for _, id := range ids {
		b, err := t.ledger.load(ctx, tx, id)
		if err != nil {
			return err
		}
		if _, err := b.Increment(totals[id]); err != nil {
			return err
		}
	}

	var done []int64
	for _, id := range ids {
		if _, err := t.ledger.Increment(ctx, tx, id, totals[id]); err != nil {
			return errors.Join(err, t.undo(ctx, tx, done, totals, t.ledger.Decrement))
		}
		done = append(done, id)
	}

	recordIDs := make([]string, 0, len(records))
	for _, r := range records {
		recordIDs = append(recordIDs, r.ID)
	}
	if err := tx.DeleteAllocations(ctx, recordIDs); err != nil {
		err = fmt.Errorf("delete allocations: %w", err)
		return errors.Join(err, t.undo(ctx, tx, done, totals, t.ledger.Decrement))
	}
	return nil
}

func (t *Transaction) commit(ctx context.Context, tx port.LedgerTx, records []domain.Allocation) error {
	totals := batchTotals(records)
	ids := sortedBatchIDs(totals)
	itemOf := make(map[int64]int64, len(records))
	for _, r := range records {
		itemOf[r.BatchID] = r.ItemID
	}

	for _, id := range ids {
		b, err := t.ledger.load(ctx, tx, id)
		if err != nil {
			return err
		}
		if b.ItemID != itemOf[id] {
			return fmt.Errorf("%w: batch %d belongs to item %d", domain.ErrInvalidPolicy, id, b.ItemID)
		}
		if totals[id].GreaterThan(b.Remaining) {
			return &domain.InsufficientStockError{
				ItemID:    b.ItemID,
				BatchID:   id,
				Requested: totals[id],
				Available: b.Remaining,
			}
		}
	}

	var done []int64
	for _, id := range ids {
		if _, err := t.ledger.Decrement(ctx, tx, id, totals[id]); err != nil {
			return errors.Join(err, t.undo(ctx, tx, done, totals, t.ledger.Increment))
		}
		done = append(done, id)
	}

	sorted := append([]domain.Allocation(nil), records...)
	domain.SortAllocations(sorted)
	if err := tx.InsertAllocations(ctx, sorted); err != nil {
		err = fmt.Errorf("insert allocations: %w", err)
		return errors.Join(err, t.undo(ctx, tx, done, totals, t.ledger.Increment))
	}
	return nil
}

type batchMutation func(ctx context.Context, tx port.LedgerTx, batchID int64, qty decimal.Decimal) (domain.Batch, error)

// undo compensates the batches already mutated by a failed call, newest
// first.
func (t *Transaction) undo(ctx context.Context, tx port.LedgerTx, done []int64, totals map[int64]decimal.Decimal, op batchMutation) error {
	var errs []error
	for i := len(done) - 1; i >= 0; i-- {
		if _, err := op(ctx, tx, done[i], totals[done[i]]); err != nil {
			errs = append(errs, fmt.Errorf("compensate batch %d: %w", done[i], err))
		}
	}
	return errors.Join(errs...)
}

func batchTotals(records []domain.Allocation) map[int64]decimal.Decimal {
	totals := make(map[int64]decimal.Decimal, len(records))
	for _, r := range records {
		totals[r.BatchID] = domain.RoundQty(totals[r.BatchID].Add(r.Quantity))
	}
	return totals
}

func sortedBatchIDs(totals map[int64]decimal.Decimal) []int64 {
	ids := make([]int64, 0, len(totals))
	for id := range totals {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
