package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Batch is one purchase lot of an item (a "container item"). Purchased never
// changes after creation; Remaining moves only through Decrement and Increment.
type Batch struct {
	ID           int64
	ItemID       int64
	ContainerRef string
	Purchased    decimal.Decimal
	Remaining    decimal.Decimal
	UnloadedAt   time.Time
	Version      int // optimistic locking
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Allocated is the quantity currently drawn from the batch as implied by its
// own counters.
func (b Batch) Allocated() decimal.Decimal {
	return RoundQty(b.Purchased.Sub(b.Remaining))
}

func (b Batch) IsExhausted() bool {
	return !b.Remaining.IsPositive()
}

// Decrement returns the batch with qty consumed.
func (b Batch) Decrement(qty decimal.Decimal) (Batch, error) {
	qty, err := PositiveQty(qty)
	if err != nil {
		return b, err
	}
	if qty.GreaterThan(b.Remaining) {
		return b, &InsufficientStockError{
			ItemID:    b.ItemID,
			BatchID:   b.ID,
			Requested: qty,
			Available: b.Remaining,
		}
	}
	b.Remaining = RoundQty(b.Remaining.Sub(qty))
	return b, nil
}

// Increment returns the batch with qty restored.
func (b Batch) Increment(qty decimal.Decimal) (Batch, error) {
	qty, err := PositiveQty(qty)
	if err != nil {
		return b, err
	}
	next := RoundQty(b.Remaining.Add(qty))
	if next.GreaterThan(b.Purchased) {
		return b, fmt.Errorf("%w: batch %d would hold %s of %s purchased",
			ErrOverAllocation, b.ID, next.StringFixed(QtyPlaces), b.Purchased.StringFixed(QtyPlaces))
	}
	b.Remaining = next
	return b, nil
}

// BatchOrder selects the ordering of ListAvailableBatches.
type BatchOrder string

const (
	OrderByID         BatchOrder = "id"
	OrderByUnloadDate BatchOrder = "unload_date"
)

// BatchQuery narrows ListAvailableBatches.
type BatchQuery struct {
	// ExcludeBatchIDs are exempt from the exhausted-stock filter, so batches the
	// caller's sale drained completely remain visible while it is edited.
	ExcludeBatchIDs []int64
	// ForSaleID adds the sale's held quantity back onto each batch's visible
	// remaining.
	ForSaleID string
	// AsOf drops batches unloaded after the given instant. Zero means no limit.
	AsOf  time.Time
	Order BatchOrder
}

// ContainerGroup is a derived view over the batches sharing a container
// reference.
type ContainerGroup struct {
	ContainerRef  string
	BatchIDs      []int64
	Purchased     decimal.Decimal
	Remaining     decimal.Decimal
	OldestBatchID int64
}

// GroupByContainer folds batches (already ordered by id) into container
// groups ordered by their oldest batch.
func GroupByContainer(batches []Batch) []ContainerGroup {
	index := make(map[string]int)
	var groups []ContainerGroup
	for _, b := range batches {
		i, ok := index[b.ContainerRef]
		if !ok {
			i = len(groups)
			index[b.ContainerRef] = i
			groups = append(groups, ContainerGroup{
				ContainerRef:  b.ContainerRef,
				Purchased:     decimal.Zero,
				Remaining:     decimal.Zero,
				OldestBatchID: b.ID,
			})
		}
		g := &groups[i]
		g.BatchIDs = append(g.BatchIDs, b.ID)
		g.Purchased = g.Purchased.Add(b.Purchased)
		g.Remaining = g.Remaining.Add(b.Remaining)
		if b.ID < g.OldestBatchID {
			g.OldestBatchID = b.ID
		}
	}
	return groups
}
