package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type SaleStatus string

const (
	SaleUnallocated SaleStatus = "unallocated"
	SaleAllocated   SaleStatus = "allocated"
	SaleReconciling SaleStatus = "reconciling"
	SaleDeleted     SaleStatus = "deleted"
)

var saleTransitions = map[SaleStatus][]SaleStatus{
	SaleUnallocated: {SaleAllocated},
	SaleAllocated:   {SaleReconciling, SaleDeleted},
	SaleReconciling: {SaleAllocated},
}

// Sale is one invoice line demanding a quantity of an item. Only the
// Allocated status is ever persisted.
type Sale struct {
	ID        string
	ItemID    int64
	Requested decimal.Decimal
	Status    SaleStatus
	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewSale starts a sale in the transient Unallocated state.
func NewSale(id string, itemID int64, requested decimal.Decimal, now time.Time) Sale {
	return Sale{
		ID:        id,
		ItemID:    itemID,
		Requested: RoundQty(requested),
		Status:    SaleUnallocated,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Transition moves the sale to the next state of its allocation lifecycle.
func (s *Sale) Transition(to SaleStatus) error {
	for _, next := range saleTransitions[s.Status] {
		if next == to {
			s.Status = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, to)
}
