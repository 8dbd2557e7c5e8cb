package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrInsufficientStock is returned when a batch or an item cannot cover
	// the requested quantity.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrNotFound is returned for stale batch, sale or item ids.
	ErrNotFound = errors.New("not found")

	// ErrOverAllocation is returned when a restore would push a batch above its
	// purchased quantity. Seeing it means an invariant is already broken.
	ErrOverAllocation = errors.New("over allocation")

	// ErrConcurrentModification is returned when a versioned write lost a race.
	ErrConcurrentModification = errors.New("concurrent modification")

	ErrInvalidQuantity   = errors.New("invalid quantity")
	ErrInvalidPolicy     = errors.New("invalid allocation policy")
	ErrQuantityMismatch  = errors.New("quantity does not match explicit allocation total")
	ErrSaleExists        = errors.New("sale already exists")
	ErrInvalidTransition = errors.New("invalid sale state transition")
)

// InsufficientStockError names the batch (or, when BatchID is zero, the item)
// that could not satisfy its portion of an allocation.
type InsufficientStockError struct {
	ItemID    int64
	BatchID   int64
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	if e.BatchID != 0 {
		return fmt.Sprintf("insufficient stock in batch %d: requested %s, available %s",
			e.BatchID, e.Requested.StringFixed(QtyPlaces), e.Available.StringFixed(QtyPlaces))
	}
	return fmt.Sprintf("insufficient stock for item %d: requested %s, available %s",
		e.ItemID, e.Requested.StringFixed(QtyPlaces), e.Available.StringFixed(QtyPlaces))
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// NotFoundError identifies the missing entity.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

func BatchNotFound(id int64) error {
	return &NotFoundError{Entity: "batch", ID: fmt.Sprint(id)}
}

func SaleNotFound(id string) error {
	return &NotFoundError{Entity: "sale", ID: id}
}

func ItemNotFound(id int64) error {
	return &NotFoundError{Entity: "item", ID: fmt.Sprint(id)}
}
