package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// CreateRequest asks for a new allocated sale. Either Quantity or an
// explicit/container Policy (or both) must be supplied.
type CreateRequest struct {
	// RequestID makes the call idempotent when set.
	RequestID string
	// SaleID is generated when empty.
	SaleID    string
	ItemID    int64
	Quantity  decimal.Decimal
	Policy    Policy
	Ambiguity Ambiguity
	// AcceptPartial allows the sale to shrink to the quantity actually
	// available instead of failing with InsufficientStock.
	AcceptPartial bool
}

// UpdateRequest re-plans an existing sale. A zero Quantity keeps the sale's
// current quantity unless the policy carries its own total.
type UpdateRequest struct {
	SaleID    string
	Quantity  decimal.Decimal
	Policy    Policy
	Ambiguity Ambiguity
}

// SaleResult is a sale with its current allocation records.
type SaleResult struct {
	Sale        Sale
	Allocations []Allocation
}

// SettleQuantity decides the quantity and policy a request resolves to.
// fallback is used when the request names neither a quantity nor a policy
// total (an update that only changes the policy). A quantity that disagrees
// with an explicit total is settled by amb; there is no guessing.
func SettleQuantity(qty, fallback decimal.Decimal, p Policy, amb Ambiguity) (decimal.Decimal, Policy, error) {
	if p.Kind == "" {
		p.Kind = PolicyFIFO
	}
	if err := p.Validate(); err != nil {
		return decimal.Zero, p, err
	}
	qty = RoundQty(qty)
	if qty.IsNegative() {
		return decimal.Zero, p, ErrInvalidQuantity
	}

	if !p.HasTotal() {
		if qty.IsZero() {
			qty = fallback
		}
		qty, err := PositiveQty(qty)
		return qty, p, err
	}

	total := p.Total()
	if qty.IsZero() || qty.Equal(total) {
		return total, p, nil
	}
	switch amb {
	case QuantityFromPlan:
		return total, p, nil
	case PlanFromQuantity:
		return qty, FIFO(), nil
	default:
		return decimal.Zero, p, fmt.Errorf("%w: quantity %s, allocation total %s",
			ErrQuantityMismatch, qty.StringFixed(QtyPlaces), total.StringFixed(QtyPlaces))
	}
}
