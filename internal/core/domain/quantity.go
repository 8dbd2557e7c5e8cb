package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// QtyPlaces is the number of fractional digits a quantity carries (kilograms
// to the gram).
const QtyPlaces int32 = 2

// DriftEpsilon is the tolerance used when comparing ledger totals.
var DriftEpsilon = decimal.New(5, -3)

// RoundQty normalizes q to the ledger precision.
func RoundQty(q decimal.Decimal) decimal.Decimal {
	return q.Round(QtyPlaces)
}

// Qty builds a quantity from its decimal string form and panics on malformed
// input. Intended for constants and tests.
func Qty(s string) decimal.Decimal {
	return RoundQty(decimal.RequireFromString(s))
}

// PositiveQty rounds q and rejects anything that is not strictly positive
// after rounding.
func PositiveQty(q decimal.Decimal) (decimal.Decimal, error) {
	r := RoundQty(q)
	if !r.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrInvalidQuantity, q.String())
	}
	return r, nil
}

// MinQty returns the smaller of a and b.
func MinQty(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// WithinEpsilon reports whether a and b differ by no more than DriftEpsilon.
func WithinEpsilon(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(DriftEpsilon)
}
