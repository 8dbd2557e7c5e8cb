package domain

import (
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Item is an inventory category such as "Copper". Batches link to it by id.
type Item struct {
	ID          int64
	Name        string
	DefaultRate decimal.Decimal
}

// NormalizeName is the matching key for item names: NFKC, case folded,
// whitespace collapsed.
func NormalizeName(name string) string {
	n := norm.NFKC.String(name)
	n = cases.Fold().String(n) // a Caser is stateful, so one per call
	return strings.Join(strings.Fields(n), " ")
}
