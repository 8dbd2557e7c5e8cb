package domain

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Allocation links part of a batch to a sale.
type Allocation struct {
	ID        string
	SaleID    string
	BatchID   int64
	ItemID    int64
	Quantity  decimal.Decimal
	CreatedAt time.Time
}

// PlanLine is one (batch, quantity) pair proposed by the resolver.
type PlanLine struct {
	BatchID  int64
	Quantity decimal.Decimal
}

// Plan is an ordered batch breakdown for a requested quantity.
type Plan []PlanLine

func (p Plan) Total() decimal.Decimal {
	total := decimal.Zero
	for _, l := range p {
		total = total.Add(l.Quantity)
	}
	return RoundQty(total)
}

// Normalized merges lines that name the same batch and orders them by batch
// id, the order in which batch mutations are issued.
func (p Plan) Normalized() Plan {
	merged := make(map[int64]decimal.Decimal, len(p))
	for _, l := range p {
		if q, ok := merged[l.BatchID]; ok {
			merged[l.BatchID] = q.Add(l.Quantity)
			continue
		}
		merged[l.BatchID] = l.Quantity
	}
	out := make(Plan, 0, len(merged))
	for id, q := range merged {
		out = append(out, PlanLine{BatchID: id, Quantity: RoundQty(q)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BatchID < out[j].BatchID })
	return out
}

func TotalAllocated(allocs []Allocation) decimal.Decimal {
	total := decimal.Zero
	for _, a := range allocs {
		total = total.Add(a.Quantity)
	}
	return RoundQty(total)
}

// SortAllocations orders records by batch id, then id.
func SortAllocations(allocs []Allocation) {
	sort.Slice(allocs, func(i, j int) bool {
		if allocs[i].BatchID != allocs[j].BatchID {
			return allocs[i].BatchID < allocs[j].BatchID
		}
		return allocs[i].ID < allocs[j].ID
	})
}
