package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/stock-allocation/internal/core/domain"
	"github.com/rl1809/stock-allocation/internal/port"
)

// Checker recomputes purchased minus allocated per item and compares it with
// the stored remaining quantities. It reports drift and never corrects it.
type Checker struct {
	now func() time.Time
}

func NewChecker(now func() time.Time) *Checker {
	return &Checker{now: now}
}

func (c *Checker) Verify(ctx context.Context, tx port.LedgerTx, itemID int64) (domain.Report, error) {
	batches, err := tx.ListBatches(ctx, itemID)
	if err != nil {
		return domain.Report{}, fmt.Errorf("list batches: %w", err)
	}
	allocs, err := tx.ListAllocationsByItem(ctx, itemID)
	if err != nil {
		return domain.Report{}, fmt.Errorf("list allocations: %w", err)
	}
	sales, err := tx.ListSales(ctx, itemID)
	if err != nil {
		return domain.Report{}, fmt.Errorf("list sales: %w", err)
	}

	allocated := make(map[int64]decimal.Decimal)
	for _, a := range allocs {
		allocated[a.BatchID] = allocated[a.BatchID].Add(a.Quantity)
	}

	report := domain.Report{
		ItemID:       itemID,
		Purchased:    decimal.Zero,
		AllocatedOut: domain.TotalAllocated(allocs),
		Remaining:    decimal.Zero,
		Demand:       decimal.Zero,
		CheckedAt:    c.now(),
	}
	for _, b := range batches {
		expected := b.Purchased.Sub(allocated[b.ID])
		line := domain.BatchDrift{
			BatchID:           b.ID,
			ContainerRef:      b.ContainerRef,
			Purchased:         b.Purchased,
			Allocated:         allocated[b.ID],
			Remaining:         b.Remaining,
			ExpectedRemaining: expected,
			Drift:             b.Remaining.Sub(expected),
		}
		line.Drifted = !domain.WithinEpsilon(b.Remaining, expected)
		report.Batches = append(report.Batches, line)
		report.Purchased = report.Purchased.Add(b.Purchased)
		report.Remaining = report.Remaining.Add(b.Remaining)
	}
	report.ExpectedRemaining = report.Purchased.Sub(report.AllocatedOut)
	report.Drift = report.Remaining.Sub(report.ExpectedRemaining)
	report.DriftDetected = !domain.WithinEpsilon(report.Remaining, report.ExpectedRemaining)
	for _, l := range report.Batches {
		if l.Drifted {
			report.DriftDetected = true
		}
	}

	for _, s := range sales {
		report.Demand = report.Demand.Add(s.Requested)
	}
	report.DemandGap = report.Demand.Sub(report.AllocatedOut)
	report.DemandDrifted = !domain.WithinEpsilon(report.Demand, report.AllocatedOut)
	return report, nil
}
