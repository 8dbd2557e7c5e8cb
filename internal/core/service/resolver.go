package service

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/rl1809/stock-allocation/internal/core/domain"
	"github.com/rl1809/stock-allocation/internal/port"
)

// Resolver turns a requested quantity into a batch breakdown. It never
// mutates the ledger.
type Resolver struct {
	ledger *Ledger
}

func NewResolver(ledger *Ledger) *Resolver {
	return &Resolver{ledger: ledger}
}

// Resolve proposes a plan summing to at most requested and reports the
// shortfall. A shortfall is not an error; the caller decides whether a
// partial plan is acceptable.
func (r *Resolver) Resolve(ctx context.Context, tx port.LedgerTx, itemID int64, requested decimal.Decimal, policy domain.Policy) (domain.Plan, decimal.Decimal, error) {
	requested, err := domain.PositiveQty(requested)
	if err != nil {
		return nil, decimal.Zero, err
	}
	if err := policy.Validate(); err != nil {
		return nil, decimal.Zero, err
	}

	var plan domain.Plan
	switch policy.Kind {
	case domain.PolicyExplicit:
		plan, err = r.resolveExplicit(ctx, tx, itemID, requested, policy)
	case domain.PolicyContainerGroup:
		plan, err = r.resolveContainers(ctx, tx, itemID, requested, policy)
	default:
		plan, err = r.resolveFIFO(ctx, tx, itemID, requested)
	}
	if err != nil {
		return nil, decimal.Zero, err
	}
	return plan, domain.RoundQty(requested.Sub(plan.Total())), nil
}

func (r *Resolver) resolveFIFO(ctx context.Context, tx port.LedgerTx, itemID int64, requested decimal.Decimal) (domain.Plan, error) {
	batches, err := r.ledger.ListAvailableBatches(ctx, tx, itemID, domain.BatchQuery{})
	if err != nil {
		return nil, err
	}
	plan, _ := drain(batches, requested)
	return plan, nil
}

func (r *Resolver) resolveContainers(ctx context.Context, tx port.LedgerTx, itemID int64, requested decimal.Decimal, policy domain.Policy) (domain.Plan, error) {
	batches, err := r.ledger.ListAvailableBatches(ctx, tx, itemID, domain.BatchQuery{})
	if err != nil {
		return nil, err
	}
	byContainer := make(map[string][]domain.Batch)
	for _, b := range batches {
		byContainer[b.ContainerRef] = append(byContainer[b.ContainerRef], b)
	}

	var plan domain.Plan
	left := requested
	for _, g := range domain.GroupByContainer(batches) {
		want, ok := policy.Containers[g.ContainerRef]
		if !ok || !left.IsPositive() {
			continue
		}
		want = domain.RoundQty(domain.MinQty(domain.RoundQty(want), left))
		lines, short := drain(byContainer[g.ContainerRef], want)
		plan = append(plan, lines...)
		left = domain.RoundQty(left.Sub(want.Sub(short)))
	}
	return plan, nil
}

func (r *Resolver) resolveExplicit(ctx context.Context, tx port.LedgerTx, itemID int64, requested decimal.Decimal, policy domain.Policy) (domain.Plan, error) {
	plan := policy.ExplicitPlan()
	if total := plan.Total(); total.GreaterThan(requested) {
		return nil, fmt.Errorf("%w: allocation total %s exceeds requested %s",
			domain.ErrQuantityMismatch, total.StringFixed(domain.QtyPlaces), requested.StringFixed(domain.QtyPlaces))
	}
	for _, line := range plan {
		b, err := tx.GetBatch(ctx, line.BatchID)
		if err != nil {
			return nil, fmt.Errorf("get batch %d: %w", line.BatchID, err)
		}
		if b == nil {
			return nil, domain.BatchNotFound(line.BatchID)
		}
		if b.ItemID != itemID {
			return nil, fmt.Errorf("%w: batch %d belongs to item %d", domain.ErrInvalidPolicy, b.ID, b.ItemID)
		}
		if line.Quantity.GreaterThan(b.Remaining) {
			return nil, &domain.InsufficientStockError{
				ItemID:    itemID,
				BatchID:   b.ID,
				Requested: line.Quantity,
				Available: b.Remaining,
			}
		}
	}
	return plan, nil
}

// drain takes from batches in order until want is covered, rounding the
// outstanding amount at every step so many small batches cannot accumulate
// sub-precision drift.
func drain(batches []domain.Batch, want decimal.Decimal) (domain.Plan, decimal.Decimal) {
	var plan domain.Plan
	left := domain.RoundQty(want)
	for _, b := range batches {
		if !left.IsPositive() {
			break
		}
		take := domain.RoundQty(domain.MinQty(left, b.Remaining))
		if !take.IsPositive() {
			continue
		}
		plan = append(plan, domain.PlanLine{BatchID: b.ID, Quantity: take})
		left = domain.RoundQty(left.Sub(take))
	}
	return plan, left
}
