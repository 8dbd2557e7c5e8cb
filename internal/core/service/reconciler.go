package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/stock-allocation/internal/core/domain"
	"github.com/rl1809/stock-allocation/internal/port"
)

// Reconciler drives a sale through Unallocated -> Allocated -> Reconciling ->
// Allocated | Deleted. Every path goes through Transaction, and no path
// leaves a sale with a partial allocation.
type Reconciler struct {
	resolver *Resolver
	txn      *Transaction
	now      func() time.Time
	newID    func() string
}

func NewReconciler(resolver *Resolver, txn *Transaction, now func() time.Time, newID func() string) *Reconciler {
	return &Reconciler{resolver: resolver, txn: txn, now: now, newID: newID}
}

// Create allocates a new sale. Unless AcceptPartial is set, a shortfall
// fails the whole create and nothing is written.
func (r *Reconciler) Create(ctx context.Context, tx port.LedgerTx, req domain.CreateRequest) (domain.SaleResult, error) {
	qty, policy, err := domain.SettleQuantity(req.Quantity, decimal.Zero, req.Policy, req.Ambiguity)
	if err != nil {
		return domain.SaleResult{}, err
	}

	plan, shortfall, err := r.resolver.Resolve(ctx, tx, req.ItemID, qty, policy)
	if err != nil {
		return domain.SaleResult{}, err
	}
	if shortfall.IsPositive() {
		allocated := plan.Total()
		if !req.AcceptPartial || !allocated.IsPositive() {
			return domain.SaleResult{}, &domain.InsufficientStockError{
				ItemID:    req.ItemID,
				Requested: qty,
				Available: allocated,
			}
		}
		qty = allocated
	}

	id := req.SaleID
	if id == "" {
		id = r.newID()
	}
	sale := domain.NewSale(id, req.ItemID, qty, r.now())
	if err := sale.Transition(domain.SaleAllocated); err != nil {
		return domain.SaleResult{}, err
	}
	if err := tx.InsertSale(ctx, sale); err != nil {
		return domain.SaleResult{}, fmt.Errorf("insert sale: %w", err)
	}

	allocs, err := r.txn.Apply(ctx, tx, sale, plan)
	if err != nil {
		if delErr := tx.DeleteSale(ctx, sale); delErr != nil {
			err = errors.Join(err, fmt.Errorf("discard sale %s: %w", sale.ID, delErr))
		}
		return domain.SaleResult{}, err
	}
	return domain.SaleResult{Sale: sale, Allocations: allocs}, nil
}

// Update reverses the sale's allocation, resolves and applies the new one,
// and when that fails puts the original records back before reporting the
// failure.
func (r *Reconciler) Update(ctx context.Context, tx port.LedgerTx, req domain.UpdateRequest) (domain.SaleResult, error) {
	sale, err := r.loadSale(ctx, tx, req.SaleID)
	if err != nil {
		return domain.SaleResult{}, err
	}
	qty, policy, err := domain.SettleQuantity(req.Quantity, sale.Requested, req.Policy, req.Ambiguity)
	if err != nil {
		return domain.SaleResult{}, err
	}
	original, err := tx.ListAllocationsBySale(ctx, sale.ID)
	if err != nil {
		return domain.SaleResult{}, fmt.Errorf("list allocations: %w", err)
	}
	if err := sale.Transition(domain.SaleReconciling); err != nil {
		return domain.SaleResult{}, err
	}

	if err := r.txn.Reverse(ctx, tx, original); err != nil {
		return domain.SaleResult{}, fmt.Errorf("reverse allocation: %w", err)
	}

	allocs, err := r.reallocate(ctx, tx, sale, qty, policy)
	if err != nil {
		if restoreErr := r.txn.Reapply(ctx, tx, original); restoreErr != nil {
			return domain.SaleResult{}, errors.Join(err, fmt.Errorf("restore original allocation: %w", restoreErr))
		}
		return domain.SaleResult{}, err
	}

	sale.Requested = qty
	sale.UpdatedAt = r.now()
	if err := sale.Transition(domain.SaleAllocated); err != nil {
		return domain.SaleResult{}, err
	}
	if err := tx.UpdateSale(ctx, sale); err != nil {
		return domain.SaleResult{}, fmt.Errorf("update sale: %w", err)
	}
	return domain.SaleResult{Sale: sale, Allocations: allocs}, nil
}

func (r *Reconciler) reallocate(ctx context.Context, tx port.LedgerTx, sale domain.Sale, qty decimal.Decimal, policy domain.Policy) ([]domain.Allocation, error) {
	plan, shortfall, err := r.resolver.Resolve(ctx, tx, sale.ItemID, qty, policy)
	if err != nil {
		return nil, err
	}
	if shortfall.IsPositive() {
		return nil, &domain.InsufficientStockError{
			ItemID:    sale.ItemID,
			Requested: qty,
			Available: plan.Total(),
		}
	}
	return r.txn.Apply(ctx, tx, sale, plan)
}

// Delete restores the sale's stock and removes it. If the restore fails the
// sale is kept.
func (r *Reconciler) Delete(ctx context.Context, tx port.LedgerTx, saleID string) error {
	sale, err := r.loadSale(ctx, tx, saleID)
	if err != nil {
		return err
	}
	allocs, err := tx.ListAllocationsBySale(ctx, sale.ID)
	if err != nil {
		return fmt.Errorf("list allocations: %w", err)
	}
	if err := sale.Transition(domain.SaleDeleted); err != nil {
		return err
	}
	if err := r.txn.Reverse(ctx, tx, allocs); err != nil {
		return fmt.Errorf("reverse allocation: %w", err)
	}
	if err := tx.DeleteSale(ctx, sale); err != nil {
		return fmt.Errorf("delete sale: %w", err)
	}
	return nil
}

func (r *Reconciler) loadSale(ctx context.Context, tx port.LedgerTx, saleID string) (domain.Sale, error) {
	sale, err := tx.GetSale(ctx, saleID)
	if err != nil {
		return domain.Sale{}, fmt.Errorf("get sale: %w", err)
	}
	if sale == nil {
		return domain.Sale{}, domain.SaleNotFound(saleID)
	}
	return *sale, nil
}
