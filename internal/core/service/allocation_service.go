package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rl1809/stock-allocation/internal/core/domain"
	"github.com/rl1809/stock-allocation/internal/port"
)

const defaultMaxAttempts = 3

var ErrDuplicateRequest = errors.New("duplicate request")

// AllocationService is the surface the host application calls. Each sale
// operation is one unit of work against the ledger, retried as a whole when
// it loses an optimistic-concurrency race.
type AllocationService struct {
	repo        port.LedgerRepository
	cache       port.CacheRepository
	items       port.ItemDirectory
	maxAttempts int
	now         func() time.Time
	newID       func() string

	ledger     *Ledger
	resolver   *Resolver
	reconciler *Reconciler
	checker    *Checker
}

type Option func(*AllocationService)

// WithIdempotency enables RequestID de-duplication on create.
func WithIdempotency(cache port.CacheRepository) Option {
	return func(s *AllocationService) { s.cache = cache }
}

// WithItemDirectory lets reports carry item names.
func WithItemDirectory(items port.ItemDirectory) Option {
	return func(s *AllocationService) { s.items = items }
}

func WithMaxAttempts(n int) Option {
	return func(s *AllocationService) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *AllocationService) { s.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(s *AllocationService) { s.newID = newID }
}

func NewAllocationService(repo port.LedgerRepository, opts ...Option) *AllocationService {
	s := &AllocationService{
		repo:        repo,
		maxAttempts: defaultMaxAttempts,
		now:         func() time.Time { return time.Now().UTC() },
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.ledger = NewLedger()
	s.resolver = NewResolver(s.ledger)
	txn := NewTransaction(s.ledger, s.now, s.newID)
	s.reconciler = NewReconciler(s.resolver, txn, s.now, s.newID)
	s.checker = NewChecker(s.now)
	return s
}

// CreateSaleAllocation creates a sale and allocates it in one step. On
// InsufficientStock nothing is written.
func (s *AllocationService) CreateSaleAllocation(ctx context.Context, req domain.CreateRequest) (result domain.SaleResult, err error) {
	if req.RequestID != "" && s.cache != nil {
		key := fmt.Sprintf("sale:create:%s", req.RequestID)
		token := s.newID()

		ok, acquireErr := s.cache.AcquireIdempotency(ctx, key, token)
		if acquireErr != nil {
			return domain.SaleResult{}, fmt.Errorf("idempotency check failed: %w", acquireErr)
		}
		if !ok {
			return domain.SaleResult{}, ErrDuplicateRequest
		}
		defer func() {
			if err == nil {
				return
			}
			if releaseErr := s.cache.ReleaseIdempotency(context.WithoutCancel(ctx), key, token); releaseErr != nil {
				err = errors.Join(err, fmt.Errorf("release idempotency key: %w", releaseErr))
			}
		}()
	}

	if req.SaleID == "" {
		req.SaleID = s.newID()
	}
	err = s.withRetry(ctx, func(tx port.LedgerTx) error {
		r, err := s.reconciler.Create(ctx, tx, req)
		result = r
		return err
	})
	return result, err
}

// UpdateSaleAllocation re-plans an allocated sale. When the new plan cannot
// be satisfied the sale keeps exactly the allocation it had.
func (s *AllocationService) UpdateSaleAllocation(ctx context.Context, req domain.UpdateRequest) (domain.SaleResult, error) {
	var result domain.SaleResult
	err := s.withRetry(ctx, func(tx port.LedgerTx) error {
		r, err := s.reconciler.Update(ctx, tx, req)
		result = r
		return err
	})
	return result, err
}

// DeleteSaleAllocation restores the sale's stock and removes the sale.
func (s *AllocationService) DeleteSaleAllocation(ctx context.Context, saleID string) error {
	return s.withRetry(ctx, func(tx port.LedgerTx) error {
		return s.reconciler.Delete(ctx, tx, saleID)
	})
}

// FindItem looks an item up by display name, ignoring case, width and
// spacing differences.
func (s *AllocationService) FindItem(ctx context.Context, name string) (domain.Item, error) {
	if s.items == nil {
		return domain.Item{}, errors.New("no item directory configured")
	}
	item, err := s.items.FindItemByName(ctx, name)
	if err != nil {
		return domain.Item{}, fmt.Errorf("find item %q: %w", name, err)
	}
	if item == nil {
		return domain.Item{}, &domain.NotFoundError{Entity: "item", ID: name}
	}
	return *item, nil
}

func (s *AllocationService) GetSale(ctx context.Context, saleID string) (domain.SaleResult, error) {
	var result domain.SaleResult
	err := s.read(ctx, func(tx port.LedgerTx) error {
		sale, err := s.reconciler.loadSale(ctx, tx, saleID)
		if err != nil {
			return err
		}
		allocs, err := tx.ListAllocationsBySale(ctx, saleID)
		if err != nil {
			return fmt.Errorf("list allocations: %w", err)
		}
		result = domain.SaleResult{Sale: sale, Allocations: allocs}
		return nil
	})
	return result, err
}

func (s *AllocationService) ListAvailableBatches(ctx context.Context, itemID int64, q domain.BatchQuery) ([]domain.Batch, error) {
	var batches []domain.Batch
	err := s.read(ctx, func(tx port.LedgerTx) error {
		var err error
		batches, err = s.ledger.ListAvailableBatches(ctx, tx, itemID, q)
		return err
	})
	return batches, err
}

// ContainerGroups returns the item's available batches grouped by container.
func (s *AllocationService) ContainerGroups(ctx context.Context, itemID int64) ([]domain.ContainerGroup, error) {
	batches, err := s.ListAvailableBatches(ctx, itemID, domain.BatchQuery{})
	if err != nil {
		return nil, err
	}
	return domain.GroupByContainer(batches), nil
}

// PreviewAllocation settles and resolves req the way CreateSaleAllocation
// would, without touching the ledger.
func (s *AllocationService) PreviewAllocation(ctx context.Context, req domain.CreateRequest) (domain.Plan, decimal.Decimal, error) {
	qty, policy, err := domain.SettleQuantity(req.Quantity, decimal.Zero, req.Policy, req.Ambiguity)
	if err != nil {
		return nil, decimal.Zero, err
	}
	var (
		plan      domain.Plan
		shortfall decimal.Decimal
	)
	err = s.read(ctx, func(tx port.LedgerTx) error {
		var err error
		plan, shortfall, err = s.resolver.Resolve(ctx, tx, req.ItemID, qty, policy)
		return err
	})
	return plan, shortfall, err
}

func (s *AllocationService) Verify(ctx context.Context, itemID int64) (domain.Report, error) {
	var report domain.Report
	err := s.read(ctx, func(tx port.LedgerTx) error {
		var err error
		report, err = s.verify(ctx, tx, itemID)
		return err
	})
	return report, err
}

// VerifyAll checks every item the ledger holds batches or sales for, from
// one consistent read.
func (s *AllocationService) VerifyAll(ctx context.Context) ([]domain.Report, error) {
	var reports []domain.Report
	err := s.read(ctx, func(tx port.LedgerTx) error {
		ids, err := tx.ListItemIDs(ctx)
		if err != nil {
			return fmt.Errorf("list items: %w", err)
		}
		for _, id := range ids {
			r, err := s.verify(ctx, tx, id)
			if err != nil {
				return err
			}
			reports = append(reports, r)
		}
		return nil
	})
	return reports, err
}

func (s *AllocationService) verify(ctx context.Context, tx port.LedgerTx, itemID int64) (domain.Report, error) {
	report, err := s.checker.Verify(ctx, tx, itemID)
	if err != nil {
		return report, err
	}
	if s.items != nil {
		item, err := s.items.GetItem(ctx, itemID)
		if err != nil {
			return report, fmt.Errorf("get item %d: %w", itemID, err)
		}
		if item != nil {
			report.ItemName = item.Name
		}
	}
	return report, nil
}

func (s *AllocationService) withRetry(ctx context.Context, fn func(tx port.LedgerTx) error) error {
	var err error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		err = s.runOnce(ctx, fn)
		if !errors.Is(err, domain.ErrConcurrentModification) {
			return err
		}
		if ctx.Err() != nil {
			return errors.Join(err, ctx.Err())
		}
	}
	return fmt.Errorf("gave up after %d attempts: %w", s.maxAttempts, err)
}

func (s *AllocationService) runOnce(ctx context.Context, fn func(tx port.LedgerTx) error) error {
	tx, err := s.repo.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *AllocationService) read(ctx context.Context, fn func(tx port.LedgerTx) error) error {
	tx, err := s.repo.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	return fn(tx)
}
