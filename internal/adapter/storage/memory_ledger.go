package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/stock-allocation/internal/core/domain"
	"github.com/rl1809/stock-allocation/internal/port"
)

var ErrTxDone = errors.New("transaction already committed or rolled back")

// MemoryLedger is an in-process ledger store. Units of work read a snapshot
// of the committed state, buffer their writes and validate the versions they
// read when they commit.
type MemoryLedger struct {
	mu          sync.RWMutex
	nextBatchID int64
	nextItemID  int64
	items       map[int64]domain.Item
	batches     map[int64]domain.Batch
	sales       map[string]domain.Sale
	allocations map[string]domain.Allocation
	now         func() time.Time
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		items:       make(map[int64]domain.Item),
		batches:     make(map[int64]domain.Batch),
		sales:       make(map[string]domain.Sale),
		allocations: make(map[string]domain.Allocation),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// AddItem registers an item, assigning an id when it has none.
func (m *MemoryLedger) AddItem(item domain.Item) domain.Item {
	m.mu.Lock()
	defer m.mu.Unlock()

	if item.ID == 0 {
		m.nextItemID++
		item.ID = m.nextItemID
	} else if item.ID > m.nextItemID {
		m.nextItemID = item.ID
	}
	m.items[item.ID] = item
	return item
}

type BatchOption func(*domain.Batch)

// WithRemaining seeds the batch with an explicit remaining quantity, zero
// included, instead of the full purchase.
func WithRemaining(q decimal.Decimal) BatchOption {
	return func(b *domain.Batch) { b.Remaining = q }
}

// AddBatch records a purchase. Ids are assigned in increasing order and the
// batch starts with its whole purchase remaining unless WithRemaining says
// otherwise.
func (m *MemoryLedger) AddBatch(b domain.Batch, opts ...BatchOption) domain.Batch {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextBatchID++
	b.ID = m.nextBatchID
	b.Purchased = domain.RoundQty(b.Purchased)
	b.Remaining = b.Purchased
	for _, opt := range opts {
		opt(&b)
	}
	b.Remaining = domain.RoundQty(b.Remaining)
	now := m.now()
	if b.UnloadedAt.IsZero() {
		b.UnloadedAt = now
	}
	b.CreatedAt = now
	b.UpdatedAt = now
	m.batches[b.ID] = b
	return b
}

// OverwriteRemaining sets a batch's remaining quantity without any ledger
// checks, the way an out-of-band SQL patch would.
func (m *MemoryLedger) OverwriteRemaining(batchID int64, remaining decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.batches[batchID]
	if !ok {
		return domain.BatchNotFound(batchID)
	}
	b.Remaining = domain.RoundQty(remaining)
	b.Version++
	m.batches[batchID] = b
	return nil
}

func (m *MemoryLedger) GetItem(ctx context.Context, id int64) (*domain.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	item, ok := m.items[id]
	if !ok {
		return nil, nil
	}
	return &item, nil
}

func (m *MemoryLedger) FindItemByName(ctx context.Context, name string) (*domain.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key := domain.NormalizeName(name)
	for _, item := range m.items {
		if domain.NormalizeName(item.Name) == key {
			found := item
			return &found, nil
		}
	}
	return nil, nil
}

func (m *MemoryLedger) Begin(ctx context.Context) (port.LedgerTx, error) {
	return &memoryTx{
		store:         m,
		batches:       make(map[int64]domain.Batch),
		sales:         make(map[string]*saleWrite),
		newAllocs:     make(map[string]domain.Allocation),
		deletedAllocs: make(map[string]struct{}),
	}, nil
}

// snapshot is the committed state a unit of work reads from, copied under a
// single read lock.
type snapshot struct {
	itemIDs     map[int64]struct{}
	batches     map[int64]domain.Batch
	sales       map[string]domain.Sale
	allocations map[string]domain.Allocation
}

func (m *MemoryLedger) snapshot() *snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := &snapshot{
		itemIDs:     make(map[int64]struct{}, len(m.items)),
		batches:     make(map[int64]domain.Batch, len(m.batches)),
		sales:       make(map[string]domain.Sale, len(m.sales)),
		allocations: make(map[string]domain.Allocation, len(m.allocations)),
	}
	for id := range m.items {
		snap.itemIDs[id] = struct{}{}
	}
	for id, b := range m.batches {
		snap.batches[id] = b
	}
	for id, s := range m.sales {
		snap.sales[id] = s
	}
	for id, a := range m.allocations {
		snap.allocations[id] = a
	}
	return snap
}

type saleWrite struct {
	sale     domain.Sale
	inserted bool
	deleted  bool
}

// memoryTx reads from a snapshot pinned at its first read, so every read in
// the unit sees the same committed state. Commit still validates versions
// against the live store.
type memoryTx struct {
	store *MemoryLedger
	snap  *snapshot
	done  bool

	// batches holds written batches at the version they were read.
	batches       map[int64]domain.Batch
	sales         map[string]*saleWrite
	newAllocs     map[string]domain.Allocation
	deletedAllocs map[string]struct{}
}

func (t *memoryTx) check() error {
	if t.done {
		return ErrTxDone
	}
	return nil
}

func (t *memoryTx) view() (*snapshot, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	if t.snap == nil {
		t.snap = t.store.snapshot()
	}
	return t.snap, nil
}

func (t *memoryTx) ListItemIDs(ctx context.Context) ([]int64, error) {
	snap, err := t.view()
	if err != nil {
		return nil, err
	}

	seen := make(map[int64]bool)
	for id := range snap.itemIDs {
		seen[id] = true
	}
	for _, b := range snap.batches {
		seen[b.ItemID] = true
	}
	for _, s := range snap.sales {
		seen[s.ItemID] = true
	}
	for _, w := range t.sales {
		if !w.deleted {
			seen[w.sale.ItemID] = true
		}
	}
	ids := make([]int64, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (t *memoryTx) ListBatches(ctx context.Context, itemID int64) ([]domain.Batch, error) {
	snap, err := t.view()
	if err != nil {
		return nil, err
	}

	var out []domain.Batch
	for id, b := range snap.batches {
		if b.ItemID != itemID {
			continue
		}
		if w, ok := t.batches[id]; ok {
			b = w
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memoryTx) GetBatch(ctx context.Context, id int64) (*domain.Batch, error) {
	snap, err := t.view()
	if err != nil {
		return nil, err
	}
	if b, ok := t.batches[id]; ok {
		return &b, nil
	}
	b, ok := snap.batches[id]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (t *memoryTx) UpdateBatch(ctx context.Context, b domain.Batch) error {
	cur, err := t.GetBatch(ctx, b.ID)
	if err != nil {
		return err
	}
	if cur == nil {
		return domain.BatchNotFound(b.ID)
	}
	if cur.Version != b.Version {
		return fmt.Errorf("batch %d: %w", b.ID, domain.ErrConcurrentModification)
	}
	t.batches[b.ID] = b
	return nil
}

func (t *memoryTx) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	snap, err := t.view()
	if err != nil {
		return nil, err
	}
	if w, ok := t.sales[id]; ok {
		if w.deleted {
			return nil, nil
		}
		s := w.sale
		return &s, nil
	}
	s, ok := snap.sales[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (t *memoryTx) ListSales(ctx context.Context, itemID int64) ([]domain.Sale, error) {
	snap, err := t.view()
	if err != nil {
		return nil, err
	}

	var out []domain.Sale
	for id, s := range snap.sales {
		if _, ok := t.sales[id]; ok || s.ItemID != itemID {
			continue
		}
		out = append(out, s)
	}
	for _, w := range t.sales {
		if !w.deleted && w.sale.ItemID == itemID {
			out = append(out, w.sale)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memoryTx) InsertSale(ctx context.Context, s domain.Sale) error {
	cur, err := t.GetSale(ctx, s.ID)
	if err != nil {
		return err
	}
	if cur != nil {
		return fmt.Errorf("sale %s: %w", s.ID, domain.ErrSaleExists)
	}
	t.sales[s.ID] = &saleWrite{sale: s, inserted: true}
	return nil
}

func (t *memoryTx) UpdateSale(ctx context.Context, s domain.Sale) error {
	cur, err := t.GetSale(ctx, s.ID)
	if err != nil {
		return err
	}
	if cur == nil {
		return domain.SaleNotFound(s.ID)
	}
	if cur.Version != s.Version {
		return fmt.Errorf("sale %s: %w", s.ID, domain.ErrConcurrentModification)
	}
	inserted := false
	if w, ok := t.sales[s.ID]; ok {
		inserted = w.inserted
	}
	t.sales[s.ID] = &saleWrite{sale: s, inserted: inserted}
	return nil
}

func (t *memoryTx) DeleteSale(ctx context.Context, s domain.Sale) error {
	cur, err := t.GetSale(ctx, s.ID)
	if err != nil {
		return err
	}
	if cur == nil {
		return domain.SaleNotFound(s.ID)
	}
	if cur.Version != s.Version {
		return fmt.Errorf("sale %s: %w", s.ID, domain.ErrConcurrentModification)
	}
	if w, ok := t.sales[s.ID]; ok && w.inserted {
		delete(t.sales, s.ID)
		return nil
	}
	t.sales[s.ID] = &saleWrite{sale: *cur, deleted: true}
	return nil
}

func (t *memoryTx) ListAllocationsBySale(ctx context.Context, saleID string) ([]domain.Allocation, error) {
	return t.listAllocations(func(a domain.Allocation) bool { return a.SaleID == saleID })
}

func (t *memoryTx) ListAllocationsByItem(ctx context.Context, itemID int64) ([]domain.Allocation, error) {
	return t.listAllocations(func(a domain.Allocation) bool { return a.ItemID == itemID })
}

func (t *memoryTx) listAllocations(match func(domain.Allocation) bool) ([]domain.Allocation, error) {
	snap, err := t.view()
	if err != nil {
		return nil, err
	}

	var out []domain.Allocation
	for id, a := range snap.allocations {
		if _, gone := t.deletedAllocs[id]; gone {
			continue
		}
		if _, replaced := t.newAllocs[id]; replaced {
			continue
		}
		if match(a) {
			out = append(out, a)
		}
	}
	for _, a := range t.newAllocs {
		if match(a) {
			out = append(out, a)
		}
	}
	domain.SortAllocations(out)
	return out, nil
}

func (t *memoryTx) InsertAllocations(ctx context.Context, allocs []domain.Allocation) error {
	if err := t.check(); err != nil {
		return err
	}
	for _, a := range allocs {
		if _, ok := t.newAllocs[a.ID]; ok {
			return fmt.Errorf("allocation %s already exists", a.ID)
		}
		delete(t.deletedAllocs, a.ID)
		t.newAllocs[a.ID] = a
	}
	return nil
}

func (t *memoryTx) DeleteAllocations(ctx context.Context, ids []string) error {
	snap, err := t.view()
	if err != nil {
		return err
	}
	for _, id := range ids {
		delete(t.newAllocs, id)
		if _, ok := snap.allocations[id]; ok {
			t.deletedAllocs[id] = struct{}{}
		}
	}
	return nil
}

// Commit validates every written batch and sale against the version it was
// read at and applies the unit atomically.
func (t *memoryTx) Commit() error {
	if err := t.check(); err != nil {
		return err
	}
	t.done = true

	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, b := range t.batches {
		cur, ok := s.batches[id]
		if !ok {
			return domain.BatchNotFound(id)
		}
		if cur.Version != b.Version {
			return fmt.Errorf("batch %d: %w", id, domain.ErrConcurrentModification)
		}
	}
	for id, w := range t.sales {
		cur, exists := s.sales[id]
		if w.inserted {
			if exists {
				return fmt.Errorf("sale %s: %w", id, domain.ErrConcurrentModification)
			}
			continue
		}
		if !exists || cur.Version != w.sale.Version {
			return fmt.Errorf("sale %s: %w", id, domain.ErrConcurrentModification)
		}
	}

	now := s.now()
	for id, b := range t.batches {
		b.Version++
		b.UpdatedAt = now
		s.batches[id] = b
	}
	for id, w := range t.sales {
		switch {
		case w.deleted:
			delete(s.sales, id)
		case w.inserted:
			s.sales[id] = w.sale
		default:
			w.sale.Version++
			s.sales[id] = w.sale
		}
	}
	for id := range t.deletedAllocs {
		delete(s.allocations, id)
	}
	for id, a := range t.newAllocs {
		s.allocations[id] = a
	}
	return nil
}

func (t *memoryTx) Rollback() error {
	t.done = true
	return nil
}
