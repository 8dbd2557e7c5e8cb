package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/rl1809/stock-allocation/internal/core/domain"
	"github.com/rl1809/stock-allocation/internal/port"
)

const (
	mysqlErrDuplicateEntry  = 1062
	mysqlErrLockWaitTimeout = 1205
	mysqlErrDeadlock        = 1213
	batchColumns            = `id, item_id, container_ref, purchased_qty, remaining_qty, unloaded_at, version, created_at, updated_at`
	saleColumns             = `id, item_id, requested_qty, status, version, created_at, updated_at`
	allocationColumns       = `id, sale_id, batch_id, item_id, quantity, created_at`
)

type MySQLAdapter struct {
	db *sqlx.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: sqlx.NewDb(db, "mysql")}
}

func (m *MySQLAdapter) Begin(ctx context.Context) (port.LedgerTx, error) {
	tx, err := m.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead})
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &mysqlTx{tx: tx}, nil
}

// CreateItem registers an item under its normalized name.
func (m *MySQLAdapter) CreateItem(ctx context.Context, item domain.Item) (domain.Item, error) {
	result, err := m.db.ExecContext(ctx, `
		INSERT INTO items (name, normalized_name, default_rate)
		VALUES (?, ?, ?)`,
		item.Name, domain.NormalizeName(item.Name), domain.RoundQty(item.DefaultRate),
	)
	if err != nil {
		return item, fmt.Errorf("insert item: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return item, fmt.Errorf("insert item: %w", err)
	}
	item.ID = id
	return item, nil
}

// RecordPurchase inserts a new batch with its full purchased quantity
// remaining.
func (m *MySQLAdapter) RecordPurchase(ctx context.Context, b domain.Batch) (domain.Batch, error) {
	now := time.Now().UTC()
	b.Purchased = domain.RoundQty(b.Purchased)
	b.Remaining = b.Purchased
	if b.UnloadedAt.IsZero() {
		b.UnloadedAt = now
	}
	b.CreatedAt, b.UpdatedAt = now, now

	result, err := m.db.ExecContext(ctx, `
		INSERT INTO batches (item_id, container_ref, purchased_qty, remaining_qty, unloaded_at, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?)`,
		b.ItemID, b.ContainerRef, b.Purchased, b.Remaining, b.UnloadedAt, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return b, fmt.Errorf("insert batch: %w", err)
	}
	if b.ID, err = result.LastInsertId(); err != nil {
		return b, fmt.Errorf("insert batch: %w", err)
	}
	return b, nil
}

func (m *MySQLAdapter) GetItem(ctx context.Context, id int64) (*domain.Item, error) {
	var row itemRow
	err := m.db.GetContext(ctx, &row, `SELECT id, name, default_rate FROM items WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query item: %w", err)
	}
	item := row.toDomain()
	return &item, nil
}

func (m *MySQLAdapter) FindItemByName(ctx context.Context, name string) (*domain.Item, error) {
	var row itemRow
	err := m.db.GetContext(ctx, &row, `
		SELECT id, name, default_rate FROM items WHERE normalized_name = ?`,
		domain.NormalizeName(name),
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query item: %w", err)
	}
	item := row.toDomain()
	return &item, nil
}

type mysqlTx struct {
	tx *sqlx.Tx
}

func (t *mysqlTx) ListItemIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := t.tx.SelectContext(ctx, &ids, `
		SELECT item_id FROM batches
		UNION SELECT item_id FROM sales
		UNION SELECT id FROM items
		ORDER BY 1`)
	if err != nil {
		return nil, fmt.Errorf("query item ids: %w", err)
	}
	return ids, nil
}

func (t *mysqlTx) ListBatches(ctx context.Context, itemID int64) ([]domain.Batch, error) {
	var rows []batchRow
	err := t.tx.SelectContext(ctx, &rows, `
		SELECT `+batchColumns+` FROM batches WHERE item_id = ? ORDER BY id`, itemID)
	if err != nil {
		return nil, fmt.Errorf("query batches: %w", mapMySQLError(err))
	}
	out := make([]domain.Batch, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (t *mysqlTx) GetBatch(ctx context.Context, id int64) (*domain.Batch, error) {
	var row batchRow
	err := t.tx.GetContext(ctx, &row, `SELECT `+batchColumns+` FROM batches WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query batch: %w", mapMySQLError(err))
	}
	b := row.toDomain()
	return &b, nil
}

func (t *mysqlTx) UpdateBatch(ctx context.Context, b domain.Batch) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE batches
		SET remaining_qty = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		domain.RoundQty(b.Remaining), time.Now().UTC(), b.ID, b.Version,
	)
	if err != nil {
		return fmt.Errorf("update batch: %w", mapMySQLError(err))
	}
	return expectOneRow(result, fmt.Sprintf("batch %d", b.ID))
}

func (t *mysqlTx) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	var row saleRow
	err := t.tx.GetContext(ctx, &row, `SELECT `+saleColumns+` FROM sales WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query sale: %w", mapMySQLError(err))
	}
	s := row.toDomain()
	return &s, nil
}

func (t *mysqlTx) ListSales(ctx context.Context, itemID int64) ([]domain.Sale, error) {
	var rows []saleRow
	err := t.tx.SelectContext(ctx, &rows, `
		SELECT `+saleColumns+` FROM sales WHERE item_id = ? ORDER BY id`, itemID)
	if err != nil {
		return nil, fmt.Errorf("query sales: %w", mapMySQLError(err))
	}
	out := make([]domain.Sale, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (t *mysqlTx) InsertSale(ctx context.Context, s domain.Sale) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO sales (id, item_id, requested_qty, status, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.ItemID, domain.RoundQty(s.Requested), s.Status, s.Version, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		var myErr *mysql.MySQLError
		if errors.As(err, &myErr) && myErr.Number == mysqlErrDuplicateEntry {
			return fmt.Errorf("sale %s: %w", s.ID, domain.ErrSaleExists)
		}
		return fmt.Errorf("insert sale: %w", mapMySQLError(err))
	}
	return nil
}

func (t *mysqlTx) UpdateSale(ctx context.Context, s domain.Sale) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE sales
		SET requested_qty = ?, status = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		domain.RoundQty(s.Requested), s.Status, s.UpdatedAt, s.ID, s.Version,
	)
	if err != nil {
		return fmt.Errorf("update sale: %w", mapMySQLError(err))
	}
	return expectOneRow(result, "sale "+s.ID)
}

func (t *mysqlTx) DeleteSale(ctx context.Context, s domain.Sale) error {
	result, err := t.tx.ExecContext(ctx, `DELETE FROM sales WHERE id = ? AND version = ?`, s.ID, s.Version)
	if err != nil {
		return fmt.Errorf("delete sale: %w", mapMySQLError(err))
	}
	return expectOneRow(result, "sale "+s.ID)
}

func (t *mysqlTx) ListAllocationsBySale(ctx context.Context, saleID string) ([]domain.Allocation, error) {
	return t.listAllocations(ctx, `SELECT `+allocationColumns+` FROM allocations WHERE sale_id = ? ORDER BY batch_id, id`, saleID)
}

func (t *mysqlTx) ListAllocationsByItem(ctx context.Context, itemID int64) ([]domain.Allocation, error) {
	return t.listAllocations(ctx, `SELECT `+allocationColumns+` FROM allocations WHERE item_id = ? ORDER BY batch_id, id`, itemID)
}

func (t *mysqlTx) listAllocations(ctx context.Context, query string, arg any) ([]domain.Allocation, error) {
	var rows []allocationRow
	if err := t.tx.SelectContext(ctx, &rows, query, arg); err != nil {
		return nil, fmt.Errorf("query allocations: %w", mapMySQLError(err))
	}
	out := make([]domain.Allocation, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (t *mysqlTx) InsertAllocations(ctx context.Context, allocs []domain.Allocation) error {
	if len(allocs) == 0 {
		return nil
	}
	rows := make([]allocationRow, 0, len(allocs))
	for _, a := range allocs {
		rows = append(rows, newAllocationRow(a))
	}
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO allocations (id, sale_id, batch_id, item_id, quantity, created_at)
		VALUES (:id, :sale_id, :batch_id, :item_id, :quantity, :created_at)`, rows)
	if err != nil {
		return fmt.Errorf("insert allocations: %w", mapMySQLError(err))
	}
	return nil
}

func (t *mysqlTx) DeleteAllocations(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`DELETE FROM allocations WHERE id IN (?)`, ids)
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}
	result, err := t.tx.ExecContext(ctx, t.tx.Rebind(query), args...)
	if err != nil {
		return fmt.Errorf("delete allocations: %w", mapMySQLError(err))
	}
	if n, _ := result.RowsAffected(); n != int64(len(ids)) {
		return fmt.Errorf("delete allocations: %d of %d rows: %w", n, len(ids), domain.ErrConcurrentModification)
	}
	return nil
}

func (t *mysqlTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return mapMySQLError(err)
	}
	return nil
}

func (t *mysqlTx) Rollback() error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

func expectOneRow(result sql.Result, what string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", what, err)
	}
	if rows == 0 {
		return fmt.Errorf("%s: %w", what, domain.ErrConcurrentModification)
	}
	return nil
}

// mapMySQLError turns lock conflicts into retryable concurrent modifications.
func mapMySQLError(err error) error {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case mysqlErrDeadlock, mysqlErrLockWaitTimeout:
			return fmt.Errorf("%w: %s", domain.ErrConcurrentModification, myErr.Message)
		}
	}
	return err
}

type itemRow struct {
	ID          int64           `db:"id"`
	Name        string          `db:"name"`
	DefaultRate decimal.Decimal `db:"default_rate"`
}

func (r itemRow) toDomain() domain.Item {
	return domain.Item{ID: r.ID, Name: r.Name, DefaultRate: r.DefaultRate}
}

type batchRow struct {
	ID           int64           `db:"id"`
	ItemID       int64           `db:"item_id"`
	ContainerRef string          `db:"container_ref"`
	Purchased    decimal.Decimal `db:"purchased_qty"`
	Remaining    decimal.Decimal `db:"remaining_qty"`
	UnloadedAt   time.Time       `db:"unloaded_at"`
	Version      int             `db:"version"`
	CreatedAt    time.Time       `db:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at"`
}

func (r batchRow) toDomain() domain.Batch {
	return domain.Batch{
		ID:           r.ID,
		ItemID:       r.ItemID,
		ContainerRef: r.ContainerRef,
		Purchased:    r.Purchased,
		Remaining:    r.Remaining,
		UnloadedAt:   r.UnloadedAt,
		Version:      r.Version,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

type saleRow struct {
	ID        string          `db:"id"`
	ItemID    int64           `db:"item_id"`
	Requested decimal.Decimal `db:"requested_qty"`
	Status    string          `db:"status"`
	Version   int             `db:"version"`
	CreatedAt time.Time       `db:"created_at"`
	UpdatedAt time.Time       `db:"updated_at"`
}

func (r saleRow) toDomain() domain.Sale {
	return domain.Sale{
		ID:        r.ID,
		ItemID:    r.ItemID,
		Requested: r.Requested,
		Status:    domain.SaleStatus(r.Status),
		Version:   r.Version,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

type allocationRow struct {
	ID        string          `db:"id"`
	SaleID    string          `db:"sale_id"`
	BatchID   int64           `db:"batch_id"`
	ItemID    int64           `db:"item_id"`
	Quantity  decimal.Decimal `db:"quantity"`
	CreatedAt time.Time       `db:"created_at"`
}

func newAllocationRow(a domain.Allocation) allocationRow {
	return allocationRow{
		ID:        a.ID,
		SaleID:    a.SaleID,
		BatchID:   a.BatchID,
		ItemID:    a.ItemID,
		Quantity:  domain.RoundQty(a.Quantity),
		CreatedAt: a.CreatedAt,
	}
}

func (r allocationRow) toDomain() domain.Allocation {
	return domain.Allocation{
		ID:        r.ID,
		SaleID:    r.SaleID,
		BatchID:   r.BatchID,
		ItemID:    r.ItemID,
		Quantity:  r.Quantity,
		CreatedAt: r.CreatedAt,
	}
}
