// Package storage persists orders in SQLite. The database is the single
// source of truth for local order state; no in-process cache is
// authoritative. Three loops touch the same rows concurrently, so every
// update carries an optimistic version check.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/shopspring/decimal"

	"github.com/PawanKGupta/modular-trade-agent-sub006/internal/domain"
)

var (
	// ErrNotFound means no row matched.
	ErrNotFound = errors.New("order not found")
	// ErrVersionConflict means another writer updated the row first.
	ErrVersionConflict = errors.New("order version conflict")
)

// OrderStore is the persistent repository of Order records.
type OrderStore struct {
	db *sql.DB
}

// NewOrderStore opens (or creates) the SQLite database with WAL mode enabled.
func NewOrderStore(dbPath string) (*OrderStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS orders (
			id                  TEXT PRIMARY KEY,
			broker_order_id     TEXT NOT NULL DEFAULT '',
			symbol              TEXT NOT NULL,
			side                TEXT NOT NULL,
			quantity            INTEGER NOT NULL,
			limit_price         TEXT NOT NULL DEFAULT '0',
			status              TEXT NOT NULL,
			reason              TEXT NOT NULL DEFAULT '',
			first_failed_at     INTEGER NOT NULL DEFAULT 0,
			last_retry_attempt  INTEGER NOT NULL DEFAULT 0,
			retry_count         INTEGER NOT NULL DEFAULT 0,
			last_status_check   INTEGER NOT NULL DEFAULT 0,
			execution_price     TEXT NOT NULL DEFAULT '0',
			execution_quantity  INTEGER NOT NULL DEFAULT 0,
			execution_time      INTEGER NOT NULL DEFAULT 0,
			frozen_target_price TEXT NOT NULL DEFAULT '0',
			lowest_reference    TEXT NOT NULL DEFAULT '0',
			realized_pnl        TEXT NOT NULL DEFAULT '0',
			version             INTEGER NOT NULL DEFAULT 1,
			created_at          INTEGER NOT NULL,
			updated_at          INTEGER NOT NULL
		);
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create orders table: %w", err)
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_orders_symbol_status ON orders(symbol, side, status);`)
	if err != nil {
		return nil, fmt.Errorf("failed to create index: %w", err)
	}

	return &OrderStore{db: db}, nil
}

const orderColumns = `id, broker_order_id, symbol, side, quantity, limit_price, status, reason,
	first_failed_at, last_retry_attempt, retry_count, last_status_check,
	execution_price, execution_quantity, execution_time,
	frozen_target_price, lowest_reference, realized_pnl,
	version, created_at, updated_at`

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func timeOrZero(u int64) time.Time {
	if u == 0 {
		return time.Time{}
	}
	return time.Unix(u, 0)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var o domain.Order
	var limitPrice, execPrice, frozen, lowest, pnl string
	var firstFailed, lastRetry, lastCheck, execTime, created, updated int64

	err := row.Scan(
		&o.ID, &o.BrokerOrderID, &o.Symbol, &o.Side, &o.Quantity, &limitPrice, &o.Status, &o.Reason,
		&firstFailed, &lastRetry, &o.RetryCount, &lastCheck,
		&execPrice, &o.ExecutionQuantity, &execTime,
		&frozen, &lowest, &pnl,
		&o.Version, &created, &updated,
	)
	if err != nil {
		return nil, err
	}

	for _, f := range []struct {
		raw string
		dst *decimal.Decimal
	}{
		{limitPrice, &o.LimitPrice},
		{execPrice, &o.ExecutionPrice},
		{frozen, &o.FrozenTargetPrice},
		{lowest, &o.LowestReference},
		{pnl, &o.RealizedPnL},
	} {
		d, err := decimal.NewFromString(f.raw)
		if err != nil {
			return nil, fmt.Errorf("bad decimal %q on order %s: %w", f.raw, o.ID, err)
		}
		*f.dst = d
	}

	o.FirstFailedAt = timeOrZero(firstFailed)
	o.LastRetryAttempt = timeOrZero(lastRetry)
	o.LastStatusCheck = timeOrZero(lastCheck)
	o.ExecutionTime = timeOrZero(execTime)
	o.CreatedAt = timeOrZero(created)
	o.UpdatedAt = timeOrZero(updated)
	return &o, nil
}

// Insert stores a new order row.
func (s *OrderStore) Insert(ctx context.Context, o *domain.Order) error {
	if o.Version == 0 {
		o.Version = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.BrokerOrderID, o.Symbol, o.Side, o.Quantity, o.LimitPrice.String(), o.Status, o.Reason,
		unixOrZero(o.FirstFailedAt), unixOrZero(o.LastRetryAttempt), o.RetryCount, unixOrZero(o.LastStatusCheck),
		o.ExecutionPrice.String(), o.ExecutionQuantity, unixOrZero(o.ExecutionTime),
		o.FrozenTargetPrice.String(), o.LowestReference.String(), o.RealizedPnL.String(),
		o.Version, unixOrZero(o.CreatedAt), unixOrZero(o.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert order %s: %w", o.ID, err)
	}
	return nil
}

// Update writes the order back with an expected-version check. On success
// the in-memory Version is bumped to match the row.
func (s *OrderStore) Update(ctx context.Context, o *domain.Order) error {
	o.UpdatedAt = time.Now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders SET
			broker_order_id = ?, symbol = ?, side = ?, quantity = ?, limit_price = ?,
			status = ?, reason = ?,
			first_failed_at = ?, last_retry_attempt = ?, retry_count = ?, last_status_check = ?,
			execution_price = ?, execution_quantity = ?, execution_time = ?,
			frozen_target_price = ?, lowest_reference = ?, realized_pnl = ?,
			version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		o.BrokerOrderID, o.Symbol, o.Side, o.Quantity, o.LimitPrice.String(),
		o.Status, o.Reason,
		unixOrZero(o.FirstFailedAt), unixOrZero(o.LastRetryAttempt), o.RetryCount, unixOrZero(o.LastStatusCheck),
		o.ExecutionPrice.String(), o.ExecutionQuantity, unixOrZero(o.ExecutionTime),
		o.FrozenTargetPrice.String(), o.LowestReference.String(), o.RealizedPnL.String(),
		unixOrZero(o.UpdatedAt),
		o.ID, o.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update order %s: %w", o.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Distinguish a missing row from a concurrent writer.
		var exists int
		err := s.db.QueryRowContext(ctx, "SELECT 1 FROM orders WHERE id = ?", o.ID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return ErrVersionConflict
	}

	o.Version++
	return nil
}

// Get returns one order by internal id.
func (s *OrderStore) Get(ctx context.Context, id string) (*domain.Order, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = ?", id)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return o, err
}

// GetByBrokerOrderID returns the order carrying the given broker id.
func (s *OrderStore) GetByBrokerOrderID(ctx context.Context, brokerID string) (*domain.Order, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE broker_order_id = ?", brokerID)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return o, err
}

// FindActive returns the active (PENDING/ONGOING/FAILED) order for the
// symbol and side, or ErrNotFound. The duplicate-prevention invariant keeps
// this to at most one row.
func (s *OrderStore) FindActive(ctx context.Context, symbol string, side domain.Side) (*domain.Order, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE symbol = ? AND side = ? AND status IN ('PENDING', 'ONGOING', 'FAILED')
		ORDER BY created_at DESC LIMIT 1`,
		symbol, side)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return o, err
}

// ListByStatus returns orders in any of the given statuses, optionally
// filtered by side (empty side means both).
func (s *OrderStore) ListByStatus(ctx context.Context, side domain.Side, statuses ...domain.Status) ([]*domain.Order, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(statuses))
	args := make([]any, 0, len(statuses)+1)
	for i, st := range statuses {
		placeholders[i] = "?"
		args = append(args, st)
	}

	query := "SELECT " + orderColumns + " FROM orders WHERE status IN (" + strings.Join(placeholders, ", ") + ")"
	if side != "" {
		query += " AND side = ?"
		args = append(args, side)
	}
	query += " ORDER BY created_at ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var out []*domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// CountActive counts symbols with an active order on the given side. The
// orchestrator uses it for the portfolio-size limit.
func (s *OrderStore) CountActive(ctx context.Context, side domain.Side) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT symbol) FROM orders
		WHERE side = ? AND status IN ('PENDING', 'ONGOING', 'FAILED')`,
		side).Scan(&n)
	return n, err
}

// Close closes the database connection.
func (s *OrderStore) Close() error {
	return s.db.Close()
}
