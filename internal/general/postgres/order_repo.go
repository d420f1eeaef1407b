package postgres

import (
	"context"
	"errors"
	"fmt"

	"courier-relay/internal/relay/order"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// OrderRepo persists order mappings using pgx and plain SQL. It implements
// order.Store with the exact semantics of the in-memory reference store,
// including ErrNotFound on a status update for an unknown order.
//
// Expected schema:
//
//	CREATE TABLE order_mappings (
//	    order_id    TEXT PRIMARY KEY,
//	    customer_id TEXT NOT NULL,
//	    driver_id   TEXT NOT NULL,
//	    status      TEXT NOT NULL,
//	    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
//	    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
type OrderRepo struct {
	pool *pgxpool.Pool
}

// NewOrderRepo constructs an OrderRepo over the given pool.
func NewOrderRepo(pool *pgxpool.Pool) *OrderRepo {
	return &OrderRepo{pool: pool}
}

var _ order.Store = (*OrderRepo)(nil)

// Get returns the mapping for orderID or order.ErrNotFound.
func (r *OrderRepo) Get(ctx context.Context, orderID string) (*order.Mapping, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT order_id, customer_id, driver_id, status, created_at, updated_at
		FROM order_mappings
		WHERE order_id = $1`, orderID)

	var m order.Mapping
	err := row.Scan(&m.OrderID, &m.CustomerID, &m.DriverID, &m.Status, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, order.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan order mapping: %w", err)
	}
	return &m, nil
}

// ListByCustomer returns every mapping whose customer is customerID.
func (r *OrderRepo) ListByCustomer(ctx context.Context, customerID string) ([]*order.Mapping, error) {
	return r.list(ctx, "customer_id", customerID)
}

// ListByDriver returns every mapping whose driver is driverID.
func (r *OrderRepo) ListByDriver(ctx context.Context, driverID string) ([]*order.Mapping, error) {
	return r.list(ctx, "driver_id", driverID)
}

func (r *OrderRepo) list(ctx context.Context, column, value string) ([]*order.Mapping, error) {
	query := fmt.Sprintf(`
		SELECT order_id, customer_id, driver_id, status, created_at, updated_at
		FROM order_mappings
		WHERE %s = $1
		ORDER BY created_at`, column)

	rows, err := r.pool.Query(ctx, query, value)
	if err != nil {
		return nil, fmt.Errorf("query order mappings: %w", err)
	}
	defer rows.Close()

	var out []*order.Mapping
	for rows.Next() {
		var m order.Mapping
		if err := rows.Scan(&m.OrderID, &m.CustomerID, &m.DriverID, &m.Status, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan order mapping: %w", err)
		}
		out = append(out, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

// Save upserts the mapping; created_at is kept on conflict, updated_at is
// refreshed either way.
func (r *OrderRepo) Save(ctx context.Context, m *order.Mapping) error {
	if err := m.Validate(); err != nil {
		return err
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO order_mappings (order_id, customer_id, driver_id, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (order_id) DO UPDATE SET
			customer_id = EXCLUDED.customer_id,
			driver_id   = EXCLUDED.driver_id,
			status      = EXCLUDED.status,
			updated_at  = now()
		RETURNING created_at, updated_at`,
		m.OrderID, m.CustomerID, m.DriverID, m.Status.String())

	if err := row.Scan(&m.CreatedAt, &m.UpdatedAt); err != nil {
		return fmt.Errorf("save order mapping: %w", err)
	}
	return nil
}

// UpdateStatus transitions the stored status inside a transaction so the
// transition check and the write are atomic.
func (r *OrderRepo) UpdateStatus(ctx context.Context, orderID string, status order.Status) error {
	if !status.Valid() {
		return order.ErrInvalidStatus
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var current order.Status
	err = tx.QueryRow(ctx, `
		SELECT status FROM order_mappings WHERE order_id = $1 FOR UPDATE`, orderID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return order.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("select status: %w", err)
	}

	if !current.CanTransition(status) {
		return order.ErrBadTransition
	}

	if _, err := tx.Exec(ctx, `
		UPDATE order_mappings SET status = $2, updated_at = now() WHERE order_id = $1`,
		orderID, status.String()); err != nil {
		return fmt.Errorf("update status: %w", err)
	}

	return tx.Commit(ctx)
}

// Remove deletes the mapping; true when a row was deleted.
func (r *OrderRepo) Remove(ctx context.Context, orderID string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM order_mappings WHERE order_id = $1`, orderID)
	if err != nil {
		return false, fmt.Errorf("delete order mapping: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
