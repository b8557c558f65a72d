package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/qasimkdr/viraloft/internal/models"
)

// CreateOrderWithDebit charges the user and records the order in a single
// transaction. The debit is conditional on sufficient funds; zero rows
// means a concurrent writer got there first and the whole transaction
// aborts with ErrInsufficientFunds, leaving no partial state.
func (s *Store) CreateOrderWithDebit(ctx context.Context, order *models.Order) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"UPDATE users SET balance = balance - $1 WHERE id = $2 AND balance >= $1",
		order.Price, order.UserID)
	if err != nil {
		return fmt.Errorf("failed to debit balance: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrInsufficientFunds
	}

	query := `
		INSERT INTO orders (user_id, service_id, service_name, quantity, link, price, status, vendor_order_id, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at`

	if err := tx.GetContext(ctx, order, query,
		order.UserID, order.ServiceID, order.ServiceName, order.Quantity,
		order.Link, order.Price, order.Status, order.VendorOrderID, order.IdempotencyKey); err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}

	return tx.Commit()
}

// GetOrderByIdempotencyKey retrieves a user's order by idempotency key.
// Returns nil, nil when no such order exists.
func (s *Store) GetOrderByIdempotencyKey(ctx context.Context, userID int64, key string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order,
		"SELECT * FROM orders WHERE user_id = $1 AND idempotency_key = $2", userID, key)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// ListOrdersByUser retrieves a page of a user's orders, newest first.
func (s *Store) ListOrdersByUser(ctx context.Context, userID int64, limit, offset int) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE user_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3",
		userID, limit, offset)
	return orders, err
}

// OrdersByVendorIDs retrieves the user's own orders matching the given
// vendor order ids. Ids belonging to other users simply do not match.
func (s *Store) OrdersByVendorIDs(ctx context.Context, userID int64, ids []string) ([]models.Order, error) {
	if len(ids) == 0 {
		return []models.Order{}, nil
	}

	query, args, err := sqlx.In(
		"SELECT * FROM orders WHERE user_id = ? AND vendor_order_id IN (?)", userID, ids)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var orders []models.Order
	err = s.db.SelectContext(ctx, &orders, query, args...)
	return orders, err
}

// UpdateOrderStatusByVendorID updates the status of a user's order.
func (s *Store) UpdateOrderStatusByVendorID(ctx context.Context, userID int64, vendorOrderID, status string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE orders SET status = $1, updated_at = NOW() WHERE user_id = $2 AND vendor_order_id = $3",
		status, userID, vendorOrderID)
	return err
}

// UpdateOrderStatus updates an order's status by primary key.
func (s *Store) UpdateOrderStatus(ctx context.Context, orderID int64, status string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2",
		status, orderID)
	return err
}

// ListRefreshableOrders retrieves orders still worth polling: a vendor id
// is present and the status is not terminal. Least recently refreshed
// first.
func (s *Store) ListRefreshableOrders(ctx context.Context, limit int) ([]models.Order, error) {
	query, args, err := sqlx.In(
		"SELECT * FROM orders WHERE vendor_order_id <> '' AND lower(status) NOT IN (?) ORDER BY updated_at ASC LIMIT ?",
		models.TerminalStatuses, limit)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var orders []models.Order
	err = s.db.SelectContext(ctx, &orders, query, args...)
	return orders, err
}
