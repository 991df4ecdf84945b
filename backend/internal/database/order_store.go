package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/user/papertrade/backend/internal/models"
)

const orderColumns = `id, user_id, symbol, side, kind, quantity::text, limit_price::text, status,
	filled_quantity::text, filled_price::text, total_amount::text, realized_pnl::text,
	created_at, filled_at, cancelled_at`

func scanOrder(row pgx.Row) (*models.Order, error) {
	var (
		o                                              models.Order
		qty, filledQty                                 string
		limitPrice, filledPrice, totalAmount, realized *string
	)
	err := row.Scan(
		&o.ID, &o.UserID, &o.Symbol, &o.Side, &o.Kind, &qty, &limitPrice, &o.Status,
		&filledQty, &filledPrice, &totalAmount, &realized,
		&o.CreatedAt, &o.FilledAt, &o.CancelledAt,
	)
	if err != nil {
		return nil, err
	}

	if o.Quantity, err = parseDecimal(qty); err != nil {
		return nil, err
	}
	if o.FilledQuantity, err = parseDecimal(filledQty); err != nil {
		return nil, err
	}
	if o.LimitPrice, err = parseOptional(limitPrice); err != nil {
		return nil, err
	}
	if o.FilledPrice, err = parseOptional(filledPrice); err != nil {
		return nil, err
	}
	if o.TotalAmount, err = parseOptional(totalAmount); err != nil {
		return nil, err
	}
	if o.RealizedPnL, err = parseOptional(realized); err != nil {
		return nil, err
	}
	return &o, nil
}

func collectOrders(rows pgx.Rows) ([]models.Order, error) {
	defer rows.Close()
	orders := make([]models.Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning order row: %w", err)
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating order rows: %w", err)
	}
	return orders, nil
}

// GetOrder retrieves a specific order by its ID.
func (s *Store) GetOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	o, err := scanOrder(s.pool.QueryRow(ctx, query, orderID))
	if err != nil {
		return nil, fmt.Errorf("error getting order by id %s: %w", orderID, notFound(err))
	}
	return o, nil
}

// ListOrders returns the user's orders newest first, narrowed by filter.
func (s *Store) ListOrders(ctx context.Context, userID uuid.UUID, filter models.OrderFilter) ([]models.Order, error) {
	var (
		where = []string{"user_id = $1"}
		args  = []any{userID}
	)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Symbol != "" {
		args = append(args, strings.ToUpper(filter.Symbol))
		where = append(where, fmt.Sprintf("symbol = $%d", len(args)))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since)
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}

	query := `SELECT ` + orderColumns + ` FROM orders WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY created_at DESC, seq DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying orders for user %s: %w", userID, err)
	}
	return collectOrders(rows)
}

// ListPendingLimitOrders returns every pending limit order, oldest first.
func (s *Store) ListPendingLimitOrders(ctx context.Context, symbol string) ([]models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders
			  WHERE status = 'pending' AND kind = 'limit' AND ($1 = '' OR symbol = $1)
			  ORDER BY seq`
	rows, err := s.pool.Query(ctx, query, symbol)
	if err != nil {
		return nil, fmt.Errorf("error querying pending limit orders: %w", err)
	}
	return collectOrders(rows)
}

func (s *Store) CountOrders(ctx context.Context, userID uuid.UUID, since time.Time) (int, error) {
	var n int
	query := `SELECT COUNT(*) FROM orders WHERE user_id = $1 AND created_at >= $2`
	if err := s.pool.QueryRow(ctx, query, userID, since).Scan(&n); err != nil {
		return 0, fmt.Errorf("error counting orders for user %s: %w", userID, err)
	}
	return n, nil
}
