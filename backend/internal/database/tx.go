package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/user/papertrade/backend/internal/ledger"
	"github.com/user/papertrade/backend/internal/models"
)

// pgTx is a ledger.Tx over a transaction that already holds the account lock.
type pgTx struct {
	tx       pgx.Tx
	userID   uuid.UUID
	account  *models.Account
	starting decimal.Decimal
}

var _ ledger.Tx = (*pgTx)(nil)

func (t *pgTx) Account(ctx context.Context) (*models.Account, error) {
	acct := *t.account
	return &acct, nil
}

func (t *pgTx) SetCash(ctx context.Context, cash decimal.Decimal) error {
	query := `UPDATE accounts SET cash_balance = $2::numeric, updated_at = NOW()
			  WHERE user_id = $1
			  RETURNING updated_at`
	if err := t.tx.QueryRow(ctx, query, t.userID, cash.String()).Scan(&t.account.UpdatedAt); err != nil {
		return fmt.Errorf("error updating cash for user %s: %w", t.userID, err)
	}
	t.account.CashBalance = cash
	return nil
}

func (t *pgTx) Position(ctx context.Context, symbol string) (*models.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions
			  WHERE user_id = $1 AND symbol = $2 FOR UPDATE`
	pos, err := scanPosition(t.tx.QueryRow(ctx, query, t.userID, symbol))
	if err != nil {
		return nil, fmt.Errorf("error getting position %s for user %s: %w", symbol, t.userID, notFound(err))
	}
	return pos, nil
}

func (t *pgTx) SavePosition(ctx context.Context, pos *models.Position) error {
	query := `INSERT INTO positions (user_id, symbol, quantity, avg_cost, total_cost)
			  VALUES ($1, $2, $3::numeric, $4::numeric, $5::numeric)
			  ON CONFLICT (user_id, symbol) DO UPDATE SET
			      quantity = EXCLUDED.quantity,
			      avg_cost = EXCLUDED.avg_cost,
			      total_cost = EXCLUDED.total_cost,
			      updated_at = NOW()`
	_, err := t.tx.Exec(ctx, query, t.userID, pos.Symbol,
		pos.Quantity.String(), pos.AvgCost.String(), pos.TotalCost.String())
	if err != nil {
		return fmt.Errorf("error saving position %s for user %s: %w", pos.Symbol, t.userID, err)
	}
	return nil
}

func (t *pgTx) DeletePosition(ctx context.Context, symbol string) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM positions WHERE user_id = $1 AND symbol = $2`, t.userID, symbol); err != nil {
		return fmt.Errorf("error deleting position %s for user %s: %w", symbol, t.userID, err)
	}
	return nil
}

func (t *pgTx) InsertOrder(ctx context.Context, order *models.Order) error {
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	order.UserID = t.userID

	query := `INSERT INTO orders (id, user_id, symbol, side, kind, quantity, limit_price, status,
			      filled_quantity, filled_price, total_amount, realized_pnl, created_at, filled_at, cancelled_at)
			  VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric, $8,
			      $9::numeric, $10::numeric, $11::numeric, $12::numeric, $13, $14, $15)`
	_, err := t.tx.Exec(ctx, query,
		order.ID, order.UserID, order.Symbol, string(order.Side), string(order.Kind),
		order.Quantity.String(), optionalText(order.LimitPrice), string(order.Status),
		order.FilledQuantity.String(), optionalText(order.FilledPrice),
		optionalText(order.TotalAmount), optionalText(order.RealizedPnL),
		order.CreatedAt, order.FilledAt, order.CancelledAt,
	)
	if err != nil {
		return fmt.Errorf("error creating order for user %s: %w", t.userID, err)
	}
	return nil
}

// OrderForUpdate locks the order row. Rows owned by other users are reported
// as not found.
func (t *pgTx) OrderForUpdate(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 AND user_id = $2 FOR UPDATE`
	o, err := scanOrder(t.tx.QueryRow(ctx, query, orderID, t.userID))
	if err != nil {
		return nil, fmt.Errorf("error locking order %s: %w", orderID, notFound(err))
	}
	return o, nil
}

func (t *pgTx) UpdateOrder(ctx context.Context, order *models.Order) error {
	query := `UPDATE orders SET
			      status = $3,
			      filled_quantity = $4::numeric,
			      filled_price = $5::numeric,
			      total_amount = $6::numeric,
			      realized_pnl = $7::numeric,
			      filled_at = $8,
			      cancelled_at = $9
			  WHERE id = $1 AND user_id = $2`
	cmdTag, err := t.tx.Exec(ctx, query, order.ID, t.userID, string(order.Status),
		order.FilledQuantity.String(), optionalText(order.FilledPrice),
		optionalText(order.TotalAmount), optionalText(order.RealizedPnL),
		order.FilledAt, order.CancelledAt,
	)
	if err != nil {
		return fmt.Errorf("error updating order %s: %w", order.ID, err)
	}
	if cmdTag.RowsAffected() != 1 {
		return fmt.Errorf("error updating order %s: %w", order.ID, ledger.ErrNotFound)
	}
	return nil
}

func (t *pgTx) Reset(ctx context.Context) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM orders WHERE user_id = $1`, t.userID); err != nil {
		return fmt.Errorf("error deleting orders for user %s: %w", t.userID, err)
	}
	if _, err := t.tx.Exec(ctx, `DELETE FROM positions WHERE user_id = $1`, t.userID); err != nil {
		return fmt.Errorf("error deleting positions for user %s: %w", t.userID, err)
	}
	return t.SetCash(ctx, t.starting)
}
