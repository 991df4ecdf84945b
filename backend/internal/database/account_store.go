package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/user/papertrade/backend/internal/models"
)

const accountColumns = `user_id, cash_balance::text, created_at, updated_at`

func scanAccount(row pgx.Row) (*models.Account, error) {
	var (
		acct models.Account
		cash string
	)
	if err := row.Scan(&acct.UserID, &cash, &acct.CreatedAt, &acct.UpdatedAt); err != nil {
		return nil, err
	}
	d, err := parseDecimal(cash)
	if err != nil {
		return nil, err
	}
	acct.CashBalance = d
	return &acct, nil
}

func (s *Store) ensureAccount(ctx context.Context, tx pgx.Tx, userID uuid.UUID) error {
	query := `INSERT INTO accounts (user_id, cash_balance)
			  VALUES ($1, $2::numeric)
			  ON CONFLICT (user_id) DO NOTHING`
	if _, err := s.querier(tx).Exec(ctx, query, userID, s.starting.String()); err != nil {
		return fmt.Errorf("error creating account for user %s: %w", userID, err)
	}
	return nil
}

func lockAccount(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE user_id = $1 FOR UPDATE`
	acct, err := scanAccount(tx.QueryRow(ctx, query, userID))
	if err != nil {
		return nil, fmt.Errorf("error locking account for user %s: %w", userID, notFound(err))
	}
	return acct, nil
}

// Account returns the user's account, creating it at the starting balance
// on first access.
func (s *Store) Account(ctx context.Context, userID uuid.UUID) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE user_id = $1`
	acct, err := scanAccount(s.pool.QueryRow(ctx, query, userID))
	if err == nil {
		return acct, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("error getting account for user %s: %w", userID, err)
	}

	if err := s.ensureAccount(ctx, nil, userID); err != nil {
		return nil, err
	}
	acct, err = scanAccount(s.pool.QueryRow(ctx, query, userID))
	if err != nil {
		return nil, fmt.Errorf("error re-reading account for user %s: %w", userID, notFound(err))
	}
	return acct, nil
}
