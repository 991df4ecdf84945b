// Package database is the PostgreSQL implementation of the ledger store.
package database

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/user/papertrade/backend/internal/ledger"
)

// Store implements ledger.Store and ledger.Users on a pgx pool.
type Store struct {
	pool     *pgxpool.Pool
	starting decimal.Decimal
}

var (
	_ ledger.Store = (*Store)(nil)
	_ ledger.Users = (*Store)(nil)
)

func NewStore(pool *pgxpool.Pool, starting decimal.Decimal) *Store {
	return &Store{pool: pool, starting: starting}
}

// Connect opens a pool and pings it, retrying with exponential backoff while
// the database comes up.
func Connect(ctx context.Context, dbURL string, maxTries uint) (*pgxpool.Pool, error) {
	op := func() (*pgxpool.Pool, error) {
		pool, err := pgxpool.New(ctx, dbURL)
		if err != nil {
			// A malformed URL will not fix itself.
			return nil, backoff.Permanent(fmt.Errorf("parse database config: %w", err))
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("database ping failed: %w", err)
		}
		return pool, nil
	}

	notify := func(err error, next time.Duration) {
		log.Printf("WARN: %v, retrying in %s", err, next.Round(time.Millisecond))
	}

	pool, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(maxTries),
		backoff.WithNotify(notify),
	)
	if err != nil {
		return nil, err
	}
	log.Println("Successfully connected to the database!")
	return pool, nil
}

func (s *Store) StartingBalance() decimal.Decimal {
	return s.starting
}

// Close closes the underlying pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
		log.Println("Database connection closed.")
	}
}

// WithUserTx opens a transaction, makes sure the account row exists and
// locks it FOR UPDATE before handing control to fn.
func (s *Store) WithUserTx(ctx context.Context, userID uuid.UUID, fn func(tx ledger.Tx) error) (err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin transaction for user %s: %w", userID, err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				log.Printf("ERROR: rollback for user %s failed: %v", userID, rbErr)
			}
		}
	}()

	if err = s.ensureAccount(ctx, tx, userID); err != nil {
		return err
	}
	acct, err := lockAccount(ctx, tx, userID)
	if err != nil {
		return err
	}

	if err = fn(&pgTx{tx: tx, userID: userID, account: acct, starting: s.starting}); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction for user %s: %w", userID, err)
	}
	return nil
}

// PgxQuerier lets store helpers run against either the pool or a transaction.
type PgxQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// querier returns the transaction if not nil, otherwise the pool.
func (s *Store) querier(tx pgx.Tx) PgxQuerier {
	if tx != nil {
		return tx
	}
	return s.pool
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.ErrNotFound
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
