// Package ledger defines the storage contract for accounts, positions and the
// order log, and an in-process implementation of it.
//
// Every mutation happens inside WithUserTx, which serializes work per user
// and either applies all of fn's writes or none of them.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/user/papertrade/backend/internal/models"
)

var (
	ErrNotFound  = errors.New("ledger: not found")
	ErrDuplicate = errors.New("ledger: duplicate")
)

// Store is the read side plus the entry point to per-user atomic sections.
type Store interface {
	// WithUserTx runs fn while holding userID's account exclusively. The
	// account is created at the starting balance if it does not exist yet.
	// A non-nil error from fn rolls back every write made through tx.
	WithUserTx(ctx context.Context, userID uuid.UUID, fn func(tx Tx) error) error

	// Account returns the user's account, creating it lazily.
	Account(ctx context.Context, userID uuid.UUID) (*models.Account, error)
	ListPositions(ctx context.Context, userID uuid.UUID) ([]models.Position, error)
	GetOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	// ListOrders returns the user's orders newest first.
	ListOrders(ctx context.Context, userID uuid.UUID, filter models.OrderFilter) ([]models.Order, error)
	// ListPendingLimitOrders returns pending limit orders oldest first,
	// restricted to symbol when it is non-empty.
	ListPendingLimitOrders(ctx context.Context, symbol string) ([]models.Order, error)
	CountOrders(ctx context.Context, userID uuid.UUID, since time.Time) (int, error)

	StartingBalance() decimal.Decimal
}

// Tx is bound to one user for the lifetime of a WithUserTx callback.
type Tx interface {
	// Account returns the locked account row.
	Account(ctx context.Context) (*models.Account, error)
	SetCash(ctx context.Context, cash decimal.Decimal) error

	// Position returns ErrNotFound when the user holds none of symbol.
	Position(ctx context.Context, symbol string) (*models.Position, error)
	SavePosition(ctx context.Context, pos *models.Position) error
	DeletePosition(ctx context.Context, symbol string) error

	// InsertOrder assigns ID and CreatedAt when they are zero.
	InsertOrder(ctx context.Context, order *models.Order) error
	// OrderForUpdate locks the order row. ErrNotFound if it does not exist
	// or belongs to another user.
	OrderForUpdate(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	// UpdateOrder persists status, fill and cancellation fields.
	UpdateOrder(ctx context.Context, order *models.Order) error

	// Reset deletes the user's positions and orders and restores the
	// starting balance.
	Reset(ctx context.Context) error
}

// Users stores login identities.
type Users interface {
	// CreateUser fills in ID and CreatedAt. ErrDuplicate if the username is taken.
	CreateUser(ctx context.Context, user *models.User) error
	UserByUsername(ctx context.Context, username string) (*models.User, error)
	UserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}
