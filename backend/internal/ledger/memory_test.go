package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/papertrade/backend/internal/models"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestMemoryStore_AccountCreatedLazily(t *testing.T) {
	s := NewMemoryStore(dec("100000"))
	user := uuid.New()

	acct, err := s.Account(context.Background(), user)
	require.NoError(t, err)
	assert.True(t, acct.CashBalance.Equal(dec("100000")))
	assert.Equal(t, user, acct.UserID)
}

func TestMemoryStore_RollbackDiscardsWrites(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(dec("1000"))
	user := uuid.New()
	boom := errors.New("boom")

	err := s.WithUserTx(ctx, user, func(tx Tx) error {
		require.NoError(t, tx.SetCash(ctx, dec("1")))
		require.NoError(t, tx.SavePosition(ctx, &models.Position{Symbol: "AAPL", Quantity: dec("1"), AvgCost: dec("999"), TotalCost: dec("999")}))
		require.NoError(t, tx.InsertOrder(ctx, &models.Order{Symbol: "AAPL", Side: models.SideBuy, Kind: models.KindMarket, Quantity: dec("1"), Status: models.StatusFilled}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	acct, _ := s.Account(ctx, user)
	assert.True(t, acct.CashBalance.Equal(dec("1000")))
	positions, _ := s.ListPositions(ctx, user)
	assert.Empty(t, positions)
	orders, _ := s.ListOrders(ctx, user, models.OrderFilter{})
	assert.Empty(t, orders)
}

func TestMemoryStore_CommitAppliesWrites(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(dec("1000"))
	user := uuid.New()

	var orderID uuid.UUID
	err := s.WithUserTx(ctx, user, func(tx Tx) error {
		if err := tx.SetCash(ctx, dec("500")); err != nil {
			return err
		}
		if err := tx.SavePosition(ctx, &models.Position{Symbol: "AAPL", Quantity: dec("10"), AvgCost: dec("50"), TotalCost: dec("500")}); err != nil {
			return err
		}
		o := &models.Order{Symbol: "AAPL", Side: models.SideBuy, Kind: models.KindLimit, Quantity: dec("10"), Status: models.StatusPending}
		if err := tx.InsertOrder(ctx, o); err != nil {
			return err
		}
		orderID = o.ID
		// Reads inside the tx see staged writes.
		pos, err := tx.Position(ctx, "AAPL")
		require.NoError(t, err)
		assert.True(t, pos.Quantity.Equal(dec("10")))
		return nil
	})
	require.NoError(t, err)

	acct, _ := s.Account(ctx, user)
	assert.True(t, acct.CashBalance.Equal(dec("500")))

	o, err := s.GetOrder(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, user, o.UserID)

	pending, err := s.ListPendingLimitOrders(ctx, "")
	require.NoError(t, err)
	require.Len(t, pending, 1)

	pending, err = s.ListPendingLimitOrders(ctx, "MSFT")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestMemoryStore_OrderForUpdateHidesOtherUsers(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(dec("1000"))
	owner, other := uuid.New(), uuid.New()

	var id uuid.UUID
	require.NoError(t, s.WithUserTx(ctx, owner, func(tx Tx) error {
		o := &models.Order{Symbol: "AAPL", Side: models.SideBuy, Kind: models.KindLimit, Quantity: dec("1"), Status: models.StatusPending}
		err := tx.InsertOrder(ctx, o)
		id = o.ID
		return err
	}))

	err := s.WithUserTx(ctx, other, func(tx Tx) error {
		_, err := tx.OrderForUpdate(ctx, id)
		return err
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_ResetClearsOnlyOwner(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(dec("1000"))
	a, b := uuid.New(), uuid.New()

	for _, u := range []uuid.UUID{a, b} {
		require.NoError(t, s.WithUserTx(ctx, u, func(tx Tx) error {
			_ = tx.SetCash(ctx, dec("10"))
			_ = tx.SavePosition(ctx, &models.Position{Symbol: "TSLA", Quantity: dec("1"), AvgCost: dec("990"), TotalCost: dec("990")})
			return tx.InsertOrder(ctx, &models.Order{Symbol: "TSLA", Side: models.SideBuy, Kind: models.KindMarket, Quantity: dec("1"), Status: models.StatusFilled})
		}))
	}

	require.NoError(t, s.WithUserTx(ctx, a, func(tx Tx) error { return tx.Reset(ctx) }))

	acctA, _ := s.Account(ctx, a)
	assert.True(t, acctA.CashBalance.Equal(dec("1000")))
	posA, _ := s.ListPositions(ctx, a)
	assert.Empty(t, posA)
	ordersA, _ := s.ListOrders(ctx, a, models.OrderFilter{})
	assert.Empty(t, ordersA)

	acctB, _ := s.Account(ctx, b)
	assert.True(t, acctB.CashBalance.Equal(dec("10")))
	ordersB, _ := s.ListOrders(ctx, b, models.OrderFilter{})
	assert.Len(t, ordersB, 1)
}

func TestMemoryStore_ListOrdersNewestFirstWithFilters(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(dec("1000"))
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	s.SetClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	})
	user := uuid.New()

	for _, sym := range []string{"AAPL", "MSFT", "AAPL"} {
		require.NoError(t, s.WithUserTx(ctx, user, func(tx Tx) error {
			return tx.InsertOrder(ctx, &models.Order{Symbol: sym, Side: models.SideBuy, Kind: models.KindMarket, Quantity: dec("1"), Status: models.StatusFilled})
		}))
	}

	all, err := s.ListOrders(ctx, user, models.OrderFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.True(t, all[0].CreatedAt.After(all[1].CreatedAt))
	assert.True(t, all[1].CreatedAt.After(all[2].CreatedAt))

	aapl, _ := s.ListOrders(ctx, user, models.OrderFilter{Symbol: "aapl"})
	assert.Len(t, aapl, 2)

	one, _ := s.ListOrders(ctx, user, models.OrderFilter{Limit: 1})
	require.Len(t, one, 1)
	assert.Equal(t, all[0].ID, one[0].ID)

	n, err := s.CountOrders(ctx, user, all[1].CreatedAt)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestMemoryStore_UserTxSerializesPerUser(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(dec("0"))
	user := uuid.New()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.WithUserTx(ctx, user, func(tx Tx) error {
				acct, err := tx.Account(ctx)
				if err != nil {
					return err
				}
				return tx.SetCash(ctx, acct.CashBalance.Add(decimal.NewFromInt(1)))
			})
		}()
	}
	wg.Wait()

	acct, _ := s.Account(ctx, user)
	assert.True(t, acct.CashBalance.Equal(decimal.NewFromInt(50)), acct.CashBalance.String())
}

func TestMemoryStore_WithUserTxHonoursContext(t *testing.T) {
	s := NewMemoryStore(dec("0"))
	user := uuid.New()
	started := make(chan struct{})
	release := make(chan struct{})

	go func() {
		_ = s.WithUserTx(context.Background(), user, func(tx Tx) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.WithUserTx(ctx, user, func(tx Tx) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	close(release)
}

func TestMemoryStore_Users(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(dec("0"))

	u := &models.User{Username: "Alice", Password: "hash"}
	require.NoError(t, s.CreateUser(ctx, u))
	assert.NotEqual(t, uuid.Nil, u.ID)
	assert.Equal(t, models.RoleUser, u.Role)

	assert.ErrorIs(t, s.CreateUser(ctx, &models.User{Username: "alice"}), ErrDuplicate)

	got, err := s.UserByUsername(ctx, "ALICE")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = s.UserByID(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}
