package trading

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/papertrade/backend/internal/models"
)

func TestSchedulerFillsLimitBuyAtObservedPrice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order, err := f.engine.PlaceLimitOrder(ctx, f.user, "AAPL", models.SideBuy, d("5"), d("40"))
	require.NoError(t, err)

	f.quotes.set("AAPL", "42")
	n, err := f.scheduler.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	f.quotes.set("AAPL", "38")
	n, err = f.scheduler.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.engine.GetOrder(ctx, f.user, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFilled, got.Status)
	require.NotNil(t, got.FilledPrice)
	assertDec(t, "38", *got.FilledPrice)
	assertDec(t, "190", *got.TotalAmount)
	assert.NotNil(t, got.FilledAt)

	assertDec(t, "99810", f.cash(t, f.user))
	pos := f.position(t, f.user, "AAPL")
	require.NotNil(t, pos)
	assertDec(t, "5", pos.Quantity)
	assertDec(t, "38", pos.AvgCost)

	// The limit order row itself is the fill record.
	orders, err := f.engine.OrderHistory(ctx, f.user, HistoryQuery{})
	require.NoError(t, err)
	assert.Len(t, orders, 1)

	n, err = f.scheduler.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSchedulerFillsLimitSellAtOrAboveLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.quotes.set("TSLA", "100")
	_, err := f.engine.ExecuteMarketOrder(ctx, f.user, "TSLA", models.SideBuy, d("3"))
	require.NoError(t, err)

	order, err := f.engine.PlaceLimitOrder(ctx, f.user, "TSLA", models.SideSell, d("3"), d("120"))
	require.NoError(t, err)

	f.quotes.set("TSLA", "119.99")
	n, err := f.scheduler.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	f.quotes.set("TSLA", "120")
	n, err = f.scheduler.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, _ := f.engine.GetOrder(ctx, f.user, order.ID)
	assert.Equal(t, models.StatusFilled, got.Status)
	require.NotNil(t, got.RealizedPnL)
	assertDec(t, "60", *got.RealizedPnL)
	assert.Nil(t, f.position(t, f.user, "TSLA"))
}

func TestSchedulerLeavesUnfundableOrdersPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order, err := f.engine.PlaceLimitOrder(ctx, f.user, "NVDA", models.SideBuy, d("1000"), d("900"))
	require.NoError(t, err)
	sell, err := f.engine.PlaceLimitOrder(ctx, f.user, "MSFT", models.SideSell, d("1"), d("1"))
	require.NoError(t, err)

	f.quotes.set("NVDA", "850")
	f.quotes.set("MSFT", "400")
	n, err := f.scheduler.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	for _, id := range []uuid.UUID{order.ID, sell.ID} {
		got, _ := f.engine.GetOrder(ctx, f.user, id)
		assert.Equal(t, models.StatusPending, got.Status)
	}
	assertDec(t, "100000", f.cash(t, f.user))
}

func TestSchedulerSkipsSymbolsWithoutQuotes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.PlaceLimitOrder(ctx, f.user, "GONE", models.SideBuy, d("1"), d("10"))
	require.NoError(t, err)
	_, err = f.engine.PlaceLimitOrder(ctx, f.user, "AAPL", models.SideBuy, d("1"), d("10"))
	require.NoError(t, err)
	f.quotes.set("AAPL", "9")

	n, err := f.scheduler.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	pending, err := f.engine.OrderHistory(ctx, f.user, HistoryQuery{Status: "pending"})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "GONE", pending[0].Symbol)
}

func TestSchedulerFetchesEachSymbolOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := f.engine.PlaceLimitOrder(ctx, uuid.New(), "AAPL", models.SideBuy, d("1"), d("10"))
		require.NoError(t, err)
	}
	f.quotes.set("AAPL", "20")

	_, err := f.scheduler.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, f.quotes.calls)
}

func TestSchedulerFillsManyUsersConcurrently(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	users := make([]uuid.UUID, 20)
	for i := range users {
		users[i] = uuid.New()
		for j := 0; j < 3; j++ {
			_, err := f.engine.PlaceLimitOrder(ctx, users[i], "AAPL", models.SideBuy, d("1"), d("50"))
			require.NoError(t, err)
		}
	}
	f.quotes.set("AAPL", "50")

	n, err := f.scheduler.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 60, n)
	for _, u := range users {
		assertDec(t, "99850", f.cash(t, u))
	}
}

func TestSchedulerOverlappingTicksDoNotDoubleFill(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		_, err := f.engine.PlaceLimitOrder(ctx, f.user, "AAPL", models.SideBuy, d("1"), d("50"))
		require.NoError(t, err)
	}
	f.quotes.set("AAPL", "45")

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := f.scheduler.Tick(ctx)
			assert.NoError(t, err)
			mu.Lock()
			total += n
			mu.Unlock()
		}()
	}
	wg.Wait()

	// A skipped overlapping pass leaves work for the next one.
	n, err := f.scheduler.Tick(ctx)
	require.NoError(t, err)
	total += n

	assert.Equal(t, 10, total)
	assertDec(t, "99550", f.cash(t, f.user))
}

func TestSchedulerRunStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	s := NewScheduler(f.engine, 5*time.Millisecond, 2)
	_, err := f.engine.PlaceLimitOrder(context.Background(), f.user, "AAPL", models.SideBuy, d("1"), d("50"))
	require.NoError(t, err)
	f.quotes.set("AAPL", "49")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		pending, _ := f.store.ListPendingLimitOrders(context.Background(), "")
		return len(pending) == 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
