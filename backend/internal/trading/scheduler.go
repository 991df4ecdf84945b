package trading

import (
	"context"
	"errors"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel/attribute"

	"github.com/user/papertrade/backend/internal/errs"
	"github.com/user/papertrade/backend/internal/ledger"
	"github.com/user/papertrade/backend/internal/models"
	"github.com/user/papertrade/backend/internal/quotes"
)

// Scheduler periodically fills pending limit orders whose price condition
// is met.
type Scheduler struct {
	engine   *Engine
	store    ledger.Store
	quotes   quotes.Provider
	interval time.Duration
	workers  int

	busy atomic.Bool
}

func NewScheduler(engine *Engine, interval time.Duration, workers int) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	return &Scheduler{
		engine:   engine,
		store:    engine.store,
		quotes:   engine.quotes,
		interval: interval,
		workers:  workers,
	}
}

// Run ticks every interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	log.Printf("Limit order scheduler started (interval %s, %d workers)", s.interval, s.workers)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Limit order scheduler stopped")
			return
		case <-ticker.C:
			n, err := s.Tick(ctx)
			if err != nil {
				log.Printf("ERROR: limit order pass failed: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("Limit order pass filled %d order(s)", n)
			}
		}
	}
}

// Tick runs one pass and returns how many orders were filled. A pass that
// starts while another is still running returns immediately.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	if !s.busy.CompareAndSwap(false, true) {
		log.Println("WARN: previous limit order pass still running, skipping")
		count(ctx, meters().ticks, attribute.String("result", "skipped"))
		return 0, nil
	}
	defer s.busy.Store(false)

	pending, err := s.store.ListPendingLimitOrders(ctx, "")
	if err != nil {
		count(ctx, meters().ticks, attribute.String("result", "failed"))
		return 0, errs.Wrap(errs.CodeStoreUnavailable, err, "list pending limit orders")
	}
	if len(pending) == 0 {
		count(ctx, meters().ticks, attribute.String("result", "idle"))
		return 0, nil
	}

	symbols := make([]string, 0, len(pending))
	for _, o := range pending {
		symbols = append(symbols, o.Symbol)
	}
	prices := s.quotes.GetQuotes(ctx, symbols)

	// Group by user so each user's orders fill oldest first while different
	// users proceed in parallel.
	var (
		byUser = make(map[uuid.UUID][]models.Order)
		users  []uuid.UUID
	)
	for _, o := range pending {
		q, ok := prices[o.Symbol]
		if !ok {
			continue
		}
		if !limitReached(&o, q.Price) {
			continue
		}
		if _, seen := byUser[o.UserID]; !seen {
			users = append(users, o.UserID)
		}
		byUser[o.UserID] = append(byUser[o.UserID], o)
	}
	if missing := len(quotes.Distinct(symbols)) - len(prices); missing > 0 {
		log.Printf("WARN: %d symbol(s) had no quote this pass; their orders stay pending", missing)
	}

	var filled atomic.Int64
	p := pool.New().WithMaxGoroutines(s.workers)
	for _, userID := range users {
		orders := byUser[userID]
		p.Go(func() {
			for _, o := range orders {
				price := prices[o.Symbol].Price
				if _, err := s.engine.FillLimitOrder(ctx, o.ID, price); err != nil {
					if errors.Is(err, errs.ErrInvalidState) || errors.Is(err, errs.ErrOrderNotFound) {
						// Cancelled or filled since the scan.
						continue
					}
					log.Printf("WARN: limit order %s not filled at %s: %v", o.ID, price, err)
					continue
				}
				filled.Add(1)
			}
		})
	}
	p.Wait()

	count(ctx, meters().ticks, attribute.String("result", "ok"))
	return int(filled.Load()), nil
}
