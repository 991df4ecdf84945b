package trading

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/user/papertrade/backend/internal/errs"
	"github.com/user/papertrade/backend/internal/ledger"
	"github.com/user/papertrade/backend/internal/models"
	"github.com/user/papertrade/backend/internal/quotes"
)

var hundred = decimal.NewFromInt(100)

// Portfolio builds read-only valuations. It never writes to the ledger
// apart from creating a missing account.
type Portfolio struct {
	store  ledger.Store
	quotes quotes.Provider
	settings
}

func NewPortfolio(store ledger.Store, provider quotes.Provider, opts ...Option) *Portfolio {
	return &Portfolio{store: store, quotes: provider, settings: applyOptions(opts)}
}

// GetPortfolio values every holding at its current quote. Holdings whose
// quote fails are valued at average cost and flagged stale.
func (p *Portfolio) GetPortfolio(ctx context.Context, userID uuid.UUID) (*models.PortfolioSnapshot, error) {
	acct, err := p.store.Account(ctx, userID)
	if err != nil {
		return nil, errs.Wrap(errs.CodeStoreUnavailable, err, "ledger temporarily unavailable")
	}
	positions, err := p.store.ListPositions(ctx, userID)
	if err != nil {
		return nil, errs.Wrap(errs.CodeStoreUnavailable, err, "ledger temporarily unavailable")
	}

	symbols := make([]string, 0, len(positions))
	for _, pos := range positions {
		symbols = append(symbols, pos.Symbol)
	}
	var prices map[string]*models.Quote
	if len(symbols) > 0 {
		prices = p.quotes.GetQuotes(ctx, symbols)
	}

	snap := &models.PortfolioSnapshot{
		Holdings:   make([]models.Holding, 0, len(positions)),
		TotalValue: decimal.Zero,
		TotalCost:  decimal.Zero,
		Cash:       acct.CashBalance,
		AsOf:       p.now(),
	}
	for _, pos := range positions {
		h := models.Holding{
			Symbol:       pos.Symbol,
			Name:         pos.Symbol,
			Quantity:     pos.Quantity,
			AvgCost:      pos.AvgCost,
			TotalCost:    pos.TotalCost,
			CurrentPrice: pos.AvgCost,
		}
		if q, ok := prices[pos.Symbol]; ok {
			h.CurrentPrice = q.Price
			if q.Name != "" {
				h.Name = q.Name
			}
		} else {
			h.Stale = true
		}
		h.MarketValue = h.CurrentPrice.Mul(pos.Quantity).RoundBank(p.scale)
		h.PnL = h.MarketValue.Sub(pos.TotalCost)
		h.PnLPercent = percent(h.PnL, pos.TotalCost)

		snap.Holdings = append(snap.Holdings, h)
		snap.TotalValue = snap.TotalValue.Add(h.MarketValue)
		snap.TotalCost = snap.TotalCost.Add(pos.TotalCost)
	}
	sort.Slice(snap.Holdings, func(i, j int) bool { return snap.Holdings[i].Symbol < snap.Holdings[j].Symbol })

	snap.TotalPnL = snap.TotalValue.Sub(snap.TotalCost)
	snap.TotalPnLPercent = percent(snap.TotalPnL, snap.TotalCost)
	snap.TotalAssets = snap.TotalValue.Add(snap.Cash)
	return snap, nil
}

// percent is part/base*100 at two decimals, or zero when base is zero.
func percent(part, base decimal.Decimal) decimal.Decimal {
	if base.IsZero() {
		return decimal.Zero
	}
	return part.Div(base).Mul(hundred).RoundBank(2)
}

// Summary adds order activity counts to the portfolio. "Today" is the
// current UTC calendar day.
func (p *Portfolio) Summary(ctx context.Context, userID uuid.UUID) (*models.AccountSummary, error) {
	snap, err := p.GetPortfolio(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := p.now().UTC()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	today, err := p.store.CountOrders(ctx, userID, startOfDay)
	if err != nil {
		return nil, errs.Wrap(errs.CodeStoreUnavailable, err, "ledger temporarily unavailable")
	}
	total, err := p.store.CountOrders(ctx, userID, time.Time{})
	if err != nil {
		return nil, errs.Wrap(errs.CodeStoreUnavailable, err, "ledger temporarily unavailable")
	}

	return &models.AccountSummary{
		Portfolio:   snap,
		Positions:   len(snap.Holdings),
		TodayOrders: today,
		TotalOrders: total,
	}, nil
}
