package trading

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/user/papertrade/backend/internal/errs"
	"github.com/user/papertrade/backend/internal/models"
)

// PendingDepth aggregates pending limit orders for symbol by price level.
// Buys are bids (highest first), sells are asks (lowest first).
func (p *Portfolio) PendingDepth(ctx context.Context, symbol string) (*models.BookDepth, error) {
	sym, err := NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	pending, err := p.store.ListPendingLimitOrders(ctx, sym)
	if err != nil {
		return nil, errs.Wrap(errs.CodeStoreUnavailable, err, "ledger temporarily unavailable")
	}

	var bids, asks []models.Order
	for _, o := range pending {
		if o.LimitPrice == nil {
			continue
		}
		if o.Side == models.SideBuy {
			bids = append(bids, o)
		} else {
			asks = append(asks, o)
		}
	}

	return &models.BookDepth{
		Symbol: sym,
		Bids:   aggregateLevels(bids, true),
		Asks:   aggregateLevels(asks, false),
	}, nil
}

func aggregateLevels(orders []models.Order, descending bool) []models.BookLevel {
	// Keyed by canonical string so 40 and 40.00 share a level.
	levels := make(map[string]*models.BookLevel)
	for _, o := range orders {
		key := o.LimitPrice.String()
		lvl, ok := levels[key]
		if !ok {
			lvl = &models.BookLevel{Price: *o.LimitPrice, Quantity: decimal.Zero}
			levels[key] = lvl
		}
		lvl.Quantity = lvl.Quantity.Add(o.Quantity)
		lvl.Orders++
	}

	out := make([]models.BookLevel, 0, len(levels))
	for _, lvl := range levels {
		out = append(out, *lvl)
	}
	sort.Slice(out, func(i, j int) bool {
		if descending {
			return out[i].Price.GreaterThan(out[j].Price)
		}
		return out[i].Price.LessThan(out[j].Price)
	})
	return out
}
