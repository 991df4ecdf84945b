package quotes

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"
	"github.com/user/papertrade/backend/internal/models"
)

// AlpacaSource reads the latest trade and previous daily close from Alpaca
// market data. Company names come from the asset endpoint and are cached.
type AlpacaSource struct {
	mdClient *marketdata.Client
	assets   assetLookup

	names sync.Map
}

var _ Source = (*AlpacaSource)(nil)

// assetLookup is the part of the trading client used for company names.
type assetLookup interface {
	GetAsset(symbol string) (*alpaca.Asset, error)
}

func NewAlpacaSource(keyID, secretKey, baseURL string) *AlpacaSource {
	return &AlpacaSource{
		mdClient: marketdata.NewClient(marketdata.ClientOpts{
			APIKey:    keyID,
			APISecret: secretKey,
		}),
		assets: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    keyID,
			APISecret: secretKey,
			BaseURL:   baseURL,
		}),
	}
}

func (a *AlpacaSource) Fetch(_ context.Context, symbol string) (*models.Quote, error) {
	snap, err := a.mdClient.GetSnapshot(symbol, marketdata.GetSnapshotRequest{})
	if err != nil {
		return nil, err
	}
	if snap == nil || snap.LatestTrade == nil {
		return nil, fmt.Errorf("no trade found for %s: %w", symbol, ErrNoPrice)
	}

	price := decimal.NewFromFloat(snap.LatestTrade.Price)
	q := &models.Quote{
		Symbol:    symbol,
		Name:      a.name(symbol),
		Price:     price,
		Currency:  "USD",
		Timestamp: snap.LatestTrade.Timestamp,
	}
	if snap.PrevDailyBar != nil && snap.PrevDailyBar.Close > 0 {
		prev := decimal.NewFromFloat(snap.PrevDailyBar.Close)
		q.PreviousClose = prev
		q.Change = price.Sub(prev)
		q.ChangePercent = q.Change.Div(prev).Mul(decimal.NewFromInt(100)).Round(2)
	}
	return q, nil
}

// name falls back to the symbol when the asset lookup fails. Either way the
// result is cached so a price lookup pays for at most one asset call.
func (a *AlpacaSource) name(symbol string) string {
	if v, ok := a.names.Load(symbol); ok {
		return v.(string)
	}
	name := symbol
	asset, err := a.assets.GetAsset(symbol)
	switch {
	case err != nil:
		log.Printf("WARN: asset lookup for %s failed, using symbol as name: %v", symbol, err)
	case asset != nil && asset.Name != "":
		name = asset.Name
	}
	a.names.Store(symbol, name)
	return name
}
