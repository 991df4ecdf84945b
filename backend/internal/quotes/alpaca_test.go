package quotes

import (
	"errors"
	"testing"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/stretchr/testify/assert"
)

type countingAssets struct {
	names map[string]string
	calls map[string]int
}

func (c *countingAssets) GetAsset(symbol string) (*alpaca.Asset, error) {
	c.calls[symbol]++
	name, ok := c.names[symbol]
	if !ok {
		return nil, errors.New("asset not found")
	}
	return &alpaca.Asset{Symbol: symbol, Name: name}, nil
}

func TestAlpacaSource_NameIsCachedOnSuccessAndFailure(t *testing.T) {
	assets := &countingAssets{
		names: map[string]string{"AAPL": "Apple Inc."},
		calls: map[string]int{},
	}
	src := &AlpacaSource{assets: assets}

	for range 3 {
		assert.Equal(t, "Apple Inc.", src.name("AAPL"))
		assert.Equal(t, "ZZZZ", src.name("ZZZZ"))
	}
	assert.Equal(t, 1, assets.calls["AAPL"])
	assert.Equal(t, 1, assets.calls["ZZZZ"])
}
