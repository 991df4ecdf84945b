package quotes

import (
	"context"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/user/papertrade/backend/internal/models"
)

var seedPrices = map[string]struct {
	name  string
	price float64
}{
	"AAPL":  {"Apple Inc.", 190.00},
	"MSFT":  {"Microsoft Corporation", 410.00},
	"GOOGL": {"Alphabet Inc.", 165.00},
	"AMZN":  {"Amazon.com, Inc.", 180.00},
	"TSLA":  {"Tesla, Inc.", 175.00},
	"NVDA":  {"NVIDIA Corporation", 880.00},
	"META":  {"Meta Platforms, Inc.", 490.00},
	"SPY":   {"SPDR S&P 500 ETF Trust", 520.00},
}

const defaultSeedPrice = 100.00

// Simulator random-walks prices for a fixed symbol set and publishes every
// move on Updates.
type Simulator struct {
	mu       sync.RWMutex
	prices   map[string]decimal.Decimal
	previous map[string]decimal.Decimal
	names    map[string]string
	symbols  []string
	rnd      *rand.Rand

	updates chan models.Quote
}

func NewSimulator(symbols []string) *Simulator {
	s := &Simulator{
		prices:   make(map[string]decimal.Decimal),
		previous: make(map[string]decimal.Decimal),
		names:    make(map[string]string),
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
		updates:  make(chan models.Quote, 100),
	}
	for _, sym := range Distinct(symbols) {
		seed, ok := seedPrices[sym]
		if !ok {
			seed.name = sym
			seed.price = defaultSeedPrice
		}
		p := decimal.NewFromFloat(seed.price).Round(2)
		s.prices[sym] = p
		s.previous[sym] = p
		s.names[sym] = seed.name
		s.symbols = append(s.symbols, sym)
	}
	return s
}

// Updates delivers price moves. Sends never block; a slow reader misses ticks.
func (s *Simulator) Updates() <-chan models.Quote {
	return s.updates
}

// Run moves prices every interval until ctx is done.
func (s *Simulator) Run(ctx context.Context, interval time.Duration) {
	log.Printf("Starting simulated price feed for %d symbols every %s", len(s.symbols), interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Simulated price feed stopped")
			return
		case <-ticker.C:
			s.Step()
		}
	}
}

// Step applies one random move of at most +/-0.5% to every symbol.
func (s *Simulator) Step() {
	s.mu.Lock()
	moved := make([]models.Quote, 0, len(s.symbols))
	for _, sym := range s.symbols {
		old := s.prices[sym]
		change := decimal.NewFromFloat((s.rnd.Float64() - 0.5) / 100)
		next := old.Mul(decimal.NewFromInt(1).Add(change)).Round(2)
		if !next.IsPositive() {
			next = old
		}
		s.prices[sym] = next
		moved = append(moved, s.quoteLocked(sym))
	}
	s.mu.Unlock()

	for _, q := range moved {
		select {
		case s.updates <- q:
		default:
			log.Println("Price update channel full, dropping update for", q.Symbol)
		}
	}
}

// Set pins a symbol's price, adding it when unknown.
func (s *Simulator) Set(symbol string, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.prices[symbol]; !ok {
		s.symbols = append(s.symbols, symbol)
		s.previous[symbol] = price
		s.names[symbol] = symbol
	}
	s.prices[symbol] = price
}

func (s *Simulator) Fetch(_ context.Context, symbol string) (*models.Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.prices[symbol]; !ok {
		return nil, ErrUnknownSymbol
	}
	q := s.quoteLocked(symbol)
	return &q, nil
}

// Snapshot returns the current quote for every simulated symbol.
func (s *Simulator) Snapshot() []models.Quote {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Quote, 0, len(s.symbols))
	for _, sym := range s.symbols {
		out = append(out, s.quoteLocked(sym))
	}
	return out
}

func (s *Simulator) quoteLocked(sym string) models.Quote {
	price, prev := s.prices[sym], s.previous[sym]
	change := price.Sub(prev)
	pct := decimal.Zero
	if prev.IsPositive() {
		pct = change.Div(prev).Mul(decimal.NewFromInt(100)).Round(2)
	}
	return models.Quote{
		Symbol:        sym,
		Name:          s.names[sym],
		Price:         price,
		Change:        change,
		ChangePercent: pct,
		PreviousClose: prev,
		Currency:      "USD",
		Timestamp:     time.Now().UTC(),
	}
}
