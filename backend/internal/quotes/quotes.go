// Package quotes resolves best-effort market prices for symbols.
package quotes

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"
	"github.com/user/papertrade/backend/internal/models"
)

var (
	ErrUnknownSymbol = errors.New("quotes: unknown symbol")
	ErrNoPrice       = errors.New("quotes: no usable price")
	ErrTimeout       = errors.New("quotes: lookup timed out")
)

// Provider is what the trading engine consumes.
type Provider interface {
	GetQuote(ctx context.Context, symbol string) (*models.Quote, error)
	// GetQuotes returns whatever subset of symbols could be priced.
	GetQuotes(ctx context.Context, symbols []string) map[string]*models.Quote
}

// Source is one upstream of market data. Implementations need not honour ctx;
// Client enforces the deadline.
type Source interface {
	Fetch(ctx context.Context, symbol string) (*models.Quote, error)
}

// Client wraps a Source with a per-lookup timeout and bounded batch fan-out.
type Client struct {
	src         Source
	timeout     time.Duration
	concurrency int
}

var _ Provider = (*Client)(nil)

func NewClient(src Source, timeout time.Duration, concurrency int) *Client {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Client{src: src, timeout: timeout, concurrency: concurrency}
}

func (c *Client) GetQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	type result struct {
		q   *models.Quote
		err error
	}
	done := make(chan result, 1)
	go func() {
		q, err := c.src.Fetch(ctx, symbol)
		done <- result{q, err}
	}()

	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s after %s", ErrTimeout, symbol, c.timeout)
		}
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("quote %s: %w", symbol, r.err)
		}
		if r.q == nil || !r.q.Price.IsPositive() {
			return nil, fmt.Errorf("quote %s: %w", symbol, ErrNoPrice)
		}
		return r.q, nil
	}
}

func (c *Client) GetQuotes(ctx context.Context, symbols []string) map[string]*models.Quote {
	out := make(map[string]*models.Quote, len(symbols))
	var mu sync.Mutex

	p := pool.New().WithMaxGoroutines(c.concurrency)
	for _, sym := range Distinct(symbols) {
		p.Go(func() {
			q, err := c.GetQuote(ctx, sym)
			if err != nil {
				log.Printf("WARN: quote lookup for %s failed: %v", sym, err)
				return
			}
			mu.Lock()
			out[sym] = q
			mu.Unlock()
		})
	}
	p.Wait()
	return out
}

// Distinct upper-cases symbols and drops blanks and repeats, keeping order.
func Distinct(symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
