// Package trading executes paper orders against the ledger and values
// portfolios.
package trading

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"github.com/user/papertrade/backend/internal/errs"
	"github.com/user/papertrade/backend/internal/ledger"
	"github.com/user/papertrade/backend/internal/models"
	"github.com/user/papertrade/backend/internal/quotes"
)

var symbolPattern = regexp.MustCompile(`^[A-Z0-9.^=-]{1,16}$`)

// Engine validates orders, prices them and applies fills to the ledger.
type Engine struct {
	store  ledger.Store
	quotes quotes.Provider
	settings
}

func NewEngine(store ledger.Store, provider quotes.Provider, opts ...Option) *Engine {
	return &Engine{store: store, quotes: provider, settings: applyOptions(opts)}
}

// OrderRequest is the input to PlaceOrder.
type OrderRequest struct {
	Symbol     string           `json:"symbol"`
	Side       models.OrderSide `json:"side"`
	Kind       models.OrderKind `json:"order_type"`
	Quantity   decimal.Decimal  `json:"quantity"`
	LimitPrice *decimal.Decimal `json:"limit_price,omitempty"`
}

// Placement is the outcome of PlaceOrder. Fill is nil for limit orders.
type Placement struct {
	Order *models.Order `json:"order"`
	Fill  *models.Fill  `json:"fill,omitempty"`
}

// HistoryQuery narrows OrderHistory. Zero values mean no filter.
type HistoryQuery struct {
	Status string
	Symbol string
	Limit  int
}

// NormalizeSymbol upper-cases and validates a ticker symbol.
func NormalizeSymbol(symbol string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if !symbolPattern.MatchString(s) {
		return "", errs.Newf(errs.CodeValidation, "invalid symbol %q", symbol)
	}
	return s, nil
}

func validateQuantity(q decimal.Decimal) error {
	if !q.IsPositive() {
		return errs.New(errs.CodeValidation, "quantity must be greater than zero")
	}
	if !q.Equal(q.Truncate(quantityScale)) {
		return errs.Newf(errs.CodeValidation, "quantity supports at most %d decimal places", quantityScale)
	}
	return nil
}

// checkNotional rejects orders whose value rounds to nothing at the currency
// scale. Without it a small enough buy would credit shares for free.
func (e *Engine) checkNotional(price, qty decimal.Decimal) error {
	if total := price.Mul(qty).RoundBank(e.scale); !total.IsPositive() {
		return errs.Newf(errs.CodeValidation, "order value %s x %s rounds to zero at %d decimal places", qty, price, e.scale)
	}
	return nil
}

func validateOrder(symbol string, side models.OrderSide, qty decimal.Decimal) (string, error) {
	sym, err := NormalizeSymbol(symbol)
	if err != nil {
		return "", err
	}
	if !side.Valid() {
		return "", errs.Newf(errs.CodeValidation, "side must be buy or sell, got %q", side)
	}
	if err := validateQuantity(qty); err != nil {
		return "", err
	}
	return sym, nil
}

// PlaceOrder dispatches to ExecuteMarketOrder or PlaceLimitOrder.
func (e *Engine) PlaceOrder(ctx context.Context, userID uuid.UUID, req OrderRequest) (*Placement, error) {
	kind := models.OrderKind(strings.ToLower(string(req.Kind)))
	if kind == "" {
		kind = models.KindMarket
	}
	side := models.OrderSide(strings.ToLower(string(req.Side)))

	switch kind {
	case models.KindMarket:
		if req.LimitPrice != nil {
			return nil, e.reject(ctx, errs.New(errs.CodeValidation, "limit_price is only accepted for limit orders"))
		}
		order, fill, err := e.executeMarket(ctx, userID, req.Symbol, side, req.Quantity)
		if err != nil {
			return nil, err
		}
		return &Placement{Order: order, Fill: fill}, nil
	case models.KindLimit:
		if req.LimitPrice == nil {
			return nil, e.reject(ctx, errs.New(errs.CodeValidation, "limit_price is required for limit orders"))
		}
		order, err := e.PlaceLimitOrder(ctx, userID, req.Symbol, side, req.Quantity, *req.LimitPrice)
		if err != nil {
			return nil, err
		}
		return &Placement{Order: order}, nil
	default:
		return nil, e.reject(ctx, errs.Newf(errs.CodeValidation, "order_type must be market or limit, got %q", req.Kind))
	}
}

// ExecuteMarketOrder fills immediately at the current quote.
func (e *Engine) ExecuteMarketOrder(ctx context.Context, userID uuid.UUID, symbol string, side models.OrderSide, qty decimal.Decimal) (*models.Fill, error) {
	_, fill, err := e.executeMarket(ctx, userID, symbol, side, qty)
	return fill, err
}

func (e *Engine) executeMarket(ctx context.Context, userID uuid.UUID, symbol string, side models.OrderSide, qty decimal.Decimal) (*models.Order, *models.Fill, error) {
	sym, err := validateOrder(symbol, side, qty)
	if err != nil {
		return nil, nil, e.reject(ctx, err)
	}

	// Price first: no lock is held while the quote source is slow.
	price, err := e.resolvePrice(ctx, sym)
	if err != nil {
		return nil, nil, e.reject(ctx, err)
	}
	if err := e.checkNotional(price, qty); err != nil {
		return nil, nil, e.reject(ctx, err)
	}

	var (
		order *models.Order
		fill  *models.Fill
	)
	err = e.store.WithUserTx(ctx, userID, func(tx ledger.Tx) error {
		now := e.now()
		res, err := e.applyFill(ctx, tx, sym, side, qty, price)
		if err != nil {
			return err
		}

		order = &models.Order{
			Symbol:         sym,
			Side:           side,
			Kind:           models.KindMarket,
			Quantity:       qty,
			Status:         models.StatusFilled,
			FilledQuantity: qty,
			FilledPrice:    &price,
			TotalAmount:    &res.total,
			CreatedAt:      now,
			FilledAt:       &now,
		}
		if side == models.SideSell {
			order.RealizedPnL = &res.realized
		}
		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}
		fill = res.toFill(order)
		return nil
	})
	if err != nil {
		return nil, nil, e.reject(ctx, e.storeErr(err))
	}

	m := meters()
	count(ctx, m.placed, attribute.String("kind", string(models.KindMarket)), attribute.String("side", string(side)))
	count(ctx, m.fills, attribute.String("origin", "market"))
	log.Printf("Filled market %s %s x %s @ %s for user %s (order %s)", side, sym, qty, price, userID, order.ID)
	return order, fill, nil
}

// PlaceLimitOrder records a pending order. Funds and holdings are checked
// only when the order fills.
func (e *Engine) PlaceLimitOrder(ctx context.Context, userID uuid.UUID, symbol string, side models.OrderSide, qty, limitPrice decimal.Decimal) (*models.Order, error) {
	sym, err := validateOrder(symbol, side, qty)
	if err != nil {
		return nil, e.reject(ctx, err)
	}
	if !limitPrice.IsPositive() {
		return nil, e.reject(ctx, errs.New(errs.CodeValidation, "limit_price must be greater than zero"))
	}
	if err := e.checkNotional(limitPrice, qty); err != nil {
		return nil, e.reject(ctx, err)
	}

	order := &models.Order{
		Symbol:         sym,
		Side:           side,
		Kind:           models.KindLimit,
		Quantity:       qty,
		LimitPrice:     &limitPrice,
		Status:         models.StatusPending,
		FilledQuantity: decimal.Zero,
	}
	err = e.store.WithUserTx(ctx, userID, func(tx ledger.Tx) error {
		order.CreatedAt = e.now()
		return tx.InsertOrder(ctx, order)
	})
	if err != nil {
		return nil, e.reject(ctx, e.storeErr(err))
	}

	count(ctx, meters().placed, attribute.String("kind", string(models.KindLimit)), attribute.String("side", string(side)))
	log.Printf("Placed limit %s %s x %s @ %s for user %s (order %s)", side, sym, qty, limitPrice, userID, order.ID)
	return order, nil
}

// CancelOrder moves a pending order owned by userID to cancelled.
func (e *Engine) CancelOrder(ctx context.Context, userID, orderID uuid.UUID) (*models.Order, error) {
	if _, err := e.ownedOrder(ctx, userID, orderID); err != nil {
		return nil, e.reject(ctx, err)
	}

	var cancelled *models.Order
	err := e.store.WithUserTx(ctx, userID, func(tx ledger.Tx) error {
		o, err := tx.OrderForUpdate(ctx, orderID)
		if err != nil {
			if errors.Is(err, ledger.ErrNotFound) {
				return errs.Newf(errs.CodeOrderNotFound, "order %s not found", orderID)
			}
			return err
		}
		if o.Status != models.StatusPending {
			return errs.Newf(errs.CodeInvalidState, "order %s is %s and cannot be cancelled", orderID, o.Status)
		}
		now := e.now()
		o.Status = models.StatusCancelled
		o.CancelledAt = &now
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return err
		}
		cancelled = o
		return nil
	})
	if err != nil {
		return nil, e.reject(ctx, e.storeErr(err))
	}
	log.Printf("Cancelled order %s for user %s", orderID, userID)
	return cancelled, nil
}

// FillLimitOrder fills a pending limit order at an observed price. The order
// is re-read under the owner's lock, so a second call for the same order
// fails with invalid_state.
func (e *Engine) FillLimitOrder(ctx context.Context, orderID uuid.UUID, price decimal.Decimal) (*models.Fill, error) {
	if !price.IsPositive() {
		return nil, errs.Newf(errs.CodePriceUnavailable, "no usable price for order %s", orderID)
	}
	snapshot, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return nil, errs.Newf(errs.CodeOrderNotFound, "order %s not found", orderID)
		}
		return nil, e.storeErr(err)
	}

	var fill *models.Fill
	err = e.store.WithUserTx(ctx, snapshot.UserID, func(tx ledger.Tx) error {
		o, err := tx.OrderForUpdate(ctx, orderID)
		if err != nil {
			if errors.Is(err, ledger.ErrNotFound) {
				return errs.Newf(errs.CodeOrderNotFound, "order %s not found", orderID)
			}
			return err
		}
		if o.Kind != models.KindLimit || o.Status != models.StatusPending {
			return errs.Newf(errs.CodeInvalidState, "order %s is %s %s, not a pending limit order", orderID, o.Status, o.Kind)
		}
		if !limitReached(o, price) {
			return errs.Newf(errs.CodeInvalidState, "price %s does not reach limit %s for order %s", price, o.LimitPrice, orderID)
		}

		res, err := e.applyFill(ctx, tx, o.Symbol, o.Side, o.Quantity, price)
		if err != nil {
			return err
		}

		now := e.now()
		o.Status = models.StatusFilled
		o.FilledQuantity = o.Quantity
		o.FilledPrice = &price
		o.TotalAmount = &res.total
		o.FilledAt = &now
		if o.Side == models.SideSell {
			o.RealizedPnL = &res.realized
		}
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return err
		}
		fill = res.toFill(o)
		return nil
	})
	if err != nil {
		return nil, e.storeErr(err)
	}

	count(ctx, meters().fills, attribute.String("origin", "limit"))
	log.Printf("Filled limit %s %s x %s @ %s for user %s (order %s)", fill.Side, fill.Symbol, fill.Quantity, price, snapshot.UserID, orderID)
	return fill, nil
}

// limitReached reports whether price satisfies the order's limit: buys at
// or below it, sells at or above it.
func limitReached(o *models.Order, price decimal.Decimal) bool {
	if o.LimitPrice == nil {
		return false
	}
	if o.Side == models.SideBuy {
		return price.LessThanOrEqual(*o.LimitPrice)
	}
	return price.GreaterThanOrEqual(*o.LimitPrice)
}

// OrderHistory lists the user's orders newest first.
func (e *Engine) OrderHistory(ctx context.Context, userID uuid.UUID, q HistoryQuery) ([]models.Order, error) {
	filter := models.OrderFilter{Limit: q.Limit}

	if q.Status != "" {
		status := models.OrderStatus(strings.ToLower(q.Status))
		if !status.Valid() {
			return nil, errs.Newf(errs.CodeValidation, "status must be pending, filled or cancelled, got %q", q.Status)
		}
		filter.Status = status
	}
	if q.Symbol != "" {
		sym, err := NormalizeSymbol(q.Symbol)
		if err != nil {
			return nil, err
		}
		filter.Symbol = sym
	}
	switch {
	case filter.Limit < 0:
		return nil, errs.New(errs.CodeValidation, "limit must not be negative")
	case filter.Limit == 0:
		filter.Limit = DefaultHistoryLimit
	case filter.Limit > MaxHistoryLimit:
		filter.Limit = MaxHistoryLimit
	}

	orders, err := e.store.ListOrders(ctx, userID, filter)
	if err != nil {
		return nil, e.storeErr(err)
	}
	return orders, nil
}

// GetOrder returns one of the user's orders.
func (e *Engine) GetOrder(ctx context.Context, userID, orderID uuid.UUID) (*models.Order, error) {
	return e.ownedOrder(ctx, userID, orderID)
}

func (e *Engine) ownedOrder(ctx context.Context, userID, orderID uuid.UUID) (*models.Order, error) {
	o, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return nil, errs.Newf(errs.CodeOrderNotFound, "order %s not found", orderID)
		}
		return nil, e.storeErr(err)
	}
	if o.UserID != userID {
		return nil, errs.Newf(errs.CodeNotOwner, "order %s belongs to another user", orderID)
	}
	return o, nil
}

// ResetAccount wipes the user's positions and orders and restores the
// starting balance.
func (e *Engine) ResetAccount(ctx context.Context, userID uuid.UUID) (*models.Account, error) {
	var acct *models.Account
	err := e.store.WithUserTx(ctx, userID, func(tx ledger.Tx) error {
		if err := tx.Reset(ctx); err != nil {
			return err
		}
		a, err := tx.Account(ctx)
		acct = a
		return err
	})
	if err != nil {
		return nil, e.storeErr(err)
	}
	log.Printf("Reset account for user %s to %s", userID, acct.CashBalance)
	return acct, nil
}

// Balance returns the user's account, creating it on first use.
func (e *Engine) Balance(ctx context.Context, userID uuid.UUID) (*models.Account, error) {
	acct, err := e.store.Account(ctx, userID)
	if err != nil {
		return nil, e.storeErr(err)
	}
	return acct, nil
}

func (e *Engine) resolvePrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	q, err := e.quotes.GetQuote(ctx, symbol)
	if err != nil {
		log.Printf("WARN: price lookup for %s failed: %v", symbol, err)
		return decimal.Zero, errs.Wrap(errs.CodePriceUnavailable, err, fmt.Sprintf("no price available for %s", symbol))
	}
	if q == nil || !q.Price.IsPositive() {
		return decimal.Zero, errs.Newf(errs.CodePriceUnavailable, "no price available for %s", symbol)
	}
	return q.Price, nil
}

type fillResult struct {
	symbol   string
	side     models.OrderSide
	qty      decimal.Decimal
	price    decimal.Decimal
	total    decimal.Decimal
	realized decimal.Decimal
	cash     decimal.Decimal
}

func (r fillResult) toFill(o *models.Order) *models.Fill {
	at := o.CreatedAt
	if o.FilledAt != nil {
		at = *o.FilledAt
	}
	return &models.Fill{
		OrderID:     o.ID,
		Symbol:      r.symbol,
		Side:        r.side,
		Quantity:    r.qty,
		Price:       r.price,
		TotalAmount: r.total,
		RealizedPnL: r.realized,
		CashBalance: r.cash,
		FilledAt:    at,
	}
}

// applyFill moves cash and shares for one fill. It must run inside the
// user's atomic section.
func (e *Engine) applyFill(ctx context.Context, tx ledger.Tx, symbol string, side models.OrderSide, qty, price decimal.Decimal) (fillResult, error) {
	res := fillResult{
		symbol: symbol,
		side:   side,
		qty:    qty,
		price:  price,
		total:  price.Mul(qty).RoundBank(e.scale),
	}
	if !res.total.IsPositive() {
		return res, e.checkNotional(price, qty)
	}

	acct, err := tx.Account(ctx)
	if err != nil {
		return res, err
	}

	pos, err := tx.Position(ctx, symbol)
	if err != nil && !errors.Is(err, ledger.ErrNotFound) {
		return res, err
	}
	if errors.Is(err, ledger.ErrNotFound) {
		pos = nil
	}

	switch side {
	case models.SideBuy:
		if acct.CashBalance.LessThan(res.total) {
			return res, errs.Newf(errs.CodeInsufficientFunds, "insufficient funds: need %s, have %s",
				res.total.StringFixed(e.scale), acct.CashBalance.StringFixed(e.scale))
		}
		if pos == nil {
			pos = &models.Position{Symbol: symbol, Quantity: decimal.Zero, TotalCost: decimal.Zero}
		}
		pos.Quantity = pos.Quantity.Add(qty)
		pos.TotalCost = pos.TotalCost.Add(res.total)
		pos.AvgCost = pos.TotalCost.DivRound(pos.Quantity, quantityScale)
		if err := tx.SavePosition(ctx, pos); err != nil {
			return res, err
		}
		res.cash = acct.CashBalance.Sub(res.total)

	case models.SideSell:
		held := decimal.Zero
		if pos != nil {
			held = pos.Quantity
		}
		if held.LessThan(qty) {
			return res, errs.Newf(errs.CodeInsufficientHoldings, "insufficient holdings of %s: want %s, have %s", symbol, qty, held)
		}
		remaining := held.Sub(qty)
		var costRemoved decimal.Decimal
		if remaining.IsZero() {
			costRemoved = pos.TotalCost
			if err := tx.DeletePosition(ctx, symbol); err != nil {
				return res, err
			}
		} else {
			newTotal := pos.AvgCost.Mul(remaining).RoundBank(e.scale)
			costRemoved = pos.TotalCost.Sub(newTotal)
			pos.Quantity = remaining
			pos.TotalCost = newTotal
			if err := tx.SavePosition(ctx, pos); err != nil {
				return res, err
			}
		}
		res.realized = res.total.Sub(costRemoved)
		res.cash = acct.CashBalance.Add(res.total)

	default:
		return res, errs.Newf(errs.CodeValidation, "side must be buy or sell, got %q", side)
	}

	if err := tx.SetCash(ctx, res.cash); err != nil {
		return res, err
	}
	return res, nil
}

// storeErr passes taxonomy errors through and reports everything else as
// store_unavailable.
func (e *Engine) storeErr(err error) error {
	var envelope *errs.E
	if errors.As(err, &envelope) {
		return err
	}
	log.Printf("ERROR: ledger operation failed: %v", err)
	return errs.Wrap(errs.CodeStoreUnavailable, err, "ledger temporarily unavailable")
}

func (e *Engine) reject(ctx context.Context, err error) error {
	count(ctx, meters().rejected, attribute.String("code", string(errs.CodeOf(err))))
	return err
}
