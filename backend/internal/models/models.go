package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// User represents a user account
type User struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	Password  string    `json:"-"` // Store hash, exclude from JSON responses
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// OrderSide is the direction of a trade.
type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// Valid reports whether s is buy or sell.
func (s OrderSide) Valid() bool {
	return s == SideBuy || s == SideSell
}

// OrderKind distinguishes market orders from limit orders.
type OrderKind string

const (
	KindMarket OrderKind = "market"
	KindLimit  OrderKind = "limit"
)

func (k OrderKind) Valid() bool {
	return k == KindMarket || k == KindLimit
}

// OrderStatus is the lifecycle state of an order.
// pending -> filled | cancelled; filled and cancelled are terminal.
type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusFilled    OrderStatus = "filled"
	StatusCancelled OrderStatus = "cancelled"
)

func (s OrderStatus) Valid() bool {
	return s == StatusPending || s == StatusFilled || s == StatusCancelled
}

// Terminal reports whether no further transition is allowed.
func (s OrderStatus) Terminal() bool {
	return s == StatusFilled || s == StatusCancelled
}

// Account holds a user's virtual cash.
type Account struct {
	UserID      uuid.UUID       `json:"user_id"`
	CashBalance decimal.Decimal `json:"cash_balance"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Position is a user's holding of one symbol.
type Position struct {
	UserID    uuid.UUID       `json:"user_id"`
	Symbol    string          `json:"symbol"`
	Quantity  decimal.Decimal `json:"quantity"`
	AvgCost   decimal.Decimal `json:"avg_cost"`
	TotalCost decimal.Decimal `json:"total_cost"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Order represents a trading order
type Order struct {
	ID             uuid.UUID        `json:"id"`
	UserID         uuid.UUID        `json:"user_id"`
	Symbol         string           `json:"symbol"`
	Side           OrderSide        `json:"side"`
	Kind           OrderKind        `json:"kind"`
	Quantity       decimal.Decimal  `json:"quantity"`
	LimitPrice     *decimal.Decimal `json:"limit_price,omitempty"` // Only for limit orders
	Status         OrderStatus      `json:"status"`
	FilledQuantity decimal.Decimal  `json:"filled_quantity"`
	FilledPrice    *decimal.Decimal `json:"filled_price,omitempty"`
	TotalAmount    *decimal.Decimal `json:"total_amount,omitempty"`
	RealizedPnL    *decimal.Decimal `json:"realized_pnl,omitempty"` // Sells only
	CreatedAt      time.Time        `json:"created_at"`
	FilledAt       *time.Time       `json:"filled_at,omitempty"`
	CancelledAt    *time.Time       `json:"cancelled_at,omitempty"`
}

// Fill is the result of executing an order against a price.
type Fill struct {
	OrderID     uuid.UUID       `json:"order_id"`
	Symbol      string          `json:"symbol"`
	Side        OrderSide       `json:"side"`
	Quantity    decimal.Decimal `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	CashBalance decimal.Decimal `json:"cash_balance"`
	FilledAt    time.Time       `json:"filled_at"`
}

// Quote is a best-effort snapshot of a symbol's market data.
type Quote struct {
	Symbol        string          `json:"symbol"`
	Name          string          `json:"name"`
	Price         decimal.Decimal `json:"price"`
	Change        decimal.Decimal `json:"change"`
	ChangePercent decimal.Decimal `json:"change_percent"`
	PreviousClose decimal.Decimal `json:"previous_close"`
	Currency      string          `json:"currency"`
	Timestamp     time.Time       `json:"timestamp"`
}

// Holding is one valued position within a portfolio snapshot.
type Holding struct {
	Symbol       string          `json:"symbol"`
	Name         string          `json:"name"`
	Quantity     decimal.Decimal `json:"quantity"`
	AvgCost      decimal.Decimal `json:"avg_cost"`
	TotalCost    decimal.Decimal `json:"total_cost"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	MarketValue  decimal.Decimal `json:"market_value"`
	PnL          decimal.Decimal `json:"pnl"`
	PnLPercent   decimal.Decimal `json:"pnl_percent"`
	Stale        bool            `json:"stale"` // Valued at cost because the quote failed
}

// PortfolioSnapshot is the read-only valuation of a user's account.
type PortfolioSnapshot struct {
	Holdings        []Holding       `json:"holdings"`
	TotalValue      decimal.Decimal `json:"total_value"`
	TotalCost       decimal.Decimal `json:"total_cost"`
	TotalPnL        decimal.Decimal `json:"total_pnl"`
	TotalPnLPercent decimal.Decimal `json:"total_pnl_percent"`
	Cash            decimal.Decimal `json:"cash"`
	TotalAssets     decimal.Decimal `json:"total_assets"`
	AsOf            time.Time       `json:"as_of"`
}

// OrderFilter narrows an order history query.
type OrderFilter struct {
	Status OrderStatus
	Symbol string
	Limit  int
	Since  time.Time
}

// AccountSummary is the dashboard view: valuation plus order activity.
type AccountSummary struct {
	Portfolio   *PortfolioSnapshot `json:"portfolio"`
	Positions   int                `json:"positions"`
	TodayOrders int                `json:"today_orders"`
	TotalOrders int                `json:"total_orders"`
}

// BookLevel aggregates pending limit orders at one price.
type BookLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
	Orders   int             `json:"orders"`
}

// BookDepth is the public view of resting limit orders for a symbol.
type BookDepth struct {
	Symbol string      `json:"symbol"`
	Bids   []BookLevel `json:"bids"` // Highest price first
	Asks   []BookLevel `json:"asks"` // Lowest price first
}
