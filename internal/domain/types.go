// Package domain defines the core types shared across the tradedesk
// platform: accounts, positions, orders, fills, quotes, bars, and signals.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Enumerations
// ---------------------------------------------------------------------------

// OrderType distinguishes the supported order types.
type OrderType string

const (
	OrderTypeMarket    OrderType = "market"
	OrderTypeLimit     OrderType = "limit"
	OrderTypeStop      OrderType = "stop"
	OrderTypeStopLimit OrderType = "stop_limit"
)

// ParseOrderType normalises a wire token into an OrderType. "stop-limit" is
// accepted as an alias for "stop_limit". The second return value reports
// whether the token was recognised.
func ParseOrderType(s string) (OrderType, bool) {
	switch s {
	case "market":
		return OrderTypeMarket, true
	case "limit":
		return OrderTypeLimit, true
	case "stop":
		return OrderTypeStop, true
	case "stop_limit", "stop-limit":
		return OrderTypeStopLimit, true
	}
	return "", false
}

// NeedsLimitPrice reports whether orders of this type require a limit price.
func (t OrderType) NeedsLimitPrice() bool {
	return t == OrderTypeLimit || t == OrderTypeStopLimit
}

// NeedsStopPrice reports whether orders of this type require a stop price.
func (t OrderType) NeedsStopPrice() bool {
	return t == OrderTypeStop || t == OrderTypeStopLimit
}

// OrderSide indicates whether an order buys or sells.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderStatus represents the lifecycle state of an order. pending is the only
// non-terminal state; all transitions out of it are one-shot.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRejected  OrderStatus = "rejected"
)

// Terminal reports whether the status permits no further transitions.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusFilled || s == OrderStatusCancelled || s == OrderStatusRejected
}

// SignalType classifies strategy signals.
type SignalType string

const (
	SignalTypeBuy  SignalType = "buy"
	SignalTypeSell SignalType = "sell"
)

// ---------------------------------------------------------------------------
// Ledger entities
// ---------------------------------------------------------------------------

// Account is a synthetic brokerage account. CashBalance never goes negative;
// deleting an account cascades to its positions, orders, and fills.
type Account struct {
	ID             string          `json:"id"`
	OwnerID        string          `json:"owner_id"`
	Name           string          `json:"name"`
	CashBalance    decimal.Decimal `json:"cash_balance"`
	InitialBalance decimal.Decimal `json:"initial_balance"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Position is an open long holding, keyed by (account, symbol). A quantity of
// zero is never persisted: the row is deleted instead.
type Position struct {
	AccountID   string          `json:"account_id"`
	Symbol      string          `json:"symbol"`
	Quantity    int64           `json:"quantity"`
	AverageCost decimal.Decimal `json:"average_cost"`
	LastPrice   decimal.Decimal `json:"last_price"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// MarketValue returns quantity × mark.
func (p *Position) MarketValue(mark decimal.Decimal) decimal.Decimal {
	return mark.Mul(decimal.NewFromInt(p.Quantity))
}

// UnrealizedPL returns quantity × (mark − averageCost).
func (p *Position) UnrealizedPL(mark decimal.Decimal) decimal.Decimal {
	return mark.Sub(p.AverageCost).Mul(decimal.NewFromInt(p.Quantity))
}

// Order is a single buy/sell instruction against an account. Once the status
// is terminal the order is immutable.
type Order struct {
	ID               string           `json:"id"`
	AccountID        string           `json:"account_id"`
	Symbol           string           `json:"symbol"`
	Type             OrderType        `json:"type"`
	Side             OrderSide        `json:"side"`
	Quantity         int64            `json:"quantity"`
	LimitPrice       *decimal.Decimal `json:"limit_price,omitempty"`
	StopPrice        *decimal.Decimal `json:"stop_price,omitempty"`
	Status           OrderStatus      `json:"status"`
	FilledQuantity   int64            `json:"filled_quantity"`
	AverageFillPrice decimal.Decimal  `json:"average_fill_price"`
	// Reason carries the machine-readable rejection kind for rejected
	// orders, empty otherwise.
	Reason    string    `json:"reason,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Fill records a completed execution against an order. This engine fills
// orders in full or not at all, so a filled order has exactly one fill.
// RealizedPL is zero for buys and quantity × (price − averageCost) for sells.
type Fill struct {
	ID         string          `json:"id"`
	OrderID    string          `json:"order_id"`
	AccountID  string          `json:"account_id"`
	Symbol     string          `json:"symbol"`
	Side       OrderSide       `json:"side"`
	Price      decimal.Decimal `json:"price"`
	Quantity   int64           `json:"quantity"`
	RealizedPL decimal.Decimal `json:"realized_pl"`
	CreatedAt  time.Time       `json:"created_at"`
}

// OrderEvent is published to stream subscribers when an order reaches a
// terminal state.
type OrderEvent struct {
	Order *Order `json:"order"`
	Fill  *Fill  `json:"fill,omitempty"`
}

// ---------------------------------------------------------------------------
// Market data
// ---------------------------------------------------------------------------

// Quote is a point-in-time price observation for a symbol. When the market is
// closed the price carries previous-close semantics, which is accepted input
// rather than an error.
type Quote struct {
	Symbol     string          `json:"symbol"`
	Price      decimal.Decimal `json:"price"`
	AsOf       time.Time       `json:"as_of"`
	MarketOpen bool            `json:"market_open"`
}

// Bar is a daily OHLCV bar used by the chart endpoint and the backtester.
type Bar struct {
	Symbol     string    `json:"symbol"`
	Timestamp  time.Time `json:"timestamp"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	Volume     int64     `json:"volume"`
	TradeCount int64     `json:"trade_count"`
	VWAP       float64   `json:"vwap"`
}

// Signal is a trading intent emitted by a strategy.
type Signal struct {
	StrategyID string     `json:"strategy_id"`
	Symbol     string     `json:"symbol"`
	Type       SignalType `json:"type"`
	Strength   float64    `json:"strength"`
	CreatedAt  time.Time  `json:"created_at"`
}
