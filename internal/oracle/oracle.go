// Package oracle defines the price oracle interface and provides
// implementations for live quotes and deterministic test/backtest pricing.
package oracle

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tradedesk/internal/domain"
)

// Oracle supplies a point-in-time quote for a symbol. Implementations may
// fail (network, timeout) or return stale previous-close prices when the
// market is closed; stale prices are valid input, not errors.
type Oracle interface {
	// Name returns the oracle identifier (e.g. "alpaca", "static").
	Name() string

	// Quote returns the latest observed price for symbol. It must respect
	// ctx cancellation and deadlines.
	Quote(ctx context.Context, symbol string) (domain.Quote, error)
}

// QuoteFunc adapts a plain function into an Oracle, mainly for tests.
type QuoteFunc func(ctx context.Context, symbol string) (domain.Quote, error)

// Name returns "func".
func (QuoteFunc) Name() string { return "func" }

// Quote calls the wrapped function.
func (f QuoteFunc) Quote(ctx context.Context, symbol string) (domain.Quote, error) {
	return f(ctx, symbol)
}

// Compile-time interface checks.
var _ Oracle = QuoteFunc(nil)
var _ Oracle = (*StaticOracle)(nil)

// StaticOracle serves prices from an in-memory table. It backs unit tests,
// local development without market-data credentials, and backtest replay,
// where the backtester advances prices bar by bar via SetPrice.
type StaticOracle struct {
	mu         sync.RWMutex
	prices     map[string]decimal.Decimal
	asOf       map[string]time.Time
	marketOpen bool
}

// NewStaticOracle creates a StaticOracle seeded with the given prices.
// The market is reported open until SetMarketOpen says otherwise.
func NewStaticOracle(prices map[string]decimal.Decimal) *StaticOracle {
	p := make(map[string]decimal.Decimal, len(prices))
	for sym, px := range prices {
		p[sym] = px
	}
	return &StaticOracle{
		prices:     p,
		asOf:       make(map[string]time.Time),
		marketOpen: true,
	}
}

// Name returns "static".
func (o *StaticOracle) Name() string { return "static" }

// SetPrice sets or updates the price for a symbol.
func (o *StaticOracle) SetPrice(symbol string, price decimal.Decimal, asOf time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.prices[symbol] = price
	o.asOf[symbol] = asOf
}

// SetMarketOpen sets the market-open flag reported on every quote.
func (o *StaticOracle) SetMarketOpen(open bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.marketOpen = open
}

// Quote returns the stored price for symbol, or domain.ErrSymbolNotFound.
func (o *StaticOracle) Quote(ctx context.Context, symbol string) (domain.Quote, error) {
	if err := ctx.Err(); err != nil {
		return domain.Quote{}, err
	}

	o.mu.RLock()
	defer o.mu.RUnlock()

	price, ok := o.prices[symbol]
	if !ok {
		return domain.Quote{}, domain.ErrSymbolNotFound
	}
	asOf, ok := o.asOf[symbol]
	if !ok {
		asOf = time.Now()
	}
	return domain.Quote{
		Symbol:     symbol,
		Price:      price,
		AsOf:       asOf,
		MarketOpen: o.marketOpen,
	}, nil
}
