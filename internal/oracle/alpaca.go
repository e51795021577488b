package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"

	"tradedesk/internal/domain"
)

// Compile-time interface check.
var _ Oracle = (*AlpacaOracle)(nil)

// clockCacheTTL bounds how often the trading clock is refreshed. Quotes are
// per-order but open/closed state changes twice a day.
const clockCacheTTL = 30 * time.Second

// AlpacaOracle serves quotes from the Alpaca market-data API: last traded
// price from the latest-trade endpoint, market open/closed state from the
// trading clock. When the market is closed the latest trade carries
// previous-close semantics, which callers accept as-is.
type AlpacaOracle struct {
	md      *marketdata.Client
	trading *alpaca.Client
	log     *slog.Logger

	clockMu    sync.Mutex
	marketOpen bool
	clockAt    time.Time
}

// NewAlpacaOracle creates an AlpacaOracle with the given credentials.
// baseURL addresses the trading API (clock), dataURL the market-data API;
// either may be empty to use the SDK defaults.
func NewAlpacaOracle(apiKey, apiSecret, baseURL, dataURL string) *AlpacaOracle {
	mdOpts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		mdOpts.BaseURL = dataURL
	}
	tradingOpts := alpaca.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if baseURL != "" {
		tradingOpts.BaseURL = baseURL
	}
	return &AlpacaOracle{
		md:      marketdata.NewClient(mdOpts),
		trading: alpaca.NewClient(tradingOpts),
		log:     slog.Default().With("oracle", "alpaca"),
	}
}

// Name returns "alpaca".
func (o *AlpacaOracle) Name() string { return "alpaca" }

// Quote returns the latest trade price for symbol. The SDK call runs in a
// goroutine so the context deadline is honored even mid-request; on timeout
// or API failure the error wraps domain.ErrPricingUnavailable.
func (o *AlpacaOracle) Quote(ctx context.Context, symbol string) (domain.Quote, error) {
	type result struct {
		trade *marketdata.Trade
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		trade, err := o.md.GetLatestTrade(symbol, marketdata.GetLatestTradeRequest{})
		ch <- result{trade: trade, err: err}
	}()

	select {
	case <-ctx.Done():
		return domain.Quote{}, fmt.Errorf("%w: quote for %s: %v",
			domain.ErrPricingUnavailable, symbol, ctx.Err())
	case res := <-ch:
		if res.err != nil {
			return domain.Quote{}, fmt.Errorf("%w: quote for %s: %v",
				domain.ErrPricingUnavailable, symbol, res.err)
		}
		if res.trade == nil || res.trade.Price <= 0 {
			return domain.Quote{}, fmt.Errorf("%w: no trade data for %s",
				domain.ErrSymbolNotFound, symbol)
		}
		return domain.Quote{
			Symbol:     symbol,
			Price:      decimal.NewFromFloat(res.trade.Price),
			AsOf:       res.trade.Timestamp,
			MarketOpen: o.isMarketOpen(),
		}, nil
	}
}

// isMarketOpen returns the cached trading-clock state, refreshing it when
// the cache has expired. Clock failures keep the last known value; the quote
// itself is still served.
func (o *AlpacaOracle) isMarketOpen() bool {
	o.clockMu.Lock()
	defer o.clockMu.Unlock()

	if time.Since(o.clockAt) < clockCacheTTL {
		return o.marketOpen
	}
	clock, err := o.trading.GetClock()
	if err != nil {
		o.log.Warn("fetching trading clock", "error", err)
		return o.marketOpen
	}
	o.marketOpen = clock.IsOpen
	o.clockAt = time.Now()
	return o.marketOpen
}
