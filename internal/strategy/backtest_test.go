package strategy_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"tradedesk/internal/domain"
	"tradedesk/internal/marketdata"
	"tradedesk/internal/strategy"
	"tradedesk/internal/strategy/builtins"
)

func newRegistry() *strategy.Registry {
	r := strategy.NewRegistry()
	r.Register(func() strategy.Strategy { return builtins.NewBuyHold() })
	r.Register(func() strategy.Strategy { return builtins.NewSMACross(5, 15) })
	return r
}

// seedTrend writes n daily bars walking linearly from startPx by step per day.
func seedTrend(t *testing.T, cache *marketdata.BarCache, symbol string, start time.Time, n int, startPx, step float64) {
	t.Helper()
	bars := make([]domain.Bar, 0, n)
	px := startPx
	for i := 0; i < n; i++ {
		bars = append(bars, domain.Bar{
			Symbol:    symbol,
			Timestamp: start.AddDate(0, 0, i),
			Open:      px,
			High:      px + 1,
			Low:       px - 1,
			Close:     px,
			Volume:    1000,
		})
		px += step
	}
	if err := cache.WriteBars(context.Background(), bars); err != nil {
		t.Fatalf("seed bars: %v", err)
	}
}

func TestBacktestBuyHoldOnUptrend(t *testing.T) {
	cache := marketdata.NewBarCache(t.TempDir())
	start := time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC)
	seedTrend(t, cache, "AAPL", start, 60, 100, 1)

	bars := marketdata.NewService(cache, nil, nil)
	bt := strategy.NewBacktester(bars, newRegistry(), nil)

	res, err := bt.Run(context.Background(), "buy-hold", []string{"AAPL"}, start, start.AddDate(0, 0, 59), 10000)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if res.TotalTrades != 1 {
		t.Errorf("trades = %d, want 1 buy", res.TotalTrades)
	}
	if res.TotalReturn <= 0 {
		t.Errorf("return = %f, want positive on an uptrend", res.TotalReturn)
	}
	// Bought ~100 shares at 100; final close is 159.
	if res.FinalEquity <= 10000 {
		t.Errorf("final equity = %f, want above initial", res.FinalEquity)
	}
	if len(res.EquityCurve) != 60 {
		t.Errorf("equity curve = %d points, want 60", len(res.EquityCurve))
	}
	if res.MaxDrawdown != 0 {
		t.Errorf("drawdown = %f, want 0 on a monotone uptrend", res.MaxDrawdown)
	}
}

func TestBacktestSMACrossRoundTrip(t *testing.T) {
	cache := marketdata.NewBarCache(t.TempDir())
	start := time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC)

	// Rally for 40 days then sell off for 40: the crossover buys into the
	// rally and exits on the way down.
	ctx := context.Background()
	var bars []domain.Bar
	px := 100.0
	for i := 0; i < 80; i++ {
		bars = append(bars, domain.Bar{
			Symbol:    "TSLA",
			Timestamp: start.AddDate(0, 0, i),
			Open:      px,
			High:      px + 1,
			Low:       px - 1,
			Close:     px,
			Volume:    1000,
		})
		if i < 40 {
			px += 2
		} else {
			px -= 2
		}
	}
	if err := cache.WriteBars(ctx, bars); err != nil {
		t.Fatalf("seed: %v", err)
	}

	svc := marketdata.NewService(cache, nil, nil)
	bt := strategy.NewBacktester(svc, newRegistry(), nil)

	res, err := bt.Run(ctx, "sma-cross-5-15", []string{"TSLA"}, start, start.AddDate(0, 0, 79), 10000)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	// One buy on the upward cross and one sell on the downward cross.
	if res.TotalTrades != 2 {
		t.Errorf("trades = %d, want 2", res.TotalTrades)
	}
	if res.MaxDrawdown <= 0 {
		t.Errorf("drawdown = %f, want positive through the selloff", res.MaxDrawdown)
	}
}

func TestBacktestUnknownStrategy(t *testing.T) {
	cache := marketdata.NewBarCache(t.TempDir())
	bt := strategy.NewBacktester(marketdata.NewService(cache, nil, nil), newRegistry(), nil)

	_, err := bt.Run(context.Background(), "nope", []string{"AAPL"}, time.Now().AddDate(0, -1, 0), time.Now(), 10000)
	if !errors.Is(err, strategy.ErrStrategyNotFound) {
		t.Errorf("err = %v, want ErrStrategyNotFound", err)
	}
}

func TestBacktestValidation(t *testing.T) {
	cache := marketdata.NewBarCache(t.TempDir())
	bt := strategy.NewBacktester(marketdata.NewService(cache, nil, nil), newRegistry(), nil)
	ctx := context.Background()
	now := time.Now()

	cases := []struct {
		name    string
		symbols []string
		start   time.Time
		end     time.Time
		capital float64
	}{
		{"no symbols", nil, now.AddDate(0, -1, 0), now, 10000},
		{"inverted range", []string{"AAPL"}, now, now.AddDate(0, -1, 0), 10000},
		{"zero capital", []string{"AAPL"}, now.AddDate(0, -1, 0), now, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := bt.Run(ctx, "buy-hold", tc.symbols, tc.start, tc.end, tc.capital)
			var verr *domain.ValidationError
			if !errors.As(err, &verr) {
				t.Errorf("err = %v, want ValidationError", err)
			}
		})
	}
}
