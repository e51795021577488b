package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tradedesk/internal/domain"
	"tradedesk/internal/engine"
	"tradedesk/internal/ledger"
	"tradedesk/internal/marketdata"
	"tradedesk/internal/oracle"
)

// BacktestResult holds the summary metrics produced by a backtest run.
type BacktestResult struct {
	Strategy    string    `json:"strategy"`
	Symbols     []string  `json:"symbols"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	FinalEquity float64   `json:"final_equity"`

	TotalReturn  float64 `json:"total_return"`
	SharpeRatio  float64 `json:"sharpe_ratio"`
	MaxDrawdown  float64 `json:"max_drawdown"`
	TotalTrades  int     `json:"total_trades"`
	WinRate      float64 `json:"win_rate"`
	ProfitFactor float64 `json:"profit_factor"`

	// EquityCurve holds end-of-day equity, one point per trading day.
	EquityCurve []float64 `json:"equity_curve,omitempty"`
}

// Backtester replays historical bars through the real order engine against a
// throwaway in-memory ledger, so backtest fills obey exactly the same
// settlement rules as live paper trades.
type Backtester struct {
	bars     *marketdata.Service
	registry *Registry
	log      *slog.Logger
}

// NewBacktester creates a Backtester reading bars from the given history
// service and strategies from the registry.
func NewBacktester(bars *marketdata.Service, registry *Registry, log *slog.Logger) *Backtester {
	if log == nil {
		log = slog.Default()
	}
	return &Backtester{
		bars:     bars,
		registry: registry,
		log:      log.With("component", "backtest"),
	}
}

// Run executes a backtest for the named strategy over the given symbols and
// date range, starting with initialCapital in cash.
func (bt *Backtester) Run(ctx context.Context, name string, symbols []string, start, end time.Time, initialCapital float64) (*BacktestResult, error) {
	strat, ok := bt.registry.New(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStrategyNotFound, name)
	}
	if len(symbols) == 0 {
		return nil, &domain.ValidationError{Message: "symbols are required"}
	}
	if !end.After(start) {
		return nil, &domain.ValidationError{Message: "end must be after start"}
	}
	if initialCapital <= 0 {
		return nil, &domain.ValidationError{Message: "initial_capital must be positive"}
	}
	if err := strat.Init(ctx); err != nil {
		return nil, fmt.Errorf("initialising strategy %s: %w", name, err)
	}

	// One timestamp-ordered stream across all symbols.
	var stream []domain.Bar
	for _, sym := range symbols {
		bars, err := bt.bars.DailyBars(ctx, sym, start, end)
		if err != nil {
			return nil, fmt.Errorf("loading bars for %s: %w", sym, err)
		}
		stream = append(stream, bars...)
	}
	if len(stream) == 0 {
		return nil, fmt.Errorf("%w: no bars for %v in range", domain.ErrPricingUnavailable, symbols)
	}
	sort.SliceStable(stream, func(i, j int) bool {
		return stream[i].Timestamp.Before(stream[j].Timestamp)
	})

	store, err := ledger.OpenSQLite(":memory:")
	if err != nil {
		return nil, fmt.Errorf("opening backtest ledger: %w", err)
	}
	defer store.Close()

	capital := decimal.NewFromFloat(initialCapital)
	acct := &domain.Account{
		ID:             uuid.NewString(),
		OwnerID:        "backtest",
		Name:           name,
		CashBalance:    capital,
		InitialBalance: capital,
		CreatedAt:      start,
	}
	if err := store.CreateAccount(ctx, acct); err != nil {
		return nil, fmt.Errorf("creating backtest account: %w", err)
	}

	prices := oracle.NewStaticOracle(nil)
	eng := engine.New(store, prices, engine.Config{FillWhenClosed: true}, bt.log)

	var (
		curve     []float64
		lastClose = make(map[string]float64)
		day       time.Time
	)
	flushDay := func() error {
		if day.IsZero() {
			return nil
		}
		eq, err := bt.markEquity(ctx, store, acct.ID, lastClose)
		if err != nil {
			return err
		}
		curve = append(curve, eq)
		return nil
	}

	for _, bar := range stream {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		barDay := bar.Timestamp.Truncate(24 * time.Hour)
		if !barDay.Equal(day) {
			if err := flushDay(); err != nil {
				return nil, err
			}
			day = barDay
		}

		prices.SetPrice(bar.Symbol, decimal.NewFromFloat(bar.Close), bar.Timestamp)
		lastClose[bar.Symbol] = bar.Close

		signals, err := strat.OnBar(ctx, bar)
		if err != nil {
			return nil, fmt.Errorf("strategy %s on %s: %w", name, bar.Timestamp.Format("2006-01-02"), err)
		}
		for _, sig := range signals {
			if err := bt.execute(ctx, eng, store, acct.ID, sig, bar.Close, len(symbols)); err != nil {
				return nil, err
			}
		}
	}
	if err := flushDay(); err != nil {
		return nil, err
	}

	fills, err := store.ListFills(ctx, acct.ID)
	if err != nil {
		return nil, err
	}
	res := computeMetrics(curve, fills, initialCapital)
	res.Strategy = name
	res.Symbols = symbols
	res.Start = start
	res.End = end

	bt.log.Info("backtest complete",
		"strategy", name,
		"symbols", symbols,
		"trades", res.TotalTrades,
		"return", res.TotalReturn)
	return res, nil
}

// execute turns one signal into at most one engine order. Buys allocate an
// even share of cash per symbol; sells close the whole position. Rejections
// (insufficient funds on a tiny residual, for instance) are logged and
// skipped rather than aborting the run.
func (bt *Backtester) execute(ctx context.Context, eng *engine.Engine, store ledger.Store, accountID string, sig domain.Signal, price float64, numSymbols int) error {
	pos, err := store.GetPosition(ctx, accountID, sig.Symbol)
	if err != nil {
		return err
	}

	var req engine.PlaceOrderRequest
	switch sig.Type {
	case domain.SignalTypeBuy:
		if pos != nil {
			return nil
		}
		acct, err := store.GetAccount(ctx, accountID)
		if err != nil {
			return err
		}
		budget, _ := acct.CashBalance.Float64()
		qty := int64(budget / float64(numSymbols) / price)
		if qty <= 0 {
			return nil
		}
		req = engine.PlaceOrderRequest{
			AccountID: accountID,
			Symbol:    sig.Symbol,
			Type:      domain.OrderTypeMarket,
			Side:      domain.OrderSideBuy,
			Quantity:  qty,
			Notes:     sig.StrategyID,
		}

	case domain.SignalTypeSell:
		if pos == nil {
			return nil
		}
		req = engine.PlaceOrderRequest{
			AccountID: accountID,
			Symbol:    sig.Symbol,
			Type:      domain.OrderTypeMarket,
			Side:      domain.OrderSideSell,
			Quantity:  pos.Quantity,
			Notes:     sig.StrategyID,
		}

	default:
		return nil
	}

	if _, err := eng.PlaceOrder(ctx, req); err != nil {
		if domain.IsRejection(err) {
			bt.log.Debug("backtest order rejected", "symbol", sig.Symbol, "error", err)
			return nil
		}
		return err
	}
	return nil
}

func (bt *Backtester) markEquity(ctx context.Context, store ledger.Store, accountID string, lastClose map[string]float64) (float64, error) {
	acct, err := store.GetAccount(ctx, accountID)
	if err != nil {
		return 0, err
	}
	positions, err := store.ListPositions(ctx, accountID)
	if err != nil {
		return 0, err
	}

	eq, _ := acct.CashBalance.Float64()
	for _, p := range positions {
		eq += float64(p.Quantity) * lastClose[p.Symbol]
	}
	return eq, nil
}

func computeMetrics(curve []float64, fills []domain.Fill, initial float64) *BacktestResult {
	res := &BacktestResult{
		TotalTrades: len(fills),
		EquityCurve: curve,
		FinalEquity: initial,
	}
	if len(curve) > 0 {
		res.FinalEquity = curve[len(curve)-1]
	}
	res.TotalReturn = (res.FinalEquity - initial) / initial

	// Max drawdown over the equity curve.
	peak := initial
	for _, eq := range curve {
		if eq > peak {
			peak = eq
		}
		if peak > 0 {
			if dd := (peak - eq) / peak; dd > res.MaxDrawdown {
				res.MaxDrawdown = dd
			}
		}
	}

	// Annualized Sharpe over daily returns, zero risk-free rate.
	if len(curve) > 2 {
		rets := make([]float64, 0, len(curve)-1)
		for i := 1; i < len(curve); i++ {
			if curve[i-1] > 0 {
				rets = append(rets, curve[i]/curve[i-1]-1)
			}
		}
		m := mean(rets)
		var varsum float64
		for _, r := range rets {
			varsum += (r - m) * (r - m)
		}
		if sd := math.Sqrt(varsum / float64(len(rets))); sd > 0 {
			res.SharpeRatio = m / sd * math.Sqrt(252)
		}
	}

	// Win rate and profit factor over closed (sell) trades.
	var wins, sells int
	var grossProfit, grossLoss float64
	for _, f := range fills {
		if f.Side != domain.OrderSideSell {
			continue
		}
		sells++
		pl, _ := f.RealizedPL.Float64()
		if pl > 0 {
			wins++
			grossProfit += pl
		} else {
			grossLoss += -pl
		}
	}
	if sells > 0 {
		res.WinRate = float64(wins) / float64(sells)
	}
	// ProfitFactor stays 0 when there are no losing trades; an infinity here
	// would not survive JSON encoding.
	if grossLoss > 0 {
		res.ProfitFactor = grossProfit / grossLoss
	}
	return res
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
