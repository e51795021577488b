// Package builtins provides the strategy implementations that ship with the
// tradedesk platform.
package builtins

import (
	"context"
	"fmt"

	"tradedesk/internal/domain"
	"tradedesk/internal/strategy"
)

// Compile-time interface checks.
var _ strategy.Strategy = (*SMACross)(nil)
var _ strategy.Strategy = (*BuyHold)(nil)

// SMACross implements a simple moving average crossover strategy. It emits a
// buy signal when the short-period SMA crosses above the long-period SMA and
// a sell signal when it crosses below. State is kept per symbol, so one
// instance can track several symbols in the same run.
type SMACross struct {
	shortPeriod int
	longPeriod  int
	closes      map[string][]float64
	// above remembers, per symbol, whether the short SMA was above the long
	// SMA on the previous bar. Signals fire only on a flip.
	above map[string]bool
}

// NewSMACross creates an SMACross with the given short and long periods.
func NewSMACross(short, long int) *SMACross {
	return &SMACross{
		shortPeriod: short,
		longPeriod:  long,
		closes:      make(map[string][]float64),
		above:       make(map[string]bool),
	}
}

// Name returns the strategy identifier including its periods, e.g.
// "sma-cross-10-30".
func (s *SMACross) Name() string {
	return fmt.Sprintf("sma-cross-%d-%d", s.shortPeriod, s.longPeriod)
}

// Init validates the period configuration.
func (s *SMACross) Init(_ context.Context) error {
	if s.shortPeriod <= 0 || s.longPeriod <= s.shortPeriod {
		return fmt.Errorf("sma-cross: need 0 < short < long, got %d/%d", s.shortPeriod, s.longPeriod)
	}
	return nil
}

// OnBar appends the close, computes both SMAs once enough history exists,
// and signals on a crossover.
func (s *SMACross) OnBar(_ context.Context, bar domain.Bar) ([]domain.Signal, error) {
	hist := append(s.closes[bar.Symbol], bar.Close)
	if len(hist) > s.longPeriod {
		hist = hist[len(hist)-s.longPeriod:]
	}
	s.closes[bar.Symbol] = hist

	if len(hist) < s.longPeriod {
		return nil, nil
	}

	short := mean(hist[len(hist)-s.shortPeriod:])
	long := mean(hist)
	nowAbove := short > long

	wasAbove, seen := s.above[bar.Symbol]
	s.above[bar.Symbol] = nowAbove
	if !seen || nowAbove == wasAbove {
		return nil, nil
	}

	sig := domain.Signal{
		StrategyID: s.Name(),
		Symbol:     bar.Symbol,
		Type:       domain.SignalTypeSell,
		Strength:   (short - long) / long,
		CreatedAt:  bar.Timestamp,
	}
	if nowAbove {
		sig.Type = domain.SignalTypeBuy
	}
	return []domain.Signal{sig}, nil
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// BuyHold buys each symbol on its first bar and never sells. It serves as a
// baseline for comparing other strategies against.
type BuyHold struct {
	bought map[string]bool
}

// NewBuyHold creates a BuyHold strategy.
func NewBuyHold() *BuyHold {
	return &BuyHold{bought: make(map[string]bool)}
}

// Name returns "buy-hold".
func (b *BuyHold) Name() string { return "buy-hold" }

// Init is a no-op.
func (b *BuyHold) Init(_ context.Context) error { return nil }

// OnBar emits one buy signal per symbol, on its first bar.
func (b *BuyHold) OnBar(_ context.Context, bar domain.Bar) ([]domain.Signal, error) {
	if b.bought[bar.Symbol] {
		return nil, nil
	}
	b.bought[bar.Symbol] = true
	return []domain.Signal{{
		StrategyID: b.Name(),
		Symbol:     bar.Symbol,
		Type:       domain.SignalTypeBuy,
		Strength:   1,
		CreatedAt:  bar.Timestamp,
	}}, nil
}
