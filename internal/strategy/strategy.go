// Package strategy defines the Strategy interface for trading strategies,
// a Registry for looking them up by name, and a Backtester that replays
// historical bars through the order engine.
package strategy

import (
	"context"
	"errors"
	"sort"

	"tradedesk/internal/domain"
)

// ErrStrategyNotFound is returned when a backtest names an unregistered
// strategy.
var ErrStrategyNotFound = errors.New("strategy_not_found")

// Strategy is the interface that all trading strategies implement. A
// Strategy instance carries per-run state; create a fresh one per backtest.
type Strategy interface {
	// Name returns the unique identifier for this strategy.
	Name() string

	// Init performs any one-time setup before the strategy sees bars.
	Init(ctx context.Context) error

	// OnBar is called for each OHLCV bar in timestamp order. It returns
	// zero or more trading signals.
	OnBar(ctx context.Context, bar domain.Bar) ([]domain.Signal, error)
}

// Factory constructs a fresh strategy instance for one run.
type Factory func() Strategy

// Registry holds named strategy factories for lookup and enumeration.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry creates an empty strategy Registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Register adds a strategy factory keyed by the name of the strategies it
// produces.
func (r *Registry) Register(f Factory) {
	r.factories[f().Name()] = f
}

// New constructs a fresh instance of the named strategy. The second return
// value reports whether the name is registered.
func (r *Registry) New(name string) (Strategy, bool) {
	f, ok := r.factories[name]
	if !ok {
		return nil, false
	}
	return f(), true
}

// List returns a sorted slice of all registered strategy names.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
