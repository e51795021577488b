// Package engine implements the order engine: it validates, prices, and
// settles orders against the price oracle and the ledger store, and owns the
// order state machine and the position-averaging math.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tradedesk/internal/domain"
	"tradedesk/internal/ledger"
	"tradedesk/internal/oracle"
)

// Sink receives order events after they are committed. Implementations must
// not block; the websocket hub satisfies this interface.
type Sink interface {
	Publish(evt domain.OrderEvent)
}

// Config holds the engine's execution parameters.
type Config struct {
	// QuoteTimeout bounds each price-oracle call. Defaults to 5s.
	QuoteTimeout time.Duration

	// MaxPositionPct caps a buy order's notional at this fraction of
	// account equity. Zero disables the check.
	MaxPositionPct float64

	// FillWhenClosed executes orders against the previous-close quote when
	// the market is closed. When false such orders are persisted as pending
	// instead, where they can be cancelled; nothing re-evaluates them.
	FillWhenClosed bool
}

// Engine validates, prices, and settles orders. Settlement for one account
// is serialized through a per-account lock; accounts are independent.
type Engine struct {
	store  ledger.Store
	oracle oracle.Oracle
	cfg    Config
	risk   *RiskManager
	locks  *accountLocks
	sink   Sink
	log    *slog.Logger
}

// New creates an Engine wired with the given ledger store and price oracle.
func New(store ledger.Store, o oracle.Oracle, cfg Config, log *slog.Logger) *Engine {
	if cfg.QuoteTimeout <= 0 {
		cfg.QuoteTimeout = 5 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		store:  store,
		oracle: o,
		cfg:    cfg,
		risk:   NewRiskManager(cfg.MaxPositionPct),
		locks:  newAccountLocks(),
		log:    log.With("component", "engine"),
	}
}

// SetSink registers the event sink for settled and cancelled orders.
func (e *Engine) SetSink(s Sink) { e.sink = s }

// PlaceOrder runs the full placement pipeline: validation, pricing, policy,
// affordability, and atomic settlement. Execution rejections return the
// persisted rejected order together with the sentinel error; validation and
// not-found failures return a nil order and persist nothing.
func (e *Engine) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*domain.Order, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	if _, err := e.store.GetAccount(ctx, req.AccountID); err != nil {
		return nil, err
	}

	order := req.newOrder(time.Now().UTC())

	// Quote outside the account lock to keep lock hold time short. The
	// price checked against the policy below is the price that settles:
	// never a stale quote from a prior attempt.
	qctx, cancel := context.WithTimeout(ctx, e.cfg.QuoteTimeout)
	quote, err := e.oracle.Quote(qctx, req.Symbol)
	cancel()
	if err != nil {
		if errors.Is(err, domain.ErrSymbolNotFound) {
			return nil, err
		}
		e.log.Warn("quote failed", "symbol", req.Symbol, "error", err)
		return e.reject(ctx, order, domain.ErrPricingUnavailable)
	}

	if !quote.MarketOpen && !e.cfg.FillWhenClosed {
		// Deferred: the order rests as pending until cancelled or
		// resubmitted by the caller. No background loop re-evaluates it.
		if err := e.store.SaveOrder(ctx, order); err != nil {
			return nil, fmt.Errorf("saving deferred order: %w", err)
		}
		e.log.Info("order deferred, market closed", "order", order.ID, "symbol", order.Symbol)
		return order, nil
	}

	if err := checkPolicy(order, quote.Price); err != nil {
		return e.reject(ctx, order, err)
	}

	unlock := e.locks.lock(req.AccountID)
	defer unlock()

	return e.settle(ctx, order, quote)
}

// settle performs steps 4-5 of the pipeline under the account lock:
// affordability/inventory checks and the atomic ledger update.
func (e *Engine) settle(ctx context.Context, order *domain.Order, quote domain.Quote) (*domain.Order, error) {
	account, err := e.store.GetAccount(ctx, order.AccountID)
	if err != nil {
		return nil, err
	}
	position, err := e.store.GetPosition(ctx, order.AccountID, order.Symbol)
	if err != nil {
		return nil, err
	}

	price := quote.Price
	qty := decimal.NewFromInt(order.Quantity)
	notional := price.Mul(qty)
	now := time.Now().UTC()

	st := &ledger.Settlement{Order: order}

	switch order.Side {
	case domain.OrderSideBuy:
		if account.CashBalance.LessThan(notional) {
			return e.reject(ctx, order, domain.ErrInsufficientFunds)
		}
		equity, err := e.equity(ctx, account)
		if err != nil {
			return nil, err
		}
		if err := e.risk.CheckOrder(notional, equity); err != nil {
			return e.reject(ctx, order, err)
		}

		st.NewCash = account.CashBalance.Sub(notional)
		if position == nil {
			st.Position = &domain.Position{
				AccountID:   order.AccountID,
				Symbol:      order.Symbol,
				Quantity:    order.Quantity,
				AverageCost: price,
				LastPrice:   price,
				UpdatedAt:   now,
			}
		} else {
			// Weighted-average cost across the existing lot and this fill.
			newQty := position.Quantity + order.Quantity
			oldCost := position.AverageCost.Mul(decimal.NewFromInt(position.Quantity))
			newAvg := oldCost.Add(notional).Div(decimal.NewFromInt(newQty))
			st.Position = &domain.Position{
				AccountID:   order.AccountID,
				Symbol:      order.Symbol,
				Quantity:    newQty,
				AverageCost: newAvg,
				LastPrice:   price,
				UpdatedAt:   now,
			}
		}

	case domain.OrderSideSell:
		if position == nil || position.Quantity < order.Quantity {
			return e.reject(ctx, order, domain.ErrInsufficientShares)
		}
		st.NewCash = account.CashBalance.Add(notional)
		remaining := position.Quantity - order.Quantity
		if remaining == 0 {
			st.RemovePosition = true
		} else {
			// Average cost is unchanged by a sale.
			st.Position = &domain.Position{
				AccountID:   order.AccountID,
				Symbol:      order.Symbol,
				Quantity:    remaining,
				AverageCost: position.AverageCost,
				LastPrice:   price,
				UpdatedAt:   now,
			}
		}
	}

	order.Status = domain.OrderStatusFilled
	order.FilledQuantity = order.Quantity
	order.AverageFillPrice = price
	order.UpdatedAt = now

	fill := &domain.Fill{
		ID:        uuid.NewString(),
		OrderID:   order.ID,
		AccountID: order.AccountID,
		Symbol:    order.Symbol,
		Side:      order.Side,
		Price:     price,
		Quantity:  order.Quantity,
		CreatedAt: now,
	}
	if order.Side == domain.OrderSideSell {
		fill.RealizedPL = price.Sub(position.AverageCost).Mul(qty)
	}
	st.Fill = fill

	if err := e.store.Settle(ctx, st); err != nil {
		return nil, fmt.Errorf("settling order %s: %w", order.ID, err)
	}

	e.log.Info("order filled",
		"order", order.ID,
		"account", order.AccountID,
		"symbol", order.Symbol,
		"side", order.Side,
		"qty", order.Quantity,
		"price", price.String())
	e.publish(domain.OrderEvent{Order: order, Fill: fill})
	return order, nil
}

// CancelOrder cancels a pending order. Cancelling a terminal order fails
// with ErrInvalidState; a cancel never mutates the ledger.
func (e *Engine) CancelOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	order, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	unlock := e.locks.lock(order.AccountID)
	defer unlock()

	// Re-read under the lock: the order may have settled meanwhile.
	order, err = e.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != domain.OrderStatusPending {
		return order, domain.ErrInvalidState
	}

	order.Status = domain.OrderStatusCancelled
	order.UpdatedAt = time.Now().UTC()
	if err := e.store.UpdateOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("cancelling order %s: %w", orderID, err)
	}

	e.log.Info("order cancelled", "order", order.ID, "account", order.AccountID)
	e.publish(domain.OrderEvent{Order: order})
	return order, nil
}

// reject persists the order in rejected state for audit and returns it with
// the rejection sentinel. The ledger's balances are untouched.
func (e *Engine) reject(ctx context.Context, order *domain.Order, cause error) (*domain.Order, error) {
	order.Status = domain.OrderStatusRejected
	order.Reason = cause.Error()
	order.UpdatedAt = time.Now().UTC()
	if err := e.store.SaveOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("saving rejected order: %w", err)
	}

	e.log.Info("order rejected",
		"order", order.ID,
		"account", order.AccountID,
		"symbol", order.Symbol,
		"reason", order.Reason)
	e.publish(domain.OrderEvent{Order: order})
	return order, cause
}

// equity returns cash plus open positions marked at their stored last price.
func (e *Engine) equity(ctx context.Context, account *domain.Account) (decimal.Decimal, error) {
	if e.risk == nil || !e.risk.maxPositionPct.IsPositive() {
		return account.CashBalance, nil
	}
	positions, err := e.store.ListPositions(ctx, account.ID)
	if err != nil {
		return decimal.Zero, err
	}
	equity := account.CashBalance
	for i := range positions {
		equity = equity.Add(positions[i].MarketValue(positions[i].LastPrice))
	}
	return equity, nil
}

func (e *Engine) publish(evt domain.OrderEvent) {
	if e.sink != nil {
		e.sink.Publish(evt)
	}
}
