package engine

import (
	"github.com/shopspring/decimal"

	"tradedesk/internal/domain"
)

// checkPolicy applies the execution policy for the order's type and side
// against the quoted price. A nil return means the order is executable at
// that price; otherwise ErrLimitNotMet or ErrStopNotMet.
//
// The engine executes or rejects immediately: a limit/stop condition that
// does not hold against the current quote is a rejection, not a resting
// order, because no background matching loop re-evaluates prices.
func checkPolicy(o *domain.Order, price decimal.Decimal) error {
	switch o.Type {
	case domain.OrderTypeMarket:
		return nil
	case domain.OrderTypeLimit:
		return checkLimit(o.Side, price, *o.LimitPrice)
	case domain.OrderTypeStop:
		return checkStop(o.Side, price, *o.StopPrice)
	case domain.OrderTypeStopLimit:
		// Both conditions are evaluated against the same quote.
		if err := checkStop(o.Side, price, *o.StopPrice); err != nil {
			return err
		}
		return checkLimit(o.Side, price, *o.LimitPrice)
	}
	return &domain.ValidationError{Message: "unknown order type"}
}

// checkLimit: a buy may not pay more than the limit, a sell may not accept
// less.
func checkLimit(side domain.OrderSide, price, limit decimal.Decimal) error {
	if side == domain.OrderSideBuy && price.GreaterThan(limit) {
		return domain.ErrLimitNotMet
	}
	if side == domain.OrderSideSell && price.LessThan(limit) {
		return domain.ErrLimitNotMet
	}
	return nil
}

// checkStop: a buy stop triggers at or above the stop price, a sell stop at
// or below.
func checkStop(side domain.OrderSide, price, stop decimal.Decimal) error {
	if side == domain.OrderSideBuy && price.LessThan(stop) {
		return domain.ErrStopNotMet
	}
	if side == domain.OrderSideSell && price.GreaterThan(stop) {
		return domain.ErrStopNotMet
	}
	return nil
}
