package engine

import (
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tradedesk/internal/domain"
)

var symbolRegex = regexp.MustCompile(`^[A-Z]{1,10}$`)

// PlaceOrderRequest is the validated input for order placement. Price fields
// are required or forbidden depending on the order type; the request is
// checked in full before anything touches the ledger.
type PlaceOrderRequest struct {
	AccountID  string
	Symbol     string
	Type       domain.OrderType
	Side       domain.OrderSide
	Quantity   int64
	LimitPrice *decimal.Decimal
	StopPrice  *decimal.Decimal
	Notes      string
}

// validate returns a *domain.ValidationError describing the first problem
// found, or nil. Validation failures never persist an order row.
func (r *PlaceOrderRequest) validate() error {
	if r.AccountID == "" {
		return &domain.ValidationError{Message: "account_id is required"}
	}
	if !symbolRegex.MatchString(r.Symbol) {
		return &domain.ValidationError{Message: "symbol must match ^[A-Z]{1,10}$"}
	}
	if _, ok := domain.ParseOrderType(string(r.Type)); !ok {
		return &domain.ValidationError{
			Message: fmt.Sprintf("unknown order type %q: must be one of market, limit, stop, stop_limit", r.Type),
		}
	}
	if r.Side != domain.OrderSideBuy && r.Side != domain.OrderSideSell {
		return &domain.ValidationError{Message: "side must be 'buy' or 'sell'"}
	}
	if r.Quantity <= 0 {
		return &domain.ValidationError{Message: "quantity must be a positive integer"}
	}

	if r.Type.NeedsLimitPrice() {
		if r.LimitPrice == nil {
			return &domain.ValidationError{
				Message: fmt.Sprintf("limit_price is required for %s orders", r.Type),
			}
		}
		if !r.LimitPrice.IsPositive() {
			return &domain.ValidationError{Message: "limit_price must be greater than 0"}
		}
	} else if r.LimitPrice != nil {
		return &domain.ValidationError{
			Message: fmt.Sprintf("limit_price is not allowed for %s orders", r.Type),
		}
	}

	if r.Type.NeedsStopPrice() {
		if r.StopPrice == nil {
			return &domain.ValidationError{
				Message: fmt.Sprintf("stop_price is required for %s orders", r.Type),
			}
		}
		if !r.StopPrice.IsPositive() {
			return &domain.ValidationError{Message: "stop_price must be greater than 0"}
		}
	} else if r.StopPrice != nil {
		return &domain.ValidationError{
			Message: fmt.Sprintf("stop_price is not allowed for %s orders", r.Type),
		}
	}

	return nil
}

// newOrder constructs the pending order record for this request.
func (r *PlaceOrderRequest) newOrder(now time.Time) *domain.Order {
	return &domain.Order{
		ID:         uuid.NewString(),
		AccountID:  r.AccountID,
		Symbol:     r.Symbol,
		Type:       r.Type,
		Side:       r.Side,
		Quantity:   r.Quantity,
		LimitPrice: r.LimitPrice,
		StopPrice:  r.StopPrice,
		Status:     domain.OrderStatusPending,
		Notes:      r.Notes,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}
