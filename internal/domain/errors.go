package domain

import "errors"

// Sentinel errors forming the stable error taxonomy. The httpapi layer maps
// these to HTTP status codes; the engine maps the rejection subset onto
// persisted rejected orders.
var (
	ErrAccountNotFound    = errors.New("account_not_found")
	ErrOrderNotFound      = errors.New("order_not_found")
	ErrSymbolNotFound     = errors.New("symbol_not_found")
	ErrForbidden          = errors.New("forbidden")
	ErrPricingUnavailable = errors.New("pricing_unavailable")
	ErrLimitNotMet        = errors.New("limit_not_met")
	ErrStopNotMet         = errors.New("stop_not_met")
	ErrInsufficientFunds  = errors.New("insufficient_funds")
	ErrInsufficientShares = errors.New("insufficient_shares")
	ErrInvalidState       = errors.New("invalid_state")
	ErrRiskLimit          = errors.New("risk_limit_exceeded")
)

// ValidationError reports malformed input. Unlike execution rejections, a
// validation failure never persists an order row.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// IsRejection reports whether err is one of the execution rejections that
// still persist the order in rejected state for audit.
func IsRejection(err error) bool {
	switch {
	case errors.Is(err, ErrPricingUnavailable),
		errors.Is(err, ErrLimitNotMet),
		errors.Is(err, ErrStopNotMet),
		errors.Is(err, ErrInsufficientFunds),
		errors.Is(err, ErrInsufficientShares),
		errors.Is(err, ErrRiskLimit):
		return true
	}
	return false
}
