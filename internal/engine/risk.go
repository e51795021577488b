package engine

import (
	"github.com/shopspring/decimal"

	"tradedesk/internal/domain"
)

// RiskManager enforces the pre-trade position-sizing cap: a single order's
// notional value may not exceed a configured fraction of account equity.
type RiskManager struct {
	maxPositionPct decimal.Decimal
}

// NewRiskManager creates a RiskManager limiting order notional to
// maxPositionPct of equity (e.g. 0.25 for 25%). A non-positive value
// disables the check.
func NewRiskManager(maxPositionPct float64) *RiskManager {
	return &RiskManager{maxPositionPct: decimal.NewFromFloat(maxPositionPct)}
}

// CheckOrder returns ErrRiskLimit when notional exceeds the configured
// fraction of equity. Equity is cash plus positions marked at their stored
// last price.
func (rm *RiskManager) CheckOrder(notional, equity decimal.Decimal) error {
	if rm == nil || !rm.maxPositionPct.IsPositive() {
		return nil
	}
	if notional.GreaterThan(equity.Mul(rm.maxPositionPct)) {
		return domain.ErrRiskLimit
	}
	return nil
}
