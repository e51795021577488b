package httpapi

import (
	"github.com/shopspring/decimal"
)

// createAccountRequest is the body for POST /api/accounts.
type createAccountRequest struct {
	Name           string           `json:"name"`
	InitialBalance *decimal.Decimal `json:"initial_balance,omitempty"`
}

// placeOrderRequest is the body for POST /api/accounts/{id}/orders.
type placeOrderRequest struct {
	Symbol     string           `json:"symbol"`
	Type       string           `json:"type"`
	Side       string           `json:"side"`
	Quantity   int64            `json:"quantity"`
	LimitPrice *decimal.Decimal `json:"limit_price,omitempty"`
	StopPrice  *decimal.Decimal `json:"stop_price,omitempty"`
	Notes      string           `json:"notes,omitempty"`
}

// backtestRequest is the body for POST /api/backtests.
type backtestRequest struct {
	Strategy       string   `json:"strategy"`
	Symbols        []string `json:"symbols"`
	Start          string   `json:"start"` // YYYY-MM-DD
	End            string   `json:"end"`   // YYYY-MM-DD
	InitialCapital float64  `json:"initial_capital"`
}

// errorResponse is the uniform error body. Code carries the machine-readable
// token from the error taxonomy.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// watchlistResponse lists a user's watched symbols.
type watchlistResponse struct {
	Symbols []string `json:"symbols"`
}

// strategiesResponse lists the registered strategy names.
type strategiesResponse struct {
	Strategies []string `json:"strategies"`
}
