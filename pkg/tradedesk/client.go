// Package tradedesk provides a Go client for the tradedesk-server API.
package tradedesk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
)

// Client calls the tradedesk HTTP API. All account operations are scoped to
// the user the client was created with.
type Client struct {
	baseURL    string
	userID     string
	httpClient *http.Client
}

// NewClient creates a client for the API at baseURL acting as userID.
func NewClient(baseURL, userID string) *Client {
	return &Client{
		baseURL:    baseURL,
		userID:     userID,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Code)
	}
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// ---------------------------------------------------------------------------
// Wire types
// ---------------------------------------------------------------------------

// Account mirrors the server's account representation.
type Account struct {
	ID             string          `json:"id"`
	OwnerID        string          `json:"owner_id"`
	Name           string          `json:"name"`
	CashBalance    decimal.Decimal `json:"cash_balance"`
	InitialBalance decimal.Decimal `json:"initial_balance"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Order mirrors the server's order representation.
type Order struct {
	ID               string           `json:"id"`
	AccountID        string           `json:"account_id"`
	Symbol           string           `json:"symbol"`
	Type             string           `json:"type"`
	Side             string           `json:"side"`
	Quantity         int64            `json:"quantity"`
	LimitPrice       *decimal.Decimal `json:"limit_price,omitempty"`
	StopPrice        *decimal.Decimal `json:"stop_price,omitempty"`
	Status           string           `json:"status"`
	FilledQuantity   int64            `json:"filled_quantity"`
	AverageFillPrice decimal.Decimal  `json:"average_fill_price"`
	Reason           string           `json:"reason,omitempty"`
	Notes            string           `json:"notes,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// Position mirrors the server's position representation.
type Position struct {
	AccountID   string          `json:"account_id"`
	Symbol      string          `json:"symbol"`
	Quantity    int64           `json:"quantity"`
	AverageCost decimal.Decimal `json:"average_cost"`
	LastPrice   decimal.Decimal `json:"last_price"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Quote mirrors the server's quote representation.
type Quote struct {
	Symbol     string          `json:"symbol"`
	Price      decimal.Decimal `json:"price"`
	AsOf       time.Time       `json:"as_of"`
	MarketOpen bool            `json:"market_open"`
}

// Bar mirrors the server's daily bar representation.
type Bar struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    int64     `json:"volume"`
}

// PortfolioSummary mirrors the server's portfolio valuation.
type PortfolioSummary struct {
	AccountID   string          `json:"account_id"`
	Cash        decimal.Decimal `json:"cash"`
	Equity      decimal.Decimal `json:"equity"`
	Unrealized  decimal.Decimal `json:"unrealized_pl"`
	Realized    decimal.Decimal `json:"realized_pl"`
	TotalReturn decimal.Decimal `json:"total_return"`
	AsOf        time.Time       `json:"as_of"`
}

// OrderParams are the inputs to PlaceOrder.
type OrderParams struct {
	Symbol     string           `json:"symbol"`
	Type       string           `json:"type"`
	Side       string           `json:"side"`
	Quantity   int64            `json:"quantity"`
	LimitPrice *decimal.Decimal `json:"limit_price,omitempty"`
	StopPrice  *decimal.Decimal `json:"stop_price,omitempty"`
	Notes      string           `json:"notes,omitempty"`
}

// BacktestParams are the inputs to RunBacktest.
type BacktestParams struct {
	Strategy       string   `json:"strategy"`
	Symbols        []string `json:"symbols"`
	Start          string   `json:"start"`
	End            string   `json:"end"`
	InitialCapital float64  `json:"initial_capital"`
}

// BacktestResult mirrors the server's backtest metrics.
type BacktestResult struct {
	Strategy     string  `json:"strategy"`
	FinalEquity  float64 `json:"final_equity"`
	TotalReturn  float64 `json:"total_return"`
	SharpeRatio  float64 `json:"sharpe_ratio"`
	MaxDrawdown  float64 `json:"max_drawdown"`
	TotalTrades  int     `json:"total_trades"`
	WinRate      float64 `json:"win_rate"`
	ProfitFactor float64 `json:"profit_factor"`
}

// ---------------------------------------------------------------------------
// Requests
// ---------------------------------------------------------------------------

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var buf io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		buf = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.userID != "" {
		req.Header.Set("X-User-ID", c.userID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		return apiErr
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// CreateAccount opens a new account. A nil initialBalance uses the server
// default.
func (c *Client) CreateAccount(ctx context.Context, name string, initialBalance *decimal.Decimal) (*Account, error) {
	var a Account
	body := map[string]any{"name": name}
	if initialBalance != nil {
		body["initial_balance"] = initialBalance
	}
	if err := c.do(ctx, "POST", "/api/accounts", body, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// ListAccounts returns the caller's accounts.
func (c *Client) ListAccounts(ctx context.Context) ([]Account, error) {
	var accounts []Account
	err := c.do(ctx, "GET", "/api/accounts", nil, &accounts)
	return accounts, err
}

// GetAccount fetches one account.
func (c *Client) GetAccount(ctx context.Context, accountID string) (*Account, error) {
	var a Account
	if err := c.do(ctx, "GET", "/api/accounts/"+accountID, nil, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// DeleteAccount removes an account and everything in it.
func (c *Client) DeleteAccount(ctx context.Context, accountID string) error {
	return c.do(ctx, "DELETE", "/api/accounts/"+accountID, nil, nil)
}

// PlaceOrder submits an order. A rejection surfaces as an *APIError whose
// Code names the rejection kind.
func (c *Client) PlaceOrder(ctx context.Context, accountID string, p OrderParams) (*Order, error) {
	var o Order
	if err := c.do(ctx, "POST", "/api/accounts/"+accountID+"/orders", p, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// ListOrders returns all orders for an account.
func (c *Client) ListOrders(ctx context.Context, accountID string) ([]Order, error) {
	var orders []Order
	err := c.do(ctx, "GET", "/api/accounts/"+accountID+"/orders", nil, &orders)
	return orders, err
}

// GetOrder fetches one order.
func (c *Client) GetOrder(ctx context.Context, accountID, orderID string) (*Order, error) {
	var o Order
	if err := c.do(ctx, "GET", "/api/accounts/"+accountID+"/orders/"+orderID, nil, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// CancelOrder cancels a pending order.
func (c *Client) CancelOrder(ctx context.Context, accountID, orderID string) (*Order, error) {
	var o Order
	if err := c.do(ctx, "DELETE", "/api/accounts/"+accountID+"/orders/"+orderID, nil, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// ListPositions returns the account's open positions.
func (c *Client) ListPositions(ctx context.Context, accountID string) ([]Position, error) {
	var positions []Position
	err := c.do(ctx, "GET", "/api/accounts/"+accountID+"/positions", nil, &positions)
	return positions, err
}

// Portfolio returns the account valuation.
func (c *Client) Portfolio(ctx context.Context, accountID string) (*PortfolioSummary, error) {
	var s PortfolioSummary
	if err := c.do(ctx, "GET", "/api/accounts/"+accountID+"/portfolio", nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// GetQuote fetches the current quote for a symbol.
func (c *Client) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
	var q Quote
	if err := c.do(ctx, "GET", "/api/quotes/"+url.PathEscape(symbol), nil, &q); err != nil {
		return nil, err
	}
	return &q, nil
}

// GetBars fetches daily bars for a symbol. Zero times use the server's
// default range.
func (c *Client) GetBars(ctx context.Context, symbol string, start, end time.Time) ([]Bar, error) {
	path := "/api/bars/" + url.PathEscape(symbol)
	q := url.Values{}
	if !start.IsZero() {
		q.Set("start", start.Format("2006-01-02"))
	}
	if !end.IsZero() {
		q.Set("end", end.Format("2006-01-02"))
	}
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var bars []Bar
	err := c.do(ctx, "GET", path, nil, &bars)
	return bars, err
}

// Watchlist returns the caller's watched symbols.
func (c *Client) Watchlist(ctx context.Context) ([]string, error) {
	var resp struct {
		Symbols []string `json:"symbols"`
	}
	err := c.do(ctx, "GET", "/api/watchlist", nil, &resp)
	return resp.Symbols, err
}

// WatchSymbol adds a symbol to the caller's watchlist.
func (c *Client) WatchSymbol(ctx context.Context, symbol string) error {
	return c.do(ctx, "PUT", "/api/watchlist/"+url.PathEscape(symbol), nil, nil)
}

// UnwatchSymbol removes a symbol from the caller's watchlist.
func (c *Client) UnwatchSymbol(ctx context.Context, symbol string) error {
	return c.do(ctx, "DELETE", "/api/watchlist/"+url.PathEscape(symbol), nil, nil)
}

// Strategies lists the registered strategy names.
func (c *Client) Strategies(ctx context.Context) ([]string, error) {
	var resp struct {
		Strategies []string `json:"strategies"`
	}
	err := c.do(ctx, "GET", "/api/strategies", nil, &resp)
	return resp.Strategies, err
}

// RunBacktest executes a backtest and returns its metrics.
func (c *Client) RunBacktest(ctx context.Context, p BacktestParams) (*BacktestResult, error) {
	var r BacktestResult
	if err := c.do(ctx, "POST", "/api/backtests", p, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Health checks the server's health endpoint.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, "GET", "/healthz", nil, nil)
}
