package tradedesk

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	"tradedesk/internal/account"
	"tradedesk/internal/engine"
	"tradedesk/internal/httpapi"
	"tradedesk/internal/ledger"
	"tradedesk/internal/oracle"
	"tradedesk/internal/portfolio"
)

func newTestAPI(t *testing.T) *httptest.Server {
	t.Helper()
	store, err := ledger.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	prices := oracle.NewStaticOracle(map[string]decimal.Decimal{
		"AAPL": decimal.NewFromInt(100),
	})
	eng := engine.New(store, prices, engine.Config{FillWhenClosed: true}, nil)
	accounts := account.NewService(store, decimal.NewFromInt(100000), nil)
	pf := portfolio.NewService(store, prices, nil)

	srv := httpapi.NewServer(accounts, eng, store, prices, pf, nil, nil, nil, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestClientAccountAndOrderFlow(t *testing.T) {
	ts := newTestAPI(t)
	c := NewClient(ts.URL, "u1")
	ctx := context.Background()

	acct, err := c.CreateAccount(ctx, "main", nil)
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	if !acct.CashBalance.Equal(decimal.NewFromInt(100000)) {
		t.Errorf("cash = %s, want 100000", acct.CashBalance)
	}

	order, err := c.PlaceOrder(ctx, acct.ID, OrderParams{
		Symbol: "AAPL", Type: "market", Side: "buy", Quantity: 10,
	})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	if order.Status != "filled" {
		t.Fatalf("status = %s, want filled", order.Status)
	}

	positions, err := c.ListPositions(ctx, acct.ID)
	if err != nil {
		t.Fatalf("positions: %v", err)
	}
	if len(positions) != 1 || positions[0].Quantity != 10 {
		t.Errorf("positions = %+v", positions)
	}

	sum, err := c.Portfolio(ctx, acct.ID)
	if err != nil {
		t.Fatalf("portfolio: %v", err)
	}
	if !sum.Equity.Equal(decimal.NewFromInt(100000)) {
		t.Errorf("equity = %s, want 100000 at entry price", sum.Equity)
	}

	orders, err := c.ListOrders(ctx, acct.ID)
	if err != nil || len(orders) != 1 {
		t.Fatalf("orders = %v, %v", orders, err)
	}

	if err := c.DeleteAccount(ctx, acct.ID); err != nil {
		t.Fatalf("delete account: %v", err)
	}
	if _, err := c.GetAccount(ctx, acct.ID); err == nil {
		t.Error("get after delete succeeded, want error")
	}
}

func TestClientRejectionSurfacesCode(t *testing.T) {
	ts := newTestAPI(t)
	c := NewClient(ts.URL, "u1")
	ctx := context.Background()

	acct, err := c.CreateAccount(ctx, "main", nil)
	if err != nil {
		t.Fatalf("create account: %v", err)
	}

	_, err = c.PlaceOrder(ctx, acct.ID, OrderParams{
		Symbol: "AAPL", Type: "market", Side: "buy", Quantity: 100000,
	})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want APIError", err)
	}
	if apiErr.StatusCode != 422 || apiErr.Code != "insufficient_funds" {
		t.Errorf("apiErr = %+v, want 422 insufficient_funds", apiErr)
	}
}

func TestClientQuoteAndWatchlist(t *testing.T) {
	ts := newTestAPI(t)
	c := NewClient(ts.URL, "u1")
	ctx := context.Background()

	q, err := c.GetQuote(ctx, "AAPL")
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if !q.Price.Equal(decimal.NewFromInt(100)) {
		t.Errorf("price = %s, want 100", q.Price)
	}

	if err := c.WatchSymbol(ctx, "AAPL"); err != nil {
		t.Fatalf("watch: %v", err)
	}
	symbols, err := c.Watchlist(ctx)
	if err != nil || len(symbols) != 1 {
		t.Fatalf("watchlist = %v, %v", symbols, err)
	}
	if err := c.UnwatchSymbol(ctx, "AAPL"); err != nil {
		t.Fatalf("unwatch: %v", err)
	}

	if err := c.Health(ctx); err != nil {
		t.Errorf("health: %v", err)
	}
}

func TestClientUnauthenticated(t *testing.T) {
	ts := newTestAPI(t)
	c := NewClient(ts.URL, "")

	_, err := c.ListAccounts(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 401 {
		t.Errorf("err = %v, want 401 APIError", err)
	}
}
