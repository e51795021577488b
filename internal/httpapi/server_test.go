package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	"tradedesk/internal/account"
	"tradedesk/internal/domain"
	"tradedesk/internal/engine"
	"tradedesk/internal/ledger"
	"tradedesk/internal/oracle"
	"tradedesk/internal/portfolio"
)

func newTestServer(t *testing.T) (*httptest.Server, *oracle.StaticOracle) {
	t.Helper()
	store, err := ledger.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	prices := oracle.NewStaticOracle(map[string]decimal.Decimal{
		"AAPL": decimal.NewFromInt(100),
		"MSFT": decimal.NewFromInt(50),
	})
	eng := engine.New(store, prices, engine.Config{FillWhenClosed: true}, nil)
	accounts := account.NewService(store, decimal.NewFromInt(100000), nil)
	pf := portfolio.NewService(store, prices, nil)

	srv := NewServer(accounts, eng, store, prices, pf, nil, nil, nil, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, prices
}

func doJSON(t *testing.T, method, url, user string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	if user != "" {
		req.Header.Set(userHeader, user)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return v
}

func createAccount(t *testing.T, ts *httptest.Server, user string) domain.Account {
	t.Helper()
	resp := doJSON(t, "POST", ts.URL+"/api/accounts", user, createAccountRequest{Name: "main"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create account status = %d", resp.StatusCode)
	}
	return decode[domain.Account](t, resp)
}

func TestAccountLifecycle(t *testing.T) {
	ts, _ := newTestServer(t)

	acct := createAccount(t, ts, "u1")
	if !acct.CashBalance.Equal(decimal.NewFromInt(100000)) {
		t.Errorf("cash = %s, want default 100000", acct.CashBalance)
	}

	resp := doJSON(t, "GET", ts.URL+"/api/accounts", "u1", nil)
	accounts := decode[[]domain.Account](t, resp)
	if len(accounts) != 1 {
		t.Fatalf("accounts = %d, want 1", len(accounts))
	}

	resp = doJSON(t, "GET", ts.URL+"/api/accounts/"+acct.ID, "u1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("get status = %d", resp.StatusCode)
	}

	resp = doJSON(t, "DELETE", ts.URL+"/api/accounts/"+acct.ID, "u1", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("delete status = %d", resp.StatusCode)
	}

	resp = doJSON(t, "GET", ts.URL+"/api/accounts/"+acct.ID, "u1", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", resp.StatusCode)
	}
}

func TestMissingUserHeader(t *testing.T) {
	ts, _ := newTestServer(t)
	resp := doJSON(t, "GET", ts.URL+"/api/accounts", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestForeignAccountForbidden(t *testing.T) {
	ts, _ := newTestServer(t)
	acct := createAccount(t, ts, "u1")

	resp := doJSON(t, "GET", ts.URL+"/api/accounts/"+acct.ID, "u2", nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", resp.StatusCode)
	}
}

func TestPlaceOrderAndPortfolio(t *testing.T) {
	ts, prices := newTestServer(t)
	acct := createAccount(t, ts, "u1")
	base := ts.URL + "/api/accounts/" + acct.ID

	resp := doJSON(t, "POST", base+"/orders", "u1", placeOrderRequest{
		Symbol: "aapl", Type: "market", Side: "buy", Quantity: 10,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("place order status = %d", resp.StatusCode)
	}
	order := decode[domain.Order](t, resp)
	if order.Status != domain.OrderStatusFilled {
		t.Fatalf("status = %s, want filled", order.Status)
	}
	if !order.AverageFillPrice.Equal(decimal.NewFromInt(100)) {
		t.Errorf("fill price = %s, want 100", order.AverageFillPrice)
	}

	resp = doJSON(t, "GET", base+"/positions", "u1", nil)
	positions := decode[[]domain.Position](t, resp)
	if len(positions) != 1 || positions[0].Quantity != 10 {
		t.Fatalf("positions = %+v, want one 10-share position", positions)
	}

	prices.SetPrice("AAPL", decimal.NewFromInt(110), order.UpdatedAt)
	resp = doJSON(t, "GET", base+"/portfolio", "u1", nil)
	sum := decode[portfolio.Summary](t, resp)
	// 99000 cash + 10*110.
	if !sum.Equity.Equal(decimal.NewFromInt(100100)) {
		t.Errorf("equity = %s, want 100100", sum.Equity)
	}

	resp = doJSON(t, "GET", base+"/orders/"+order.ID, "u1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("get order status = %d", resp.StatusCode)
	}

	resp = doJSON(t, "GET", base+"/fills", "u1", nil)
	fills := decode[[]domain.Fill](t, resp)
	if len(fills) != 1 {
		t.Errorf("fills = %d, want 1", len(fills))
	}
}

func TestPlaceOrderRejectionReturns422(t *testing.T) {
	ts, _ := newTestServer(t)
	acct := createAccount(t, ts, "u1")

	// 10000 shares at 100 needs a million dollars.
	resp := doJSON(t, "POST", ts.URL+"/api/accounts/"+acct.ID+"/orders", "u1", placeOrderRequest{
		Symbol: "AAPL", Type: "market", Side: "buy", Quantity: 10000,
	})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", resp.StatusCode)
	}
	body := decode[struct {
		Order *domain.Order `json:"order"`
		Code  string        `json:"code"`
	}](t, resp)
	if body.Code != "insufficient_funds" {
		t.Errorf("code = %q, want insufficient_funds", body.Code)
	}
	if body.Order == nil || body.Order.Status != domain.OrderStatusRejected {
		t.Errorf("order = %+v, want persisted rejected order", body.Order)
	}
}

func TestPlaceOrderValidation(t *testing.T) {
	ts, _ := newTestServer(t)
	acct := createAccount(t, ts, "u1")
	url := ts.URL + "/api/accounts/" + acct.ID + "/orders"

	cases := []placeOrderRequest{
		{Symbol: "AAPL", Type: "market", Side: "buy", Quantity: 0},
		{Symbol: "AAPL", Type: "teleport", Side: "buy", Quantity: 1},
		{Symbol: "AAPL", Type: "limit", Side: "buy", Quantity: 1}, // missing limit price
	}
	for i, req := range cases {
		resp := doJSON(t, "POST", url, "u1", req)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("case %d: status = %d, want 400", i, resp.StatusCode)
		}
	}
}

func TestUnknownSymbol404(t *testing.T) {
	ts, _ := newTestServer(t)
	acct := createAccount(t, ts, "u1")

	resp := doJSON(t, "POST", ts.URL+"/api/accounts/"+acct.ID+"/orders", "u1", placeOrderRequest{
		Symbol: "ZZZZ", Type: "market", Side: "buy", Quantity: 1,
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestCancelFilledOrderConflicts(t *testing.T) {
	ts, _ := newTestServer(t)
	acct := createAccount(t, ts, "u1")
	base := ts.URL + "/api/accounts/" + acct.ID

	resp := doJSON(t, "POST", base+"/orders", "u1", placeOrderRequest{
		Symbol: "AAPL", Type: "market", Side: "buy", Quantity: 1,
	})
	order := decode[domain.Order](t, resp)

	resp = doJSON(t, "DELETE", base+"/orders/"+order.ID, "u1", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("cancel filled status = %d, want 409", resp.StatusCode)
	}
}

func TestOrderScopedToAccount(t *testing.T) {
	ts, _ := newTestServer(t)
	a1 := createAccount(t, ts, "u1")
	a2 := createAccount(t, ts, "u1")

	resp := doJSON(t, "POST", ts.URL+"/api/accounts/"+a1.ID+"/orders", "u1", placeOrderRequest{
		Symbol: "AAPL", Type: "market", Side: "buy", Quantity: 1,
	})
	order := decode[domain.Order](t, resp)

	// The order is not visible through the other account's path.
	resp = doJSON(t, "GET", fmt.Sprintf("%s/api/accounts/%s/orders/%s", ts.URL, a2.ID, order.ID), "u1", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("cross-account get status = %d, want 404", resp.StatusCode)
	}
}

func TestQuoteEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doJSON(t, "GET", ts.URL+"/api/quotes/aapl", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	q := decode[domain.Quote](t, resp)
	if q.Symbol != "AAPL" || !q.Price.Equal(decimal.NewFromInt(100)) {
		t.Errorf("quote = %+v", q)
	}

	resp = doJSON(t, "GET", ts.URL+"/api/quotes/NOPE", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown symbol status = %d, want 404", resp.StatusCode)
	}
}

func TestWatchlistEndpoints(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doJSON(t, "PUT", ts.URL+"/api/watchlist/aapl", "u1", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("add status = %d", resp.StatusCode)
	}
	doJSON(t, "PUT", ts.URL+"/api/watchlist/MSFT", "u1", nil)
	// Re-adding is idempotent.
	doJSON(t, "PUT", ts.URL+"/api/watchlist/AAPL", "u1", nil)

	resp = doJSON(t, "GET", ts.URL+"/api/watchlist", "u1", nil)
	wl := decode[watchlistResponse](t, resp)
	if len(wl.Symbols) != 2 {
		t.Fatalf("symbols = %v, want 2", wl.Symbols)
	}

	// Another user's watchlist is empty.
	resp = doJSON(t, "GET", ts.URL+"/api/watchlist", "u2", nil)
	wl = decode[watchlistResponse](t, resp)
	if len(wl.Symbols) != 0 {
		t.Errorf("foreign symbols = %v, want none", wl.Symbols)
	}

	resp = doJSON(t, "DELETE", ts.URL+"/api/watchlist/AAPL", "u1", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("remove status = %d", resp.StatusCode)
	}
	resp = doJSON(t, "GET", ts.URL+"/api/watchlist", "u1", nil)
	wl = decode[watchlistResponse](t, resp)
	if len(wl.Symbols) != 1 || wl.Symbols[0] != "MSFT" {
		t.Errorf("symbols = %v, want [MSFT]", wl.Symbols)
	}
}

func TestHealthz(t *testing.T) {
	ts, _ := newTestServer(t)
	resp := doJSON(t, "GET", ts.URL+"/healthz", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body := decode[map[string]string](t, resp)
	if body["status"] != "ok" || body["oracle"] != "static" {
		t.Errorf("body = %v", body)
	}
}
