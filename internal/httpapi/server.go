// Package httpapi serves the trading REST API and the order-event websocket
// stream.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"tradedesk/internal/account"
	"tradedesk/internal/domain"
	"tradedesk/internal/engine"
	"tradedesk/internal/ledger"
	"tradedesk/internal/marketdata"
	"tradedesk/internal/oracle"
	"tradedesk/internal/portfolio"
	"tradedesk/internal/strategy"
)

// userHeader identifies the caller. Accounts are scoped to this value; there
// is no authentication beyond it.
const userHeader = "X-User-ID"

// Server serves the trading HTTP API.
type Server struct {
	accounts   *account.Service
	eng        *engine.Engine
	store      ledger.Store
	prices     oracle.Oracle
	portfolio  *portfolio.Service
	bars       *marketdata.Service
	backtester *strategy.Backtester
	registry   *strategy.Registry
	hub        *Hub
	log        *slog.Logger
}

// NewServer wires the API over its services. bars, backtester, and registry
// may be nil, which disables the chart and backtest endpoints.
func NewServer(
	accounts *account.Service,
	eng *engine.Engine,
	store ledger.Store,
	prices oracle.Oracle,
	pf *portfolio.Service,
	bars *marketdata.Service,
	backtester *strategy.Backtester,
	registry *strategy.Registry,
	log *slog.Logger,
) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		accounts:   accounts,
		eng:        eng,
		store:      store,
		prices:     prices,
		portfolio:  pf,
		bars:       bars,
		backtester: backtester,
		registry:   registry,
		hub:        NewHub(log),
		log:        log.With("component", "httpapi"),
	}
}

// Hub returns the websocket hub so the caller can run it and register it as
// the engine's event sink.
func (s *Server) Hub() *Hub { return s.hub }

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/accounts", s.handleCreateAccount)
	mux.HandleFunc("GET /api/accounts", s.handleListAccounts)
	mux.HandleFunc("GET /api/accounts/{id}", s.handleGetAccount)
	mux.HandleFunc("DELETE /api/accounts/{id}", s.handleDeleteAccount)

	mux.HandleFunc("POST /api/accounts/{id}/orders", s.handlePlaceOrder)
	mux.HandleFunc("GET /api/accounts/{id}/orders", s.handleListOrders)
	mux.HandleFunc("GET /api/accounts/{id}/orders/{orderID}", s.handleGetOrder)
	mux.HandleFunc("DELETE /api/accounts/{id}/orders/{orderID}", s.handleCancelOrder)

	mux.HandleFunc("GET /api/accounts/{id}/positions", s.handleListPositions)
	mux.HandleFunc("GET /api/accounts/{id}/portfolio", s.handlePortfolio)
	mux.HandleFunc("GET /api/accounts/{id}/fills", s.handleListFills)

	mux.HandleFunc("GET /api/quotes/{symbol}", s.handleQuote)
	mux.HandleFunc("GET /api/bars/{symbol}", s.handleBars)

	mux.HandleFunc("GET /api/watchlist", s.handleGetWatchlist)
	mux.HandleFunc("PUT /api/watchlist/{symbol}", s.handleAddWatchlist)
	mux.HandleFunc("DELETE /api/watchlist/{symbol}", s.handleRemoveWatchlist)

	mux.HandleFunc("GET /api/strategies", s.handleListStrategies)
	mux.HandleFunc("POST /api/backtests", s.handleBacktest)

	mux.HandleFunc("GET /api/stream", s.handleStream)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
}

// Handler returns the full http.Handler with CORS and request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(s.logMiddleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+userHeader)
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"elapsed", time.Since(start).Round(time.Microsecond))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

// writeError maps the error taxonomy to HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: verr.Message, Code: "validation"})
	case errors.Is(err, domain.ErrAccountNotFound),
		errors.Is(err, domain.ErrOrderNotFound),
		errors.Is(err, domain.ErrSymbolNotFound),
		errors.Is(err, strategy.ErrStrategyNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error(), Code: err.Error()})
	case errors.Is(err, domain.ErrForbidden):
		writeJSON(w, http.StatusForbidden, errorResponse{Error: err.Error(), Code: err.Error()})
	case errors.Is(err, domain.ErrInvalidState):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error(), Code: err.Error()})
	case errors.Is(err, domain.ErrPricingUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error(), Code: err.Error()})
	default:
		s.log.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

// userID extracts the caller identity. An empty header fails the request.
func userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.Header.Get(userHeader)
	if id == "" {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: userHeader + " header required"})
		return "", false
	}
	return id, true
}

// ownedAccount resolves the {id} path value and enforces ownership.
func (s *Server) ownedAccount(w http.ResponseWriter, r *http.Request) (*domain.Account, bool) {
	owner, ok := userID(w, r)
	if !ok {
		return nil, false
	}
	acct, err := s.accounts.Get(r.Context(), owner, r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return nil, false
	}
	return acct, true
}

// ---------------------------------------------------------------------------
// Accounts
// ---------------------------------------------------------------------------

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	owner, ok := userID(w, r)
	if !ok {
		return
	}
	var req createAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, &domain.ValidationError{Message: "invalid JSON body"})
		return
	}

	acct, err := s.accounts.Create(r.Context(), account.CreateParams{
		OwnerID:        owner,
		Name:           req.Name,
		InitialBalance: req.InitialBalance,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, acct)
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	owner, ok := userID(w, r)
	if !ok {
		return
	}
	accounts, err := s.accounts.List(r.Context(), owner)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, accounts)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	acct, ok := s.ownedAccount(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	owner, ok := userID(w, r)
	if !ok {
		return
	}
	if err := s.accounts.Delete(r.Context(), owner, r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// Orders
// ---------------------------------------------------------------------------

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	acct, ok := s.ownedAccount(w, r)
	if !ok {
		return
	}
	var req placeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, &domain.ValidationError{Message: "invalid JSON body"})
		return
	}

	typ, ok := domain.ParseOrderType(req.Type)
	if !ok {
		s.writeError(w, &domain.ValidationError{Message: "unknown order type: " + req.Type})
		return
	}

	order, err := s.eng.PlaceOrder(r.Context(), engine.PlaceOrderRequest{
		AccountID:  acct.ID,
		Symbol:     strings.ToUpper(req.Symbol),
		Type:       typ,
		Side:       domain.OrderSide(req.Side),
		Quantity:   req.Quantity,
		LimitPrice: req.LimitPrice,
		StopPrice:  req.StopPrice,
		Notes:      req.Notes,
	})
	if err != nil {
		// Execution rejections still produced a persisted order; return it
		// alongside the rejection code.
		if domain.IsRejection(err) && order != nil {
			writeJSON(w, http.StatusUnprocessableEntity, struct {
				Order *domain.Order `json:"order"`
				Code  string        `json:"code"`
			}{Order: order, Code: err.Error()})
			return
		}
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	acct, ok := s.ownedAccount(w, r)
	if !ok {
		return
	}
	orders, err := s.store.ListOrders(r.Context(), acct.ID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	acct, ok := s.ownedAccount(w, r)
	if !ok {
		return
	}
	order, err := s.store.GetOrder(r.Context(), r.PathValue("orderID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if order.AccountID != acct.ID {
		s.writeError(w, domain.ErrOrderNotFound)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	acct, ok := s.ownedAccount(w, r)
	if !ok {
		return
	}
	order, err := s.store.GetOrder(r.Context(), r.PathValue("orderID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if order.AccountID != acct.ID {
		s.writeError(w, domain.ErrOrderNotFound)
		return
	}

	cancelled, err := s.eng.CancelOrder(r.Context(), order.ID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cancelled)
}

// ---------------------------------------------------------------------------
// Positions and portfolio
// ---------------------------------------------------------------------------

func (s *Server) handleListPositions(w http.ResponseWriter, r *http.Request) {
	acct, ok := s.ownedAccount(w, r)
	if !ok {
		return
	}
	positions, err := s.store.ListPositions(r.Context(), acct.ID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, positions)
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	acct, ok := s.ownedAccount(w, r)
	if !ok {
		return
	}
	sum, err := s.portfolio.Summarize(r.Context(), acct.ID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleListFills(w http.ResponseWriter, r *http.Request) {
	acct, ok := s.ownedAccount(w, r)
	if !ok {
		return
	}
	fills, err := s.store.ListFills(r.Context(), acct.ID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fills)
}

// ---------------------------------------------------------------------------
// Market data
// ---------------------------------------------------------------------------

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(r.PathValue("symbol"))
	quote, err := s.prices.Quote(r.Context(), symbol)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

func (s *Server) handleBars(w http.ResponseWriter, r *http.Request) {
	if s.bars == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "bar history not configured"})
		return
	}
	symbol := strings.ToUpper(r.PathValue("symbol"))

	end := time.Now().UTC()
	start := end.AddDate(0, -6, 0)
	var err error
	if v := r.URL.Query().Get("start"); v != "" {
		if start, err = time.Parse("2006-01-02", v); err != nil {
			s.writeError(w, &domain.ValidationError{Message: "invalid start date"})
			return
		}
	}
	if v := r.URL.Query().Get("end"); v != "" {
		if end, err = time.Parse("2006-01-02", v); err != nil {
			s.writeError(w, &domain.ValidationError{Message: "invalid end date"})
			return
		}
	}

	bars, err := s.bars.DailyBars(r.Context(), symbol, start, end)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if bars == nil {
		bars = []domain.Bar{}
	}
	writeJSON(w, http.StatusOK, bars)
}

// ---------------------------------------------------------------------------
// Watchlist
// ---------------------------------------------------------------------------

func (s *Server) handleGetWatchlist(w http.ResponseWriter, r *http.Request) {
	owner, ok := userID(w, r)
	if !ok {
		return
	}
	symbols, err := s.store.Watchlist(r.Context(), owner)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if symbols == nil {
		symbols = []string{}
	}
	writeJSON(w, http.StatusOK, watchlistResponse{Symbols: symbols})
}

func (s *Server) handleAddWatchlist(w http.ResponseWriter, r *http.Request) {
	owner, ok := userID(w, r)
	if !ok {
		return
	}
	symbol := strings.ToUpper(r.PathValue("symbol"))
	if err := s.store.AddToWatchlist(r.Context(), owner, symbol); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveWatchlist(w http.ResponseWriter, r *http.Request) {
	owner, ok := userID(w, r)
	if !ok {
		return
	}
	symbol := strings.ToUpper(r.PathValue("symbol"))
	if err := s.store.RemoveFromWatchlist(r.Context(), owner, symbol); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// Strategies and backtests
// ---------------------------------------------------------------------------

func (s *Server) handleListStrategies(w http.ResponseWriter, r *http.Request) {
	if s.registry == nil {
		writeJSON(w, http.StatusOK, strategiesResponse{Strategies: []string{}})
		return
	}
	writeJSON(w, http.StatusOK, strategiesResponse{Strategies: s.registry.List()})
}

func (s *Server) handleBacktest(w http.ResponseWriter, r *http.Request) {
	if s.backtester == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "backtesting not configured"})
		return
	}
	if _, ok := userID(w, r); !ok {
		return
	}
	var req backtestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, &domain.ValidationError{Message: "invalid JSON body"})
		return
	}

	start, err := time.Parse("2006-01-02", req.Start)
	if err != nil {
		s.writeError(w, &domain.ValidationError{Message: "invalid start date"})
		return
	}
	end, err := time.Parse("2006-01-02", req.End)
	if err != nil {
		s.writeError(w, &domain.ValidationError{Message: "invalid end date"})
		return
	}
	for i := range req.Symbols {
		req.Symbols[i] = strings.ToUpper(req.Symbols[i])
	}

	res, err := s.backtester.Run(r.Context(), req.Strategy, req.Symbols, start, end, req.InitialCapital)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ---------------------------------------------------------------------------
// Stream and health
// ---------------------------------------------------------------------------

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	s.hub.ServeWS(w, r)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "oracle": s.prices.Name()})
}
