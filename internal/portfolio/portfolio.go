// Package portfolio computes account valuations: positions marked against
// live quotes, cash, equity, and realized and unrealized P&L.
package portfolio

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"tradedesk/internal/domain"
	"tradedesk/internal/ledger"
	"tradedesk/internal/oracle"
)

// MarkedPosition is a position valued at its current mark.
type MarkedPosition struct {
	domain.Position

	MarketValue  decimal.Decimal `json:"market_value"`
	UnrealizedPL decimal.Decimal `json:"unrealized_pl"`
}

// Summary is the full valuation of one account.
type Summary struct {
	AccountID  string           `json:"account_id"`
	Cash       decimal.Decimal  `json:"cash"`
	Equity     decimal.Decimal  `json:"equity"`
	Positions  []MarkedPosition `json:"positions"`
	Unrealized decimal.Decimal  `json:"unrealized_pl"`
	Realized   decimal.Decimal  `json:"realized_pl"`

	// TotalReturn is (equity - initialBalance) / initialBalance.
	TotalReturn decimal.Decimal `json:"total_return"`

	AsOf time.Time `json:"as_of"`
}

// Service values accounts against the price oracle.
type Service struct {
	store  ledger.Store
	oracle oracle.Oracle
	log    *slog.Logger

	// QuoteTimeout bounds each mark lookup. Defaults to 3s.
	QuoteTimeout time.Duration
}

// NewService creates a portfolio Service.
func NewService(store ledger.Store, o oracle.Oracle, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:        store,
		oracle:       o,
		log:          log.With("component", "portfolio"),
		QuoteTimeout: 3 * time.Second,
	}
}

// Summarize values the account at current quotes. When a quote is
// unavailable the position's last persisted price serves as the mark, so a
// flaky feed degrades valuations rather than failing them.
func (s *Service) Summarize(ctx context.Context, accountID string) (*Summary, error) {
	acct, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	positions, err := s.store.ListPositions(ctx, accountID)
	if err != nil {
		return nil, err
	}
	fills, err := s.store.ListFills(ctx, accountID)
	if err != nil {
		return nil, err
	}

	sum := &Summary{
		AccountID: accountID,
		Cash:      acct.CashBalance,
		Equity:    acct.CashBalance,
		Positions: make([]MarkedPosition, 0, len(positions)),
		AsOf:      time.Now().UTC(),
	}

	for _, p := range positions {
		mark := s.mark(ctx, &p)
		mp := MarkedPosition{
			Position:     p,
			MarketValue:  p.MarketValue(mark),
			UnrealizedPL: p.UnrealizedPL(mark),
		}
		mp.LastPrice = mark
		sum.Positions = append(sum.Positions, mp)
		sum.Equity = sum.Equity.Add(mp.MarketValue)
		sum.Unrealized = sum.Unrealized.Add(mp.UnrealizedPL)
	}

	for _, f := range fills {
		sum.Realized = sum.Realized.Add(f.RealizedPL)
	}

	if acct.InitialBalance.IsPositive() {
		sum.TotalReturn = sum.Equity.Sub(acct.InitialBalance).Div(acct.InitialBalance)
	}
	return sum, nil
}

func (s *Service) mark(ctx context.Context, p *domain.Position) decimal.Decimal {
	qctx, cancel := context.WithTimeout(ctx, s.QuoteTimeout)
	defer cancel()

	q, err := s.oracle.Quote(qctx, p.Symbol)
	if err != nil {
		s.log.Warn("mark fell back to last price", "symbol", p.Symbol, "error", err)
		return p.LastPrice
	}
	return q.Price
}
