package marketdata

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"tradedesk/internal/domain"
	"tradedesk/internal/util"
)

// BarSource fetches daily bars from an upstream provider.
type BarSource interface {
	// FetchDailyBars returns daily bars for symbol within [start, end].
	FetchDailyBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error)
}

// BarSourceFunc adapts a function to the BarSource interface.
type BarSourceFunc func(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error)

func (f BarSourceFunc) FetchDailyBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	return f(ctx, symbol, start, end)
}

// AlpacaSource fetches daily bars from the Alpaca market-data API, with
// retry and a token-bucket rate limit on outbound calls.
type AlpacaSource struct {
	client  *marketdata.Client
	limiter *util.RateLimiter
	log     *slog.Logger
}

var _ BarSource = (*AlpacaSource)(nil)

// NewAlpacaSource creates an AlpacaSource. ratePerMinute caps API calls;
// zero or negative disables the limiter.
func NewAlpacaSource(apiKey, apiSecret, dataURL string, ratePerMinute int, log *slog.Logger) *AlpacaSource {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}
	if log == nil {
		log = slog.Default()
	}

	s := &AlpacaSource{
		client: marketdata.NewClient(opts),
		log:    log.With("component", "marketdata"),
	}
	if ratePerMinute > 0 {
		s.limiter = util.NewRateLimiter(ratePerMinute)
	}
	return s
}

// FetchDailyBars fetches daily bars for one symbol, retrying transient
// upstream failures.
func (s *AlpacaSource) FetchDailyBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	symbol = strings.ToUpper(symbol)
	var alpacaBars []marketdata.Bar
	err := util.Retry(ctx, 3, 500*time.Millisecond, func() error {
		var ferr error
		alpacaBars, ferr = s.client.GetBars(symbol, marketdata.GetBarsRequest{
			TimeFrame: marketdata.OneDay,
			Start:     start,
			End:       end,
			Feed:      "iex",
		})
		return ferr
	})
	if err != nil {
		return nil, fmt.Errorf("fetching bars for %s: %w", symbol, err)
	}

	bars := make([]domain.Bar, 0, len(alpacaBars))
	for _, ab := range alpacaBars {
		bars = append(bars, domain.Bar{
			Symbol:     symbol,
			Timestamp:  ab.Timestamp,
			Open:       ab.Open,
			High:       ab.High,
			Low:        ab.Low,
			Close:      ab.Close,
			Volume:     int64(ab.Volume),
			TradeCount: int64(ab.TradeCount),
			VWAP:       ab.VWAP,
		})
	}
	return bars, nil
}

// Service serves daily bar history out of the Parquet cache, fetching from
// the upstream source on a miss and writing the result back.
type Service struct {
	cache  *BarCache
	source BarSource
	log    *slog.Logger
}

// NewService creates a history Service. A nil source makes the service
// cache-only, which is what backtests on pre-gathered data use.
func NewService(cache *BarCache, source BarSource, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{cache: cache, source: source, log: log.With("component", "marketdata")}
}

// DailyBars returns daily bars for symbol within [start, end]. The cache is
// consulted first; on a miss (or a partial range) the source is queried and
// the cache updated. With no source configured, cached bars are all you get.
func (s *Service) DailyBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	symbol = strings.ToUpper(symbol)

	cached, err := s.cache.ReadBars(ctx, symbol, start, end)
	if err != nil {
		return nil, err
	}
	if s.source == nil || covers(cached, start, end) {
		return cached, nil
	}

	fetched, err := s.source.FetchDailyBars(ctx, symbol, start, end)
	if err != nil {
		if len(cached) > 0 {
			s.log.Warn("bar fetch failed, serving cache", "symbol", symbol, "error", err)
			return cached, nil
		}
		return nil, err
	}
	if len(fetched) == 0 {
		return cached, nil
	}

	if err := s.cache.WriteBars(ctx, fetched); err != nil {
		s.log.Warn("bar cache write failed", "symbol", symbol, "error", err)
	}
	return s.cache.ReadBars(ctx, symbol, start, end)
}

// Symbols lists every symbol with cached history.
func (s *Service) Symbols(ctx context.Context) ([]string, error) {
	return s.cache.ListSymbols(ctx)
}

// covers reports whether cached bars plausibly span [start, end]: the first
// bar falls within a week of start and the last within a week of end.
// Trading calendars leave gaps at weekends and holidays, so exact-endpoint
// checks would refetch constantly.
func covers(bars []domain.Bar, start, end time.Time) bool {
	if len(bars) == 0 {
		return false
	}
	const slack = 7 * 24 * time.Hour
	return bars[0].Timestamp.Sub(start) <= slack && end.Sub(bars[len(bars)-1].Timestamp) <= slack
}
