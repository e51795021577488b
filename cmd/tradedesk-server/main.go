// Command tradedesk-server runs the paper-trading API: the REST endpoints,
// the order-event websocket stream, and a gRPC health listener.
package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"tradedesk/internal/account"
	"tradedesk/internal/config"
	"tradedesk/internal/engine"
	"tradedesk/internal/httpapi"
	"tradedesk/internal/ledger"
	"tradedesk/internal/marketdata"
	"tradedesk/internal/oracle"
	"tradedesk/internal/portfolio"
	"tradedesk/internal/strategy"
	"tradedesk/internal/strategy/builtins"
	"tradedesk/internal/util"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	var cfg *config.Config
	if path := os.Getenv("TRADEDESK_CONFIG"); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			log.Fatalf("loading config: %v", err)
		}
	} else {
		cfg = config.Default()
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	store, err := ledger.OpenSQLite(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("opening ledger: %v", err)
	}
	defer store.Close()

	var prices oracle.Oracle
	if cfg.Alpaca.APIKey != "" && cfg.Alpaca.APISecret != "" {
		prices = oracle.NewAlpacaOracle(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL, cfg.Alpaca.DataURL)
	} else {
		logger.Warn("no Alpaca credentials, serving static development prices")
		prices = oracle.NewStaticOracle(map[string]decimal.Decimal{
			"AAPL": decimal.NewFromInt(190),
			"MSFT": decimal.NewFromInt(420),
			"NVDA": decimal.NewFromInt(120),
			"TSLA": decimal.NewFromInt(250),
		})
	}

	eng := engine.New(store, prices, engine.Config{
		QuoteTimeout:   time.Duration(cfg.Trading.QuoteTimeoutSecs) * time.Second,
		MaxPositionPct: cfg.Trading.MaxPositionPct,
		FillWhenClosed: cfg.Trading.FillWhenClosed,
	}, logger)

	accounts := account.NewService(store, decimal.NewFromFloat(cfg.Trading.DefaultBalance), logger)
	pf := portfolio.NewService(store, prices, logger)

	barCache := marketdata.NewBarCache(cfg.Storage.DataDir)
	var barSource marketdata.BarSource
	if cfg.Alpaca.APIKey != "" && cfg.Alpaca.APISecret != "" {
		barSource = marketdata.NewAlpacaSource(
			cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.DataURL,
			cfg.MarketData.RateLimitPerMin, logger)
	}
	bars := marketdata.NewService(barCache, barSource, logger)

	registry := strategy.NewRegistry()
	registry.Register(func() strategy.Strategy { return builtins.NewBuyHold() })
	registry.Register(func() strategy.Strategy { return builtins.NewSMACross(10, 30) })
	registry.Register(func() strategy.Strategy { return builtins.NewSMACross(5, 20) })
	backtester := strategy.NewBacktester(bars, registry, logger)

	srv := httpapi.NewServer(accounts, eng, store, prices, pf, bars, backtester, registry, logger)
	eng.SetSink(srv.Hub())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go srv.Hub().Run(ctx)

	// gRPC health listener for load balancers and orchestration probes.
	grpcSrv := grpc.NewServer()
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	grpcAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.GRPCPort)
	lis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		log.Fatalf("listening on %s: %v", grpcAddr, err)
	}
	go func() {
		logger.Info("gRPC health listening", "addr", grpcAddr)
		if err := grpcSrv.Serve(lis); err != nil {
			logger.Error("gRPC server error", "error", err)
		}
	}()

	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: srv.Handler(),
	}
	go func() {
		logger.Info("HTTP API listening", "addr", httpServer.Addr, "oracle", prices.Name())
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	grpcSrv.GracefulStop()
}
