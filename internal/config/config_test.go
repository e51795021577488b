package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"DATA_DIR", "SQLITE_PATH", "PORT", "LOG_LEVEL",
		"ALPACA_API_KEY", "ALPACA_API_SECRET", "ALPACA_BASE_URL", "ALPACA_DATA_URL",
		"APCA_API_KEY_ID", "APCA_API_SECRET_KEY",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoadFullConfig(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
storage:
  data_dir: "/var/lib/tradedesk/data"
  sqlite_path: "/var/lib/tradedesk/ledger.db"
server:
  host: "127.0.0.1"
  port: 8888
  grpc_port: 9999
alpaca:
  api_key: "test-key"
  api_secret: "test-secret"
  base_url: "https://paper-api.alpaca.markets"
  data_url: "https://data.alpaca.markets"
logging:
  level: "debug"
  format: "text"
marketdata:
  rate_limit_per_min: 120
trading:
  default_balance: 50000
  max_position_pct: 0.25
  fill_when_closed: true
  quote_timeout_secs: 3
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Storage.DataDir != "/var/lib/tradedesk/data" {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}
	if cfg.Storage.SQLitePath != "/var/lib/tradedesk/ledger.db" {
		t.Errorf("Storage.SQLitePath = %q", cfg.Storage.SQLitePath)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 8888 || cfg.Server.GRPCPort != 9999 {
		t.Errorf("Server = %+v", cfg.Server)
	}
	if cfg.Alpaca.APIKey != "test-key" || cfg.Alpaca.APISecret != "test-secret" {
		t.Errorf("Alpaca = %+v", cfg.Alpaca)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "text" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
	if cfg.MarketData.RateLimitPerMin != 120 {
		t.Errorf("MarketData.RateLimitPerMin = %d", cfg.MarketData.RateLimitPerMin)
	}
	if cfg.Trading.DefaultBalance != 50000 {
		t.Errorf("Trading.DefaultBalance = %f", cfg.Trading.DefaultBalance)
	}
	if cfg.Trading.MaxPositionPct != 0.25 {
		t.Errorf("Trading.MaxPositionPct = %f", cfg.Trading.MaxPositionPct)
	}
	if !cfg.Trading.FillWhenClosed {
		t.Error("Trading.FillWhenClosed = false, want true")
	}
	if cfg.Trading.QuoteTimeoutSecs != 3 {
		t.Errorf("Trading.QuoteTimeoutSecs = %d", cfg.Trading.QuoteTimeoutSecs)
	}
}

func TestLoadFillsDefaults(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
alpaca:
  api_key: "k"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("default Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Server.GRPCPort != 9090 {
		t.Errorf("default Server.GRPCPort = %d, want 9090", cfg.Server.GRPCPort)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("default Logging = %+v", cfg.Logging)
	}
	if cfg.Trading.DefaultBalance != 100000 {
		t.Errorf("default Trading.DefaultBalance = %f", cfg.Trading.DefaultBalance)
	}
	if cfg.Trading.QuoteTimeoutSecs != 5 {
		t.Errorf("default Trading.QuoteTimeoutSecs = %d", cfg.Trading.QuoteTimeoutSecs)
	}
	if cfg.Storage.SQLitePath != "tradedesk.db" {
		t.Errorf("default Storage.SQLitePath = %q", cfg.Storage.SQLitePath)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
alpaca:
  api_key: "yaml-key"
  api_secret: "yaml-secret"
storage:
  data_dir: "/original/data"
`)

	t.Setenv("ALPACA_API_KEY", "env-key")
	t.Setenv("DATA_DIR", "/env/data")
	t.Setenv("PORT", "9191")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Alpaca.APIKey != "env-key" {
		t.Errorf("Alpaca.APIKey = %q, want env override", cfg.Alpaca.APIKey)
	}
	if cfg.Alpaca.APISecret != "yaml-secret" {
		t.Errorf("Alpaca.APISecret = %q, want YAML value", cfg.Alpaca.APISecret)
	}
	if cfg.Storage.DataDir != "/env/data" {
		t.Errorf("Storage.DataDir = %q, want env override", cfg.Storage.DataDir)
	}
	if cfg.Server.Port != 9191 {
		t.Errorf("Server.Port = %d, want env override 9191", cfg.Server.Port)
	}
}

func TestCanonicalAlpacaEnvWins(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
alpaca:
  api_key: "yaml-key"
`)

	t.Setenv("ALPACA_API_KEY", "legacy-key")
	t.Setenv("APCA_API_KEY_ID", "canonical-key")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.Alpaca.APIKey != "canonical-key" {
		t.Errorf("Alpaca.APIKey = %q, want canonical env name to win", cfg.Alpaca.APIKey)
	}
}

func TestDefaultConfig(t *testing.T) {
	clearEnv(t)
	cfg := Default()
	if cfg.Server.Port != 8080 || cfg.Trading.DefaultBalance != 100000 {
		t.Errorf("Default() = %+v", cfg)
	}
}
