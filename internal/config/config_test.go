package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadFullFile(t *testing.T) {
	path := writeConfig(t, `
app:
  env: prod
  log_level: debug
  http_addr: ":9090"
store:
  path: /tmp/brokerd-test.db
pricefeed:
  provider: static
  cache_ttl: 10s
  static:
    BTCUSDT: 50000
queue:
  durable: true
  workers: 8
  poll_interval: 250ms
  pending_retry_delay: 15s
  max_attempts: 3
trading:
  fee_rate: 0.002
  initial_cash: 25000
risk:
  monitor_interval: 45s
strategy:
  tick_interval: 2m
  max_active_per_user: 3
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "prod", cfg.App.Env)
	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.Equal(t, ":9090", cfg.App.HTTPAddr)
	assert.Equal(t, "/tmp/brokerd-test.db", cfg.Store.Path)
	assert.Equal(t, "static", cfg.PriceFeed.Provider)
	assert.Equal(t, 10*time.Second, cfg.PriceFeed.CacheTTL)
	// viper lowercases map keys; the static source re-normalizes symbols
	// on construction, so the config carries the lowercase form.
	assert.Equal(t, 50000.0, cfg.PriceFeed.Static["btcusdt"])
	assert.True(t, cfg.Queue.Durable)
	assert.Equal(t, 8, cfg.Queue.Workers)
	assert.Equal(t, 250*time.Millisecond, cfg.Queue.PollInterval)
	assert.Equal(t, 15*time.Second, cfg.Queue.PendingRetryDelay)
	assert.Equal(t, 3, cfg.Queue.MaxAttempts)
	assert.Equal(t, 0.002, cfg.Trading.FeeRate)
	assert.Equal(t, 25000.0, cfg.Trading.InitialCash)
	assert.Equal(t, 45*time.Second, cfg.Risk.MonitorInterval)
	assert.Equal(t, 2*time.Minute, cfg.Strategy.TickInterval)
	assert.Equal(t, 3, cfg.Strategy.MaxActivePerUser)
}

func TestLoadFillsDefaults(t *testing.T) {
	path := writeConfig(t, `
app:
  env: dev
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, ":8080", cfg.App.HTTPAddr)
	assert.Equal(t, "data/brokerd.db", cfg.Store.Path)
	assert.Equal(t, "binance", cfg.PriceFeed.Provider)
	assert.Equal(t, 5*time.Second, cfg.PriceFeed.CacheTTL)
	assert.Equal(t, 4, cfg.Queue.Workers)
	assert.Equal(t, time.Second, cfg.Queue.PollInterval)
	assert.Equal(t, 30*time.Second, cfg.Queue.PendingRetryDelay)
	assert.Equal(t, 5, cfg.Queue.MaxAttempts)
	assert.Equal(t, 10000.0, cfg.Trading.InitialCash)
	assert.Equal(t, 30*time.Second, cfg.Risk.MonitorInterval)
	assert.Equal(t, time.Minute, cfg.Strategy.TickInterval)
	assert.Equal(t, 5, cfg.Strategy.MaxActivePerUser)
}

func TestDefaultMatchesLoadDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "dev", cfg.App.Env)
	assert.Equal(t, "binance", cfg.PriceFeed.Provider)
	assert.Equal(t, 10000.0, cfg.Trading.InitialCash)
}

func TestLoadValidation(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{
			name: "unknown provider",
			body: "pricefeed:\n  provider: bloomberg\n",
			want: "pricefeed.provider",
		},
		{
			name: "static without prices",
			body: "pricefeed:\n  provider: static\n",
			want: "requires pricefeed.static",
		},
		{
			name: "fee rate too high",
			body: "trading:\n  fee_rate: 1.5\n",
			want: "fee_rate",
		},
		{
			name: "telegram enabled without credentials",
			body: "notify:\n  telegram:\n    enabled: true\n",
			want: "bot_token",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)

	_, err = Load("")
	require.Error(t, err)
}
