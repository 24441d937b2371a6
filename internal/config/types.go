package config

import "time"

// Config is the top-level configuration carrier for brokerd.
type Config struct {
	App       AppConfig       `toml:"app"`
	Store     StoreConfig     `toml:"store"`
	PriceFeed PriceFeedConfig `toml:"pricefeed"`
	Queue     QueueConfig     `toml:"queue"`
	Trading   TradingConfig   `toml:"trading"`
	Risk      RiskConfig      `toml:"risk"`
	Strategy  StrategyConfig  `toml:"strategy"`
	Notify    NotifyConfig    `toml:"notify"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	LogPath  string `toml:"log_path"`
	HTTPAddr string `toml:"http_addr"`
}

type StoreConfig struct {
	Path string `toml:"path"`
}

type PriceFeedConfig struct {
	// Provider selects the live source: "binance" or "static" (fixture
	// prices for paper setups and tests).
	Provider  string             `toml:"provider"`
	APIKey    string             `toml:"api_key"`
	APISecret string             `toml:"api_secret"`
	CacheTTL  time.Duration      `toml:"cache_ttl"`
	Static    map[string]float64 `toml:"static"`
}

type QueueConfig struct {
	// Durable=false drops to the in-process direct dispatcher, a documented
	// degraded mode without retry or delay semantics.
	Durable           bool          `toml:"durable"`
	Workers           int           `toml:"workers"`
	PollInterval      time.Duration `toml:"poll_interval"`
	PendingRetryDelay time.Duration `toml:"pending_retry_delay"`
	MaxAttempts       int           `toml:"max_attempts"`
}

type TradingConfig struct {
	FeeRate     float64 `toml:"fee_rate"`
	InitialCash float64 `toml:"initial_cash"`
}

type RiskConfig struct {
	MonitorInterval time.Duration `toml:"monitor_interval"`
}

type StrategyConfig struct {
	TickInterval time.Duration `toml:"tick_interval"`
	// MaxActivePerUser caps concurrently active strategies for one user.
	MaxActivePerUser int `toml:"max_active_per_user"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}
