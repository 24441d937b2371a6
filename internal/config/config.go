package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load reads a YAML config file, applies defaults for unset keys, and
// validates the result.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	v := viper.New()
	v.SetConfigFile(abs)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file failed (%s): %w", abs, err)
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a fully defaulted config, used when no file is supplied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
		)
	})
	if err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.App.HTTPAddr == "" {
		c.App.HTTPAddr = ":8080"
	}
	if c.Store.Path == "" {
		c.Store.Path = "data/brokerd.db"
	}
	if c.PriceFeed.Provider == "" {
		c.PriceFeed.Provider = "binance"
	}
	if c.PriceFeed.CacheTTL <= 0 {
		c.PriceFeed.CacheTTL = 5 * time.Second
	}
	if c.Queue.Workers <= 0 {
		c.Queue.Workers = 4
	}
	if c.Queue.PollInterval <= 0 {
		c.Queue.PollInterval = time.Second
	}
	if c.Queue.PendingRetryDelay <= 0 {
		c.Queue.PendingRetryDelay = 30 * time.Second
	}
	if c.Queue.MaxAttempts <= 0 {
		c.Queue.MaxAttempts = 5
	}
	if c.Trading.FeeRate < 0 {
		c.Trading.FeeRate = 0
	}
	if c.Trading.InitialCash <= 0 {
		c.Trading.InitialCash = 10000
	}
	if c.Risk.MonitorInterval <= 0 {
		c.Risk.MonitorInterval = 30 * time.Second
	}
	if c.Strategy.TickInterval <= 0 {
		c.Strategy.TickInterval = time.Minute
	}
	if c.Strategy.MaxActivePerUser <= 0 {
		c.Strategy.MaxActivePerUser = 5
	}
}
