package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"brokerd/internal/config"
	"brokerd/internal/engine"
	"brokerd/internal/gateway/notifier"
	"brokerd/internal/gateway/pricefeed"
	"brokerd/internal/logger"
	"brokerd/internal/queue"
	"brokerd/internal/risk"
	"brokerd/internal/store/gormstore"
	"brokerd/internal/strategy"
	apihttp "brokerd/internal/transport/http/api"
	"brokerd/internal/worker"
)

type Builder struct {
	cfg *config.Config

	// test seams
	pricesOverride pricefeed.Source
	notifyOverride notifier.TextNotifier
}

type BuilderOption func(*Builder)

func WithPriceSource(src pricefeed.Source) BuilderOption {
	return func(b *Builder) { b.pricesOverride = src }
}

func WithNotifier(n notifier.TextNotifier) BuilderOption {
	return func(b *Builder) { b.notifyOverride = n }
}

func NewBuilder(cfg *config.Config, opts ...BuilderOption) *Builder {
	b := &Builder{cfg: cfg}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *Builder) Build(ctx context.Context) (*App, error) {
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)

	store, err := gormstore.New(cfg.Store.Path, cfg.Trading.InitialCash)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	prices := b.pricesOverride
	if prices == nil {
		prices, err = buildPriceSource(cfg.PriceFeed)
		if err != nil {
			store.Close()
			return nil, err
		}
	}

	notify := b.notifyOverride
	if notify == nil {
		notify = buildNotifier(cfg.Notify)
	}

	var (
		q       queue.Queue
		durable *queue.StoreQueue
	)
	if cfg.Queue.Durable {
		durable = queue.NewStoreQueue(store, queue.StoreQueueConfig{
			Workers:           cfg.Queue.Workers,
			PollInterval:      cfg.Queue.PollInterval,
			PendingRetryDelay: cfg.Queue.PendingRetryDelay,
			MaxAttempts:       cfg.Queue.MaxAttempts,
		})
		q = durable
	} else {
		logger.Warnf("queue: durable=false, using in-process dispatch without crash recovery")
		q = queue.NewDirectQueue(cfg.Queue.PendingRetryDelay, cfg.Queue.MaxAttempts)
	}

	exec := engine.NewExecutor(store, nil, notify, cfg.Trading.FeeRate)
	riskSvc := risk.NewService(store, prices, exec)
	exec.SetAdmission(riskSvc)
	riskSvc.RegisterQueue(q)

	orders := worker.NewService(store, prices, q, exec)
	strategies := strategy.NewEngine(store, prices, exec, q)

	server, err := apihttp.NewServer(apihttp.ServerConfig{
		Addr: cfg.App.HTTPAddr,
		Router: &apihttp.Router{
			Orders:              orders,
			Store:               store,
			Risk:                riskSvc,
			Strategies:          strategies,
			Prices:              prices,
			MaxActiveStrategies: cfg.Strategy.MaxActivePerUser,
		},
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	return &App{
		cfg:        cfg,
		store:      store,
		queue:      q,
		storeQueue: durable,
		orders:     orders,
		risk:       riskSvc,
		strategies: strategies,
		server:     server,
	}, nil
}

func buildPriceSource(cfg config.PriceFeedConfig) (pricefeed.Source, error) {
	var src pricefeed.Source
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "binance":
		// Live feed gets a breaker so a flapping exchange API fails fast
		// instead of stalling every worker on timeouts.
		src = pricefeed.NewGuardedSource(pricefeed.NewBinanceSource(cfg.APIKey, cfg.APISecret), 5, 30*time.Second)
	case "static":
		src = pricefeed.NewStaticSource(cfg.Static)
	default:
		return nil, fmt.Errorf("unknown pricefeed provider %q", cfg.Provider)
	}
	if cfg.CacheTTL > 0 {
		src = pricefeed.NewCachedSource(src, cfg.CacheTTL)
	}
	return src, nil
}

func buildNotifier(cfg config.NotifyConfig) notifier.TextNotifier {
	if cfg.Telegram.Enabled && cfg.Telegram.BotToken != "" {
		return notifier.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
	}
	return notifier.Noop{}
}
