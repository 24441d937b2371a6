// Package app wires the execution core together and supervises its
// long-running parts.
package app

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"brokerd/internal/config"
	"brokerd/internal/logger"
	"brokerd/internal/queue"
	"brokerd/internal/risk"
	"brokerd/internal/scheduler"
	"brokerd/internal/store/gormstore"
	"brokerd/internal/strategy"
	apihttp "brokerd/internal/transport/http/api"
	"brokerd/internal/worker"
)

type App struct {
	cfg        *config.Config
	store      *gormstore.Store
	queue      queue.Queue
	storeQueue *queue.StoreQueue
	orders     *worker.Service
	risk       *risk.Service
	strategies *strategy.Engine
	server     *apihttp.Server
}

func New(cfg *config.Config, opts ...BuilderOption) (*App, error) {
	return NewBuilder(cfg, opts...).Build(context.Background())
}

// Run starts the HTTP server, the queue workers and the periodic sweeps,
// and blocks until ctx is cancelled or a component fails.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	defer a.store.Close()
	if direct, ok := a.queue.(*queue.DirectQueue); ok {
		defer direct.Shutdown()
	}

	if err := a.orders.Resume(ctx); err != nil {
		return fmt.Errorf("resume pending orders: %w", err)
	}

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		if err := a.server.Start(ctx); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if a.storeQueue != nil {
		group.Go(func() error {
			return a.storeQueue.Run(ctx)
		})
	}

	if interval := a.cfg.Risk.MonitorInterval; interval > 0 {
		sched := scheduler.NewAligned(ctx, "risk-monitor", interval, 0)
		group.Go(func() error {
			sched.Start(func() {
				if err := a.risk.EnqueueMonitors(ctx, a.queue); err != nil {
					logger.Warnf("risk monitor sweep failed: %v", err)
				}
			})
			return nil
		})
	}

	if interval := a.cfg.Strategy.TickInterval; interval > 0 {
		sched := scheduler.NewAligned(ctx, "strategy-tick", interval, 0)
		group.Go(func() error {
			sched.Start(func() {
				if err := a.strategies.EnqueueTicks(ctx, a.queue); err != nil {
					logger.Warnf("strategy tick sweep failed: %v", err)
				}
			})
			return nil
		})
	}

	logger.Infof("brokerd up: http=%s durable_queue=%v", a.server.Addr(), a.storeQueue != nil)
	return group.Wait()
}
