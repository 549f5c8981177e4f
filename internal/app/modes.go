package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/tradeledger/internal/feed"
	"github.com/alanyoungcy/tradeledger/internal/scheduler"
	"github.com/alanyoungcy/tradeledger/internal/server"
	"github.com/alanyoungcy/tradeledger/internal/server/handler"
)

const shutdownTimeout = 10 * time.Second

// ServerMode serves the HTTP API. Sync requests arrive through POST /api/sync.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")
	g, ctx := errgroup.WithContext(ctx)
	a.startServer(ctx, g, deps)
	a.startBackground(ctx, g, deps)
	return g.Wait()
}

// SyncMode polls the feed directory without serving the API.
func (a *App) SyncMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting sync mode")
	g, ctx := errgroup.WithContext(ctx)
	a.startPoller(ctx, g, deps)
	a.startBackground(ctx, g, deps)
	return g.Wait()
}

// FullMode serves the API and polls the feed directory.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")
	g, ctx := errgroup.WithContext(ctx)
	a.startServer(ctx, g, deps)
	a.startPoller(ctx, g, deps)
	a.startBackground(ctx, g, deps)
	return g.Wait()
}

func (a *App) startServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, server.Handlers{
		Health:  handler.NewHealthHandler(deps.Checks, a.logger),
		Ledger:  handler.NewLedgerHandler(deps.Service, a.logger),
		Sync:    handler.NewSyncHandler(deps.Service, a.logger),
		Cache:   handler.NewCacheHandler(deps.Service, a.logger),
		Metrics: deps.Metrics.Handler(),
	}, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

func (a *App) startPoller(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if !a.cfg.Sync.Enabled {
		a.logger.WarnContext(ctx, "sync disabled, feed directory is not polled")
		return
	}
	poller := feed.NewPoller(
		feed.NewDirFeed(a.cfg.Sync.FeedDir),
		deps.Service,
		feed.PollerConfig{
			Interval: a.cfg.Sync.Interval.Duration,
			Workers:  a.cfg.Sync.Workers,
		},
		deps.Metrics.SyncTenants,
		a.logger,
	)
	g.Go(func() error {
		return poller.Run(ctx)
	})
}

// startBackground runs the scheduler and the cross-replica invalidation
// subscriber, which every mode needs.
func (a *App) startBackground(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	sched, err := a.newScheduler(deps)
	if err != nil {
		g.Go(func() error { return err })
		return
	}
	g.Go(func() error {
		return sched.Run(ctx)
	})

	if deps.InvalidationBus != nil {
		g.Go(func() error {
			err := deps.InvalidationBus.Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}
}

func (a *App) newScheduler(deps *Dependencies) (*scheduler.Scheduler, error) {
	sched := scheduler.New(deps.Calendar.Location(), a.logger)

	if d := a.cfg.Cache.CleanupInterval.Duration; d > 0 {
		if err := sched.AddJob(every(d), scheduler.NewCacheCleanupJob(deps.Cache, a.logger)); err != nil {
			return nil, err
		}
	}
	if d := a.cfg.Cache.StatsInterval.Duration; d > 0 {
		if err := sched.AddJob(every(d), scheduler.NewCacheStatsJob(deps.Cache)); err != nil {
			return nil, err
		}
	}
	if deps.Archiver != nil {
		job := scheduler.NewArchiveJob(deps.Archiver, deps.Backend, deps.Calendar, a.cfg.Archive.RetentionDays, deps.Notifier, a.logger)
		if err := sched.AddJob(a.cfg.Archive.Cron, job); err != nil {
			return nil, err
		}
		a.logger.Info("archive scheduled",
			slog.String("cron", a.cfg.Archive.Cron),
			slog.Int("retention_days", a.cfg.Archive.RetentionDays),
		)
	}
	return sched, nil
}

func every(d time.Duration) string {
	return fmt.Sprintf("@every %s", d)
}
