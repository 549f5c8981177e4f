package feed

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/tradeledger/internal/domain"
)

// Syncer runs a combined positions-then-orders reconciliation.
type Syncer interface {
	Sync(ctx context.Context, tc domain.TenantContext, views []domain.PositionView, fills []domain.OrderFill) (domain.SyncResult, error)
}

// Gauge receives the number of tenants found by each poll.
type Gauge interface {
	Set(float64)
}

// PollerConfig tunes a Poller.
type PollerConfig struct {
	Interval time.Duration
	Workers  int
}

// Poller periodically syncs every tenant the Source knows about. Tenants run
// concurrently up to Workers; one tenant's failure never stops the others.
type Poller struct {
	source Source
	syncer Syncer
	cfg    PollerConfig
	gauge  Gauge
	logger *slog.Logger
}

// NewPoller creates a Poller. gauge may be nil.
func NewPoller(source Source, syncer Syncer, cfg PollerConfig, gauge Gauge, logger *slog.Logger) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	return &Poller{
		source: source,
		syncer: syncer,
		cfg:    cfg,
		gauge:  gauge,
		logger: logger.With(slog.String("component", "poller")),
	}
}

// Run polls until ctx is cancelled. The first poll starts immediately.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.InfoContext(ctx, "poller: started",
		slog.Duration("interval", p.cfg.Interval),
		slog.Int("workers", p.cfg.Workers),
	)
	defer p.logger.Info("poller: stopped")

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := p.PollOnce(ctx); err != nil && ctx.Err() == nil {
			p.logger.ErrorContext(ctx, "poller: poll failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// PollOnce syncs every tenant once and returns how many synced cleanly. The
// error is non-nil only when the tenant list cannot be read.
func (p *Poller) PollOnce(ctx context.Context) (int, error) {
	tenants, err := p.source.Tenants(ctx)
	if err != nil {
		return 0, err
	}
	if p.gauge != nil {
		p.gauge.Set(float64(len(tenants)))
	}

	var synced atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)
	for _, id := range tenants {
		g.Go(func() error {
			if p.syncTenant(gctx, id) {
				synced.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	return int(synced.Load()), nil
}

func (p *Poller) syncTenant(ctx context.Context, tenantID string) bool {
	snap, err := p.source.Snapshot(ctx, tenantID)
	if err != nil {
		p.logger.WarnContext(ctx, "poller: snapshot unavailable",
			slog.String("tenant_id", tenantID),
			slog.String("error", err.Error()),
		)
		return false
	}

	res, err := p.syncer.Sync(ctx, domain.TenantContext{TenantID: tenantID}, snap.Positions, snap.Orders)
	switch {
	case errors.Is(err, domain.ErrConflict):
		p.logger.DebugContext(ctx, "poller: tenant busy, retry next poll", slog.String("tenant_id", tenantID))
		return false
	case err != nil:
		p.logger.ErrorContext(ctx, "poller: sync failed",
			slog.String("tenant_id", tenantID),
			slog.String("error", err.Error()),
		)
		return false
	}

	if res.Positions.Changed() || res.Orders.Changed() {
		p.logger.InfoContext(ctx, "poller: tenant synced",
			slog.String("tenant_id", tenantID),
			slog.Int("opened", res.Positions.Opened),
			slog.Int("updated", res.Positions.Updated),
			slog.Int("closed", res.Positions.Closed),
			slog.Int("trades_created", res.Orders.Created),
		)
	}
	return true
}
