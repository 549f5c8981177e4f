package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/tradeledger/internal/cache/querycache"
	"github.com/alanyoungcy/tradeledger/internal/domain"
	"github.com/alanyoungcy/tradeledger/internal/ledger"
	"github.com/alanyoungcy/tradeledger/internal/notify"
)

// CacheCleanupJob drops expired query cache entries.
type CacheCleanupJob struct {
	cache  *querycache.Cache
	logger *slog.Logger
}

// NewCacheCleanupJob creates a CacheCleanupJob.
func NewCacheCleanupJob(cache *querycache.Cache, logger *slog.Logger) *CacheCleanupJob {
	return &CacheCleanupJob{cache: cache, logger: logger}
}

func (j *CacheCleanupJob) Name() string { return "cache_cleanup" }

func (j *CacheCleanupJob) Run(ctx context.Context) error {
	if n := j.cache.CleanupExpired(); n > 0 {
		j.logger.DebugContext(ctx, "scheduler: expired cache entries removed", slog.Int("entries", n))
	}
	return nil
}

// CacheStatsJob logs per-tenant cache statistics.
type CacheStatsJob struct {
	cache *querycache.Cache
}

// NewCacheStatsJob creates a CacheStatsJob.
func NewCacheStatsJob(cache *querycache.Cache) *CacheStatsJob {
	return &CacheStatsJob{cache: cache}
}

func (j *CacheStatsJob) Name() string { return "cache_stats" }

func (j *CacheStatsJob) Run(ctx context.Context) error {
	j.cache.LogStats(ctx)
	return nil
}

// TenantLister enumerates the tenants known to the ledger.
type TenantLister interface {
	ListTenants(ctx context.Context) ([]string, error)
}

// ArchiveJob exports every tenant's trades older than the retention window
// to cold storage. The ledger keeps its rows.
type ArchiveJob struct {
	archiver      domain.Archiver
	tenants       TenantLister
	cal           ledger.Calendar
	retentionDays int
	notifier      *notify.Notifier
	logger        *slog.Logger
	now           func() time.Time
}

// NewArchiveJob creates an ArchiveJob. notifier may be nil.
func NewArchiveJob(archiver domain.Archiver, tenants TenantLister, cal ledger.Calendar, retentionDays int, notifier *notify.Notifier, logger *slog.Logger) *ArchiveJob {
	return &ArchiveJob{
		archiver:      archiver,
		tenants:       tenants,
		cal:           cal,
		retentionDays: retentionDays,
		notifier:      notifier,
		logger:        logger,
		now:           time.Now,
	}
}

func (j *ArchiveJob) Name() string { return "trade_archive" }

// Cutoff is the start of the trading day retentionDays before now.
func (j *ArchiveJob) Cutoff() time.Time {
	return j.cal.DayStart(j.now().AddDate(0, 0, -j.retentionDays))
}

// Run archives each tenant in turn. A failing tenant does not stop the rest;
// the failures are returned joined.
func (j *ArchiveJob) Run(ctx context.Context) error {
	ids, err := j.tenants.ListTenants(ctx)
	if err != nil {
		return fmt.Errorf("scheduler: list tenants: %w", err)
	}

	cutoff := j.Cutoff()
	j.logger.InfoContext(ctx, "scheduler: archive run started",
		slog.Time("cutoff", cutoff),
		slog.Int("tenants", len(ids)),
	)

	var errs []error
	var total int64
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := j.archiver.ArchiveTrades(ctx, id, cutoff)
		total += n
		if err != nil {
			j.logger.ErrorContext(ctx, "scheduler: archive failed",
				slog.String("tenant_id", id),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("tenant %s: %w", id, err))
			continue
		}
		if n == 0 {
			continue
		}
		if nerr := j.notifier.ArchiveDone(ctx, id, n, cutoff.Format(domain.DateLayout)); nerr != nil {
			j.logger.WarnContext(ctx, "scheduler: archive alert failed", slog.String("error", nerr.Error()))
		}
	}

	j.logger.InfoContext(ctx, "scheduler: archive run complete", slog.Int64("trades_archived", total))
	return errors.Join(errs...)
}
