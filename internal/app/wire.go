package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/tradeledger/internal/aggregate"
	s3blob "github.com/alanyoungcy/tradeledger/internal/blob/s3"
	"github.com/alanyoungcy/tradeledger/internal/cache/querycache"
	"github.com/alanyoungcy/tradeledger/internal/cache/redis"
	"github.com/alanyoungcy/tradeledger/internal/config"
	"github.com/alanyoungcy/tradeledger/internal/domain"
	"github.com/alanyoungcy/tradeledger/internal/ledger"
	"github.com/alanyoungcy/tradeledger/internal/metrics"
	"github.com/alanyoungcy/tradeledger/internal/notify"
	"github.com/alanyoungcy/tradeledger/internal/reconcile"
	"github.com/alanyoungcy/tradeledger/internal/server/handler"
	"github.com/alanyoungcy/tradeledger/internal/service"
	"github.com/alanyoungcy/tradeledger/internal/store/postgres"
	"github.com/alanyoungcy/tradeledger/internal/store/sqlite"
	"github.com/alanyoungcy/tradeledger/internal/tenant"
)

// Dependencies bundles everything the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Calendar ledger.Calendar
	Metrics  *metrics.Metrics
	Cache    *querycache.Cache
	Backend  domain.LedgerBackend
	Store    *ledger.Store
	Service  *service.LedgerService
	Notifier *notify.Notifier

	// Optional, nil when Redis is disabled.
	RateLimiter     domain.RateLimiter
	InvalidationBus *redis.InvalidationBus

	// Optional, nil when the archive is disabled.
	Archiver domain.Archiver

	// Checks are reported by the health endpoint.
	Checks map[string]handler.Pinger
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	cal, err := ledger.NewCalendar(cfg.Reconcile.Timezone)
	if err != nil {
		return nil, nil, fmt.Errorf("wire: calendar: %w", err)
	}

	deps := &Dependencies{
		Calendar: cal,
		Metrics:  metrics.New(),
		Checks:   make(map[string]handler.Pinger),
	}
	deps.Cache = querycache.New(logger,
		querycache.WithRecorder(deps.Metrics),
		querycache.WithEnabled(cfg.Cache.Enabled),
	)

	// --- Ledger database ---
	switch cfg.Store.Driver {
	case "postgres":
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:            cfg.Store.DSN,
			Host:           cfg.Store.Host,
			Port:           cfg.Store.Port,
			Database:       cfg.Store.Database,
			User:           cfg.Store.User,
			Password:       cfg.Store.Password,
			SSLMode:        cfg.Store.SSLMode,
			MaxConns:       cfg.Store.PoolMaxConns,
			MinConns:       cfg.Store.PoolMinConns,
			ConnectTimeout: cfg.Store.ConnectTimeout.Duration,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)
		if cfg.Store.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}
		deps.Backend = pgClient.Ledger()
		deps.Checks["store"] = pgClient.Ping
	default:
		sqClient, err := sqlite.New(ctx, sqlite.ClientConfig{Path: cfg.Store.SQLitePath})
		if err != nil {
			return fail(fmt.Errorf("wire: sqlite: %w", err))
		}
		closers = append(closers, func() { _ = sqClient.Close() })
		if cfg.Store.RunMigrations {
			if err := sqClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: sqlite migrations: %w", err))
			}
		}
		deps.Backend = sqlite.NewLedgerStore(sqClient)
		deps.Checks["store"] = sqClient.Ping
	}

	// --- Redis: shared locks, rate limits and cross-replica invalidation ---
	var lock tenant.LockFunc = tenant.NewLocker().Lock
	invalidators := ledger.Invalidators{deps.Cache}
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		deps.Checks["redis"] = redisClient.Ping

		// The process-local lock goes first so local passes queue instead of
		// bouncing off the shared lock.
		lock = tenant.Chain(lock, redis.TenantLock(redis.NewLockManager(redisClient), cfg.Redis.LockTTL.Duration))
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.InvalidationBus = redis.NewInvalidationBus(redis.NewSignalBus(redisClient), deps.Cache, logger)
		invalidators = append(invalidators, deps.InvalidationBus)
	}

	deps.Store = ledger.NewStore(deps.Backend, invalidators, cfg.Store.TxTimeout.Duration, logger)

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Reconciliation and read views ---
	rcfg := reconcile.Config{
		Calendar:          cal,
		ExcludedExchanges: cfg.Reconcile.ExcludedExchanges,
		DailyLossLimit:    cfg.Reconcile.DailyLossLimit,
	}
	ttls := ttlsFrom(cfg.Cache)
	deps.Service = service.NewLedgerService(
		deps.Store,
		deps.Cache,
		aggregate.New(deps.Store.Reader(), deps.Cache, cal, ttls.PnL, logger),
		reconcile.NewPositionReconciler(deps.Store, rcfg, logger),
		reconcile.NewOrderReconciler(deps.Store, rcfg, logger),
		lock,
		cal,
		logger,
		service.WithMetrics(deps.Metrics),
		service.WithNotifier(deps.Notifier),
		service.WithTTLs(ttls),
	)

	// --- S3 archive ---
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		closers = append(closers, func() { _ = s3Client.Close() })
		deps.Checks["s3"] = s3Client.Health
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), deps.Backend, deps.Store, cal.Location())
	}

	closers = append(closers, func() { _ = deps.Backend.Close() })
	return deps, cleanup, nil
}

// ttlsFrom maps the cache section to service TTLs. Zero values keep the
// service defaults.
func ttlsFrom(c config.CacheConfig) service.TTLs {
	t := service.DefaultTTLs
	set := func(dst *time.Duration, d time.Duration) {
		if d > 0 {
			*dst = d
		}
	}
	set(&t.Positions, c.PositionsTTL.Duration)
	set(&t.Trades, c.TradesTTL.Duration)
	set(&t.PnL, c.PnLTTL.Duration)
	set(&t.DailyStat, c.DailyStatTTL.Duration)
	return t
}
