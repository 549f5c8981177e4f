// Package service is the facade the HTTP API and the poller call. Reads go
// through the tenant-scoped query cache; reconciliation runs under the
// tenant's lock.
package service

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/tradeledger/internal/aggregate"
	"github.com/alanyoungcy/tradeledger/internal/cache/querycache"
	"github.com/alanyoungcy/tradeledger/internal/domain"
	"github.com/alanyoungcy/tradeledger/internal/ledger"
	"github.com/alanyoungcy/tradeledger/internal/metrics"
	"github.com/alanyoungcy/tradeledger/internal/notify"
	"github.com/alanyoungcy/tradeledger/internal/reconcile"
	"github.com/alanyoungcy/tradeledger/internal/tenant"
)

// Reconcile kinds, used in logs and metrics.
const (
	KindPositions = "positions"
	KindOrders    = "orders"
)

// TTLs are the cache lifetimes of each read view.
type TTLs struct {
	Positions time.Duration
	Trades    time.Duration
	PnL       time.Duration
	DailyStat time.Duration
}

// DefaultTTLs are tuned for a dashboard polling every few seconds.
var DefaultTTLs = TTLs{
	Positions: 2 * time.Second,
	Trades:    10 * time.Second,
	PnL:       5 * time.Second,
	DailyStat: 5 * time.Second,
}

// LedgerService exposes the ledger's read views and reconciliation passes.
type LedgerService struct {
	store      *ledger.Store
	cache      *querycache.Cache
	aggregator *aggregate.Aggregator
	positions  *reconcile.PositionReconciler
	orders     *reconcile.OrderReconciler
	lock       tenant.LockFunc
	cal        ledger.Calendar
	ttls       TTLs
	metrics    *metrics.Metrics
	notifier   *notify.Notifier
	logger     *slog.Logger
}

// Option configures a LedgerService.
type Option func(*LedgerService)

// WithMetrics records pass outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *LedgerService) { s.metrics = m }
}

// WithNotifier sends loss-limit and failure alerts.
func WithNotifier(n *notify.Notifier) Option {
	return func(s *LedgerService) { s.notifier = n }
}

// WithTTLs overrides DefaultTTLs.
func WithTTLs(t TTLs) Option {
	return func(s *LedgerService) { s.ttls = t }
}

// NewLedgerService creates a LedgerService. lock serializes passes of one
// tenant; pass tenant.NewLocker().Lock when no distributed lock is needed.
func NewLedgerService(
	store *ledger.Store,
	cache *querycache.Cache,
	aggregator *aggregate.Aggregator,
	positions *reconcile.PositionReconciler,
	orders *reconcile.OrderReconciler,
	lock tenant.LockFunc,
	cal ledger.Calendar,
	logger *slog.Logger,
	opts ...Option,
) *LedgerService {
	s := &LedgerService{
		store:      store,
		cache:      cache,
		aggregator: aggregator,
		positions:  positions,
		orders:     orders,
		lock:       lock,
		cal:        cal,
		ttls:       DefaultTTLs,
		logger:     logger.With(slog.String("component", "ledger_service")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Calendar returns the trading calendar.
func (s *LedgerService) Calendar() ledger.Calendar {
	return s.cal
}

// Today returns the current trading day as YYYY-MM-DD.
func (s *LedgerService) Today() string {
	return s.cal.Date(time.Now())
}

// GetActivePositions returns the tenant's open positions. The slice is the
// caller's own copy.
func (s *LedgerService) GetActivePositions(ctx context.Context, tc domain.TenantContext) ([]domain.Position, error) {
	if err := tc.Validate(); err != nil {
		return nil, err
	}
	key := querycache.Key{Scope: domain.ScopePositions, Name: "active_positions"}
	positions, err := querycache.Get(ctx, s.cache, tc.TenantID, key, s.ttls.Positions, func(ctx context.Context) ([]domain.Position, error) {
		return s.store.Reader().ActivePositions(ctx, tc.TenantID)
	})
	return slices.Clone(positions), err
}

// GetTrades returns the trades that closed on the given trading day
// (YYYY-MM-DD).
func (s *LedgerService) GetTrades(ctx context.Context, tc domain.TenantContext, date string) ([]domain.Trade, error) {
	if err := tc.Validate(); err != nil {
		return nil, err
	}
	day, err := s.cal.ParseDate(date)
	if err != nil {
		return nil, err
	}
	from, to := s.cal.DayRange(day)
	key := querycache.Key{Scope: domain.ScopeTrades, Name: "trades_by_date", Args: date}
	trades, err := querycache.Get(ctx, s.cache, tc.TenantID, key, s.ttls.Trades, func(ctx context.Context) ([]domain.Trade, error) {
		return s.store.Reader().TradesBetween(ctx, tc.TenantID, from, to)
	})
	return slices.Clone(trades), err
}

// GetCumulativePnl returns realized P&L over the standard windows ending on
// asOf (YYYY-MM-DD).
func (s *LedgerService) GetCumulativePnl(ctx context.Context, tc domain.TenantContext, asOf string) (domain.PnlSummary, error) {
	if err := tc.Validate(); err != nil {
		return domain.PnlSummary{}, err
	}
	day, err := s.cal.ParseDate(asOf)
	if err != nil {
		return domain.PnlSummary{}, err
	}
	return s.aggregator.CumulativePnl(ctx, tc.TenantID, day)
}

// GetDailyStat returns one trading day's aggregate, or an error matching
// domain.ErrNotFound when the day has no closed trades yet.
func (s *LedgerService) GetDailyStat(ctx context.Context, tc domain.TenantContext, date string) (domain.DailyStat, error) {
	if err := tc.Validate(); err != nil {
		return domain.DailyStat{}, err
	}
	if _, err := s.cal.ParseDate(date); err != nil {
		return domain.DailyStat{}, err
	}
	key := querycache.Key{Scope: domain.ScopeStats, Name: "daily_stat", Args: date}
	return querycache.Get(ctx, s.cache, tc.TenantID, key, s.ttls.DailyStat, func(ctx context.Context) (domain.DailyStat, error) {
		return s.store.Reader().DailyStat(ctx, tc.TenantID, date)
	})
}

// ListAudit returns the tenant's audit trail, newest first. It is not cached.
func (s *LedgerService) ListAudit(ctx context.Context, tc domain.TenantContext, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	if err := tc.Validate(); err != nil {
		return nil, err
	}
	return s.store.Reader().ListAudit(ctx, tc.TenantID, opts)
}

// CacheStats returns the tenant's cache statistics.
func (s *LedgerService) CacheStats(tc domain.TenantContext) (querycache.Stats, error) {
	if err := tc.Validate(); err != nil {
		return querycache.Stats{}, err
	}
	return s.cache.Stats(tc.TenantID), nil
}

// ClearCache drops the tenant's cached views.
func (s *LedgerService) ClearCache(tc domain.TenantContext) error {
	if err := tc.Validate(); err != nil {
		return err
	}
	s.cache.Clear(tc.TenantID)
	return nil
}

// ReconcilePositions merges a live position snapshot into the ledger.
func (s *LedgerService) ReconcilePositions(ctx context.Context, tc domain.TenantContext, views []domain.PositionView) (domain.ReconcileResult, error) {
	var res domain.ReconcileResult
	err := s.locked(ctx, tc, func(ctx context.Context) error {
		var err error
		res, err = s.reconcilePositions(ctx, tc.TenantID, views)
		return err
	})
	return res, err
}

// ReconcileOrders FIFO-matches completed fills into closed trades.
func (s *LedgerService) ReconcileOrders(ctx context.Context, tc domain.TenantContext, fills []domain.OrderFill) (domain.ReconcileResult, error) {
	var res domain.ReconcileResult
	err := s.locked(ctx, tc, func(ctx context.Context) error {
		var err error
		res, err = s.reconcileOrders(ctx, tc.TenantID, fills)
		return err
	})
	return res, err
}

// Sync reconciles positions then orders under one hold of the tenant lock.
// If the position pass fails the order pass is not attempted.
func (s *LedgerService) Sync(ctx context.Context, tc domain.TenantContext, views []domain.PositionView, fills []domain.OrderFill) (domain.SyncResult, error) {
	var out domain.SyncResult
	err := s.locked(ctx, tc, func(ctx context.Context) error {
		var err error
		if out.Positions, err = s.reconcilePositions(ctx, tc.TenantID, views); err != nil {
			return err
		}
		out.Orders, err = s.reconcileOrders(ctx, tc.TenantID, fills)
		return err
	})
	return out, err
}

// locked runs fn while holding the tenant's reconciliation lock. A lock that
// cannot be obtained is reported as *domain.ConflictError.
func (s *LedgerService) locked(ctx context.Context, tc domain.TenantContext, fn func(ctx context.Context) error) error {
	if err := tc.Validate(); err != nil {
		return err
	}
	unlock, err := s.lock(ctx, tc.TenantID)
	if err != nil {
		var conflict *domain.ConflictError
		if !errors.As(err, &conflict) {
			err = &domain.ConflictError{TenantID: tc.TenantID, Err: err}
		}
		s.logger.WarnContext(ctx, "ledger_service: tenant busy",
			slog.String("tenant_id", tc.TenantID),
			slog.String("error", err.Error()),
		)
		return err
	}
	defer unlock()
	return fn(ctx)
}

func (s *LedgerService) reconcilePositions(ctx context.Context, tenantID string, views []domain.PositionView) (domain.ReconcileResult, error) {
	return s.observe(ctx, tenantID, KindPositions, func(ctx context.Context) (domain.ReconcileResult, error) {
		return s.positions.Reconcile(ctx, tenantID, views)
	})
}

func (s *LedgerService) reconcileOrders(ctx context.Context, tenantID string, fills []domain.OrderFill) (domain.ReconcileResult, error) {
	return s.observe(ctx, tenantID, KindOrders, func(ctx context.Context) (domain.ReconcileResult, error) {
		return s.orders.Reconcile(ctx, tenantID, fills)
	})
}

// observe runs one pass and records its metrics, logs and alerts.
func (s *LedgerService) observe(ctx context.Context, tenantID, kind string, pass func(context.Context) (domain.ReconcileResult, error)) (domain.ReconcileResult, error) {
	passID := uuid.NewString()
	start := time.Now()
	res, err := pass(ctx)
	elapsed := time.Since(start)

	if s.metrics != nil {
		s.metrics.ObserveReconcile(kind, res, err, elapsed)
	}

	if err != nil {
		s.logger.ErrorContext(ctx, "ledger_service: reconcile failed",
			slog.String("pass_id", passID),
			slog.String("tenant_id", tenantID),
			slog.String("kind", kind),
			slog.String("error", err.Error()),
		)
		if nerr := s.notifier.ReconcileFailed(context.WithoutCancel(ctx), tenantID, kind, err); nerr != nil {
			s.logger.WarnContext(ctx, "ledger_service: alert failed", slog.String("error", nerr.Error()))
		}
		return domain.ReconcileResult{}, err
	}

	s.logger.InfoContext(ctx, "ledger_service: reconciled",
		slog.String("pass_id", passID),
		slog.String("tenant_id", tenantID),
		slog.String("kind", kind),
		slog.Bool("changed", res.Changed()),
		slog.Int("rejected", res.Rejected),
		slog.Duration("elapsed", elapsed),
	)

	for _, date := range res.LossLimitTripped {
		for _, st := range res.DailyStats {
			if st.Date != date {
				continue
			}
			if nerr := s.notifier.LossLimitHit(context.WithoutCancel(ctx), st); nerr != nil {
				s.logger.WarnContext(ctx, "ledger_service: alert failed", slog.String("error", nerr.Error()))
			}
		}
	}
	return res, nil
}
