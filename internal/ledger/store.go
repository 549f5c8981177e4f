// Package ledger is the write path of the tenant ledger. Every
// reconciliation pass runs in one backend transaction; the read scopes it
// touched are invalidated only after the transaction commits.
package ledger

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/alanyoungcy/tradeledger/internal/domain"
)

// Invalidators fans one invalidation out to several targets.
type Invalidators []domain.Invalidator

// Invalidate implements domain.Invalidator.
func (is Invalidators) Invalidate(tenantID string, scopes ...string) {
	for _, inv := range is {
		if inv != nil {
			inv.Invalidate(tenantID, scopes...)
		}
	}
}

// Store wraps a LedgerBackend with transaction timeouts and post-commit
// cache invalidation.
type Store struct {
	backend     domain.LedgerBackend
	invalidator domain.Invalidator
	txTimeout   time.Duration
	logger      *slog.Logger
}

// NewStore creates a Store. invalidator may be nil.
func NewStore(backend domain.LedgerBackend, invalidator domain.Invalidator, txTimeout time.Duration, logger *slog.Logger) *Store {
	if invalidator == nil {
		invalidator = Invalidators(nil)
	}
	return &Store{
		backend:     backend,
		invalidator: invalidator,
		txTimeout:   txTimeout,
		logger:      logger.With(slog.String("component", "ledger")),
	}
}

// Reader exposes the backend's read side.
func (s *Store) Reader() domain.LedgerReader {
	return s.backend
}

// RunPass executes fn inside one transaction for tenantID. Any error from fn
// rolls the whole pass back and is returned as a *domain.StoreError. On
// success the scopes fn wrote to are invalidated before RunPass returns.
func (s *Store) RunPass(ctx context.Context, tenantID string, fn func(ctx context.Context, tx *Tx) error) error {
	if s.txTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.txTimeout)
		defer cancel()
	}

	var scopes map[string]struct{}
	err := s.backend.WithTx(ctx, tenantID, func(btx domain.LedgerTx) error {
		tx := &Tx{tenantID: tenantID, inner: btx, scopes: make(map[string]struct{})}
		if err := fn(ctx, tx); err != nil {
			return err
		}
		scopes = tx.scopes
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrStore) {
			return err
		}
		return &domain.StoreError{Op: "reconcile pass " + tenantID, Err: err}
	}

	if len(scopes) > 0 {
		touched := make([]string, 0, len(scopes))
		for scope := range scopes {
			touched = append(touched, scope)
		}
		sort.Strings(touched)
		s.invalidator.Invalidate(tenantID, touched...)
		s.logger.DebugContext(ctx, "ledger: pass committed",
			slog.String("tenant_id", tenantID),
			slog.Any("invalidated", touched),
		)
	}
	return nil
}

// Audit appends a standalone audit entry outside any pass.
func (s *Store) Audit(ctx context.Context, tenantID, action string, detail map[string]any) error {
	if err := s.backend.AppendAudit(ctx, tenantID, action, detail); err != nil {
		return &domain.StoreError{Op: "audit " + action, Err: err}
	}
	return nil
}

// Tx is a tenant-bound transaction that records which read scopes its
// writes affect.
type Tx struct {
	tenantID string
	inner    domain.LedgerTx
	scopes   map[string]struct{}
}

// TenantID returns the tenant the transaction is bound to.
func (t *Tx) TenantID() string { return t.tenantID }

func (t *Tx) touch(scopes ...string) {
	for _, s := range scopes {
		t.scopes[s] = struct{}{}
	}
}

// ActivePositions reads the tenant's active positions inside the transaction.
func (t *Tx) ActivePositions(ctx context.Context) ([]domain.Position, error) {
	return t.inner.ActivePositions(ctx)
}

// TradesBetween reads trades with exit_time in [from, to).
func (t *Tx) TradesBetween(ctx context.Context, from, to time.Time) ([]domain.Trade, error) {
	return t.inner.TradesBetween(ctx, from, to)
}

// TradeTotals sums trades with exit_time in [from, to).
func (t *Tx) TradeTotals(ctx context.Context, from, to time.Time) (domain.TradeTotals, error) {
	return t.inner.TradeTotals(ctx, from, to)
}

// DailyStat reads one trading day's aggregate inside the transaction.
func (t *Tx) DailyStat(ctx context.Context, date string) (domain.DailyStat, error) {
	return t.inner.DailyStat(ctx, date)
}

// InsertPosition opens a new active position.
func (t *Tx) InsertPosition(ctx context.Context, p domain.Position) (domain.Position, error) {
	p.TenantID = t.tenantID
	out, err := t.inner.InsertPosition(ctx, p)
	if err != nil {
		return domain.Position{}, err
	}
	t.touch(domain.ScopePositions)
	return out, nil
}

// UpdatePosition rewrites the mutable fields of an active position.
func (t *Tx) UpdatePosition(ctx context.Context, p domain.Position) error {
	p.TenantID = t.tenantID
	if err := t.inner.UpdatePosition(ctx, p); err != nil {
		return err
	}
	t.touch(domain.ScopePositions)
	return nil
}

// DeactivatePosition marks a position closed.
func (t *Tx) DeactivatePosition(ctx context.Context, id int64, exitPrice float64, closedAt time.Time) error {
	if err := t.inner.DeactivatePosition(ctx, id, exitPrice, closedAt); err != nil {
		return err
	}
	t.touch(domain.ScopePositions)
	return nil
}

// InsertTrade appends a closed trade.
func (t *Tx) InsertTrade(ctx context.Context, tr domain.Trade) (domain.Trade, error) {
	tr.TenantID = t.tenantID
	out, err := t.inner.InsertTrade(ctx, tr)
	if err != nil {
		return domain.Trade{}, err
	}
	t.touch(domain.ScopeTrades, domain.ScopePnL)
	return out, nil
}

// UpsertDailyStat writes one trading day's aggregate.
func (t *Tx) UpsertDailyStat(ctx context.Context, s domain.DailyStat) error {
	s.TenantID = t.tenantID
	if err := t.inner.UpsertDailyStat(ctx, s); err != nil {
		return err
	}
	t.touch(domain.ScopeStats)
	return nil
}

// Audit appends an audit entry inside the transaction.
func (t *Tx) Audit(ctx context.Context, action string, detail map[string]any) error {
	return t.inner.Audit(ctx, action, detail)
}
