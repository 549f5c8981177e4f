package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/tradeledger/internal/domain"
	"github.com/alanyoungcy/tradeledger/internal/ledger"
)

// ActionPositionsReconciled is the audit action of a position pass.
const ActionPositionsReconciled = "reconcile.positions"

// PositionReconciler merges the broker's live position snapshot into the
// tenant's active positions. An instrument missing from the snapshot is
// treated as closed at its last synced price.
type PositionReconciler struct {
	base
}

// NewPositionReconciler creates a PositionReconciler writing through store.
func NewPositionReconciler(store *ledger.Store, cfg Config, logger *slog.Logger) *PositionReconciler {
	return &PositionReconciler{base: newBase(store, cfg, logger, "position_reconciler")}
}

// Reconcile runs one pass for tenantID. The whole pass is one transaction;
// on error nothing is written and the error is a *domain.StoreError.
func (r *PositionReconciler) Reconcile(ctx context.Context, tenantID string, views []domain.PositionView) (domain.ReconcileResult, error) {
	var res domain.ReconcileResult
	snap := r.collect(views, &res)

	err := r.store.RunPass(ctx, tenantID, func(ctx context.Context, tx *ledger.Tx) error {
		return r.apply(ctx, tx, snap, &res)
	})
	if err != nil {
		r.logger.ErrorContext(ctx, "position_reconciler: pass failed",
			slog.String("tenant_id", tenantID),
			slog.String("error", err.Error()),
		)
		return domain.ReconcileResult{}, err
	}

	if res.Changed() {
		r.logger.InfoContext(ctx, "position_reconciler: pass committed",
			slog.String("tenant_id", tenantID),
			slog.Int("opened", res.Opened),
			slog.Int("updated", res.Updated),
			slog.Int("closed", res.Closed),
		)
	}
	return res, nil
}

// snapshot is the validated broker snapshot of one pass.
type snapshot struct {
	rows  map[string]domain.PositionView
	order []string
	// held are instruments the broker reported with a malformed row. Their
	// active positions are left untouched rather than closed.
	held map[string]bool
}

// collect validates the snapshot. Rows on excluded exchanges are ignored,
// zero quantities count as absent and the first occurrence of a duplicated
// instrument wins. Malformed rows become warnings and hold their instrument.
func (r *PositionReconciler) collect(views []domain.PositionView, res *domain.ReconcileResult) snapshot {
	snap := snapshot{
		rows: make(map[string]domain.PositionView, len(views)),
		held: make(map[string]bool),
	}
	seen := make(map[string]bool, len(views))

	for _, v := range views {
		v.InstrumentKey = strings.TrimSpace(v.InstrumentKey)
		if r.isExcluded(v.Exchange) {
			res.Ignored++
			continue
		}
		if v.InstrumentKey == "" {
			res.Warn(&domain.ValidationError{Field: "instrument_key", Reason: "missing", Ref: v.TradingSymbol})
			continue
		}
		if v.AveragePrice < 0 || v.LastPrice < 0 {
			res.Warn(&domain.ValidationError{Field: "price", Reason: "negative price", Ref: v.InstrumentKey})
			snap.held[v.InstrumentKey] = true
			continue
		}
		if seen[v.InstrumentKey] {
			res.Warn(&domain.ValidationError{Field: "instrument_key", Reason: "duplicate in snapshot", Ref: v.InstrumentKey})
			continue
		}
		seen[v.InstrumentKey] = true
		if v.Quantity == 0 {
			continue
		}
		snap.rows[v.InstrumentKey] = v
		snap.order = append(snap.order, v.InstrumentKey)
	}

	for _, w := range res.Warnings {
		r.logger.Warn("position_reconciler: rejected row",
			slog.String("ref", w.Ref),
			slog.String("reason", w.Reason),
		)
	}
	return snap
}

func (r *PositionReconciler) apply(ctx context.Context, tx *ledger.Tx, snap snapshot, res *domain.ReconcileResult) error {
	active, err := tx.ActivePositions(ctx)
	if err != nil {
		return fmt.Errorf("reconcile: load active positions: %w", err)
	}
	byKey := make(map[string]domain.Position, len(active))
	for _, p := range active {
		byKey[p.InstrumentKey] = p
	}

	now := r.now().UTC()

	for _, key := range snap.order {
		v := snap.rows[key]
		existing, ok := byKey[key]
		if !ok {
			if _, err := tx.InsertPosition(ctx, positionFromView(v, now)); err != nil {
				return fmt.Errorf("reconcile: open %s: %w", key, err)
			}
			res.Opened++
			continue
		}
		updated, changed := mergeView(existing, v)
		if !changed {
			continue
		}
		if err := tx.UpdatePosition(ctx, updated); err != nil {
			return fmt.Errorf("reconcile: update %s: %w", key, err)
		}
		res.Updated++
	}

	for _, p := range active {
		if _, reported := snap.rows[p.InstrumentKey]; reported || snap.held[p.InstrumentKey] || r.isExcluded(p.Exchange) {
			continue
		}
		if err := r.closePosition(ctx, tx, p, now); err != nil {
			return err
		}
		res.Closed++
	}

	if !res.Changed() {
		return nil
	}
	if res.Closed > 0 {
		if err := r.refreshDailyStats(ctx, tx, []time.Time{r.cal.DayStart(now)}, res); err != nil {
			return err
		}
	}
	return tx.Audit(ctx, ActionPositionsReconciled, map[string]any{
		"opened":   res.Opened,
		"updated":  res.Updated,
		"closed":   res.Closed,
		"ignored":  res.Ignored,
		"rejected": res.Rejected,
	})
}

// closePosition deactivates p at its exit price and books the round trip.
func (r *PositionReconciler) closePosition(ctx context.Context, tx *ledger.Tx, p domain.Position, now time.Time) error {
	exit := p.ExitPrice()
	if err := tx.DeactivatePosition(ctx, p.ID, exit, now); err != nil {
		return fmt.Errorf("reconcile: close %s: %w", p.InstrumentKey, err)
	}

	pnl := realizedPnL(p.EntryPrice, exit, p.Quantity)
	id := p.ID
	if _, err := tx.InsertTrade(ctx, domain.Trade{
		PositionID:      &id,
		InstrumentKey:   p.InstrumentKey,
		TradingSymbol:   p.TradingSymbol,
		Exchange:        p.Exchange,
		EntryTime:       p.EntryTime,
		ExitTime:        now,
		EntryPrice:      p.EntryPrice,
		ExitPrice:       exit,
		Quantity:        p.Quantity,
		TransactionType: p.TransactionType,
		RealizedPnL:     pnl,
		IsProfit:        pnl > 0,
		ExitType:        domain.ExitSyncedPositionClose,
	}); err != nil {
		return fmt.Errorf("reconcile: book close of %s: %w", p.InstrumentKey, err)
	}

	r.logger.InfoContext(ctx, "position_reconciler: position closed",
		slog.String("tenant_id", tx.TenantID()),
		slog.String("instrument_key", p.InstrumentKey),
		slog.Int64("quantity", p.Quantity),
		slog.Float64("exit_price", exit),
		slog.Float64("realized_pnl", pnl),
	)
	return nil
}

func positionFromView(v domain.PositionView, now time.Time) domain.Position {
	return domain.Position{
		InstrumentKey:   v.InstrumentKey,
		TradingSymbol:   v.TradingSymbol,
		Exchange:        v.Exchange,
		EntryTime:       now,
		EntryPrice:      v.AveragePrice,
		Quantity:        v.Quantity,
		TransactionType: domain.SideForQuantity(v.Quantity),
		LastSyncedPrice: v.LastPrice,
		UnrealizedPnL:   unrealizedPnL(v.AveragePrice, v.LastPrice, v.Quantity),
	}
}

// mergeView applies the snapshot row to p and reports whether any tracked
// field changed. A sign flip updates the row in place and keeps EntryTime;
// the closed leg is booked by the order pass from its fills.
func mergeView(p domain.Position, v domain.PositionView) (domain.Position, bool) {
	side := domain.SideForQuantity(v.Quantity)
	changed := p.Quantity != v.Quantity ||
		p.EntryPrice != v.AveragePrice ||
		p.LastSyncedPrice != v.LastPrice ||
		p.TransactionType != side
	if !changed {
		return p, false
	}
	p.Quantity = v.Quantity
	p.EntryPrice = v.AveragePrice
	p.LastSyncedPrice = v.LastPrice
	p.TransactionType = side
	p.UnrealizedPnL = unrealizedPnL(v.AveragePrice, v.LastPrice, v.Quantity)
	if v.TradingSymbol != "" {
		p.TradingSymbol = v.TradingSymbol
	}
	if v.Exchange != "" {
		p.Exchange = v.Exchange
	}
	return p, true
}
