package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/alanyoungcy/tradeledger/internal/domain"
	"github.com/alanyoungcy/tradeledger/internal/ledger"
)

// ActionOrdersReconciled is the audit action of an order pass.
const ActionOrdersReconciled = "reconcile.orders"

// OrderReconciler turns completed order fills into closed trades by FIFO
// matching per instrument. Re-running it over the same fills creates nothing.
type OrderReconciler struct {
	base
}

// NewOrderReconciler creates an OrderReconciler writing through store.
func NewOrderReconciler(store *ledger.Store, cfg Config, logger *slog.Logger) *OrderReconciler {
	return &OrderReconciler{base: newBase(store, cfg, logger, "order_reconciler")}
}

// Reconcile runs one pass for tenantID. Malformed fills are skipped and
// reported as warnings; a store failure rolls the pass back and returns a
// *domain.StoreError.
func (r *OrderReconciler) Reconcile(ctx context.Context, tenantID string, fills []domain.OrderFill) (domain.ReconcileResult, error) {
	var res domain.ReconcileResult
	valid := r.collect(ctx, tenantID, fills, &res)

	trips, open := matchAll(valid)
	res.Unmatched = open
	if len(trips) == 0 {
		return res, nil
	}

	err := r.store.RunPass(ctx, tenantID, func(ctx context.Context, tx *ledger.Tx) error {
		return r.apply(ctx, tx, trips, &res)
	})
	if err != nil {
		r.logger.ErrorContext(ctx, "order_reconciler: pass failed",
			slog.String("tenant_id", tenantID),
			slog.String("error", err.Error()),
		)
		return domain.ReconcileResult{}, err
	}

	if res.Created > 0 {
		r.logger.InfoContext(ctx, "order_reconciler: pass committed",
			slog.String("tenant_id", tenantID),
			slog.Int("created", res.Created),
			slog.Int("skipped", res.Skipped),
			slog.Int("unmatched", res.Unmatched),
		)
	}
	return res, nil
}

// collect keeps completed fills on non-excluded exchanges and validates
// them. Everything else is counted as ignored or rejected.
func (r *OrderReconciler) collect(ctx context.Context, tenantID string, fills []domain.OrderFill, res *domain.ReconcileResult) []fill {
	loc := r.cal.Location()
	out := make([]fill, 0, len(fills))

	for _, f := range fills {
		if !strings.EqualFold(strings.TrimSpace(f.Status), domain.OrderStatusComplete) || r.isExcluded(f.Exchange) {
			res.Ignored++
			continue
		}
		parsed, err := parseFill(f, loc)
		if err != nil {
			var verr *domain.ValidationError
			if !errors.As(err, &verr) {
				verr = &domain.ValidationError{Field: "fill", Reason: err.Error()}
			}
			if verr.Ref == "" {
				verr.Ref = firstNonEmpty(f.OrderID, f.InstrumentKey)
			}
			res.Warn(verr)
			r.logger.WarnContext(ctx, "order_reconciler: rejected fill",
				slog.String("tenant_id", tenantID),
				slog.String("order_id", f.OrderID),
				slog.String("reason", verr.Error()),
			)
			continue
		}
		out = append(out, parsed)
	}
	return out
}

func parseFill(f domain.OrderFill, loc *time.Location) (fill, error) {
	key := strings.TrimSpace(f.InstrumentKey)
	if key == "" {
		return fill{}, &domain.ValidationError{Field: "instrument_key", Reason: "missing"}
	}
	side := domain.TransactionType(strings.ToUpper(strings.TrimSpace(string(f.TransactionType))))
	if !side.Valid() {
		return fill{}, &domain.ValidationError{Field: "transaction_type", Reason: fmt.Sprintf("want BUY or SELL, got %q", f.TransactionType)}
	}
	if f.Quantity <= 0 {
		return fill{}, &domain.ValidationError{Field: "quantity", Reason: "must be positive"}
	}
	if f.Price <= 0 {
		return fill{}, &domain.ValidationError{Field: "price", Reason: "must be positive"}
	}
	at, err := ParseFillTime(f.FilledAt, loc)
	if err != nil {
		return fill{}, err
	}
	return fill{
		orderID:       f.OrderID,
		instrumentKey: key,
		tradingSymbol: f.TradingSymbol,
		exchange:      f.Exchange,
		side:          side,
		qty:           f.Quantity,
		price:         f.Price,
		at:            at,
	}, nil
}

// matchAll groups fills per instrument and matches each group.
func matchAll(fills []fill) ([]roundTrip, int) {
	groups := make(map[string][]fill)
	for _, f := range fills {
		groups[f.instrumentKey] = append(groups[f.instrumentKey], f)
	}
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var trips []roundTrip
	open := 0
	for _, k := range keys {
		t, n := matchFIFO(groups[k])
		trips = append(trips, t...)
		open += n
	}
	return trips, open
}

func (r *OrderReconciler) apply(ctx context.Context, tx *ledger.Tx, trips []roundTrip, res *domain.ReconcileResult) error {
	exits := make([]time.Time, len(trips))
	for i, rt := range trips {
		exits[i] = rt.close.at
	}
	days := r.cal.Days(exits)
	from := days[0]
	_, to := r.cal.DayRange(days[len(days)-1])

	existing, err := tx.TradesBetween(ctx, from, to)
	if err != nil {
		return fmt.Errorf("reconcile: load existing trades: %w", err)
	}
	known := newTradeSet(existing)

	var touched []time.Time
	for _, rt := range trips {
		t := rt.trade()
		if known.take(keyOf(t)) {
			res.Skipped++
			continue
		}
		if _, err := tx.InsertTrade(ctx, t); err != nil {
			return fmt.Errorf("reconcile: insert trade %s: %w", t.InstrumentKey, err)
		}
		res.Created++
		touched = append(touched, t.ExitTime)
	}

	if res.Created == 0 {
		return nil
	}
	if err := r.refreshDailyStats(ctx, tx, r.cal.Days(touched), res); err != nil {
		return err
	}
	return tx.Audit(ctx, ActionOrdersReconciled, map[string]any{
		"created":   res.Created,
		"skipped":   res.Skipped,
		"unmatched": res.Unmatched,
		"ignored":   res.Ignored,
		"rejected":  res.Rejected,
		"from":      r.cal.Date(from),
		"to":        r.cal.Date(days[len(days)-1]),
	})
}
