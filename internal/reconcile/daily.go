package reconcile

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/alanyoungcy/tradeledger/internal/domain"
	"github.com/alanyoungcy/tradeledger/internal/ledger"
)

// DailyStatFor derives one trading day's aggregate from its trade totals.
// Only losses count against the limit.
func DailyStatFor(date string, totals domain.TradeTotals, limit float64) domain.DailyStat {
	used := math.Max(0, -totals.RealizedPnL)
	return domain.DailyStat{
		Date:             date,
		TotalRealizedPnL: totals.RealizedPnL,
		NumberOfTrades:   totals.Count,
		DailyLossUsed:    used,
		DailyLossLimit:   limit,
		LossLimitHit:     limit > 0 && used >= limit,
	}
}

// refreshDailyStats recomputes the stats of every trading day in days inside
// tx and records them, plus any day whose limit flipped on, in res.
func (b *base) refreshDailyStats(ctx context.Context, tx *ledger.Tx, days []time.Time, res *domain.ReconcileResult) error {
	for _, day := range days {
		date := b.cal.Date(day)
		from, to := b.cal.DayRange(day)

		prev, err := tx.DailyStat(ctx, date)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("reconcile: read daily stat %s: %w", date, err)
		}

		totals, err := tx.TradeTotals(ctx, from, to)
		if err != nil {
			return fmt.Errorf("reconcile: trade totals %s: %w", date, err)
		}
		st := DailyStatFor(date, totals, b.lossLimit)
		if err := tx.UpsertDailyStat(ctx, st); err != nil {
			return fmt.Errorf("reconcile: upsert daily stat %s: %w", date, err)
		}

		st.TenantID = tx.TenantID()
		res.DailyStats = append(res.DailyStats, st)
		if st.LossLimitHit && !prev.LossLimitHit {
			res.LossLimitTripped = append(res.LossLimitTripped, date)
		}
	}
	return nil
}
