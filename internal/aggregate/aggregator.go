// Package aggregate computes cumulative realized P&L over calendar windows.
package aggregate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/tradeledger/internal/cache/querycache"
	"github.com/alanyoungcy/tradeledger/internal/domain"
	"github.com/alanyoungcy/tradeledger/internal/ledger"
)

// epoch is the start of the all-time window.
var epoch = time.Date(1, time.January, 1, 0, 0, 0, 0, time.UTC)

// Window names, also used in cache keys.
const (
	WindowDay     = "day"
	WindowWeek    = "week"
	WindowMonth   = "month"
	WindowYear    = "year"
	WindowAllTime = "all_time"
)

// Aggregator sums realized P&L of a tenant's trades. Every window is cached
// on its own under the pnl scope.
type Aggregator struct {
	reader domain.LedgerReader
	cache  *querycache.Cache
	cal    ledger.Calendar
	ttl    time.Duration
	logger *slog.Logger
}

// New creates an Aggregator. ttl applies to each cached window.
func New(reader domain.LedgerReader, cache *querycache.Cache, cal ledger.Calendar, ttl time.Duration, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		reader: reader,
		cache:  cache,
		cal:    cal,
		ttl:    ttl,
		logger: logger.With(slog.String("component", "aggregator")),
	}
}

// Window is a half-open [Start, End) range.
type Window struct {
	Name  string
	Start time.Time
	End   time.Time
}

// Windows returns the five windows ending with asOf's trading day.
func (a *Aggregator) Windows(asOf time.Time) []Window {
	_, end := a.cal.DayRange(asOf)
	return []Window{
		{Name: WindowDay, Start: a.cal.DayStart(asOf), End: end},
		{Name: WindowWeek, Start: a.cal.WeekStart(asOf), End: end},
		{Name: WindowMonth, Start: a.cal.MonthStart(asOf), End: end},
		{Name: WindowYear, Start: a.cal.YearStart(asOf), End: end},
		{Name: WindowAllTime, Start: epoch, End: end},
	}
}

// CumulativePnl returns the realized P&L of the day, week (from Monday),
// month, year and all time up to and including asOf's trading day. Windows
// without trades are zero.
func (a *Aggregator) CumulativePnl(ctx context.Context, tenantID string, asOf time.Time) (domain.PnlSummary, error) {
	windows := a.Windows(asOf)
	sums := make([]float64, len(windows))

	g, gctx := errgroup.WithContext(ctx)
	for i, w := range windows {
		g.Go(func() error {
			v, err := a.windowSum(gctx, tenantID, w)
			if err != nil {
				return err
			}
			sums[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return domain.PnlSummary{}, fmt.Errorf("aggregate: cumulative pnl %s: %w", tenantID, err)
	}

	return domain.PnlSummary{
		AsOf:    a.cal.Date(asOf),
		Day:     sums[0],
		Week:    sums[1],
		Month:   sums[2],
		Year:    sums[3],
		AllTime: sums[4],
	}, nil
}

func (a *Aggregator) windowSum(ctx context.Context, tenantID string, w Window) (float64, error) {
	key := querycache.Key{
		Scope: domain.ScopePnL,
		Name:  "sum_realized_pnl",
		Args:  w.Name + ":" + w.Start.UTC().Format(time.RFC3339) + ":" + w.End.UTC().Format(time.RFC3339),
	}
	return querycache.Get(ctx, a.cache, tenantID, key, a.ttl, func(ctx context.Context) (float64, error) {
		return a.reader.SumRealizedPnL(ctx, tenantID, w.Start, w.End)
	})
}
