// Package reconcile merges broker snapshots into the tenant ledger. The
// position reconciler syncs live holdings; the order reconciler FIFO-matches
// completed fills into closed trades. Both are idempotent over repeated
// identical inputs and perform no network I/O.
package reconcile

import (
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/tradeledger/internal/ledger"
)

// DefaultDailyLossLimit applies when Config.DailyLossLimit is zero.
const DefaultDailyLossLimit = 5000.0

// Config holds settings shared by both reconcilers.
type Config struct {
	Calendar          ledger.Calendar
	ExcludedExchanges []string // equity segments never opened or matched
	DailyLossLimit    float64
}

// base carries what both reconcilers need.
type base struct {
	store     *ledger.Store
	cal       ledger.Calendar
	excluded  map[string]bool
	lossLimit float64
	now       func() time.Time
	logger    *slog.Logger
}

func newBase(store *ledger.Store, cfg Config, logger *slog.Logger, component string) base {
	excluded := make(map[string]bool, len(cfg.ExcludedExchanges))
	for _, ex := range cfg.ExcludedExchanges {
		excluded[strings.ToUpper(strings.TrimSpace(ex))] = true
	}
	limit := cfg.DailyLossLimit
	if limit == 0 {
		limit = DefaultDailyLossLimit
	}
	return base{
		store:     store,
		cal:       cfg.Calendar,
		excluded:  excluded,
		lossLimit: limit,
		now:       time.Now,
		logger:    logger.With(slog.String("component", component)),
	}
}

func (b *base) isExcluded(exchange string) bool {
	return b.excluded[strings.ToUpper(strings.TrimSpace(exchange))]
}

// SetClock replaces time.Now, mainly for tests.
func (b *base) SetClock(now func() time.Time) {
	b.now = now
}
