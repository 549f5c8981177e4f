package reconcile

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradeledger/internal/domain"
	"github.com/alanyoungcy/tradeledger/internal/ledger"
	"github.com/alanyoungcy/tradeledger/internal/store/sqlite"
)

const testTenant = "acct-1"

type invalidation struct {
	tenantID string
	scopes   []string
}

type recordingInvalidator struct {
	mu    sync.Mutex
	calls []invalidation
}

func (r *recordingInvalidator) Invalidate(tenantID string, scopes ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, invalidation{tenantID: tenantID, scopes: scopes})
}

func (r *recordingInvalidator) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *recordingInvalidator) last() invalidation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[len(r.calls)-1]
}

type fixture struct {
	store     *ledger.Store
	inv       *recordingInvalidator
	cal       ledger.Calendar
	positions *PositionReconciler
	orders    *OrderReconciler
	now       time.Time
}

func setupFixture(t *testing.T) *fixture {
	t.Helper()
	return setupFixtureWith(t, nil)
}

// setupFixtureWith lets a test wrap the sqlite backend before the store
// is built on top of it.
func setupFixtureWith(t *testing.T, wrap func(domain.LedgerBackend) domain.LedgerBackend) *fixture {
	t.Helper()
	ctx := context.Background()

	client, err := sqlite.New(ctx, sqlite.ClientConfig{Path: sqlite.MemoryPath})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.RunMigrations(ctx))

	cal, err := ledger.NewCalendar("Asia/Kolkata")
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	inv := &recordingInvalidator{}
	var backend domain.LedgerBackend = sqlite.NewLedgerStore(client)
	if wrap != nil {
		backend = wrap(backend)
	}
	store := ledger.NewStore(backend, inv, 5*time.Second, logger)
	cfg := Config{
		Calendar:          cal,
		ExcludedExchanges: []string{"NSE", "BSE"},
		DailyLossLimit:    5000,
	}

	f := &fixture{
		store:     store,
		inv:       inv,
		cal:       cal,
		positions: NewPositionReconciler(store, cfg, logger),
		orders:    NewOrderReconciler(store, cfg, logger),
		now:       time.Date(2026, 1, 14, 6, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }
	f.positions.SetClock(clock)
	f.orders.SetClock(clock)
	return f
}

func (f *fixture) tradesOn(t *testing.T, date string) []domain.Trade {
	t.Helper()
	day, err := f.cal.ParseDate(date)
	require.NoError(t, err)
	from, to := f.cal.DayRange(day)
	trades, err := f.store.Reader().TradesBetween(context.Background(), testTenant, from, to)
	require.NoError(t, err)
	return trades
}

func (f *fixture) active(t *testing.T) []domain.Position {
	t.Helper()
	positions, err := f.store.Reader().ActivePositions(context.Background(), testTenant)
	require.NoError(t, err)
	return positions
}
