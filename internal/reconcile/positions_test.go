package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradeledger/internal/domain"
)

func TestPositionReconciler_IdempotentSnapshot(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	views := []domain.PositionView{
		{InstrumentKey: "NFO|NIFTY26JAN24000CE", Exchange: "NFO", Quantity: 75, AveragePrice: 100, LastPrice: 101},
		{InstrumentKey: "NFO|NIFTY26JAN24000PE", Exchange: "NFO", Quantity: -50, AveragePrice: 80, LastPrice: 78},
	}

	first, err := f.positions.Reconcile(ctx, testTenant, views)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Opened)
	assert.Equal(t, 1, f.inv.count())
	assert.Equal(t, []string{domain.ScopePositions}, f.inv.last().scopes)

	second, err := f.positions.Reconcile(ctx, testTenant, views)
	require.NoError(t, err)
	assert.Zero(t, second.Opened)
	assert.Zero(t, second.Updated)
	assert.Zero(t, second.Closed)
	assert.Equal(t, 1, f.inv.count(), "an unchanged snapshot writes nothing")

	active := f.active(t)
	require.Len(t, active, 2)
	for _, p := range active {
		if p.Quantity < 0 {
			assert.Equal(t, domain.TransactionSell, p.TransactionType)
			assert.InDelta(t, 100.0, p.UnrealizedPnL, 1e-9) // (78-80) * -50
		}
	}
}

func TestPositionReconciler_UpdatesChangedFields(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	key := "NFO|BANKNIFTY26JAN52000CE"

	_, err := f.positions.Reconcile(ctx, testTenant, []domain.PositionView{
		{InstrumentKey: key, Exchange: "NFO", Quantity: 30, AveragePrice: 200, LastPrice: 201},
	})
	require.NoError(t, err)

	res, err := f.positions.Reconcile(ctx, testTenant, []domain.PositionView{
		{InstrumentKey: key, Exchange: "NFO", Quantity: 30, AveragePrice: 200, LastPrice: 210},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)

	active := f.active(t)
	require.Len(t, active, 1)
	assert.Equal(t, 210.0, active[0].LastSyncedPrice)
	assert.InDelta(t, 300.0, active[0].UnrealizedPnL, 1e-9)
}

func TestPositionReconciler_ClosesMissingAtLastSyncedPrice(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	key := "NFO|NIFTY26JAN24000CE"

	_, err := f.positions.Reconcile(ctx, testTenant, []domain.PositionView{
		{InstrumentKey: key, Exchange: "NFO", Quantity: 75, AveragePrice: 100, LastPrice: 104},
	})
	require.NoError(t, err)
	opened := f.active(t)
	require.Len(t, opened, 1)

	f.now = f.now.Add(time.Hour)
	res, err := f.positions.Reconcile(ctx, testTenant, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Closed)
	assert.Empty(t, f.active(t))

	trades := f.tradesOn(t, "2026-01-14")
	require.Len(t, trades, 1)
	tr := trades[0]
	assert.Equal(t, domain.ExitSyncedPositionClose, tr.ExitType)
	assert.InDelta(t, (104.0-100.0)*75, tr.RealizedPnL, 1e-9)
	assert.True(t, tr.IsProfit)
	require.NotNil(t, tr.PositionID)
	assert.Equal(t, opened[0].ID, *tr.PositionID)

	assert.ElementsMatch(t,
		[]string{domain.ScopePositions, domain.ScopeTrades, domain.ScopePnL, domain.ScopeStats},
		f.inv.last().scopes)

	require.Len(t, res.DailyStats, 1)
	assert.Equal(t, "2026-01-14", res.DailyStats[0].Date)
	assert.Equal(t, 1, res.DailyStats[0].NumberOfTrades)

	stat, err := f.store.Reader().DailyStat(ctx, testTenant, "2026-01-14")
	require.NoError(t, err)
	assert.InDelta(t, 300.0, stat.TotalRealizedPnL, 1e-9)
	assert.False(t, stat.LossLimitHit)

	audit, err := f.store.Reader().ListAudit(ctx, testTenant, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, audit, 2)
	assert.Equal(t, ActionPositionsReconciled, audit[0].Action)
}

func TestPositionReconciler_ClosesUnpricedAtEntry(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	_, err := f.positions.Reconcile(ctx, testTenant, []domain.PositionView{
		{InstrumentKey: "NFO|X", Exchange: "NFO", Quantity: 10, AveragePrice: 50},
	})
	require.NoError(t, err)

	_, err = f.positions.Reconcile(ctx, testTenant, nil)
	require.NoError(t, err)

	trades := f.tradesOn(t, "2026-01-14")
	require.Len(t, trades, 1)
	assert.Equal(t, 50.0, trades[0].ExitPrice)
	assert.Zero(t, trades[0].RealizedPnL)
	assert.False(t, trades[0].IsProfit)
}

func TestPositionReconciler_ShortClose(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	_, err := f.positions.Reconcile(ctx, testTenant, []domain.PositionView{
		{InstrumentKey: "NFO|S", Exchange: "NFO", Quantity: -50, AveragePrice: 200, LastPrice: 190},
	})
	require.NoError(t, err)
	_, err = f.positions.Reconcile(ctx, testTenant, nil)
	require.NoError(t, err)

	trades := f.tradesOn(t, "2026-01-14")
	require.Len(t, trades, 1)
	assert.Equal(t, int64(-50), trades[0].Quantity)
	assert.Equal(t, domain.TransactionSell, trades[0].TransactionType)
	assert.InDelta(t, 500.0, trades[0].RealizedPnL, 1e-9)
}

func TestPositionReconciler_ZeroQuantityCountsAsAbsent(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	key := "NFO|Z"

	_, err := f.positions.Reconcile(ctx, testTenant, []domain.PositionView{
		{InstrumentKey: key, Exchange: "NFO", Quantity: 25, AveragePrice: 100, LastPrice: 98},
	})
	require.NoError(t, err)

	res, err := f.positions.Reconcile(ctx, testTenant, []domain.PositionView{
		{InstrumentKey: key, Exchange: "NFO", Quantity: 0, AveragePrice: 100, LastPrice: 97},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Closed)
	assert.Zero(t, res.Opened)
	assert.Empty(t, f.active(t))

	trades := f.tradesOn(t, "2026-01-14")
	require.Len(t, trades, 1)
	assert.InDelta(t, -50.0, trades[0].RealizedPnL, 1e-9) // closed at last synced 98
}

func TestPositionReconciler_ReappearanceOpensNewPosition(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	view := domain.PositionView{InstrumentKey: "NFO|R", Exchange: "NFO", Quantity: 10, AveragePrice: 10, LastPrice: 11}

	_, err := f.positions.Reconcile(ctx, testTenant, []domain.PositionView{view})
	require.NoError(t, err)
	first := f.active(t)
	require.Len(t, first, 1)

	_, err = f.positions.Reconcile(ctx, testTenant, nil)
	require.NoError(t, err)

	res, err := f.positions.Reconcile(ctx, testTenant, []domain.PositionView{view})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Opened)

	again := f.active(t)
	require.Len(t, again, 1)
	assert.NotEqual(t, first[0].ID, again[0].ID)
}

func TestPositionReconciler_IgnoresExcludedAndRejectsMalformed(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	res, err := f.positions.Reconcile(ctx, testTenant, []domain.PositionView{
		{InstrumentKey: "NSE|RELIANCE", Exchange: "NSE", Quantity: 10, AveragePrice: 2500},
		{InstrumentKey: "", TradingSymbol: "NOKEY", Exchange: "NFO", Quantity: 10, AveragePrice: 1},
		{InstrumentKey: "NFO|NEG", Exchange: "NFO", Quantity: 10, AveragePrice: -1},
		{InstrumentKey: "NFO|OK", Exchange: "NFO", Quantity: 10, AveragePrice: 5},
		{InstrumentKey: "NFO|OK", Exchange: "NFO", Quantity: 20, AveragePrice: 6},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Ignored)
	assert.Equal(t, 3, res.Rejected)
	assert.Len(t, res.Warnings, 3)
	assert.Equal(t, 1, res.Opened)

	active := f.active(t)
	require.Len(t, active, 1)
	assert.Equal(t, int64(10), active[0].Quantity, "first duplicate wins")
}

func TestPositionReconciler_MalformedRowKeepsActivePosition(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	key := "NFO|A"

	_, err := f.positions.Reconcile(ctx, testTenant, []domain.PositionView{
		{InstrumentKey: key, Exchange: "NFO", Quantity: 75, AveragePrice: 100, LastPrice: 120},
	})
	require.NoError(t, err)
	before := f.active(t)
	require.Len(t, before, 1)

	res, err := f.positions.Reconcile(ctx, testTenant, []domain.PositionView{
		{InstrumentKey: key, Exchange: "NFO", Quantity: 75, AveragePrice: 100, LastPrice: -1},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Rejected)
	assert.Zero(t, res.Closed)
	assert.Zero(t, res.Updated)

	assert.Equal(t, before, f.active(t))
	assert.Empty(t, f.tradesOn(t, "2026-01-14"))
	assert.Equal(t, 1, f.inv.count(), "a rejected row writes nothing")

	// A clean row afterwards updates the same position.
	res, err = f.positions.Reconcile(ctx, testTenant, []domain.PositionView{
		{InstrumentKey: key, Exchange: "NFO", Quantity: 75, AveragePrice: 100, LastPrice: 125},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)
	assert.Zero(t, res.Opened)
	after := f.active(t)
	require.Len(t, after, 1)
	assert.Equal(t, before[0].ID, after[0].ID)
}

func TestPositionReconciler_SignFlipUpdatesInPlace(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	key := "NFO|FLIP"

	_, err := f.positions.Reconcile(ctx, testTenant, []domain.PositionView{
		{InstrumentKey: key, Exchange: "NFO", Quantity: 75, AveragePrice: 100, LastPrice: 101},
	})
	require.NoError(t, err)
	opened := f.active(t)
	require.Len(t, opened, 1)

	f.now = f.now.Add(time.Hour)
	res, err := f.positions.Reconcile(ctx, testTenant, []domain.PositionView{
		{InstrumentKey: key, Exchange: "NFO", Quantity: -50, AveragePrice: 103, LastPrice: 102},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)
	assert.Zero(t, res.Closed)

	flipped := f.active(t)
	require.Len(t, flipped, 1)
	p := flipped[0]
	assert.Equal(t, opened[0].ID, p.ID)
	assert.Equal(t, int64(-50), p.Quantity)
	assert.Equal(t, domain.TransactionSell, p.TransactionType)
	assert.Equal(t, 103.0, p.EntryPrice)
	assert.True(t, opened[0].EntryTime.Equal(p.EntryTime), "entry time survives a flip")
	assert.Empty(t, f.tradesOn(t, "2026-01-14"), "the closed leg is booked from order fills")
}

func TestPositionReconciler_TenantsAreIsolated(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	_, err := f.positions.Reconcile(ctx, "acct-2", []domain.PositionView{
		{InstrumentKey: "NFO|A", Exchange: "NFO", Quantity: 5, AveragePrice: 1, LastPrice: 1},
	})
	require.NoError(t, err)

	res, err := f.positions.Reconcile(ctx, testTenant, nil)
	require.NoError(t, err)
	assert.Zero(t, res.Closed, "another tenant's positions are never closed")
}
