package reconcile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradeledger/internal/domain"
)

func completeFill(id string, side domain.TransactionType, qty int64, price float64, at string) domain.OrderFill {
	return domain.OrderFill{
		OrderID:         id,
		InstrumentKey:   "NFO|NIFTY26JAN24000CE",
		Exchange:        "NFO",
		Status:          "COMPLETE",
		TransactionType: side,
		Quantity:        qty,
		Price:           price,
		FilledAt:        at,
	}
}

func TestOrderReconciler_FIFOMatchesEarliestOpensFirst(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	fills := []domain.OrderFill{
		completeFill("1", domain.TransactionBuy, 50, 100, "2026-01-14 09:20:00"),
		completeFill("2", domain.TransactionBuy, 50, 102, "2026-01-14 10:05:00"),
		completeFill("3", domain.TransactionSell, 100, 110, "2026-01-14 14:30:00"),
	}

	res, err := f.orders.Reconcile(ctx, testTenant, fills)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Created)
	assert.Zero(t, res.Unmatched)

	trades := f.tradesOn(t, "2026-01-14")
	require.Len(t, trades, 2)
	byEntry := map[float64]domain.Trade{}
	for _, tr := range trades {
		byEntry[tr.EntryPrice] = tr
		assert.Equal(t, domain.ExitOrderMatch, tr.ExitType)
		assert.Equal(t, int64(50), tr.Quantity)
		assert.Equal(t, 110.0, tr.ExitPrice)
		assert.Nil(t, tr.PositionID)
	}
	assert.InDelta(t, 500.0, byEntry[100].RealizedPnL, 1e-9)
	assert.InDelta(t, 400.0, byEntry[102].RealizedPnL, 1e-9)

	require.Len(t, res.DailyStats, 1)
	assert.InDelta(t, 900.0, res.DailyStats[0].TotalRealizedPnL, 1e-9)
	assert.Equal(t, 2, res.DailyStats[0].NumberOfTrades)
}

func TestOrderReconciler_IdempotentResync(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	fills := []domain.OrderFill{
		completeFill("1", domain.TransactionBuy, 50, 100, "2026-01-14 09:20:00"),
		completeFill("2", domain.TransactionBuy, 50, 102, "2026-01-14 10:05:00"),
		completeFill("3", domain.TransactionSell, 100, 110, "2026-01-14 14:30:00"),
	}

	_, err := f.orders.Reconcile(ctx, testTenant, fills)
	require.NoError(t, err)
	writes := f.inv.count()

	res, err := f.orders.Reconcile(ctx, testTenant, fills)
	require.NoError(t, err)
	assert.Zero(t, res.Created)
	assert.Equal(t, 2, res.Skipped)
	assert.Len(t, f.tradesOn(t, "2026-01-14"), 2)
	assert.Equal(t, writes, f.inv.count(), "a re-sync invalidates nothing")
}

func TestOrderReconciler_PartialFillsSplit(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	res, err := f.orders.Reconcile(ctx, testTenant, []domain.OrderFill{
		completeFill("1", domain.TransactionBuy, 100, 100, "2026-01-14 09:20:00"),
		completeFill("2", domain.TransactionSell, 30, 105, "2026-01-14 10:00:00"),
		completeFill("3", domain.TransactionSell, 70, 95, "2026-01-14 11:00:00"),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Created)

	trades := f.tradesOn(t, "2026-01-14")
	require.Len(t, trades, 2)
	assert.Equal(t, int64(30), trades[0].Quantity)
	assert.InDelta(t, 150.0, trades[0].RealizedPnL, 1e-9)
	assert.Equal(t, int64(70), trades[1].Quantity)
	assert.InDelta(t, -350.0, trades[1].RealizedPnL, 1e-9)
	assert.False(t, trades[1].IsProfit)
}

func TestOrderReconciler_ShortRoundTrip(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	_, err := f.orders.Reconcile(ctx, testTenant, []domain.OrderFill{
		completeFill("1", domain.TransactionSell, 10, 200, "2026-01-14 09:20:00"),
		completeFill("2", domain.TransactionBuy, 10, 190, "2026-01-14 09:50:00"),
	})
	require.NoError(t, err)

	trades := f.tradesOn(t, "2026-01-14")
	require.Len(t, trades, 1)
	assert.Equal(t, int64(-10), trades[0].Quantity)
	assert.Equal(t, domain.TransactionSell, trades[0].TransactionType)
	assert.InDelta(t, 100.0, trades[0].RealizedPnL, 1e-9)
	assert.Equal(t, 200.0, trades[0].EntryPrice)
}

func TestOrderReconciler_OrdersByFillTimeNotInputOrder(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	_, err := f.orders.Reconcile(ctx, testTenant, []domain.OrderFill{
		completeFill("3", domain.TransactionSell, 50, 110, "2026-01-14 14:30:00"),
		completeFill("2", domain.TransactionBuy, 50, 102, "2026-01-14 10:05:00"),
		completeFill("1", domain.TransactionBuy, 50, 100, "2026-01-14 09:20:00"),
	})
	require.NoError(t, err)

	trades := f.tradesOn(t, "2026-01-14")
	require.Len(t, trades, 1)
	assert.Equal(t, 100.0, trades[0].EntryPrice)
}

func TestOrderReconciler_FiltersAndRejects(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	open := completeFill("ok", domain.TransactionBuy, 10, 100, "2026-01-14 09:20:00")
	cancelled := completeFill("c", domain.TransactionSell, 10, 100, "2026-01-14 09:30:00")
	cancelled.Status = "CANCELLED"
	equity := completeFill("e", domain.TransactionSell, 10, 100, "2026-01-14 09:30:00")
	equity.Exchange = "NSE"
	noPrice := completeFill("np", domain.TransactionSell, 10, 0, "2026-01-14 09:30:00")
	noQty := completeFill("nq", domain.TransactionSell, 0, 100, "2026-01-14 09:30:00")
	noTime := completeFill("nt", domain.TransactionSell, 10, 100, "")
	badSide := completeFill("bs", "HOLD", 10, 100, "2026-01-14 09:30:00")
	noKey := completeFill("nk", domain.TransactionSell, 10, 100, "2026-01-14 09:30:00")
	noKey.InstrumentKey = ""
	lower := completeFill("lc", "sell", 10, 101, "2026-01-14 09:40:00")
	lower.Status = "complete"

	res, err := f.orders.Reconcile(ctx, testTenant, []domain.OrderFill{
		open, cancelled, equity, noPrice, noQty, noTime, badSide, noKey, lower,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Ignored)
	assert.Equal(t, 5, res.Rejected)
	require.Len(t, res.Warnings, 5)
	assert.Equal(t, "np", res.Warnings[0].Ref)
	assert.Equal(t, 1, res.Created, "case-insensitive status and side")
}

func TestOrderReconciler_UnmatchedLotsWriteNothing(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	res, err := f.orders.Reconcile(ctx, testTenant, []domain.OrderFill{
		completeFill("1", domain.TransactionBuy, 10, 100, "2026-01-14 09:20:00"),
		completeFill("2", domain.TransactionBuy, 5, 101, "2026-01-14 09:25:00"),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Unmatched)
	assert.Zero(t, res.Created)
	assert.Zero(t, f.inv.count())
}

func TestOrderReconciler_LossLimitTripsOnce(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	res, err := f.orders.Reconcile(ctx, testTenant, []domain.OrderFill{
		completeFill("1", domain.TransactionBuy, 100, 200, "2026-01-14 09:20:00"),
		completeFill("2", domain.TransactionSell, 100, 140, "2026-01-14 09:50:00"),
	})
	require.NoError(t, err)
	require.Len(t, res.DailyStats, 1)
	st := res.DailyStats[0]
	assert.InDelta(t, -6000.0, st.TotalRealizedPnL, 1e-9)
	assert.InDelta(t, 6000.0, st.DailyLossUsed, 1e-9)
	assert.True(t, st.LossLimitHit)
	assert.Equal(t, []string{"2026-01-14"}, res.LossLimitTripped)

	res, err = f.orders.Reconcile(ctx, testTenant, []domain.OrderFill{
		completeFill("3", domain.TransactionBuy, 10, 100, "2026-01-14 11:00:00"),
		completeFill("4", domain.TransactionSell, 10, 99, "2026-01-14 11:30:00"),
	})
	require.NoError(t, err)
	require.Len(t, res.DailyStats, 1)
	assert.True(t, res.DailyStats[0].LossLimitHit)
	assert.Empty(t, res.LossLimitTripped, "already hit earlier in the day")
}

func TestOrderReconciler_TradingDayUsesExchangeZone(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	// 00:30 IST on the 15th is still the 14th in UTC.
	_, err := f.orders.Reconcile(ctx, testTenant, []domain.OrderFill{
		completeFill("1", domain.TransactionBuy, 1, 10, "2026-01-15 00:10:00"),
		completeFill("2", domain.TransactionSell, 1, 11, "2026-01-15 00:30:00"),
	})
	require.NoError(t, err)
	assert.Empty(t, f.tradesOn(t, "2026-01-14"))
	assert.Len(t, f.tradesOn(t, "2026-01-15"), 1)
}

func TestDailyStatFor(t *testing.T) {
	st := DailyStatFor("2026-01-14", domain.TradeTotals{Count: 3, RealizedPnL: 1200}, 5000)
	assert.Zero(t, st.DailyLossUsed)
	assert.False(t, st.LossLimitHit)

	st = DailyStatFor("2026-01-14", domain.TradeTotals{Count: 1, RealizedPnL: -5000}, 5000)
	assert.Equal(t, 5000.0, st.DailyLossUsed)
	assert.True(t, st.LossLimitHit)

	st = DailyStatFor("2026-01-14", domain.TradeTotals{RealizedPnL: -10}, 0)
	assert.False(t, st.LossLimitHit, "no limit configured")
}
