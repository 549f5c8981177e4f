package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradeledger/internal/domain"
)

func setupTestStore(t *testing.T) *LedgerStore {
	t.Helper()
	ctx := context.Background()
	client, err := New(ctx, ClientConfig{Path: MemoryPath})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.RunMigrations(ctx))
	require.NoError(t, client.RunMigrations(ctx), "migrations are idempotent")
	return NewLedgerStore(client)
}

func TestLedgerStore_PositionLifecycle(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	entry := time.Date(2026, 1, 14, 3, 45, 0, 0, time.UTC)

	var opened domain.Position
	err := store.WithTx(ctx, "acct-1", func(tx domain.LedgerTx) error {
		var err error
		opened, err = tx.InsertPosition(ctx, domain.Position{
			InstrumentKey:   "NSE_FO|35001",
			Exchange:        "NFO",
			EntryTime:       entry,
			EntryPrice:      100,
			Quantity:        75,
			TransactionType: domain.TransactionBuy,
			LastSyncedPrice: 101,
		})
		return err
	})
	require.NoError(t, err)
	assert.NotZero(t, opened.ID)

	active, err := store.ActivePositions(ctx, "acct-1")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "NSE_FO|35001", active[0].InstrumentKey)
	assert.True(t, active[0].IsActive)
	assert.True(t, entry.Equal(active[0].EntryTime))
	assert.Equal(t, int64(75), active[0].Quantity)

	others, err := store.ActivePositions(ctx, "acct-2")
	require.NoError(t, err)
	assert.Empty(t, others, "positions are tenant scoped")

	err = store.WithTx(ctx, "acct-1", func(tx domain.LedgerTx) error {
		return tx.DeactivatePosition(ctx, opened.ID, 104, entry.Add(time.Hour))
	})
	require.NoError(t, err)

	active, err = store.ActivePositions(ctx, "acct-1")
	require.NoError(t, err)
	assert.Empty(t, active)

	err = store.WithTx(ctx, "acct-1", func(tx domain.LedgerTx) error {
		return tx.DeactivatePosition(ctx, opened.ID, 104, entry)
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLedgerStore_OneActivePositionPerInstrument(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	pos := domain.Position{
		InstrumentKey:   "MCX_FO|1",
		EntryTime:       time.Now(),
		EntryPrice:      10,
		Quantity:        1,
		TransactionType: domain.TransactionBuy,
	}

	err := store.WithTx(ctx, "acct-1", func(tx domain.LedgerTx) error {
		if _, err := tx.InsertPosition(ctx, pos); err != nil {
			return err
		}
		_, err := tx.InsertPosition(ctx, pos)
		return err
	})
	require.Error(t, err)

	active, err := store.ActivePositions(ctx, "acct-1")
	require.NoError(t, err)
	assert.Empty(t, active, "failed transaction leaves the ledger unchanged")
}

func TestLedgerStore_TradesAndTotals(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	day := time.Date(2026, 1, 14, 0, 0, 0, 0, time.UTC)

	trades := []domain.Trade{
		{InstrumentKey: "A", EntryTime: day.Add(time.Hour), ExitTime: day.Add(2 * time.Hour), EntryPrice: 100, ExitPrice: 110, Quantity: 50, TransactionType: domain.TransactionBuy, RealizedPnL: 500, IsProfit: true, ExitType: domain.ExitOrderMatch},
		{InstrumentKey: "A", EntryTime: day.Add(time.Hour), ExitTime: day.Add(3 * time.Hour), EntryPrice: 100, ExitPrice: 90, Quantity: 20, TransactionType: domain.TransactionBuy, RealizedPnL: -200, ExitType: domain.ExitOrderMatch},
		{InstrumentKey: "B", EntryTime: day.Add(-time.Hour), ExitTime: day.Add(-time.Minute), EntryPrice: 5, ExitPrice: 6, Quantity: 10, TransactionType: domain.TransactionBuy, RealizedPnL: 10, IsProfit: true, ExitType: domain.ExitManual},
	}
	err := store.WithTx(ctx, "acct-1", func(tx domain.LedgerTx) error {
		for _, tr := range trades {
			if _, err := tx.InsertTrade(ctx, tr); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	got, err := store.TradesBetween(ctx, "acct-1", day, day.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 500.0, got[0].RealizedPnL)
	assert.Equal(t, domain.ExitOrderMatch, got[0].ExitType)

	sum, err := store.SumRealizedPnL(ctx, "acct-1", day, day.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, 300.0, sum)

	sum, err = store.SumRealizedPnL(ctx, "acct-1", time.Date(1, 1, 1, 0, 0, 0, 0, time.UTC), day.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, 310.0, sum)

	empty, err := store.SumRealizedPnL(ctx, "acct-9", day, day.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Zero(t, empty)

	before, err := store.ListTradesBefore(ctx, "acct-1", day)
	require.NoError(t, err)
	require.Len(t, before, 1)
	assert.Equal(t, "B", before[0].InstrumentKey)

	tenants, err := store.ListTenants(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"acct-1"}, tenants)
}

func TestLedgerStore_DailyStatUpsertAndAudit(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_, err := store.DailyStat(ctx, "acct-1", "2026-01-14")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	for _, pnl := range []float64{-1000, -6000} {
		err := store.WithTx(ctx, "acct-1", func(tx domain.LedgerTx) error {
			if err := tx.UpsertDailyStat(ctx, domain.DailyStat{
				Date:             "2026-01-14",
				TotalRealizedPnL: pnl,
				NumberOfTrades:   2,
				DailyLossUsed:    -pnl,
				DailyLossLimit:   5000,
				LossLimitHit:     -pnl >= 5000,
			}); err != nil {
				return err
			}
			return tx.Audit(ctx, "daily_stats_updated", map[string]any{"pnl": pnl})
		})
		require.NoError(t, err)
	}

	st, err := store.DailyStat(ctx, "acct-1", "2026-01-14")
	require.NoError(t, err)
	assert.Equal(t, -6000.0, st.TotalRealizedPnL)
	assert.True(t, st.LossLimitHit)

	require.NoError(t, store.AppendAudit(ctx, "acct-1", "archive.trades", nil))

	entries, err := store.ListAudit(ctx, "acct-1", domain.ListOpts{Limit: 10})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "archive.trades", entries[0].Action)
	assert.Equal(t, -6000.0, entries[1].Detail["pnl"])
}
