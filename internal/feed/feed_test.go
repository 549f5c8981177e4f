package feed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradeledger/internal/domain"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func feedDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "acct-2", PositionsFile), `[]`)
	writeFile(t, filepath.Join(dir, "acct-1", PositionsFile),
		`[{"instrument_key":"NFO|A","exchange":"NFO","quantity":75,"average_price":100,"last_price":101}]`)
	writeFile(t, filepath.Join(dir, "acct-1", OrdersFile),
		`[{"order_id":"1","instrument_key":"NFO|A","status":"COMPLETE","transaction_type":"BUY","quantity":75,"price":100,"filled_at":"2026-01-14 09:20:00"}]`)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "pending"), 0o755))
	writeFile(t, filepath.Join(dir, "README"), "not a tenant")
	return dir
}

func TestDirFeed_Tenants(t *testing.T) {
	d := NewDirFeed(feedDir(t))
	ids, err := d.Tenants(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"acct-1", "acct-2"}, ids)
}

func TestDirFeed_Snapshot(t *testing.T) {
	d := NewDirFeed(feedDir(t))
	ctx := context.Background()

	snap, err := d.Snapshot(ctx, "acct-1")
	require.NoError(t, err)
	require.Len(t, snap.Positions, 1)
	assert.Equal(t, "NFO|A", snap.Positions[0].InstrumentKey)
	assert.Equal(t, int64(75), snap.Positions[0].Quantity)
	require.Len(t, snap.Orders, 1)
	assert.Equal(t, domain.TransactionBuy, snap.Orders[0].TransactionType)

	snap, err = d.Snapshot(ctx, "acct-2")
	require.NoError(t, err)
	assert.Empty(t, snap.Positions)
	assert.Empty(t, snap.Orders)

	_, err = d.Snapshot(ctx, "pending")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = d.Snapshot(ctx, "../acct-1")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestDirFeed_MalformedFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "acct-1", PositionsFile), `{not json`)
	_, err := NewDirFeed(dir).Snapshot(context.Background(), "acct-1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrNotFound)
}

type fakeSyncer struct {
	mu    sync.Mutex
	calls map[string]int
	fail  map[string]error
}

func (f *fakeSyncer) Sync(_ context.Context, tc domain.TenantContext, views []domain.PositionView, _ []domain.OrderFill) (domain.SyncResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[tc.TenantID]++
	if err := f.fail[tc.TenantID]; err != nil {
		return domain.SyncResult{}, err
	}
	return domain.SyncResult{Positions: domain.ReconcileResult{Opened: len(views)}}, nil
}

type gaugeStub struct{ v float64 }

func (g *gaugeStub) Set(v float64) { g.v = v }

func TestPoller_PollOnce(t *testing.T) {
	dir := feedDir(t)
	writeFile(t, filepath.Join(dir, "acct-3", PositionsFile), `[]`)

	syncer := &fakeSyncer{
		calls: map[string]int{},
		fail: map[string]error{
			"acct-2": &domain.ConflictError{TenantID: "acct-2"},
			"acct-3": errors.New("boom"),
		},
	}
	gauge := &gaugeStub{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p := NewPoller(NewDirFeed(dir), syncer, PollerConfig{Interval: time.Hour, Workers: 2}, gauge, logger)

	n, err := p.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 3.0, gauge.v)
	assert.Equal(t, map[string]int{"acct-1": 1, "acct-2": 1, "acct-3": 1}, syncer.calls)
}

func TestPoller_MissingDir(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p := NewPoller(NewDirFeed(filepath.Join(t.TempDir(), "absent")), &fakeSyncer{calls: map[string]int{}}, PollerConfig{}, nil, logger)
	_, err := p.PollOnce(context.Background())
	assert.Error(t, err)
}

func TestPoller_RunStopsOnCancel(t *testing.T) {
	syncer := &fakeSyncer{calls: map[string]int{}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p := NewPoller(NewDirFeed(feedDir(t)), syncer, PollerConfig{Interval: time.Hour}, nil, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool {
		syncer.mu.Lock()
		defer syncer.mu.Unlock()
		return syncer.calls["acct-1"] == 1
	}, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}
}
