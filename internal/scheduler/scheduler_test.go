package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradeledger/internal/cache/querycache"
	"github.com/alanyoungcy/tradeledger/internal/domain"
	"github.com/alanyoungcy/tradeledger/internal/ledger"
	"github.com/alanyoungcy/tradeledger/internal/notify"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type countJob struct {
	runs atomic.Int32
	err  error
}

func (j *countJob) Name() string { return "count" }

func (j *countJob) Run(context.Context) error {
	j.runs.Add(1)
	return j.err
}

func TestScheduler_AddJobRejectsBadSchedule(t *testing.T) {
	s := New(time.UTC, discard())
	err := s.AddJob("every tuesday", &countJob{})
	assert.Error(t, err)
	assert.NoError(t, s.AddJob("0 3 1 * *", &countJob{}))
}

func TestScheduler_RunNow(t *testing.T) {
	s := New(nil, discard())
	job := &countJob{}
	require.NoError(t, s.RunNow(context.Background(), job))
	assert.Equal(t, int32(1), job.runs.Load())

	job.err = errors.New("boom")
	assert.EqualError(t, s.RunNow(context.Background(), job), "boom")
}

func TestScheduler_RunFiresAndStops(t *testing.T) {
	s := New(time.UTC, discard())
	job := &countJob{}
	require.NoError(t, s.AddJob("@every 1s", job))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return job.runs.Load() > 0 }, 3*time.Second, 20*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestCacheCleanupJob(t *testing.T) {
	now := time.Date(2026, 1, 14, 6, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	cache := querycache.New(discard(), querycache.WithClock(clock))
	key := querycache.Key{Scope: domain.ScopePositions, Name: "active_positions"}
	_, err := querycache.Get(context.Background(), cache, "acct-1", key, time.Second, func(context.Context) (int, error) {
		return 1, nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, cache.Stats("acct-1").Size)

	now = now.Add(2 * time.Second)
	require.NoError(t, NewCacheCleanupJob(cache, discard()).Run(context.Background()))
	assert.Zero(t, cache.Stats("acct-1").Size)
	assert.NoError(t, NewCacheStatsJob(cache).Run(context.Background()))
}

type archiverStub struct {
	mu      sync.Mutex
	cutoffs map[string]time.Time
	counts  map[string]int64
	fail    map[string]error
}

func (a *archiverStub) ArchiveTrades(_ context.Context, tenantID string, before time.Time) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cutoffs[tenantID] = before
	return a.counts[tenantID], a.fail[tenantID]
}

type tenantsStub []string

func (t tenantsStub) ListTenants(context.Context) ([]string, error) { return t, nil }

type captureSender struct{ titles []string }

func (c *captureSender) Send(_ context.Context, title, _ string) error {
	c.titles = append(c.titles, title)
	return nil
}

func (c *captureSender) Name() string { return "capture" }

func TestArchiveJob(t *testing.T) {
	cal, err := ledger.NewCalendar("Asia/Kolkata")
	require.NoError(t, err)

	arch := &archiverStub{
		cutoffs: map[string]time.Time{},
		counts:  map[string]int64{"acct-1": 12},
		fail:    map[string]error{"acct-2": errors.New("bucket gone")},
	}
	sender := &captureSender{}
	job := NewArchiveJob(arch, tenantsStub{"acct-1", "acct-2", "acct-3"}, cal, 90,
		notify.NewNotifier([]notify.Sender{sender}, nil, discard()), discard())
	job.now = func() time.Time { return time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC) }

	err = job.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "acct-2")

	// 90 days before 2026-04-01 05:30 IST is 2026-01-01.
	want := time.Date(2026, 1, 1, 0, 0, 0, 0, cal.Location())
	assert.True(t, arch.cutoffs["acct-1"].Equal(want), "cutoff %v", arch.cutoffs["acct-1"])
	assert.Len(t, arch.cutoffs, 3)
	assert.Equal(t, []string{"Trades archived: acct-1"}, sender.titles)
}
