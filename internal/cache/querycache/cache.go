// Package querycache is an in-process, tenant-scoped cache of derived ledger
// read views. Entries expire after a per-call TTL and are dropped by scope
// whenever the ledger changes.
package querycache

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/alanyoungcy/tradeledger/internal/domain"
	"github.com/alanyoungcy/tradeledger/internal/tenant"
)

// Key identifies a cached read. Scope decides which ledger writes invalidate
// it; Name and Args identify the operation and its canonical arguments.
type Key struct {
	Scope string
	Name  string
	Args  string
}

func (k Key) String() string {
	return k.Scope + "/" + k.Name + "/" + k.Args
}

// Recorder receives cache events, typically for metrics.
type Recorder interface {
	CacheHit(scope string)
	CacheMiss(scope string)
	CacheInvalidated(scope string, entries int)
}

type nopRecorder struct{}

func (nopRecorder) CacheHit(string)              {}
func (nopRecorder) CacheMiss(string)             {}
func (nopRecorder) CacheInvalidated(string, int) {}

// Stats is a point-in-time view of one tenant's cache.
type Stats struct {
	TenantID      string  `json:"tenant_id"`
	Enabled       bool    `json:"enabled"`
	Size          int     `json:"size"`
	Hits          uint64  `json:"hits"`
	Misses        uint64  `json:"misses"`
	Invalidations uint64  `json:"invalidations"`
	Requests      uint64  `json:"total_requests"`
	HitRate       float64 `json:"hit_rate"` // percent, two decimals
}

type entry struct {
	value     any
	createdAt time.Time
	expiresAt time.Time
}

// shard is one tenant's cache state.
type shard struct {
	mu            sync.Mutex
	entries       map[Key]entry
	generations   map[string]uint64
	hits          uint64
	misses        uint64
	invalidations uint64
}

func newShard(string) *shard {
	return &shard{
		entries:     make(map[Key]entry),
		generations: make(map[string]uint64),
	}
}

// fresh returns the live entry for key, if any.
func (s *shard) fresh(key Key, now time.Time) (any, bool) {
	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	if !now.Before(e.expiresAt) {
		delete(s.entries, key)
		return nil, false
	}
	return e.value, true
}

// Cache is safe for concurrent use.
type Cache struct {
	shards   *tenant.Registry[shard]
	flights  singleflight.Group
	enabled  atomic.Bool
	now      func() time.Time
	recorder Recorder
	logger   *slog.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(c *Cache) {
		if r != nil {
			c.recorder = r
		}
	}
}

// WithEnabled sets the initial enabled state. Caches start enabled.
func WithEnabled(enabled bool) Option {
	return func(c *Cache) { c.enabled.Store(enabled) }
}

// New creates an empty, enabled Cache.
func New(logger *slog.Logger, opts ...Option) *Cache {
	c := &Cache{
		shards:   tenant.NewRegistry(newShard),
		now:      time.Now,
		recorder: nopRecorder{},
		logger:   logger.With(slog.String("component", "querycache")),
	}
	c.enabled.Store(true)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached value for key or computes, caches and returns it.
// Concurrent misses on the same key share one computation. A caller whose
// context ends gets ctx.Err() while the computation keeps running for the
// remaining waiters. Compute errors are returned as *domain.CacheComputeError
// and never cached.
//
// Every hit returns the same stored value. Callers must not mutate it; copy
// slices and maps before handing them to code that might.
func Get[V any](ctx context.Context, c *Cache, tenantID string, key Key, ttl time.Duration, compute func(context.Context) (V, error)) (V, error) {
	var zero V
	v, err := c.get(ctx, tenantID, key, ttl, func(ctx context.Context) (any, error) {
		return compute(ctx)
	})
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	out, ok := v.(V)
	if !ok {
		return zero, fmt.Errorf("querycache: %s holds %T", key, v)
	}
	return out, nil
}

func (c *Cache) get(ctx context.Context, tenantID string, key Key, ttl time.Duration, compute func(context.Context) (any, error)) (any, error) {
	if !c.enabled.Load() || ttl <= 0 {
		v, err := compute(ctx)
		if err != nil {
			return nil, &domain.CacheComputeError{Key: key.String(), Err: err}
		}
		return v, nil
	}

	sh := c.shards.Get(tenantID)

	sh.mu.Lock()
	if v, ok := sh.fresh(key, c.now()); ok {
		sh.hits++
		sh.mu.Unlock()
		c.recorder.CacheHit(key.Scope)
		return v, nil
	}
	sh.misses++
	gen := sh.generations[key.Scope]
	sh.mu.Unlock()
	c.recorder.CacheMiss(key.Scope)

	// The generation is part of the flight key: callers arriving after an
	// invalidation never join a computation that started before it.
	flightKey := tenantID + "\x00" + key.String() + "\x00" + strconv.FormatUint(gen, 10)
	detached := context.WithoutCancel(ctx)

	ch := c.flights.DoChan(flightKey, func() (any, error) {
		sh.mu.Lock()
		if v, ok := sh.fresh(key, c.now()); ok && sh.generations[key.Scope] == gen {
			sh.mu.Unlock()
			return v, nil
		}
		sh.mu.Unlock()

		v, err := compute(detached)
		if err != nil {
			return nil, &domain.CacheComputeError{Key: key.String(), Err: err}
		}

		now := c.now()
		sh.mu.Lock()
		if sh.generations[key.Scope] == gen {
			sh.entries[key] = entry{value: v, createdAt: now, expiresAt: now.Add(ttl)}
		}
		sh.mu.Unlock()
		return v, nil
	})

	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Invalidate drops every entry of tenantID in the given scopes, or in all
// scopes when none are given.
func (c *Cache) Invalidate(tenantID string, scopes ...string) {
	sh, ok := c.shards.Lookup(tenantID)
	if !ok {
		return
	}
	if len(scopes) == 0 {
		scopes = domain.AllScopes
	}

	removed := make(map[string]int, len(scopes))
	sh.mu.Lock()
	for _, scope := range scopes {
		sh.generations[scope]++
		for k := range sh.entries {
			if k.Scope == scope {
				delete(sh.entries, k)
				removed[scope]++
			}
		}
	}
	total := 0
	for _, n := range removed {
		total += n
	}
	sh.invalidations += uint64(total)
	sh.mu.Unlock()

	for _, scope := range scopes {
		c.recorder.CacheInvalidated(scope, removed[scope])
	}
	if total > 0 {
		c.logger.Debug("querycache: invalidated",
			slog.String("tenant_id", tenantID),
			slog.Any("scopes", scopes),
			slog.Int("entries", total),
		)
	}
}

// Clear drops every entry of one tenant.
func (c *Cache) Clear(tenantID string) {
	c.Invalidate(tenantID)
}

// ClearAll drops every entry of every tenant.
func (c *Cache) ClearAll() {
	c.shards.Range(func(tenantID string, _ *shard) bool {
		c.Invalidate(tenantID)
		return true
	})
}

// SetEnabled turns caching on or off. Disabling clears the cache and makes
// every Get compute directly.
func (c *Cache) SetEnabled(enabled bool) {
	c.enabled.Store(enabled)
	if !enabled {
		c.ClearAll()
	}
	c.logger.Info("querycache: enabled changed", slog.Bool("enabled", enabled))
}

// Enabled reports whether caching is on.
func (c *Cache) Enabled() bool {
	return c.enabled.Load()
}

// CleanupExpired removes expired entries across all tenants and returns how
// many were removed.
func (c *Cache) CleanupExpired() int {
	now := c.now()
	removed := 0
	c.shards.Range(func(_ string, sh *shard) bool {
		sh.mu.Lock()
		for k, e := range sh.entries {
			if !now.Before(e.expiresAt) {
				delete(sh.entries, k)
				removed++
			}
		}
		sh.mu.Unlock()
		return true
	})
	if removed > 0 {
		c.logger.Debug("querycache: cleaned up expired entries", slog.Int("removed", removed))
	}
	return removed
}

// Stats returns the statistics of one tenant.
func (c *Cache) Stats(tenantID string) Stats {
	st := Stats{TenantID: tenantID, Enabled: c.enabled.Load()}
	sh, ok := c.shards.Lookup(tenantID)
	if !ok {
		return st
	}
	sh.mu.Lock()
	st.Size = len(sh.entries)
	st.Hits = sh.hits
	st.Misses = sh.misses
	st.Invalidations = sh.invalidations
	sh.mu.Unlock()

	st.Requests = st.Hits + st.Misses
	if st.Requests > 0 {
		st.HitRate = math.Round(float64(st.Hits)/float64(st.Requests)*10000) / 100
	}
	return st
}

// AllStats returns the statistics of every tenant seen so far.
func (c *Cache) AllStats() []Stats {
	var out []Stats
	c.shards.Range(func(tenantID string, _ *shard) bool {
		out = append(out, c.Stats(tenantID))
		return true
	})
	return out
}

// LogStats writes one log line per tenant.
func (c *Cache) LogStats(ctx context.Context) {
	for _, st := range c.AllStats() {
		c.logger.InfoContext(ctx, "querycache: stats",
			slog.String("tenant_id", st.TenantID),
			slog.Int("size", st.Size),
			slog.Uint64("hits", st.Hits),
			slog.Uint64("misses", st.Misses),
			slog.Uint64("invalidations", st.Invalidations),
			slog.Float64("hit_rate", st.HitRate),
		)
	}
}

var _ domain.Invalidator = (*Cache)(nil)
