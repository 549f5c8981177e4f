package domain

import (
	"context"
	"time"
)

// Invalidation scopes. A ledger write invalidates the scopes it touched.
const (
	ScopePositions = "positions"
	ScopeTrades    = "trades"
	ScopePnL       = "pnl"
	ScopeStats     = "stats"
)

// AllScopes lists every cached read scope.
var AllScopes = []string{ScopePositions, ScopeTrades, ScopePnL, ScopeStats}

// Invalidator drops cached read views for a tenant. It is called after a
// ledger write is durable and before the write returns to its caller.
type Invalidator interface {
	Invalidate(tenantID string, scopes ...string)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus provides pub/sub messaging between replicas.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
