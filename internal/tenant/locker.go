package tenant

import (
	"context"
	"fmt"
	"sync"
)

// Locker hands out one exclusive lock per tenant. Waiters queue until the
// holder releases or their context ends.
type Locker struct {
	locks *Registry[tenantLock]
}

type tenantLock struct {
	sem chan struct{}
}

// NewLocker creates an empty Locker.
func NewLocker() *Locker {
	return &Locker{
		locks: NewRegistry(func(string) *tenantLock {
			return &tenantLock{sem: make(chan struct{}, 1)}
		}),
	}
}

// Lock blocks until the tenant's lock is held or ctx is done. The returned
// unlock function is safe to call more than once.
func (l *Locker) Lock(ctx context.Context, tenantID string) (func(), error) {
	tl := l.locks.Get(tenantID)
	select {
	case tl.sem <- struct{}{}:
		return releaseOnce(tl), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("tenant: lock %s: %w", tenantID, ctx.Err())
	}
}

// TryLock acquires the tenant's lock only if it is free.
func (l *Locker) TryLock(tenantID string) (func(), bool) {
	tl := l.locks.Get(tenantID)
	select {
	case tl.sem <- struct{}{}:
		return releaseOnce(tl), true
	default:
		return nil, false
	}
}

func releaseOnce(tl *tenantLock) func() {
	var once sync.Once
	return func() {
		once.Do(func() { <-tl.sem })
	}
}

// LockFunc acquires a tenant-scoped lock.
type LockFunc func(ctx context.Context, tenantID string) (func(), error)

// Chain acquires each lock in order and releases them in reverse. If any
// acquisition fails, the locks already held are released.
func Chain(locks ...LockFunc) LockFunc {
	return func(ctx context.Context, tenantID string) (func(), error) {
		held := make([]func(), 0, len(locks))
		release := func() {
			for i := len(held) - 1; i >= 0; i-- {
				held[i]()
			}
		}
		for _, lock := range locks {
			unlock, err := lock(ctx, tenantID)
			if err != nil {
				release()
				return nil, err
			}
			held = append(held, unlock)
		}
		return release, nil
	}
}
