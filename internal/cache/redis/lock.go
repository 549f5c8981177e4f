package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/tradeledger/internal/domain"
	"github.com/alanyoungcy/tradeledger/internal/tenant"
)

// unlockLua deletes a lock key only if its value matches the caller's token,
// so one holder never releases another holder's lock.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// LockManager implements domain.LockManager using Redis SETNX with a TTL and
// a Lua-based conditional unlock.
type LockManager struct {
	client   *Client
	rdb      *redis.Client
	unlockSc *redis.Script
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		client:   c,
		rdb:      c.Underlying(),
		unlockSc: redis.NewScript(unlockLua),
	}
}

func (lm *LockManager) lockKey(key string) string {
	return lm.client.Key("lock", key)
}

// Acquire attempts to obtain a distributed lock for the given key with the
// specified TTL. The returned unlock function is safe to call more than once.
//
// It returns domain.ErrLockHeld if the lock is already held by another party.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.New().String()
	lk := lm.lockKey(key)

	ok, err := lm.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			// The caller's context may already be cancelled.
			unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = lm.unlockSc.Run(unlockCtx, lm.rdb, []string{lk}, token).Err()
		})
	}
	return unlock, nil
}

// TenantLock adapts a LockManager to a per-tenant reconciliation lock. A lock
// held elsewhere is reported as *domain.ConflictError.
func TenantLock(lm domain.LockManager, ttl time.Duration) tenant.LockFunc {
	return func(ctx context.Context, tenantID string) (func(), error) {
		unlock, err := lm.Acquire(ctx, "reconcile:"+tenantID, ttl)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				return nil, &domain.ConflictError{TenantID: tenantID, Err: err}
			}
			return nil, err
		}
		return unlock, nil
	}
}

// Compile-time interface check.
var _ domain.LockManager = (*LockManager)(nil)
