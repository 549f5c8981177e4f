package redis

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/tradeledger/internal/domain"
)

//go:embed scripts/sliding_window.lua
var slidingWindowLua string

var slidingWindow = redis.NewScript(slidingWindowLua)

// RateLimiter implements domain.RateLimiter as a sliding window over a
// sorted set of request timestamps, checked and updated in one Lua call so
// replicas sharing the prefix share the budget.
type RateLimiter struct {
	client *Client
	now    func() time.Time
}

// NewRateLimiter creates a RateLimiter backed by the given Client.
func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{client: c, now: time.Now}
}

// Allow counts the request against key and reports whether it fits in the
// last window. A non-positive limit allows everything.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 {
		return true, nil
	}
	if window <= 0 {
		return false, fmt.Errorf("redis: rate limit %s: window must be positive", key)
	}

	res, err := slidingWindow.Run(ctx, rl.client.Underlying(),
		[]string{rl.client.Key("ratelimit", key)},
		rl.now().UnixMicro(), window.Microseconds(), limit,
	).Int64Slice()
	if err != nil {
		return false, fmt.Errorf("redis: rate limit %s: %w", key, err)
	}
	if len(res) != 2 {
		return false, fmt.Errorf("redis: rate limit %s: unexpected reply of %d values", key, len(res))
	}
	return res[0] == 1, nil
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
