package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_ShortCircuits(t *testing.T) {
	rl := NewRateLimiter(&Client{prefix: "t:"})

	ok, err := rl.Allow(context.Background(), "api:tenant:acme", 0, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = rl.Allow(context.Background(), "api:tenant:acme", 10, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "window must be positive")
}
