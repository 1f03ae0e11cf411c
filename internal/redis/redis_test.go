package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return New(mr.Addr(), "", 0), mr
}

func TestAllowRequest_EnforcesLimitWithinWindow(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, err := cache.AllowRequest(ctx, "write", "10.0.0.1", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, allowed, "request %d should pass", i+1)
	}

	allowed, err := cache.AllowRequest(ctx, "write", "10.0.0.1", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, allowed, "fourth request must be throttled")
}

func TestAllowRequest_ScopesAndCallersAreIndependent(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	// exhaust the write budget
	for i := 0; i < 2; i++ {
		_, err := cache.AllowRequest(ctx, "write", "10.0.0.1", 2, time.Minute)
		require.NoError(t, err)
	}
	allowed, err := cache.AllowRequest(ctx, "write", "10.0.0.1", 2, time.Minute)
	require.NoError(t, err)
	require.False(t, allowed)

	// reads from the same caller still pass
	allowed, err = cache.AllowRequest(ctx, "read", "10.0.0.1", 2, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed, "read budget is separate from write budget")

	// writes from another caller still pass
	allowed, err = cache.AllowRequest(ctx, "write", "10.0.0.2", 2, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed, "budgets are per IP")
}

func TestAllowRequest_CountersExpire(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	_, err := cache.AllowRequest(ctx, "write", "10.0.0.1", 1, time.Minute)
	require.NoError(t, err)

	// the bucket key carries a TTL a little past the window
	keys := mr.Keys()
	require.Len(t, keys, 1)
	ttl := mr.TTL(keys[0])
	assert.Greater(t, ttl, time.Minute-time.Second)
	assert.LessOrEqual(t, ttl, time.Minute+time.Second)
}

func TestAllowRequest_FailsOpenWhenRedisDown(t *testing.T) {
	cache, mr := newTestCache(t)
	mr.Close()

	allowed, err := cache.AllowRequest(context.Background(), "write", "10.0.0.1", 1, time.Minute)
	assert.Error(t, err)
	assert.True(t, allowed, "a Redis outage must not block claims")
}
