package ratelimit

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr, Password: os.Getenv("REDIS_PASSWORD")})
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 800*time.Millisecond)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("skip: redis not available at %s: %v", addr, err)
	}
	return client
}

func TestLimiterSlidingWindow(t *testing.T) {
	client := newTestClient(t)
	limiter := NewLimiter(client)

	key := fmt.Sprintf("test:rl:%d", time.Now().UnixNano())
	t.Cleanup(func() { _ = client.Del(context.Background(), key).Err() })

	window := 2 * time.Second
	limit := 3
	allow := func() Decision {
		ctx, cancel := context.WithTimeout(context.Background(), 800*time.Millisecond)
		defer cancel()
		d, err := limiter.Allow(ctx, key, limit, window)
		require.NoError(t, err)
		return d
	}

	for i := 0; i < limit; i++ {
		d := allow()
		require.Truef(t, d.Allowed, "attempt %d should pass", i+1)
		require.Equal(t, limit-i-1, d.Remaining)
	}

	d := allow()
	require.False(t, d.Allowed)
	require.Zero(t, d.Remaining)
	require.Greater(t, d.RetryAfter, time.Duration(0))
	require.LessOrEqual(t, d.RetryAfter, window)

	// 窗口滑过后重新放行
	time.Sleep(d.RetryAfter + 200*time.Millisecond)
	require.True(t, allow().Allowed)
}

func TestLimiterKeysAreIndependent(t *testing.T) {
	client := newTestClient(t)
	limiter := NewLimiter(client)

	a := fmt.Sprintf("test:rl:a:%d", time.Now().UnixNano())
	b := fmt.Sprintf("test:rl:b:%d", time.Now().UnixNano())
	t.Cleanup(func() { _ = client.Del(context.Background(), a, b).Err() })

	ctx := context.Background()
	d, err := limiter.Allow(ctx, a, 1, time.Minute)
	require.NoError(t, err)
	require.True(t, d.Allowed)
	d, err = limiter.Allow(ctx, a, 1, time.Minute)
	require.NoError(t, err)
	require.False(t, d.Allowed)

	d, err = limiter.Allow(ctx, b, 1, time.Minute)
	require.NoError(t, err)
	require.True(t, d.Allowed)
}
