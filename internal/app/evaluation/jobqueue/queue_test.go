package jobqueue

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: os.Getenv("REDIS_PASSWORD")})
	t.Cleanup(func() { _ = rdb.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 800*time.Millisecond)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("skip: redis not available at %s: %v", addr, err)
	}
	return rdb
}

func TestStreamQueue_EnqueueReadAck(t *testing.T) {
	rdb := newTestRedis(t)
	stream := "test:eval:" + strconv.FormatInt(time.Now().UnixNano(), 36)
	t.Cleanup(func() { _ = rdb.Del(context.Background(), stream).Err() })

	q, err := NewStreamQueue(rdb, StreamConfig{Stream: stream, Group: "g", Consumer: "c1"})
	require.NoError(t, err)
	// 重复建组不报错
	_, err = NewStreamQueue(rdb, StreamConfig{Stream: stream, Group: "g", Consumer: "c2"})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, 42))

	jobs, err := q.Read(ctx, 200*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, int64(42), jobs[0].RunID)

	require.NoError(t, q.Ack(ctx, jobs[0].MessageID))
	pending, err := rdb.XPending(ctx, stream, "g").Result()
	require.NoError(t, err)
	require.Zero(t, pending.Count)

	jobs, err = q.Read(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	require.Empty(t, jobs)
}

func TestStreamQueue_MalformedMessageIsAcked(t *testing.T) {
	rdb := newTestRedis(t)
	stream := "test:eval:" + strconv.FormatInt(time.Now().UnixNano(), 36)
	t.Cleanup(func() { _ = rdb.Del(context.Background(), stream).Err() })

	q, err := NewStreamQueue(rdb, StreamConfig{Stream: stream, Group: "g", Consumer: "c1"})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, rdb.XAdd(ctx, &redis.XAddArgs{Stream: stream, Values: []any{fieldRunID, "abc"}}).Err())

	jobs, err := q.Read(ctx, 200*time.Millisecond)
	require.NoError(t, err)
	require.Empty(t, jobs)

	pending, err := rdb.XPending(ctx, stream, "g").Result()
	require.NoError(t, err)
	require.Zero(t, pending.Count)
}

func TestStreamQueue_ReclaimTakesOverIdleMessages(t *testing.T) {
	rdb := newTestRedis(t)
	stream := "test:eval:" + strconv.FormatInt(time.Now().UnixNano(), 36)
	t.Cleanup(func() { _ = rdb.Del(context.Background(), stream).Err() })

	crashed, err := NewStreamQueue(rdb, StreamConfig{Stream: stream, Group: "g", Consumer: "crashed"})
	require.NoError(t, err)
	rescuer, err := NewStreamQueue(rdb, StreamConfig{Stream: stream, Group: "g", Consumer: "rescuer"})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, crashed.Enqueue(ctx, 7))
	jobs, err := crashed.Read(ctx, 200*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	time.Sleep(50 * time.Millisecond)
	reclaimed, err := rescuer.Reclaim(ctx, 20*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, reclaimed, 1)
	require.Equal(t, int64(7), reclaimed[0].RunID)
	require.Equal(t, jobs[0].MessageID, reclaimed[0].MessageID)
}
