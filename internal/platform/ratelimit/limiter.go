package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// 滑动窗口：ZSET 里每个请求一个 member，score 是毫秒时间戳。
// 超限的请求不计入窗口，返回最早一条过期前还要等多久。
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call("ZREMRANGEBYSCORE", key, 0, now - window)
redis.call("ZADD", key, now, member)
local count = redis.call("ZCARD", key)
redis.call("PEXPIRE", key, window)

if count <= limit then
  return {1, limit - count, 0}
end

redis.call("ZREM", key, member)

local oldest = redis.call("ZRANGE", key, 0, 0, "WITHSCORES")
if oldest[2] ~= nil then
  local retryAfter = (tonumber(oldest[2]) + window) - now
  if retryAfter < 0 then retryAfter = 0 end
  return {0, 0, retryAfter}
end
return {0, 0, window}
`)

type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration // 仅在 Allowed=false 时有意义
}

type Limiter struct {
	client *redis.Client
}

func NewLimiter(client *redis.Client) *Limiter {
	return &Limiter{client: client}
}

// Allow 对 key 计一次请求。脚本走 EVALSHA，未缓存时 go-redis 自动回退到 EVAL。
func (l *Limiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	// member 每次请求唯一，否则 ZADD 会覆盖
	member := uuid.NewString()
	res, err := slidingWindow.Run(ctx, l.client, []string{key},
		time.Now().UnixMilli(), window.Milliseconds(), limit, member).Result()
	if err != nil {
		return Decision{}, err
	}

	arr, ok := res.([]any)
	if !ok || len(arr) < 3 {
		return Decision{}, fmt.Errorf("unexpected redis eval result: %T %v", res, res)
	}
	return Decision{
		Allowed:    toInt64(arr[0]) == 1,
		Remaining:  int(toInt64(arr[1])),
		RetryAfter: time.Duration(toInt64(arr[2])) * time.Millisecond,
	}, nil
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	}
	return 0
}
