package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"geolink.local/internal/app/georoute"
	"geolink.local/internal/platform/metrics"
	"github.com/redis/go-redis/v9"
)

const notFoundSentinel = "__nil__"

const keyPrefix = "geo:dest:"

// Lookup 是一次缓存查询的结果。
// Hit=false 表示两级都没命中；Hit=true 且 Set=nil 表示命中负缓存（链接不存在）。
type Lookup struct {
	Hit bool
	Set *georoute.RoutingDestinationSet
}

// DestinationCache：L1 ristretto + L2 Redis 的两级缓存，带负缓存防穿透。
type DestinationCache struct {
	client   *redis.Client
	local    *LocalCache
	ttl      time.Duration
	emptyTTL time.Duration
}

func NewDestinationCache(client *redis.Client, local *LocalCache) *DestinationCache {
	return &DestinationCache{
		client:   client,
		local:    local,
		ttl:      time.Hour,
		emptyTTL: 30 * time.Second,
	}
}

func (c *DestinationCache) Get(ctx context.Context, linkID string) (Lookup, error) {
	// L1: 本地缓存
	if c.local != nil {
		if raw, ok := c.local.Get(linkID); ok {
			if isNotFound(raw) {
				metrics.CacheOperations.WithLabelValues("l1", "hit_negative").Inc()
				return Lookup{Hit: true}, nil
			}
			set, err := decode(raw)
			if err == nil {
				metrics.CacheOperations.WithLabelValues("l1", "hit").Inc()
				return Lookup{Hit: true, Set: set}, nil
			}
			// 坏数据直接丢掉，继续往下查
			c.local.Del(linkID)
		}
	}

	if c.client == nil {
		return Lookup{}, nil
	}

	// L2: Redis
	raw, err := c.client.Get(ctx, keyPrefix+linkID).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.CacheOperations.WithLabelValues("l2", "miss").Inc()
		return Lookup{}, nil
	}
	if err != nil {
		return Lookup{}, err
	}

	if isNotFound(raw) {
		metrics.CacheOperations.WithLabelValues("l2", "hit_negative").Inc()
		if c.local != nil {
			c.local.SetNotFound(linkID)
		}
		return Lookup{Hit: true}, nil
	}
	set, err := decode(raw)
	if err != nil {
		slog.Warn("destination cache: corrupt entry", "link_id", linkID, "err", err)
		metrics.CacheOperations.WithLabelValues("l2", "miss").Inc()
		return Lookup{}, nil
	}
	metrics.CacheOperations.WithLabelValues("l2", "hit").Inc()

	// 回填本地缓存
	if c.local != nil {
		c.local.Set(linkID, raw)
	}
	return Lookup{Hit: true, Set: set}, nil
}

func (c *DestinationCache) Set(ctx context.Context, set *georoute.RoutingDestinationSet) error {
	raw, err := json.Marshal(set)
	if err != nil {
		return err
	}
	if c.local != nil {
		c.local.Set(set.LinkID, raw)
	}
	if c.client == nil {
		return nil
	}
	return c.client.Set(ctx, keyPrefix+set.LinkID, raw, c.ttl).Err()
}

// SetNotFound 用明确哨兵值做"负缓存"，避免缓存穿透。
func (c *DestinationCache) SetNotFound(ctx context.Context, linkID string) error {
	if c.local != nil {
		c.local.SetNotFound(linkID)
	}
	if c.client == nil {
		return nil
	}
	return c.client.Set(ctx, keyPrefix+linkID, notFoundSentinel, c.emptyTTL).Err()
}

// Invalidate 链接管理服务改了路由规则后调用（或由评估结果触发）。
func (c *DestinationCache) Invalidate(ctx context.Context, linkID string) error {
	if c.local != nil {
		c.local.Del(linkID)
	}
	if c.client == nil {
		return nil
	}
	return c.client.Del(ctx, keyPrefix+linkID).Err()
}

// Close 关闭本地缓存
func (c *DestinationCache) Close() {
	if c.local != nil {
		c.local.Close()
		slog.Info("本地缓存已关闭")
	}
}

func isNotFound(raw []byte) bool {
	return bytes.Equal(raw, []byte(notFoundSentinel))
}

func decode(raw []byte) (*georoute.RoutingDestinationSet, error) {
	var set georoute.RoutingDestinationSet
	if err := json.Unmarshal(raw, &set); err != nil {
		return nil, err
	}
	return &set, nil
}
