package cache

import (
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
)

const (
	localTTL         = 5 * time.Minute // 多实例之间靠这个 TTL 收敛，不做跨进程失效广播
	localNotFoundTTL = 10 * time.Second
)

// LocalCache 是进程内 L1。值是目的地集合的 JSON 字节（或负缓存哨兵），
// L1/L2 共用同一份编码，命中后各自解码，调用方拿到的 map 不与缓存共享。
type LocalCache struct {
	c *ristretto.Cache
}

// NewLocalCache maxItems 决定准入计数器的规模，maxCost 是字节上限（cost 取值的长度）。
func NewLocalCache(maxItems, maxCost int64) (*LocalCache, error) {
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxItems * 10,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("ristretto: %w", err)
	}
	return &LocalCache{c: c}, nil
}

func (l *LocalCache) Get(linkID string) ([]byte, bool) {
	v, ok := l.c.Get(linkID)
	if !ok {
		return nil, false
	}
	raw, ok := v.([]byte)
	return raw, ok
}

func (l *LocalCache) Set(linkID string, raw []byte) {
	l.c.SetWithTTL(linkID, raw, int64(len(raw)), localTTL)
}

func (l *LocalCache) SetNotFound(linkID string) {
	l.c.SetWithTTL(linkID, []byte(notFoundSentinel), 1, localNotFoundTTL)
}

func (l *LocalCache) Del(linkID string) { l.c.Del(linkID) }

// Wait 阻塞到异步写缓冲落地，测试用。
func (l *LocalCache) Wait() { l.c.Wait() }

func (l *LocalCache) Close() { l.c.Close() }
