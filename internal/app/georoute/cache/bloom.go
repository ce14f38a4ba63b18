package cache

import (
	"sync"
	"sync/atomic"

	"github.com/bits-and-blooms/bloom/v3"
)

// BloomFilter 是重定向前的第一道门：MightExist=false 的 id 一定不存在，直接 404，
// 不再查 Redis / DB（扫描器、随机路径）。
//
// 链接由外部服务创建，过滤器靠 repo.LinksRepo.RunBloomRefresher 周期性增量跟上；
// 刷新间隔内新建的链接可能短暂 404。首次全量加载完成前一律放行。
type BloomFilter struct {
	mu     sync.RWMutex
	filter *bloom.BloomFilter
	loaded atomic.Bool
}

// NewBloomFilter expectedItems 为预估链接数，fpRate 为可接受的误判率（如 0.001）。
func NewBloomFilter(expectedItems uint, fpRate float64) *BloomFilter {
	return &BloomFilter{filter: bloom.NewWithEstimates(expectedItems, fpRate)}
}

// AddAll 一次加锁写入一批 id。
func (b *BloomFilter) AddAll(ids []string) {
	if len(ids) == 0 {
		return
	}
	b.mu.Lock()
	for _, id := range ids {
		b.filter.AddString(id)
	}
	b.mu.Unlock()
}

func (b *BloomFilter) MarkReady() { b.loaded.Store(true) }

func (b *BloomFilter) Ready() bool { return b.loaded.Load() }

func (b *BloomFilter) MightExist(linkID string) bool {
	if !b.loaded.Load() {
		return true
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.filter.TestString(linkID)
}

// ApproxCount 估算已写入的元素数，只用于日志。
func (b *BloomFilter) ApproxCount() uint32 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.filter.ApproximatedSize()
}
