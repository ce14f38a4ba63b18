package repo

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"geolink.local/internal/app/georoute"
	"geolink.local/internal/app/georoute/cache"
	"geolink.local/internal/platform/metrics"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrLinkNotFound = errors.New("link not found")

// Link 是链接管理服务写入的记录；这里只读。
type Link struct {
	ID           string
	AccountID    string
	Name         string
	DefaultURL   string
	Destinations map[string]string
	Disabled     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RoutingDestinations 派生出重定向用的快照。
func (l Link) RoutingDestinations() *georoute.RoutingDestinationSet {
	return &georoute.RoutingDestinationSet{
		LinkID:    l.ID,
		Default:   l.DefaultURL,
		ByCountry: l.Destinations,
	}
}

// HasDestination 判断 rawURL 是不是这条链接配置过的目的地（默认或任一国家），按规范化后的形式比较。
func (l Link) HasDestination(rawURL string) bool {
	want, err := georoute.NormalizeURL(rawURL)
	if err != nil {
		return false
	}
	same := func(u string) bool {
		got, err := georoute.NormalizeURL(u)
		return err == nil && got == want
	}
	if same(l.DefaultURL) {
		return true
	}
	for _, u := range l.Destinations {
		if same(u) {
			return true
		}
	}
	return false
}

type LinksRepo struct {
	db    *pgxpool.Pool
	cache *cache.DestinationCache
	bloom *cache.BloomFilter
}

// NewLinksRepo cache / bloom 都可以为 nil。
func NewLinksRepo(db *pgxpool.Pool, c *cache.DestinationCache, b *cache.BloomFilter) *LinksRepo {
	return &LinksRepo{db: db, cache: c, bloom: b}
}

// GetLink 按 id 读完整记录（包括已禁用的）。
func (r *LinksRepo) GetLink(ctx context.Context, id string) (*Link, error) {
	dbctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var l Link
	err := r.db.QueryRow(dbctx, `
SELECT id, account_id, name, default_url, destinations, disabled, created_at, updated_at
FROM links
WHERE id=$1`, id).Scan(&l.ID, &l.AccountID, &l.Name, &l.DefaultURL, &l.Destinations, &l.Disabled, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLinkNotFound
		}
		return nil, err
	}
	return &l, nil
}

// GetRoutingDestinations 实现 georoute.Resolver：bloom -> L1/L2 缓存 -> 单行查询。
// 不存在或已禁用返回 (nil, nil)。
func (r *LinksRepo) GetRoutingDestinations(ctx context.Context, linkID string) (*georoute.RoutingDestinationSet, error) {
	if r.bloom != nil && !r.bloom.MightExist(linkID) {
		metrics.CacheOperations.WithLabelValues("bloom", "reject").Inc()
		return nil, nil
	}

	//先查缓存
	if r.cache != nil {
		res, err := r.cache.Get(ctx, linkID)
		if err != nil {
			// Redis 故障时降级直连 DB
			slog.Warn("destination cache get failed", "link_id", linkID, "err", err)
		} else if res.Hit {
			return res.Set, nil
		}
	}

	//查数据库
	dbctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	set := &georoute.RoutingDestinationSet{LinkID: linkID}
	err := r.db.QueryRow(dbctx,
		"SELECT default_url, destinations FROM links WHERE id=$1 AND disabled=false", linkID).
		Scan(&set.Default, &set.ByCountry)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if r.cache != nil {
				if err := r.cache.SetNotFound(ctx, linkID); err != nil {
					slog.Warn("destination cache set negative failed", "link_id", linkID, "err", err)
				}
			}
			return nil, nil
		}
		return nil, err
	}

	//写缓存
	if r.cache != nil {
		if err := r.cache.Set(ctx, set); err != nil {
			slog.Warn("destination cache set failed", "link_id", linkID, "err", err)
		}
	}
	return set, nil
}

// LoadBloom 把 since 之后创建的链接 id 加进布隆过滤器，返回新的水位线。
// since 传零值即全量加载。
func (r *LinksRepo) LoadBloom(ctx context.Context, since time.Time) (time.Time, error) {
	if r.bloom == nil {
		return since, nil
	}
	rows, err := r.db.Query(ctx, "SELECT id, created_at FROM links WHERE created_at > $1 ORDER BY created_at", since)
	if err != nil {
		return since, err
	}
	defer rows.Close()

	watermark := since
	var ids []string
	for rows.Next() {
		var id string
		var createdAt time.Time
		if err := rows.Scan(&id, &createdAt); err != nil {
			return since, err
		}
		ids = append(ids, id)
		watermark = createdAt
	}
	if err := rows.Err(); err != nil {
		return since, err
	}
	r.bloom.AddAll(ids)
	if len(ids) > 0 {
		slog.Debug("bloom filter loaded", "added", len(ids), "approx_size", r.bloom.ApproxCount())
	}
	return watermark, nil
}

// RunBloomRefresher 阻塞：先全量加载，之后每 interval 增量加载一次。
func (r *LinksRepo) RunBloomRefresher(ctx context.Context, interval time.Duration) {
	if r.bloom == nil {
		return
	}
	watermark, err := r.LoadBloom(ctx, time.Time{})
	if err != nil {
		// 全量都没加载成功就不能开启过滤，否则所有链接都会 404
		slog.Error("bloom filter initial load failed", "err", err)
		return
	}
	r.bloom.MarkReady()
	slog.Info("bloom filter ready", "approx_size", r.bloom.ApproxCount())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// 往回退一点，避免同一时间戳的并发写入漏掉
			wm, err := r.LoadBloom(ctx, watermark.Add(-time.Second))
			if err != nil {
				slog.Warn("bloom filter refresh failed", "err", err)
				continue
			}
			if wm.After(watermark) {
				watermark = wm
			}
		}
	}
}
