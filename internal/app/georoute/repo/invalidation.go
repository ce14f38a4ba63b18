package repo

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// LinksChannel 是 migrations/003 里触发器 pg_notify 的频道，payload 是链接 id。
const LinksChannel = "links_changed"

// RunInvalidationListener 阻塞：LISTEN links_changed，收到通知就清掉该链接的两级缓存，
// 新建的链接顺手加进布隆过滤器。断线后退避重连，重连后把断线期间 updated_at 变过的链接补清一遍。
func (r *LinksRepo) RunInvalidationListener(ctx context.Context) {
	if r.cache == nil && r.bloom == nil {
		return
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 30 * time.Second

	var lostAt time.Time
	for {
		connected, err := r.listen(ctx, lostAt)
		if ctx.Err() != nil {
			return
		}
		if connected {
			bo.Reset()
			lostAt = time.Now()
		} else if lostAt.IsZero() {
			lostAt = time.Now()
		}

		wait := bo.NextBackOff()
		slog.Warn("links listener disconnected", "err", err, "retry_in", wait)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// listen 占用一条连接直到出错；connected 表示 LISTEN 成功过。
func (r *LinksRepo) listen(ctx context.Context, lostAt time.Time) (connected bool, err error) {
	conn, err := r.db.Acquire(ctx)
	if err != nil {
		return false, err
	}
	defer func() {
		uctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_, _ = conn.Exec(uctx, "UNLISTEN *")
		conn.Release()
	}()

	if _, err := conn.Exec(ctx, "LISTEN "+LinksChannel); err != nil {
		return false, err
	}
	if !lostAt.IsZero() {
		if err := r.invalidateSince(ctx, lostAt.Add(-time.Second)); err != nil {
			slog.Warn("links listener catch-up failed", "err", err)
		}
	}
	slog.Info("links listener ready", "channel", LinksChannel)

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return true, err
		}
		r.onLinkChanged(ctx, n.Payload)
	}
}

func (r *LinksRepo) onLinkChanged(ctx context.Context, linkID string) {
	if linkID == "" {
		return
	}
	if r.bloom != nil {
		r.bloom.AddAll([]string{linkID})
	}
	if r.cache != nil {
		if err := r.cache.Invalidate(ctx, linkID); err != nil {
			slog.Warn("destination cache invalidate failed", "link_id", linkID, "err", err)
			return
		}
	}
	slog.Debug("link changed, cache invalidated", "link_id", linkID)
}

// invalidateSince 补清断线期间改过的链接；删除的行查不到，只能等 TTL。
func (r *LinksRepo) invalidateSince(ctx context.Context, since time.Time) error {
	rows, err := r.db.Query(ctx, "SELECT id FROM links WHERE updated_at >= $1", since)
	if err != nil {
		return err
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return err
		}
		r.onLinkChanged(ctx, id)
		n++
	}
	if err := rows.Err(); err != nil {
		return err
	}
	slog.Info("links listener caught up", "since", since, "invalidated", n)
	return nil
}
