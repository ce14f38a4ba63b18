package httpmiddleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"geolink.local/gee"
	"geolink.local/internal/platform/ratelimit"
)

// RateLimit 按 prefix + 客户端 IP 做滑动窗口限流；limiter 为 nil 时直接放行。
func RateLimit(limiter *ratelimit.Limiter, prefix string, limit int, window time.Duration) gee.HandlerFunc {
	return func(ctx *gee.Context) {
		if limiter == nil {
			ctx.Next()
			return
		}
		key := "rl:" + prefix + ":" + ClientIP(ctx.Req)

		// 限流不能拖慢重定向热路径
		rlCtx, cancel := context.WithTimeout(ctx.Req.Context(), 50*time.Millisecond)
		defer cancel()
		d, err := limiter.Allow(rlCtx, key, limit, window)
		if err != nil {
			slog.Error("rate limit check failed", "prefix", prefix, "err", err)
			ctx.Next() // Redis 故障时放行
			return
		}
		ctx.SetHeader("X-RateLimit-Limit", strconv.Itoa(limit))
		ctx.SetHeader("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		if !d.Allowed {
			if d.RetryAfter > 0 {
				// Retry-After 单位是秒，向上取整
				secs := int64((d.RetryAfter + time.Second - 1) / time.Second)
				ctx.SetHeader("Retry-After", strconv.FormatInt(secs, 10))
			}
			ctx.AbortWithError(http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		ctx.Next()
	}
}
