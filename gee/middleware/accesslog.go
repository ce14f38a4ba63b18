package middleware

import (
	"context"
	"log/slog"
	"time"

	"geolink.local/gee"
)

// AccessLog 请求结束后打一行 "access"。5xx 记 Error，4xx 记 Warn，其余 Info。
// 重定向额外带上 Location 和 CF-IPCountry，排查国家分流时直接看这一行即可。
func AccessLog() gee.HandlerFunc {
	return func(ctx *gee.Context) {
		start := time.Now()
		ctx.Next()

		status := ctx.Writer.Status()
		attrs := []slog.Attr{
			slog.String("request_id", ctx.Req.Header.Get(requestIDHeader)),
			slog.String("method", ctx.Method),
			slog.String("path", ctx.Path),
			slog.String("route", ctx.RoutePattern),
			slog.Int("status", status),
			slog.Int("bytes", ctx.Writer.Size()),
			slog.Int64("latency_ms", time.Since(start).Milliseconds()),
		}
		if status >= 300 && status < 400 {
			attrs = append(attrs,
				slog.String("location", ctx.Writer.Header().Get("Location")),
				slog.String("country", ctx.Req.Header.Get("CF-IPCountry")),
			)
		}

		level := slog.LevelInfo
		switch {
		case status >= 500:
			level = slog.LevelError
		case status >= 400:
			level = slog.LevelWarn
		}
		slog.LogAttrs(context.Background(), level, "access", attrs...)
	}
}
