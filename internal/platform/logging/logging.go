package logging

import (
	"io"
	"log/slog"
	"strings"
)

// Setup 安装默认 slog logger；format 为 text 时用人读格式，其余一律 JSON。
// 每条日志带上 service，api 和 worker 的日志混在一起也能区分。
func Setup(w io.Writer, level slog.Level, format, service string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if strings.EqualFold(format, "text") {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	logger := slog.New(h).With("service", service)
	slog.SetDefault(logger)
	return logger
}
