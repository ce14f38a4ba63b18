package gee

import (
	"log/slog"
	"net/http"
	"runtime/debug"
)

// Recovery 捕获 panic，记录堆栈，返回 500。必须放在中间件链的最前面。
func Recovery() HandlerFunc {
	return func(ctx *Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			// 客户端断开时 net/http 用它中止响应，不是 bug
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			slog.Error("panic recovered",
				"request_id", ctx.Req.Header.Get("X-Request-ID"),
				"method", ctx.Method,
				"path", ctx.Path,
				"panic", rec,
				"stack", string(debug.Stack()),
			)
			ctx.AbortWithError(http.StatusInternalServerError, "Internal Server Error")
		}()
		ctx.Next()
	}
}
