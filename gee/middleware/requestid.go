package middleware

import (
	"geolink.local/gee"
	"github.com/google/uuid"
)

const (
	requestIDHeader = "X-Request-ID"
	maxRequestIDLen = 128
)

// ReqID 沿用上游（边缘代理、调用方）带来的 X-Request-ID，缺失或过长时生成 UUIDv4。
// 写回请求头是为了让 gee.ErrorResponse 和访问日志读到同一个值。
func ReqID() gee.HandlerFunc {
	return func(ctx *gee.Context) {
		id := ctx.Req.Header.Get(requestIDHeader)
		if id == "" || len(id) > maxRequestIDLen {
			id = uuid.NewString()
			ctx.Req.Header.Set(requestIDHeader, id)
		}
		ctx.SetHeader(requestIDHeader, id)
		ctx.Next()
	}
}
