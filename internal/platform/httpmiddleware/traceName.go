package httpmiddleware

import (
	"geolink.local/gee"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// TraceName 把 otelhttp 建的 span 改名成 "GET /:id" 这种路由模板，并带上 link id。
func TraceName() gee.HandlerFunc {
	return func(ctx *gee.Context) {
		span := trace.SpanFromContext(ctx.Req.Context())
		if ctx.RoutePattern != "" {
			span.SetName(ctx.Method + " " + ctx.RoutePattern)
			span.SetAttributes(attribute.String("http.route", ctx.RoutePattern))
		}
		if id := ctx.Param("id"); id != "" {
			span.SetAttributes(attribute.String("geolink.link_id", id))
		}
		ctx.Next()
	}
}
