package httpapi

import (
	"time"

	"geolink.local/gee"
	"geolink.local/internal/app/georoute"
	"geolink.local/internal/platform/httpmiddleware"
	"geolink.local/internal/platform/ratelimit"
)

// RegisterPublicRoutes 在根路由上挂载跳转入口 GET /:id。
//
// 跳转入口不放在 /api/v1 下，浏览器直接访问短链即可。
func RegisterPublicRoutes(engine *gee.Engine, r georoute.Resolver, limiter *ratelimit.Limiter, opts RedirectOptions) {
	//跳转 100次/分钟
	engine.GET("/:id", httpmiddleware.RateLimit(limiter, "redirect", 100, time.Minute), NewRedirectHandler(r, opts))
}
