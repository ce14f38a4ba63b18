package httpapi

import (
	"time"

	"geolink.local/gee"
	"geolink.local/internal/app/evaluation"
	"geolink.local/internal/platform/auth"
	"geolink.local/internal/platform/httpmiddleware"
	"geolink.local/internal/platform/ratelimit"
)

// RegisterAPIRoutes 挂在 /api/v1 下，全部需要登录。
func RegisterAPIRoutes(api *gee.RouterGroup, svc *evaluation.Service, links LinkGetter, statuses StatusLister, ts auth.TokenService, limiter *ratelimit.Limiter) {
	evals := api.Group("/evaluations")
	evals.Use(httpmiddleware.AuthRequired(ts))
	//触发 30次/分钟
	evals.POST("", httpmiddleware.RateLimit(limiter, "evaluate", 30, time.Minute), NewTriggerHandler(svc, links))
	evals.GET("/status", NewStatusHandler(svc))

	if statuses != nil {
		linksGroup := api.Group("/links")
		linksGroup.Use(httpmiddleware.AuthRequired(ts))
		linksGroup.GET("/:id/destination-status", NewDestinationStatusHandler(links, statuses))
	}
}
