package httpapi

import (
	"errors"
	"log/slog"
	"net/http"

	"geolink.local/gee"
	"geolink.local/internal/app/georoute"
	"geolink.local/internal/platform/httpmiddleware"
	"geolink.local/internal/platform/metrics"
)

// 重定向路径的纯文本响应体。
const (
	msgNotFound      = "Destination not found"
	msgInvalidGeo    = "Invalid Cloudflare headers"
	msgMisconfigured = "Destination misconfigured"
	msgLookupFailed  = "Destination lookup failed"
)

type RedirectOptions struct {
	// TrustedProxiesOnly 为 true 时，只有来自可信代理的请求才读取地理头；
	// 否则视为元数据缺失（400），避免客户端直连时伪造 CF-IPCountry。
	TrustedProxiesOnly bool
}

// NewRedirectHandler 处理 GET /:id。
//
// 顺序固定：解析 id -> 查目的地集合 -> 校验地理元数据 -> 国家匹配 -> 302。
// 每一种失败都映射成确定的 HTTP 响应，不重试，也不写任何存储。
func NewRedirectHandler(r georoute.Resolver, opts RedirectOptions) gee.HandlerFunc {
	return func(ctx *gee.Context) {
		id := ctx.Param("id")
		if err := georoute.ValidateLinkID(id); err != nil {
			metrics.Redirects.WithLabelValues("not_found").Inc()
			ctx.Fail(http.StatusNotFound, msgNotFound)
			return
		}

		set, err := r.GetRoutingDestinations(ctx.Req.Context(), id)
		if err != nil {
			slog.Error("resolve destinations failed",
				"request_id", ctx.Req.Header.Get("X-Request-ID"),
				"link_id", id,
				"err", err)
			metrics.Redirects.WithLabelValues("lookup_error").Inc()
			ctx.Fail(http.StatusServiceUnavailable, msgLookupFailed)
			return
		}
		if set == nil {
			metrics.Redirects.WithLabelValues("not_found").Inc()
			ctx.Fail(http.StatusNotFound, msgNotFound)
			return
		}

		md := georoute.Metadata{}
		if !opts.TrustedProxiesOnly || httpmiddleware.FromTrustedProxy(ctx.Req) {
			md = georoute.MetadataFromHeaders(ctx.Req.Header)
		}
		geo, err := georoute.ValidateGeo(md)
		if err != nil {
			slog.Debug("geo metadata rejected", "link_id", id, "err", err)
			metrics.Redirects.WithLabelValues("bad_geo").Inc()
			ctx.Fail(http.StatusBadRequest, msgInvalidGeo)
			return
		}

		if err := set.Validate(); err != nil {
			if errors.Is(err, georoute.ErrMissingDefault) {
				slog.Error("destination set has no default", "link_id", id)
			}
			metrics.Redirects.WithLabelValues("misconfigured").Inc()
			ctx.Fail(http.StatusInternalServerError, msgMisconfigured)
			return
		}

		dest := georoute.DestinationForCountry(*set, geo.Country)
		metrics.Redirects.WithLabelValues("redirected").Inc()
		ctx.Redirect(http.StatusFound, dest)
	}
}
