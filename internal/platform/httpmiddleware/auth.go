package httpmiddleware

import (
	"net/http"
	"strings"

	"geolink.local/gee"
	"geolink.local/internal/platform/auth"
)

// bearerToken 取 "Authorization: Bearer <token>"，格式不对返回空串。
func bearerToken(r *http.Request) string {
	fields := strings.Fields(r.Header.Get("Authorization"))
	if len(fields) != 2 || !strings.EqualFold(fields[0], "Bearer") {
		return ""
	}
	return fields[1]
}

// AuthRequired 校验 JWT，把 sub / role 写进 request context（auth.GetIdentity 读取）。
// sub 就是账号 id。
func AuthRequired(ts auth.TokenService) gee.HandlerFunc {
	return func(ctx *gee.Context) {
		if ctx.Req.Header.Get("Authorization") == "" {
			ctx.AbortWithError(http.StatusUnauthorized, "missing authorization header")
			return
		}
		token := bearerToken(ctx.Req)
		if token == "" {
			ctx.AbortWithError(http.StatusUnauthorized, "invalid authorization format")
			return
		}
		id, err := ts.Verify(token)
		if err != nil {
			ctx.AbortWithError(http.StatusUnauthorized, "invalid token")
			return
		}
		ctx.Req = ctx.Req.WithContext(auth.WithIdentity(ctx.Req.Context(), id))
		ctx.Next()
	}
}
