package httpmiddleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"geolink.local/gee"
	"geolink.local/internal/platform/auth"
)

func TestAuthRequired(t *testing.T) {
	ts, err := auth.NewHS256Service("secret", "geolink", time.Hour)
	if err != nil {
		t.Fatalf("NewHS256Service: %v", err)
	}
	tok, err := ts.Sign("acct-1", "user")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	r := gee.New()
	r.GET("/me", AuthRequired(ts), func(ctx *gee.Context) {
		id, ok := auth.GetIdentity(ctx.Req.Context())
		if !ok {
			ctx.String(http.StatusInternalServerError, "no identity")
			return
		}
		ctx.String(http.StatusOK, "%s/%s", id.AccountID, id.Role)
	})

	cases := []struct {
		name   string
		header string
		want   int
		body   string
	}{
		{"missing", "", http.StatusUnauthorized, ""},
		{"not bearer", "Basic abc", http.StatusUnauthorized, ""},
		{"garbage", "Bearer not-a-jwt", http.StatusUnauthorized, ""},
		{"ok", "Bearer " + tok, http.StatusOK, "acct-1/user"},
		{"lowercase scheme", "bearer " + tok, http.StatusOK, "acct-1/user"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("status: got %d, want %d (body=%s)", rec.Code, tc.want, rec.Body.String())
			}
			if tc.body != "" && rec.Body.String() != tc.body {
				t.Fatalf("body: got %q, want %q", rec.Body.String(), tc.body)
			}
		})
	}
}
