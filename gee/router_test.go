package gee

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func serve(e *Engine, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func echoPattern(ctx *Context) {
	ctx.String(http.StatusOK, "%s id=%s", ctx.RoutePattern, ctx.Param("id"))
}

func TestStaticRouteBeatsParam(t *testing.T) {
	e := New()
	e.GET("/:id", echoPattern)
	e.GET("/healthz", echoPattern)
	e.GET("/api/v1/links/:id/destination-status", echoPattern)

	cases := map[string]string{
		"/healthz": "/healthz id=",
		"/abc123":  "/:id id=abc123",
		"/api":     "/:id id=api",
	}
	for path, want := range cases {
		w := serve(e, http.MethodGet, path)
		if w.Code != http.StatusOK || w.Body.String() != want {
			t.Fatalf("%s: got %d %q, want %q", path, w.Code, w.Body.String(), want)
		}
	}

	w := serve(e, http.MethodGet, "/api/v1/links/xyz/destination-status")
	if w.Body.String() != "/api/v1/links/:id/destination-status id=xyz" {
		t.Fatalf("nested param: got %q", w.Body.String())
	}
}

func TestParamBacktracksToStatic(t *testing.T) {
	e := New()
	e.GET("/files/:name", echoPattern)
	e.GET("/files/:name/raw", echoPattern)
	e.GET("/assets/*path", func(ctx *Context) {
		ctx.String(http.StatusOK, "path=%s", ctx.Param("path"))
	})

	if w := serve(e, http.MethodGet, "/files/a/raw"); w.Body.String() != "/files/:name/raw id=" {
		t.Fatalf("got %q", w.Body.String())
	}
	if w := serve(e, http.MethodGet, "/assets/css/site.css"); w.Body.String() != "path=css/site.css" {
		t.Fatalf("catch-all: got %q", w.Body.String())
	}
	if w := serve(e, http.MethodGet, "/files/a/b/c"); w.Code != http.StatusNotFound {
		t.Fatalf("deep path: got %d", w.Code)
	}
}

func TestConflictingParamNamesPanic(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	e := New()
	e.GET("/:id", echoPattern)
	e.GET("/:slug", echoPattern)
}

func TestHeadFallsBackToGet(t *testing.T) {
	e := New()
	e.GET("/:id", func(ctx *Context) {
		ctx.Redirect(http.StatusFound, "https://example.com/"+ctx.Param("id"))
	})

	w := serve(e, http.MethodHead, "/abc")
	if w.Code != http.StatusFound {
		t.Fatalf("HEAD: got %d, want %d", w.Code, http.StatusFound)
	}
	if w.Header().Get("Location") != "https://example.com/abc" {
		t.Fatalf("Location: got %q", w.Header().Get("Location"))
	}
}

func TestNotFoundAndCustomNoRoute(t *testing.T) {
	e := New()
	e.GET("/exists", echoPattern)
	if w := serve(e, http.MethodGet, "/exists/not"); w.Code != http.StatusNotFound {
		t.Fatalf("got %d", w.Code)
	}

	e.NoRoute(func(ctx *Context) { ctx.Fail(http.StatusNotFound, "Destination not found") })
	w := serve(e, http.MethodGet, "/exists/not")
	if w.Code != http.StatusNotFound || w.Body.String() != "Destination not found" {
		t.Fatalf("custom: got %d %q", w.Code, w.Body.String())
	}
}

func TestMethodNotAllowedSetsAllow(t *testing.T) {
	e := New()
	e.GET("/test", echoPattern)
	e.POST("/test", echoPattern)

	w := serve(e, http.MethodDelete, "/test")
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("got %d, want %d", w.Code, http.StatusMethodNotAllowed)
	}
	if allow := w.Header().Get("Allow"); allow != "GET, HEAD, POST" {
		t.Fatalf("Allow: got %q", allow)
	}

	e.NoMethod(func(ctx *Context) { ctx.AbortWithError(http.StatusMethodNotAllowed, "method not allowed") })
	w = serve(e, http.MethodPut, "/test")
	if !strings.Contains(w.Body.String(), "method not allowed") {
		t.Fatalf("custom: got %q", w.Body.String())
	}
}

func TestGroupMiddlewareMatchesWholeSegments(t *testing.T) {
	var hits []string
	e := New()
	e.Use(func(ctx *Context) {
		hits = append(hits, "root")
		ctx.Next()
	})
	links := e.Group("/api/v1/links")
	links.Use(func(ctx *Context) {
		hits = append(hits, "links")
		ctx.Next()
	})
	links.GET("/:id", echoPattern)
	e.GET("/api/v1/linksfoo", echoPattern)

	serve(e, http.MethodGet, "/api/v1/links/abc")
	serve(e, http.MethodGet, "/api/v1/linksfoo")
	// 404 也走中间件
	serve(e, http.MethodGet, "/api/v1/links/abc/missing")

	want := []string{"root", "links", "root", "root", "links"}
	if strings.Join(hits, ",") != strings.Join(want, ",") {
		t.Fatalf("hits: got %v, want %v", hits, want)
	}
}
