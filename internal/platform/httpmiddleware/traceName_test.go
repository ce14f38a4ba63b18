package httpmiddleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"geolink.local/gee"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestTraceName_RenamesSpanToRoutePattern(t *testing.T) {
	old := otel.GetTracerProvider()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(old)
	})

	r := gee.New()
	r.Use(TraceName())
	r.GET("/:id", func(ctx *gee.Context) {
		ctx.Redirect(http.StatusFound, "https://example.com/")
	})
	h := otelhttp.NewHandler(r, "http")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://example.com/abc123", nil))
	if rec.Code != http.StatusFound {
		t.Fatalf("status: got %d", rec.Code)
	}

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected one span, got %d", len(spans))
	}
	if got := spans[0].Name(); got != "GET /:id" {
		t.Fatalf("span name: got %q", got)
	}
	attrs := map[attribute.Key]string{}
	for _, kv := range spans[0].Attributes() {
		attrs[kv.Key] = kv.Value.Emit()
	}
	if attrs["http.route"] != "/:id" || attrs["geolink.link_id"] != "abc123" {
		t.Fatalf("attributes: %v", attrs)
	}
}
