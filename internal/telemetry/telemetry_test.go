package telemetry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDisabledTracing(t *testing.T) {
	ctx := context.Background()
	if err := Init(ctx, Config{Enabled: false}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	_, span := StartSpan(ctx, "render", AttrCacheKey.String("page:/"))
	SetSpanError(span, errors.New("boom"))
	span.End()

	called := false
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
	if !called {
		t.Fatal("middleware must call the next handler")
	}

	if err := Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
}
