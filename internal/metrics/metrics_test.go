package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestMetrics_Exposition(t *testing.T) {
	m := New("pagefront")
	m.CacheLookup("hit")
	m.CacheLookup("miss")
	m.CacheWrite(nil)
	m.CacheWrite(errors.New("down"))
	m.CacheWriteDropped()
	m.Render("cached", 12*time.Millisecond)
	m.Invalidation("ok", 3)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	out := string(body)

	for _, want := range []string{
		`pagefront_cache_lookups_total{result="hit"} 1`,
		`pagefront_cache_writes_total{result="error"} 1`,
		`pagefront_cache_writes_total{result="dropped"} 1`,
		`pagefront_renders_total{state="cached"} 1`,
		`pagefront_invalidated_entries_total 3`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in exposition", want)
		}
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.CacheLookup("hit")
	m.CacheWrite(nil)
	m.CacheWriteDropped()
	m.WriteStarted()
	m.WriteFinished()
	m.Render("failed", time.Second)
	m.Invalidation("error", 0)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 404 {
		t.Fatalf("nil metrics should not serve an exposition, got %d", rec.Code)
	}
}
