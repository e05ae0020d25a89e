package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.IngestTotal.WithLabelValues("rendered-html", "ok").Inc()
	m.CacheHits.Inc()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	for _, want := range []string{
		`arxivmd_ingest_total{source="rendered-html",status="ok"} 1`,
		"arxivmd_cache_hits_total 1",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("exposition missing %q:\n%s", want, body)
		}
	}
}

func TestIndependentInstances(t *testing.T) {
	// Registration on separate registries must not panic.
	a := New()
	b := New()
	a.CacheHits.Inc()
	b.CacheHits.Inc()
}
