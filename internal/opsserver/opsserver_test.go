package opsserver

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"seedwatch/internal/health"
)

func TestHealthzReturns200(t *testing.T) {
	checker := health.NewChecker()
	srv := New(checker, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}

func TestReadyzReturns503WhenNotReady(t *testing.T) {
	checker := health.NewChecker()
	checker.AddReadinessCheck(func() health.Check {
		return health.Check{Name: "registry", Status: health.StatusDown}
	})
	srv := New(checker, nil)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}
}

func TestMetricsEndpointServesPrometheusText(t *testing.T) {
	checker := health.NewChecker()
	srv := New(checker, nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	ct := w.Header().Get("Content-Type")
	if ct == "" {
		t.Error("expected a Content-Type header from promhttp.Handler")
	}
}

func TestUnknownRouteReturns404(t *testing.T) {
	checker := health.NewChecker()
	srv := New(checker, nil)

	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestCORSHeaderAppliedWhenOriginsConfigured(t *testing.T) {
	checker := health.NewChecker()
	srv := New(checker, []string{"http://localhost:4200"})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "http://localhost:4200")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:4200" {
		t.Errorf("expected CORS header to echo allowed origin, got %q", got)
	}
}
