// Package opsserver builds the process's operational HTTP surface: health,
// readiness, and Prometheus metrics endpoints. It carries no domain routes;
// the controller has no public API of its own (§2's Non-goals rule out a
// user-facing web UI).
package opsserver

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"seedwatch/internal/health"
	"seedwatch/internal/metrics"
)

// New builds the ops router: /healthz (liveness), /readyz (readiness), and
// /metrics (Prometheus). corsOrigins controls access for browser-based
// dashboards polling these endpoints directly.
func New(checker *health.Checker, corsOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(observe)

	if len(corsOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   corsOrigins,
			AllowedMethods:   []string{"GET"},
			AllowedHeaders:   []string{"Accept", "X-Request-ID"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	r.Get("/healthz", checker.HandleLive)
	r.Get("/readyz", checker.HandleReady)
	r.Get("/health", checker.HandleHealth)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// observe records HTTPRequestsTotal/HTTPRequestDuration for every request.
// Wrapped here rather than via middleware.WrapResponseWriter so the path
// label stays the route pattern ("/healthz"), not whatever was requested.
func observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
		next.ServeHTTP(ww, req)

		routePath := chi.RouteContext(req.Context()).RoutePattern()
		if routePath == "" {
			routePath = req.URL.Path
		}
		metrics.HTTPRequestsTotal.WithLabelValues(req.Method, routePath, strconv.Itoa(ww.Status())).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(req.Method, routePath).Observe(time.Since(start).Seconds())
	})
}
