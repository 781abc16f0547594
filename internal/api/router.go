package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware())
	r.Use(s.bodySizeLimitMiddleware)

	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeValidation, "method not allowed")
	})

	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no tenant required)
		r.Get("/health", s.handleHealth)

		r.Route("/realtime", func(r chi.Router) {
			r.Use(s.rateLimitMiddleware())
			r.Use(s.tenantMiddleware)

			r.Get("/current-values", s.handleCurrentValues)
			r.Get("/device/{id}/values", s.handleDeviceValues)

			r.Post("/subscribe", s.handleSubscribe)
			r.Delete("/subscribe/{id}", s.handleDeleteSubscription)
			r.Get("/subscriptions", s.handleListSubscriptions)
			r.Get("/poll/{id}", s.handlePoll)

			r.Get("/stats", s.handleStats)
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeData(w, http.StatusOK, "ok", map[string]any{
		"status":         "ok",
		"version":        s.version,
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
	})
}

// handleStats returns the operational snapshot for the caller's tenant.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	snap := s.stats.Snapshot(r.Context(), tenantFrom(r.Context()))
	writeData(w, http.StatusOK, "gateway statistics", snap)
}
