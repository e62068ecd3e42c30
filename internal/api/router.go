// internal/api/router.go

// Package api wires the HTTP surface: snapshot ingest, queue and campaign
// dashboard endpoints, the provider webhook, and metrics.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"reengage-engine/internal/common/logger"
)

type Handlers struct {
	Patients  *PatientHandler
	Queue     *QueueHandler
	Campaigns *CampaignHandler
	Webhooks  *WebhookHandler
}

func NewRouter(h Handlers, log logger.Logger) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(log))

	r.Route("/api", func(r chi.Router) {
		r.Post("/patients/sync", h.Patients.Sync)

		r.Get("/queue", h.Queue.List)
		r.Patch("/queue/{id}/status", h.Queue.UpdateStatus)

		r.Post("/campaigns", h.Campaigns.Create)
		r.Get("/campaigns", h.Campaigns.List)
		r.Get("/campaigns/status", h.Campaigns.CommsStatus)
		r.Get("/campaigns/{id}", h.Campaigns.Get)
		r.Post("/campaigns/{id}/send", h.Campaigns.Send)
		r.Get("/campaigns/{id}/messages", h.Campaigns.Messages)

		r.Post("/webhooks/events", h.Webhooks.Receive)
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func requestLogger(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Debug("http request", map[string]interface{}{
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   ww.Status(),
				"duration": time.Since(start).String(),
			})
		})
	}
}
