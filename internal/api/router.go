package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/danielbchen/raker/internal/config"
	"github.com/danielbchen/raker/internal/events"
	"github.com/danielbchen/raker/internal/store"
)

func NewRouter(s store.Store, ev events.Client, cfg *config.Config, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.RequestID)
	r.Use(RequestLogger(logger))
	r.Use(MetricsMiddleware)
	r.Use(RateLimitMiddleware(cfg.Server.RateLimit))

	runs := NewRunsHandler(s, ev)
	admin := NewAdminHandler(s)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(ClientIDMiddleware)

		r.Post("/runs", runs.Create)
		r.Get("/runs", runs.List)
		r.Get("/runs/{id}", runs.Get)
		r.Get("/runs/{id}/report", runs.Report)
		r.Get("/runs/{id}/weights", runs.Weights)
		r.Get("/runs/{id}/events", runs.Events)
		r.Post("/runs/{id}/cancel", runs.Cancel)

		r.Group(func(r chi.Router) {
			r.Use(AdminAuthMiddleware(cfg.Server.AdminToken))
			r.Get("/stats", admin.Stats)
		})
	})

	return r
}

func NewMetricsRouter() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}
