package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware)
	r.Use(RecoveryMiddleware)

	r.Post("/webhook", h.Webhook)
	r.Post("/sync/full", h.TriggerFullSync)
	r.Post("/sync/deal/{id}", h.TriggerDealSync)
	r.Get("/api/stats", h.Stats)
	r.Get("/health", h.Health)

	return r
}
