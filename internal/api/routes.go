package api

import (
	"net/http"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Middleware chain
	chain := Chain(
		Recovery(h.logger),
		Logging(h.logger),
	)

	// Definitions
	mux.Handle("GET /api/v1/definitions", chain(http.HandlerFunc(h.ListDefinitions)))
	mux.Handle("GET /api/v1/definitions/{id}", chain(http.HandlerFunc(h.GetDefinition)))
	mux.Handle("POST /api/v1/definitions/{id}/runs", chain(http.HandlerFunc(h.StartRun)))

	// Orchestrator
	mux.Handle("GET /api/v1/status", chain(http.HandlerFunc(h.GetStatus)))
	mux.Handle("GET /api/v1/runs/active", chain(http.HandlerFunc(h.GetActiveRun)))
	mux.Handle("POST /api/v1/runs/active/cancel", chain(http.HandlerFunc(h.CancelRun)))
	mux.Handle("GET /api/v1/runs/last", chain(http.HandlerFunc(h.GetLastRun)))

	// Архив runs (доступен только при настроенном RunRepo)
	mux.Handle("GET /api/v1/runs", chain(http.HandlerFunc(h.ListRuns)))
	mux.Handle("GET /api/v1/runs/{id}", chain(http.HandlerFunc(h.GetRun)))

	// События
	mux.Handle("GET /api/v1/events", chain(http.HandlerFunc(h.ListEvents)))

	// Служебные
	mux.Handle("GET /health", chain(http.HandlerFunc(h.Health)))
	if h.metrics != nil {
		mux.Handle("GET /metrics", h.metrics)
	}
}
