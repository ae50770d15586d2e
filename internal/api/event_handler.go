package api

import (
	"net/http"

	"github.com/shaiso/Cascade/internal/bus"
)

// maxEventLimit — верхняя граница limit для /events.
const maxEventLimit = 1000

// ListEvents возвращает историю событий шины.
// GET /api/v1/events?type=...&limit=...
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	typeFilter := bus.EventType(r.URL.Query().Get("type"))

	limit := parseIntParam(r, "limit", 100)
	if limit <= 0 || limit > maxEventLimit {
		limit = 100
	}

	events := h.orch.Bus().GetHistory(typeFilter, limit)

	result := make([]EventResponse, len(events))
	for i, e := range events {
		result[i] = EventFromBus(e)
	}

	List(w, result, len(result))
}

// Health возвращает статус сервиса.
// GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
