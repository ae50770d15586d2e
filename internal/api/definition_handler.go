package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/shaiso/Cascade/internal/orchestrator"
)

// ListDefinitions возвращает список definitions каталога.
// GET /api/v1/definitions
func (h *Handler) ListDefinitions(w http.ResponseWriter, r *http.Request) {
	defs := h.catalog.All()

	result := make([]DefinitionSummary, len(defs))
	for i, def := range defs {
		result[i] = DefinitionSummaryFromDomain(def)
	}

	List(w, result, len(result))
}

// GetDefinition возвращает definition целиком, включая шаги.
// GET /api/v1/definitions/{id}
func (h *Handler) GetDefinition(w http.ResponseWriter, r *http.Request) {
	def, err := h.catalog.Get(r.PathValue("id"))
	if err != nil {
		NotFound(w, "definition not found")
		return
	}

	Success(w, def)
}

// StartRun запускает выполнение definition.
// POST /api/v1/definitions/{id}/runs
func (h *Handler) StartRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req StartRunRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			BadRequest(w, "invalid request body")
			return
		}
	}

	runID, err := h.orch.StartRun(id, req.Inputs)
	switch {
	case errors.Is(err, orchestrator.ErrUnknownDefinition):
		NotFound(w, "definition not found")
		return
	case errors.Is(err, orchestrator.ErrAlreadyRunning):
		Conflict(w, "a run is already active")
		return
	case err != nil:
		InternalError(w, h.logger, err)
		return
	}

	Accepted(w, StartRunResponse{
		RunID:        runID,
		DefinitionID: id,
		Status:       "RUNNING",
	})
}
