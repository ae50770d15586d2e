package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/shaiso/Cascade/internal/domain"
	"github.com/shaiso/Cascade/internal/orchestrator"
	"github.com/shaiso/Cascade/internal/repo"
)

// GetStatus возвращает текущее состояние оркестратора.
// GET /api/v1/status
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	Success(w, h.orch.GetStatus())
}

// GetActiveRun возвращает активный run.
// GET /api/v1/runs/active
func (h *Handler) GetActiveRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.orch.ActiveRun()
	if errors.Is(err, orchestrator.ErrNoActiveRun) {
		NotFound(w, "no active run")
		return
	}

	Success(w, RunFromDomain(run))
}

// CancelRun отменяет активный run.
// POST /api/v1/runs/active/cancel
func (h *Handler) CancelRun(w http.ResponseWriter, r *http.Request) {
	msg, err := h.orch.Cancel()
	if errors.Is(err, orchestrator.ErrNoActiveRun) {
		InvalidState(w, "no active run to cancel")
		return
	}

	Success(w, CancelResponse{Message: msg})
}

// GetLastRun возвращает последний завершённый run.
// GET /api/v1/runs/last
func (h *Handler) GetLastRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.orch.LastRun()
	if errors.Is(err, orchestrator.ErrNoRuns) {
		NotFound(w, "no finished runs")
		return
	}

	Success(w, RunFromDomain(run))
}

// ListRuns возвращает архив завершённых runs с фильтрацией.
// GET /api/v1/runs?definition_id=...&status=...&limit=...&offset=...
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.runRepo == nil {
		NotFound(w, "run archive is not configured")
		return
	}

	filter := repo.RunFilter{
		DefinitionID: r.URL.Query().Get("definition_id"),
		Status:       domain.RunStatus(r.URL.Query().Get("status")),
		Limit:        parseIntParam(r, "limit", 50),
		Offset:       parseIntParam(r, "offset", 0),
	}

	runs, err := h.runRepo.List(r.Context(), filter)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]RunResponse, len(runs))
	for i, run := range runs {
		result[i] = RunFromDomain(run)
	}

	List(w, result, len(result))
}

// GetRun возвращает завершённый run из архива по ID.
// GET /api/v1/runs/{id}
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	if h.runRepo == nil {
		NotFound(w, "run archive is not configured")
		return
	}

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	run, err := h.runRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "run not found") {
		return
	}

	Success(w, RunFromDomain(run))
}

// parseIntParam парсит целочисленный query-параметр с дефолтным значением.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return n
}
