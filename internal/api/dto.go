package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Cascade/internal/bus"
	"github.com/shaiso/Cascade/internal/domain"
)

// Definition DTOs

// DefinitionSummary — краткое описание definition для списка.
type DefinitionSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Steps       int    `json:"steps"`
}

// DefinitionSummaryFromDomain конвертирует domain.Definition в DefinitionSummary.
func DefinitionSummaryFromDomain(d *domain.Definition) DefinitionSummary {
	return DefinitionSummary{
		ID:          d.ID,
		Name:        d.Name,
		Description: d.Description,
		Steps:       len(d.Steps),
	}
}

// Run DTOs

// StartRunRequest — запрос на запуск definition.
type StartRunRequest struct {
	Inputs map[string]any `json:"inputs,omitempty"`
}

// StartRunResponse — ответ на запуск run.
type StartRunResponse struct {
	RunID        uuid.UUID `json:"run_id"`
	DefinitionID string    `json:"definition_id"`
	Status       string    `json:"status"`
}

// CancelResponse — ответ на отмену run.
type CancelResponse struct {
	Message string `json:"message"`
}

// RunResponse — ответ с run.
type RunResponse struct {
	ID           uuid.UUID                     `json:"id"`
	DefinitionID string                        `json:"definition_id"`
	Status       string                        `json:"status"`
	Inputs       map[string]any                `json:"inputs,omitempty"`
	Results      map[string]*domain.StepResult `json:"results,omitempty"`
	Error        string                        `json:"error,omitempty"`
	StartedAt    time.Time                     `json:"started_at"`
	FinishedAt   *time.Time                    `json:"finished_at,omitempty"`
	DurationMs   int64                         `json:"duration_ms"`
}

// RunFromDomain конвертирует domain.Run в RunResponse.
func RunFromDomain(r *domain.Run) RunResponse {
	return RunResponse{
		ID:           r.ID,
		DefinitionID: r.DefinitionID,
		Status:       string(r.Status),
		Inputs:       r.Inputs,
		Results:      r.Results,
		Error:        r.Error,
		StartedAt:    r.StartedAt,
		FinishedAt:   r.FinishedAt,
		DurationMs:   r.Duration().Milliseconds(),
	}
}

// Event DTOs

// EventResponse — ответ с событием из истории шины.
type EventResponse struct {
	ID            uuid.UUID      `json:"id"`
	Type          string         `json:"type"`
	Source        string         `json:"source"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
}

// EventFromBus конвертирует bus.Event в EventResponse.
func EventFromBus(e *bus.Event) EventResponse {
	return EventResponse{
		ID:            e.ID,
		Type:          string(e.Type),
		Source:        e.Source,
		CorrelationID: e.CorrelationID,
		Payload:       e.Payload,
		Timestamp:     e.Timestamp,
	}
}
