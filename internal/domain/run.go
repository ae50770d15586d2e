package domain

import (
	"time"

	"github.com/google/uuid"
)

// Run — один экземпляр выполнения definition.
//
// Run создаётся оркестратором при StartRun. На один Orchestrator
// одновременно приходится не более одного активного Run (single-flight).
// ID run'а одновременно служит correlation id для всех событий,
// опубликованных за время его жизни.
type Run struct {
	// ID — уникальный идентификатор run (он же correlation id).
	ID uuid.UUID `json:"id"`

	// DefinitionID — ссылка на definition, который выполняется.
	DefinitionID string `json:"definition_id"`

	// Status — текущий статус выполнения.
	Status RunStatus `json:"status"`

	// Inputs — статические входные параметры, переданные при запуске.
	// Доступны executor'ам через RunContext на всём протяжении run.
	Inputs map[string]any `json:"inputs,omitempty"`

	// StartedAt — время начала выполнения.
	StartedAt time.Time `json:"started_at"`

	// FinishedAt — время завершения. Nil, пока run выполняется.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// Results — результаты шагов (stepID → StepResult).
	// Результат в терминальном статусе больше не изменяется.
	Results map[string]*StepResult `json:"results"`

	// Error — сводное описание причины неуспеха (для FAILED/CANCELLED).
	Error string `json:"error,omitempty"`
}

// Duration возвращает продолжительность выполнения.
// Для активного run — время с момента старта.
func (r *Run) Duration() time.Duration {
	if r.FinishedAt != nil {
		return r.FinishedAt.Sub(r.StartedAt)
	}
	return time.Since(r.StartedAt)
}

// IsFinished возвращает true, если run завершён.
func (r *Run) IsFinished() bool {
	return r.Status.IsTerminal()
}

// MarkCompleted переводит run в статус COMPLETED.
func (r *Run) MarkCompleted() {
	now := time.Now()
	r.Status = RunStatusCompleted
	r.FinishedAt = &now
}

// MarkFailed переводит run в статус FAILED с описанием причины.
func (r *Run) MarkFailed(errMsg string) {
	now := time.Now()
	r.Status = RunStatusFailed
	r.FinishedAt = &now
	r.Error = errMsg
}

// MarkCancelled переводит run в статус CANCELLED.
func (r *Run) MarkCancelled() {
	now := time.Now()
	r.Status = RunStatusCancelled
	r.FinishedAt = &now
	r.Error = "cancelled"
}

// CountByStatus возвращает количество шагов в указанном статусе.
func (r *Run) CountByStatus(status StepStatus) int {
	n := 0
	for _, res := range r.Results {
		if res.Status == status {
			n++
		}
	}
	return n
}

// Clone возвращает глубокую копию run для внешних snapshot'ов.
// Results копируются, чтобы читатель не наблюдал последующие мутации.
func (r *Run) Clone() *Run {
	cp := *r
	cp.Results = make(map[string]*StepResult, len(r.Results))
	for id, res := range r.Results {
		resCopy := *res
		cp.Results[id] = &resCopy
	}
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		cp.FinishedAt = &t
	}
	return &cp
}
