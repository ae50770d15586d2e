package orchestrator

import (
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Cascade/internal/domain"
)

// Status — snapshot состояния оркестратора.
//
// Для неактивного оркестратора заполнены только Active и Definitions;
// для активного run — прогресс, выполняющиеся шаги и полная карта
// результатов.
type Status struct {
	// Active — выполняется ли run в данный момент.
	Active bool `json:"active"`

	// Definitions — каталог доступных definitions (только в idle).
	Definitions []string `json:"definitions,omitempty"`

	// RunID — идентификатор активного run.
	RunID uuid.UUID `json:"run_id,omitempty"`

	// DefinitionID — definition активного run.
	DefinitionID string `json:"definition_id,omitempty"`

	// Progress — счётчики прогресса.
	Progress Progress `json:"progress,omitempty"`

	// RunningSteps — детали выполняющихся шагов.
	RunningSteps []RunningStep `json:"running_steps,omitempty"`

	// Results — карта результатов всех шагов run.
	Results map[string]*domain.StepResult `json:"results,omitempty"`
}

// Progress — счётчики прогресса run.
// Completed учитывает все терминальные шаги, включая FAILED и SKIPPED.
type Progress struct {
	Completed int `json:"completed"`
	Running   int `json:"running"`
	Total     int `json:"total"`
}

// RunningStep — детали выполняющегося шага.
type RunningStep struct {
	ID           string        `json:"id"`
	Name         string        `json:"name,omitempty"`
	Capabilities []string      `json:"capabilities,omitempty"`
	Elapsed      time.Duration `json:"elapsed"`
}
