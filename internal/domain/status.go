package domain

// RunStatus — статус выполнения run.
//
// Жизненный цикл:
//
//	RUNNING → COMPLETED
//	        ↘ FAILED (хотя бы один шаг FAILED)
//	        ↘ CANCELLED (по запросу пользователя)
type RunStatus string

const (
	// RunStatusRunning — run в процессе выполнения.
	RunStatusRunning RunStatus = "RUNNING"

	// RunStatusCompleted — все шаги завершились успешно.
	RunStatusCompleted RunStatus = "COMPLETED"

	// RunStatusFailed — хотя бы один шаг завершился с ошибкой.
	RunStatusFailed RunStatus = "FAILED"

	// RunStatusCancelled — run отменён пользователем.
	RunStatusCancelled RunStatus = "CANCELLED"
)

// IsTerminal возвращает true, если статус финальный (run завершён).
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return true
	default:
		return false
	}
}

// StepStatus — статус выполнения отдельного шага внутри run.
//
// Жизненный цикл:
//
//	PENDING → RUNNING → COMPLETED
//	                  ↘ FAILED (после исчерпания retry или таймаута)
//	        ↘ SKIPPED (зависимость упала или run отменён)
type StepStatus string

const (
	// StepStatusPending — шаг ожидает выполнения зависимостей.
	StepStatusPending StepStatus = "PENDING"

	// StepStatusRunning — шаг выполняется.
	StepStatusRunning StepStatus = "RUNNING"

	// StepStatusCompleted — шаг успешно завершён.
	StepStatusCompleted StepStatus = "COMPLETED"

	// StepStatusFailed — шаг завершился с ошибкой.
	StepStatusFailed StepStatus = "FAILED"

	// StepStatusSkipped — шаг не выполнялся (каскад от упавшей зависимости
	// или отмена run).
	StepStatusSkipped StepStatus = "SKIPPED"
)

// IsTerminal возвращает true, если статус финальный.
// Финальный StepResult больше не изменяется.
func (s StepStatus) IsTerminal() bool {
	switch s {
	case StepStatusCompleted, StepStatusFailed, StepStatusSkipped:
		return true
	default:
		return false
	}
}
