package domain

import "time"

// StepResult — результат выполнения одного шага внутри run.
//
// StepResult создаётся в статусе PENDING при старте run и проходит
// через RUNNING к одному из терминальных статусов. После перехода
// в терминальный статус результат не изменяется.
type StepResult struct {
	// StepID — ID шага из definition.
	StepID string `json:"step_id"`

	// Status — текущий статус шага.
	Status StepStatus `json:"status"`

	// Output — выходные данные успешного выполнения.
	// Заполняется только для COMPLETED; взаимоисключим с Error.
	Output map[string]any `json:"output,omitempty"`

	// Error — текст ошибки для FAILED и причина пропуска для SKIPPED.
	Error string `json:"error,omitempty"`

	// Attempts — количество выполненных попыток (включая первую).
	Attempts int `json:"attempts"`

	// StartedAt — время первого запуска. Nil для SKIPPED и PENDING.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время перехода в терминальный статус.
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// NewStepResult создаёт StepResult в статусе PENDING.
func NewStepResult(stepID string) *StepResult {
	return &StepResult{
		StepID: stepID,
		Status: StepStatusPending,
	}
}

// Duration возвращает продолжительность выполнения шага.
func (r *StepResult) Duration() time.Duration {
	if r.StartedAt == nil || r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(*r.StartedAt)
}

// IsTerminal возвращает true, если шаг в терминальном статусе.
func (r *StepResult) IsTerminal() bool {
	return r.Status.IsTerminal()
}

// MarkRunning переводит шаг в статус RUNNING.
// При первом вызове фиксирует StartedAt; при retry увеличивает Attempts.
// No-op для терминального результата.
func (r *StepResult) MarkRunning() {
	if r.IsTerminal() {
		return
	}
	if r.StartedAt == nil {
		now := time.Now()
		r.StartedAt = &now
	}
	r.Status = StepStatusRunning
	r.Attempts++
}

// MarkCompleted переводит шаг в статус COMPLETED с выходными данными.
// Терминальный результат не перезаписывается: поздний исход шага,
// уже помеченного SKIPPED или FAILED, отбрасывается.
func (r *StepResult) MarkCompleted(output map[string]any) {
	if r.IsTerminal() {
		return
	}
	now := time.Now()
	r.Status = StepStatusCompleted
	r.FinishedAt = &now
	r.Output = output
	r.Error = ""
}

// MarkFailed переводит шаг в статус FAILED с текстом ошибки.
// No-op для терминального результата.
func (r *StepResult) MarkFailed(errMsg string) {
	if r.IsTerminal() {
		return
	}
	now := time.Now()
	r.Status = StepStatusFailed
	r.FinishedAt = &now
	r.Error = errMsg
	r.Output = nil
}

// MarkSkipped переводит шаг в статус SKIPPED с причиной.
// Executor для такого шага никогда не вызывается.
// No-op для терминального результата.
func (r *StepResult) MarkSkipped(reason string) {
	if r.IsTerminal() {
		return
	}
	now := time.Now()
	r.Status = StepStatusSkipped
	r.FinishedAt = &now
	r.Error = reason
	r.Output = nil
}
