package dag

import "errors"

// Ошибки валидации Definition.
var (
	// ErrEmptyDefinitionID — definition не имеет ID.
	ErrEmptyDefinitionID = errors.New("definition has empty ID")

	// ErrEmptySteps — definition не содержит шагов.
	ErrEmptySteps = errors.New("definition has no steps")

	// ErrEmptyStepID — шаг не имеет ID.
	ErrEmptyStepID = errors.New("step has empty ID")

	// ErrDuplicateStepID — несколько шагов с одинаковым ID.
	ErrDuplicateStepID = errors.New("duplicate step ID")

	// ErrMissingDependency — шаг зависит от несуществующего шага.
	ErrMissingDependency = errors.New("step depends on unknown step")

	// ErrCyclicDependency — обнаружен цикл в зависимостях.
	ErrCyclicDependency = errors.New("cyclic dependency detected")

	// ErrSelfDependency — шаг зависит от самого себя.
	ErrSelfDependency = errors.New("step depends on itself")

	// ErrInvalidTimeout — отрицательный таймаут шага.
	ErrInvalidTimeout = errors.New("invalid step timeout")

	// ErrInvalidRetries — отрицательное количество retry.
	ErrInvalidRetries = errors.New("invalid max retries")
)

// ValidationError — ошибка валидации с контекстом.
type ValidationError struct {
	StepID  string // ID шага, где произошла ошибка
	Field   string // поле, вызвавшее ошибку
	Message string // описание ошибки
	Err     error  // базовая ошибка
}

// Error реализует интерфейс error.
func (e *ValidationError) Error() string {
	if e.StepID != "" {
		return "step " + e.StepID + ": " + e.Message
	}
	return e.Message
}

// Unwrap возвращает базовую ошибку.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError создаёт новую ошибку валидации.
func NewValidationError(stepID, field, message string, err error) *ValidationError {
	return &ValidationError{
		StepID:  stepID,
		Field:   field,
		Message: message,
		Err:     err,
	}
}
