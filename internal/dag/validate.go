package dag

import (
	"fmt"

	"github.com/shaiso/Cascade/internal/domain"
)

// Validate выполняет полную валидацию Definition.
//
// Проверяет:
// - Наличие ID definition и шагов
// - Уникальность ID шагов
// - Валидность зависимостей (depends_on)
// - Отсутствие self-dependency
// - Отсутствие циклов (делегируется Build)
//
// Каталог вызывает Validate при загрузке: невалидный definition
// никогда не становится доступным для StartRun.
func Validate(def *domain.Definition) error {
	if def == nil || def.ID == "" {
		return ErrEmptyDefinitionID
	}

	if len(def.Steps) == 0 {
		return ErrEmptySteps
	}

	stepIDs := make(map[string]bool, len(def.Steps))

	for i := range def.Steps {
		step := &def.Steps[i]

		if err := validateStep(step, stepIDs); err != nil {
			return err
		}
	}

	if err := validateDependencies(def.Steps, stepIDs); err != nil {
		return err
	}

	// Ацикличность проверяется построением графа
	if _, err := Build(def); err != nil {
		return err
	}

	return nil
}

// validateStep валидирует один шаг.
// stepIDs — уже встреченные ID шагов (для проверки уникальности).
func validateStep(step *domain.StepSpec, stepIDs map[string]bool) error {
	if step.ID == "" {
		return NewValidationError("", "id", "step has empty ID", ErrEmptyStepID)
	}

	if stepIDs[step.ID] {
		return NewValidationError(step.ID, "id",
			fmt.Sprintf("duplicate step ID: %s", step.ID), ErrDuplicateStepID)
	}
	stepIDs[step.ID] = true

	for _, dep := range step.DependsOn {
		if dep == step.ID {
			return NewValidationError(step.ID, "depends_on",
				"step depends on itself", ErrSelfDependency)
		}
	}

	if step.TimeoutSec < 0 {
		return NewValidationError(step.ID, "timeout_sec",
			"timeout must not be negative", ErrInvalidTimeout)
	}

	if step.MaxRetries < 0 {
		return NewValidationError(step.ID, "max_retries",
			"max retries must not be negative", ErrInvalidRetries)
	}

	return nil
}

// validateDependencies проверяет, что все depends_on ссылаются на существующие шаги.
func validateDependencies(steps []domain.StepSpec, stepIDs map[string]bool) error {
	for i := range steps {
		step := &steps[i]

		for _, dep := range step.DependsOn {
			if !stepIDs[dep] {
				return NewValidationError(step.ID, "depends_on",
					fmt.Sprintf("depends on unknown step: %s", dep), ErrMissingDependency)
			}
		}
	}

	return nil
}
