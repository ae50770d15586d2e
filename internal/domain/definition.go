package domain

import "time"

// Definition — определение рабочего процесса (workflow).
//
// Definition — это неизменяемый "шаблон" pipeline'а: набор шагов
// с объявленными зависимостями и требованиями к capabilities.
// Каталог definitions загружается один раз при старте процесса
// и валидируется на ацикличность до того, как стать доступным
// для StartRun.
type Definition struct {
	// ID — уникальный идентификатор definition (например, "deploy-pipeline").
	ID string `json:"id" yaml:"id"`

	// Name — человекочитаемое имя.
	Name string `json:"name" yaml:"name"`

	// Description — описание назначения pipeline'а.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Steps — шаги pipeline'а. Порядок в списке не задаёт порядок
	// выполнения — его определяет граф зависимостей.
	Steps []StepSpec `json:"steps" yaml:"steps"`
}

// Step возвращает StepSpec по ID. Второе значение false, если шаг не найден.
func (d *Definition) Step(stepID string) (*StepSpec, bool) {
	for i := range d.Steps {
		if d.Steps[i].ID == stepID {
			return &d.Steps[i], true
		}
	}
	return nil, false
}

// StepIDs возвращает список ID всех шагов.
func (d *Definition) StepIDs() []string {
	ids := make([]string, len(d.Steps))
	for i := range d.Steps {
		ids[i] = d.Steps[i].ID
	}
	return ids
}

// StepSpec — определение шага в pipeline.
type StepSpec struct {
	// ID — уникальный идентификатор шага в рамках definition.
	// Используется в depends_on и как ключ реестра executor'ов.
	ID string `json:"id" yaml:"id"`

	// Name — человекочитаемое имя шага.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Description — описание шага.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Type — тип шага для подбора executor'а по умолчанию:
	// "http", "delay", "transform". Пустой тип допустим, если executor
	// зарегистрирован явно через RegisterStepExecutor.
	Type string `json:"type,omitempty" yaml:"type,omitempty"`

	// Capabilities — имена capabilities, которые должны быть активированы
	// перед выполнением шага и деактивированы после.
	Capabilities []string `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`

	// DependsOn — список ID шагов, от которых зависит этот шаг.
	// Шаг стартует только когда все зависимости в терминальном статусе
	// и ни одна не завершилась FAILED.
	DependsOn []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`

	// Config — конфигурация шага (зависит от типа).
	// Для http: method, url, headers, body
	// Для delay: duration_sec
	// Для transform: template
	// Значения могут содержать шаблоны {{ .inputs.X }} и
	// {{ .steps.ID.outputs.Y }}.
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`

	// TimeoutSec — таймаут выполнения в секундах. 0 — без таймаута.
	// Превышение таймаута — терминальная ошибка, retry не выполняется.
	TimeoutSec int `json:"timeout_sec,omitempty" yaml:"timeout_sec,omitempty"`

	// MaxRetries — количество повторных попыток после первой неудачной.
	// Шаг с MaxRetries=N вызывается максимум N+1 раз.
	MaxRetries int `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
}

// Timeout возвращает таймаут шага как time.Duration. 0 — без таймаута.
func (s *StepSpec) Timeout() time.Duration {
	return time.Duration(s.TimeoutSec) * time.Second
}
