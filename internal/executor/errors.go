package executor

import "errors"

// Ошибки выполнения шагов.
var (
	// ErrExecutorNotFound — для шага не найден ни binding, ни тип.
	ErrExecutorNotFound = errors.New("step executor not found")

	// ErrInvalidConfig — невалидная конфигурация шага.
	ErrInvalidConfig = errors.New("invalid step config")

	// ErrExecutionCancelled — выполнение шага отменено.
	ErrExecutionCancelled = errors.New("step execution cancelled")

	// ErrTemplateParse — ошибка парсинга шаблона в конфигурации.
	ErrTemplateParse = errors.New("template parse error")

	// ErrTemplateRender — ошибка рендеринга шаблона.
	ErrTemplateRender = errors.New("template render error")
)
