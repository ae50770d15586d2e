package executor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shaiso/Cascade/internal/domain"
)

const (
	// TypeTransform — тип шага трансформации.
	TypeTransform = "transform"

	// Ключ конфигурации.
	configMappings = "mappings"
)

// TransformExecutor — шаг трансформации данных.
//
// Применяет Go templates для преобразования данных предыдущих шагов.
//
// Конфигурация:
//
//	{
//	    "mappings": {
//	        "total": "{{ len .steps.fetch.outputs.items }}",
//	        "ids": "{{ range .steps.fetch.outputs.items }}{{ .id }},{{ end }}"
//	    }
//	}
//
// Outputs — результаты рендеринга mappings. Значения, которые
// парсятся как JSON, возвращаются типизированными.
type TransformExecutor struct{}

// NewTransformExecutor создаёт новый TransformExecutor.
func NewTransformExecutor() *TransformExecutor {
	return &TransformExecutor{}
}

// Type возвращает тип шага.
func (e *TransformExecutor) Type() string {
	return TypeTransform
}

// Execute выполняет трансформацию данных.
func (e *TransformExecutor) Execute(ctx context.Context, step *domain.StepSpec, rc *RunContext) (map[string]any, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrExecutionCancelled, ctx.Err())
	default:
	}

	mappings := e.parseMappings(step.Config)
	if len(mappings) == 0 {
		return map[string]any{}, nil
	}

	// Mappings рендерятся напрямую, минуя RenderConfig: их значения —
	// сами шаблоны, а не конфигурация с подстановками
	outputs := make(map[string]any, len(mappings))
	for key, tmpl := range mappings {
		rendered, err := Render(tmpl, rc)
		if err != nil {
			return nil, fmt.Errorf("transform %s: %w", key, err)
		}
		outputs[key] = e.parseValue(rendered)
	}

	return outputs, nil
}

func (e *TransformExecutor) parseMappings(config map[string]any) map[string]string {
	raw := config[configMappings]
	if raw == nil {
		return nil
	}

	switch m := raw.(type) {
	case map[string]string:
		return m

	case map[string]any:
		result := make(map[string]string, len(m))
		for key, val := range m {
			if str, ok := val.(string); ok {
				result[key] = str
			}
		}
		return result

	default:
		return nil
	}
}

// parseValue пытается распарсить строку как JSON.
// Если не получается — возвращает строку как есть.
func (e *TransformExecutor) parseValue(value string) any {
	var obj map[string]any
	if err := json.Unmarshal([]byte(value), &obj); err == nil {
		return obj
	}

	var arr []any
	if err := json.Unmarshal([]byte(value), &arr); err == nil {
		return arr
	}

	var num json.Number
	if err := json.Unmarshal([]byte(value), &num); err == nil {
		if i, err := num.Int64(); err == nil {
			return i
		}
		if f, err := num.Float64(); err == nil {
			return f
		}
	}

	if value == "true" {
		return true
	}
	if value == "false" {
		return false
	}

	return value
}
