package executor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
)

// templateFuncs — дополнительные функции для шаблонов конфигурации.
var templateFuncs = template.FuncMap{
	// json — сериализует значение в JSON строку
	"json": func(v any) string {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("error: %v", err)
		}
		return string(b)
	},

	// fromJSON — парсит JSON строку
	"fromJSON": func(s string) any {
		var result any
		if err := json.Unmarshal([]byte(s), &result); err != nil {
			return nil
		}
		return result
	},

	// default — возвращает значение по умолчанию, если аргумент пустой
	"default": func(def, val any) any {
		if val == nil {
			return def
		}
		if s, ok := val.(string); ok && s == "" {
			return def
		}
		return val
	},

	// coalesce — возвращает первое непустое значение
	"coalesce": func(values ...any) any {
		for _, v := range values {
			if v != nil {
				if s, ok := v.(string); ok && s == "" {
					continue
				}
				return v
			}
		}
		return nil
	},

	"join":      func(sep string, items []string) string { return strings.Join(items, sep) },
	"split":     func(sep, s string) []string { return strings.Split(s, sep) },
	"contains":  strings.Contains,
	"hasPrefix": strings.HasPrefix,
	"hasSuffix": strings.HasSuffix,
	"lower":     strings.ToLower,
	"upper":     strings.ToUpper,
	"trim":      strings.TrimSpace,
	"replace":   strings.ReplaceAll,
}

// templateData строит данные для рендеринга шаблонов.
//
// Структура данных:
//
//	{{ .inputs.param }}
//	{{ .steps.fetch.outputs.field }}
//	{{ .env.VAR_NAME }}
func templateData(rc *RunContext) map[string]any {
	steps := make(map[string]any, len(rc.Outputs))
	for id, outputs := range rc.Outputs {
		steps[id] = map[string]any{"outputs": outputs}
	}
	return map[string]any{
		"inputs": rc.Inputs,
		"steps":  steps,
		"env":    rc.Env,
	}
}

// Render рендерит строковый шаблон с данными run'а.
//
// Строки без шаблонных выражений возвращаются как есть.
func Render(tmpl string, rc *RunContext) (string, error) {
	if !strings.Contains(tmpl, "{{") {
		return tmpl, nil
	}

	t, err := template.New("").Funcs(templateFuncs).Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTemplateParse, err)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, templateData(rc)); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTemplateRender, err)
	}

	return buf.String(), nil
}

// RenderValue рендерит произвольное значение.
// Рекурсивно обрабатывает map и slice.
func RenderValue(value any, rc *RunContext) (any, error) {
	if value == nil {
		return nil, nil
	}

	switch v := value.(type) {
	case string:
		return Render(v, rc)

	case map[string]any:
		result := make(map[string]any, len(v))
		for key, val := range v {
			rendered, err := RenderValue(val, rc)
			if err != nil {
				return nil, err
			}
			result[key] = rendered
		}
		return result, nil

	case []any:
		result := make([]any, len(v))
		for i, val := range v {
			rendered, err := RenderValue(val, rc)
			if err != nil {
				return nil, err
			}
			result[i] = rendered
		}
		return result, nil

	case map[string]string:
		result := make(map[string]string, len(v))
		for key, val := range v {
			rendered, err := Render(val, rc)
			if err != nil {
				return nil, err
			}
			result[key] = rendered
		}
		return result, nil

	case []string:
		result := make([]string, len(v))
		for i, val := range v {
			rendered, err := Render(val, rc)
			if err != nil {
				return nil, err
			}
			result[i] = rendered
		}
		return result, nil

	default:
		// Остальные типы (int, float, bool) возвращаем как есть
		return value, nil
	}
}

// RenderConfig рендерит конфигурацию шага.
// Обёртка над RenderValue для map[string]any.
func RenderConfig(config map[string]any, rc *RunContext) (map[string]any, error) {
	if config == nil {
		return make(map[string]any), nil
	}

	rendered, err := RenderValue(config, rc)
	if err != nil {
		return nil, err
	}

	result, ok := rendered.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: expected map, got %T", ErrTemplateRender, rendered)
	}

	return result, nil
}
