package flowspec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"strings"
	"text/template"

	"github.com/shaiso/Taskrunner/internal/domain"
)

// Context — данные, доступные шаблонам параметров:
//   - {{ .Params.name }}
//   - {{ .Task.ID }}, {{ .Task.RunNumber }}
//   - {{ .Env.VAR_NAME }}
type Context struct {
	Params map[string]any
	Task   TaskContext
	Env    map[string]string
}

// TaskContext — идентичность вызываемой попытки.
type TaskContext struct {
	ID        string
	Name      string
	RunNumber int
}

// NewContext создаёт контекст из параметров попытки и окружения процесса.
func NewContext(params domain.Params) *Context {
	c := &Context{
		Params: make(map[string]any, len(params)),
		Env:    environ(),
	}
	maps.Copy(c.Params, params)

	c.Task.ID, _ = params[domain.ParamTaskID].(string)
	c.Task.Name, _ = params[domain.ParamTaskName].(string)
	switch n := params[domain.ParamRunNumber].(type) {
	case int:
		c.Task.RunNumber = n
	case float64:
		c.Task.RunNumber = int(n)
	}
	return c
}

func environ() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env
}

// templateFuncs — дополнительные функции для шаблонов.
var templateFuncs = template.FuncMap{
	// json — сериализует значение в JSON строку
	"json": func(v any) string {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("error: %v", err)
		}
		return string(b)
	},

	// default — возвращает значение по умолчанию, если второй аргумент пустой
	"default": func(def, val any) any {
		if val == nil {
			return def
		}
		if s, ok := val.(string); ok && s == "" {
			return def
		}
		return val
	},

	"lower":    strings.ToLower,
	"upper":    strings.ToUpper,
	"trim":     strings.TrimSpace,
	"replace":  strings.ReplaceAll,
	"contains": strings.Contains,
}

// Render рендерит строковый шаблон. Строки без "{{" возвращаются как есть.
func Render(tmpl string, ctx *Context) (string, error) {
	if !strings.Contains(tmpl, "{{") {
		return tmpl, nil
	}

	t, err := template.New("").Funcs(templateFuncs).Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTemplateParse, err)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, ctx); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTemplateRender, err)
	}

	return buf.String(), nil
}

// RenderValue рендерит значение, рекурсивно обходя map и slice.
func RenderValue(value any, ctx *Context) (any, error) {
	switch v := value.(type) {
	case string:
		return Render(v, ctx)

	case map[string]any:
		result := make(map[string]any, len(v))
		for key, val := range v {
			rendered, err := RenderValue(val, ctx)
			if err != nil {
				return nil, err
			}
			result[key] = rendered
		}
		return result, nil

	case []any:
		result := make([]any, len(v))
		for i, val := range v {
			rendered, err := RenderValue(val, ctx)
			if err != nil {
				return nil, err
			}
			result[i] = rendered
		}
		return result, nil

	default:
		// числа, bool, nil
		return value, nil
	}
}

// boundBody оборачивает тело базового task: параметры спецификации
// рендерятся для каждого вызова и перекрывают параметры попытки.
func boundBody(params map[string]any, base domain.Body) domain.Body {
	return func(ctx context.Context, runParams domain.Params) (domain.Result, error) {
		merged := make(domain.Params, len(runParams)+len(params))
		maps.Copy(merged, runParams)

		tctx := NewContext(runParams)
		for key, val := range params {
			rendered, err := RenderValue(val, tctx)
			if err != nil {
				return domain.Result{}, fmt.Errorf("param %s: %w", key, err)
			}
			merged[key] = rendered
		}

		return base(ctx, merged)
	}
}
