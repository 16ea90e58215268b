package flowspec

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/shaiso/Taskrunner/internal/domain"
)

// Spec — декларативное определение flow.
type Spec struct {
	ID    string     `json:"id"`
	Name  string     `json:"name,omitempty"`
	Tasks []TaskSpec `json:"tasks"`
}

// TaskSpec — task внутри Spec.
type TaskSpec struct {
	// ID — идентификатор task внутри flow.
	ID string `json:"id"`

	// Name — отображаемое имя (по умолчанию — имя базового типа).
	Name string `json:"name,omitempty"`

	// Type — базовый task (http, delay, transform).
	Type string `json:"type"`

	// Params — параметры, добавляемые к параметрам попытки. Строки — шаблоны.
	Params map[string]any `json:"params,omitempty"`

	// DependsOn — tasks, которые должны завершиться раньше.
	DependsOn []string `json:"depends_on,omitempty"`

	// Trigger — имя trigger (по умолчанию all_successful).
	Trigger string `json:"trigger,omitempty"`

	// MaxRetries — бюджет retry. nil — как у базового типа.
	MaxRetries *int `json:"max_retries,omitempty"`

	// RetryDelaySec — фиксированная задержка retry. nil — как у базового типа.
	RetryDelaySec *float64 `json:"retry_delay_sec,omitempty"`
}

// Resolver находит базовый task по типу.
type Resolver func(typ string) (*domain.Task, error)

// triggers — триггеры, доступные по имени.
var triggers = map[string]domain.Trigger{
	"all_successful": domain.AllSuccessful,
	"all_failed":     domain.AllFailed,
	"all_finished":   domain.AllFinished,
	"any_successful": domain.AnySuccessful,
	"any_failed":     domain.AnyFailed,
	"always":         domain.Always,
}

// Parse разбирает JSON спецификации.
func Parse(data []byte) (*Spec, error) {
	var spec Spec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parse flow spec: %w", err)
	}
	return &spec, nil
}

// Validate проверяет структуру спецификации: ID, уникальность tasks,
// имена triggers, ссылки depends_on и политику retry.
//
// Типы tasks и циклы проверяются при сборке (Build и flow.BuildDAG).
func Validate(spec *Spec) error {
	if spec.ID == "" {
		return newValidationError("", "id", "flow spec has empty ID", ErrEmptyFlowID)
	}
	if len(spec.Tasks) == 0 {
		return ErrEmptyTasks
	}

	ids := make(map[string]bool, len(spec.Tasks))
	for i := range spec.Tasks {
		ts := &spec.Tasks[i]

		if ts.ID == "" {
			return newValidationError("", "id", fmt.Sprintf("task %d has empty ID", i), ErrEmptyTaskID)
		}
		if ids[ts.ID] {
			return newValidationError(ts.ID, "id", "duplicate task ID: "+ts.ID, ErrDuplicateTaskID)
		}
		ids[ts.ID] = true

		if ts.Type == "" {
			return newValidationError(ts.ID, "type", "task has empty type", ErrUnknownTaskType)
		}
		if _, ok := lookupTrigger(ts.Trigger); !ok {
			return newValidationError(ts.ID, "trigger", "unknown trigger: "+ts.Trigger, ErrUnknownTrigger)
		}
		if ts.MaxRetries != nil && *ts.MaxRetries < 0 {
			return newValidationError(ts.ID, "max_retries", "max_retries must not be negative", ErrInvalidRetry)
		}
		if ts.RetryDelaySec != nil && *ts.RetryDelaySec < 0 {
			return newValidationError(ts.ID, "retry_delay_sec", "retry_delay_sec must not be negative", ErrInvalidRetry)
		}
	}

	for i := range spec.Tasks {
		ts := &spec.Tasks[i]
		for _, dep := range ts.DependsOn {
			if dep == ts.ID {
				return newValidationError(ts.ID, "depends_on", "task depends on itself", ErrSelfDependency)
			}
			if !ids[dep] {
				return newValidationError(ts.ID, "depends_on", "depends on unknown task: "+dep, ErrMissingDependency)
			}
		}
	}

	return nil
}

// Build валидирует спецификацию и собирает domain.Flow.
func Build(spec *Spec, resolve Resolver) (*domain.Flow, error) {
	if err := Validate(spec); err != nil {
		return nil, err
	}

	f := &domain.Flow{ID: spec.ID, Name: spec.Name}
	for i := range spec.Tasks {
		ts := &spec.Tasks[i]

		base, err := resolve(ts.Type)
		if err != nil {
			return nil, newValidationError(ts.ID, "type", "unknown task type: "+ts.Type, fmt.Errorf("%w: %w", ErrUnknownTaskType, err))
		}

		f.Tasks = append(f.Tasks, bindTask(ts, base))
		if len(ts.DependsOn) > 0 {
			f.DependsOn(ts.ID, ts.DependsOn...)
		}
	}

	return f, nil
}

// bindTask создаёт task спецификации поверх базового task.
func bindTask(ts *TaskSpec, base *domain.Task) *domain.Task {
	task := &domain.Task{
		ID:         ts.ID,
		Name:       ts.Name,
		MaxRetries: base.MaxRetries,
		RetryDelay: base.RetryDelay,
		Trigger:    base.Trigger,
		Body:       boundBody(ts.Params, base.Body),
	}
	if task.Name == "" {
		task.Name = base.Name
	}
	if ts.MaxRetries != nil {
		task.MaxRetries = *ts.MaxRetries
	}
	if ts.RetryDelaySec != nil {
		task.RetryDelay = domain.FixedDelay(time.Duration(*ts.RetryDelaySec * float64(time.Second)))
	}
	if ts.Trigger != "" {
		task.Trigger, _ = lookupTrigger(ts.Trigger)
	}
	return task
}

func lookupTrigger(name string) (domain.Trigger, bool) {
	if name == "" {
		return nil, true
	}
	t, ok := triggers[strings.ToLower(name)]
	return t, ok
}

// TriggerNames возвращает имена доступных triggers.
func TriggerNames() []string {
	names := make([]string, 0, len(triggers))
	for name := range triggers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadDir загружает все *.json спецификации из каталога.
func LoadDir(dir string, resolve Resolver) ([]*domain.Flow, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	flows := make([]*domain.Flow, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		spec, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		f, err := Build(spec, resolve)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		flows = append(flows, f)
	}
	return flows, nil
}
