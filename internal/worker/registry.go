package worker

import (
	"fmt"
	"sync"

	"github.com/shaiso/Taskrunner/internal/domain"
	"github.com/shaiso/Taskrunner/internal/flowspec"
)

// Registry — реестр определений tasks и flows, известных воркеру.
//
// Между процессами передаются только идентификаторы; определение unit
// воркер находит здесь.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]*domain.Task
	flows map[string]*domain.Flow
}

// NewRegistry создаёт реестр со встроенными tasks (http, delay, transform).
func NewRegistry() *Registry {
	r := &Registry{
		tasks: make(map[string]*domain.Task),
		flows: make(map[string]*domain.Flow),
	}
	for _, task := range Builtins() {
		r.RegisterTask(task)
	}
	return r
}

// RegisterTask добавляет определение task. Повторная регистрация заменяет старое.
func (r *Registry) RegisterTask(task *domain.Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[task.ID] = task
}

// RegisterFlow добавляет определение flow вместе с его tasks.
func (r *Registry) RegisterFlow(f *domain.Flow) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flows[f.ID] = f
	for _, task := range f.Tasks {
		r.tasks[task.ID] = task
	}
}

// Task возвращает определение task по ID.
func (r *Registry) Task(id string) (*domain.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	task, ok := r.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTask, id)
	}
	return task, nil
}

// Flow возвращает определение flow по ID.
func (r *Registry) Flow(id string) (*domain.Flow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.flows[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFlow, id)
	}
	return f, nil
}

// LoadFlowSpecs регистрирует flows из JSON-спецификаций каталога dir.
// Типы tasks в спецификациях ищутся в этом же реестре.
func (r *Registry) LoadFlowSpecs(dir string) (int, error) {
	flows, err := flowspec.LoadDir(dir, r.Task)
	if err != nil {
		return 0, err
	}
	for _, f := range flows {
		r.RegisterFlow(f)
	}
	return len(flows), nil
}
