package fabric

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/shaiso/Taskrunner/internal/domain"
)

// UnitKind — вид единицы работы.
type UnitKind string

const (
	// UnitTask — выполнить попытку task движком.
	UnitTask UnitKind = "task"

	// UnitFlow — выполнить flow flow runner'ом.
	UnitFlow UnitKind = "flow"
)

// Unit — единица работы, отправляемая в fabric.
//
// Между процессами передаются только сериализуемые поля: идентичности и параметры.
// Определения (Definition) доступны только Local fabric; удалённый воркер находит
// определение по ID в своём реестре.
type Unit struct {
	// ID — уникальный идентификатор отправки (не дедуплицируется).
	ID uuid.UUID `json:"id"`

	// Kind — вид unit.
	Kind UnitKind `json:"kind"`

	// Task — описание попытки task (для UnitTask).
	Task *TaskUnit `json:"task,omitempty"`

	// Flow — описание flow run (для UnitFlow).
	Flow *FlowUnit `json:"flow,omitempty"`
}

// TaskUnit — попытка task.
type TaskUnit struct {
	// RunID — идентичность попытки.
	RunID domain.RunID `json:"run_id"`

	// Params — параметры вызова.
	Params domain.Params `json:"params,omitempty"`

	// GeneratedBy — ключ попытки, породившей эту.
	GeneratedBy string `json:"generated_by,omitempty"`

	// Preceding — состояния предшественников для trigger.
	Preceding map[string]domain.State `json:"preceding,omitempty"`

	// Force — принудительный запуск.
	Force bool `json:"force,omitempty"`

	// Definition — определение task, если оно доступно в процессе.
	Definition *domain.Task `json:"-"`
}

// FlowUnit — новый flow run.
type FlowUnit struct {
	// FlowID — идентификатор определения flow.
	FlowID string `json:"flow_id"`

	// FlowRunID — идентификатор нового flow run.
	FlowRunID string `json:"flow_run_id"`

	// Params — параметры запуска.
	Params domain.Params `json:"params,omitempty"`

	// GeneratedBy — ключ попытки, породившей flow run.
	GeneratedBy string `json:"generated_by,omitempty"`

	// Definition — определение flow, если оно доступно в процессе.
	Definition *domain.Flow `json:"-"`
}

// NewTaskUnit создаёт unit для попытки task.
func NewTaskUnit(tu TaskUnit) Unit {
	return Unit{ID: uuid.New(), Kind: UnitTask, Task: &tu}
}

// NewFlowUnit создаёт unit для flow run.
func NewFlowUnit(fu FlowUnit) Unit {
	return Unit{ID: uuid.New(), Kind: UnitFlow, Flow: &fu}
}

// Validate проверяет, что unit содержит описание, соответствующее виду.
func (u Unit) Validate() error {
	switch u.Kind {
	case UnitTask:
		if u.Task == nil || u.Task.RunID.TaskID == "" {
			return fmt.Errorf("%w: task unit %s without task", ErrInvalidUnit, u.ID)
		}
	case UnitFlow:
		if u.Flow == nil || u.Flow.FlowID == "" {
			return fmt.Errorf("%w: flow unit %s without flow", ErrInvalidUnit, u.ID)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidUnit, u.Kind)
	}
	return nil
}

// Describe возвращает короткое описание unit для логов.
func (u Unit) Describe() string {
	switch {
	case u.Task != nil:
		return u.Task.RunID.String()
	case u.Flow != nil:
		return u.Flow.FlowRunID
	default:
		return u.ID.String()
	}
}

// Handle — квитанция об отправке unit.
type Handle struct {
	ID   uuid.UUID `json:"id"`
	Kind UnitKind  `json:"kind"`
}

// Fabric — вычислительная среда.
type Fabric interface {
	// Submit отправляет unit и сразу возвращает handle.
	Submit(ctx context.Context, unit Unit) (Handle, error)

	// Gather блокируется до завершения всех handles.
	Gather(ctx context.Context, handles []Handle) error
}

// Dispatcher отправляет unit без последующего ожидания (fire-and-forget).
type Dispatcher interface {
	Dispatch(ctx context.Context, unit Unit) error
}

// Executor исполняет unit в текущем процессе.
//
// Возвращаемая ошибка — инфраструктурная (unit не удалось исполнить); исход
// самой попытки task хранится в её State.
type Executor interface {
	Execute(ctx context.Context, unit Unit) error
}

// ExecutorFunc — адаптер функции к Executor.
type ExecutorFunc func(ctx context.Context, unit Unit) error

// Execute вызывает f.
func (f ExecutorFunc) Execute(ctx context.Context, unit Unit) error {
	return f(ctx, unit)
}
