package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shaiso/Taskrunner/internal/domain"
	"github.com/shaiso/Taskrunner/internal/fabric"
	"github.com/shaiso/Taskrunner/internal/flow"
	"github.com/shaiso/Taskrunner/internal/runner"
	"github.com/shaiso/Taskrunner/internal/store"
	"github.com/shaiso/Taskrunner/internal/telemetry"
)

// Dispatcher выполняет units: попытки task — движком, flows — flow runner'ом.
//
// Реализует fabric.Executor и используется как Local fabric, так и
// AMQP consumer'ом воркера.
type Dispatcher struct {
	registry *Registry
	engine   *runner.Engine
	flows    *flow.Runner
	store    store.Store
	metrics  *telemetry.Metrics
	logger   *slog.Logger
}

var _ fabric.Executor = (*Dispatcher)(nil)

// DispatcherConfig — конфигурация Dispatcher.
type DispatcherConfig struct {
	Registry *Registry
	Engine   *runner.Engine
	Flows    *flow.Runner
	Store    store.Store

	// Metrics (nil — не собирать)
	Metrics *telemetry.Metrics

	// Logger
	Logger *slog.Logger
}

// NewDispatcher создаёт Dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	registry := cfg.Registry
	if registry == nil {
		registry = NewRegistry()
	}

	return &Dispatcher{
		registry: registry,
		engine:   cfg.Engine,
		flows:    cfg.Flows,
		store:    cfg.Store,
		metrics:  cfg.Metrics,
		logger:   logger,
	}
}

// Execute выполняет unit.
//
// Неудача самой попытки или flow run — не ошибка: исход записан в хранилище.
// Ошибка означает, что unit не удалось выполнить (нет определения, хранилище
// недоступно).
func (d *Dispatcher) Execute(ctx context.Context, u fabric.Unit) error {
	if err := u.Validate(); err != nil {
		return err
	}

	var err error
	switch u.Kind {
	case fabric.UnitTask:
		err = d.executeTask(ctx, u.Task)
	case fabric.UnitFlow:
		err = d.executeFlow(ctx, u.Flow)
	}

	d.metrics.FabricUnit(string(u.Kind), err)
	return err
}

// executeTask выполняет попытку task.
func (d *Dispatcher) executeTask(ctx context.Context, tu *fabric.TaskUnit) error {
	logger := telemetry.WithTaskRun(d.logger, tu.RunID)

	// 1. Определение task
	task := tu.Definition
	if task == nil {
		var err error
		if task, err = d.registry.Task(tu.RunID.TaskID); err != nil {
			return err
		}
	}

	// 2. Для повторной попытки восстанавливаем состояния предшественников
	owner := d.ownerFlow(ctx, tu.RunID.FlowRunID)
	if tu.Preceding == nil && tu.RunID.RunNumber > 1 && owner != nil {
		preceding, err := d.flows.Preceding(ctx, owner, tu.RunID.FlowRunID, tu.RunID.TaskID)
		if err != nil {
			return fmt.Errorf("restore preceding states: %w", err)
		}
		tu.Preceding = preceding
	}

	// 3. Выполняем попытку
	state, err := d.engine.RunUnit(ctx, task, tu)
	if err != nil {
		return err
	}
	logger.Debug("task unit executed", "state", state)

	// 4. Повторная попытка завершена — flow run владельца может продолжиться
	if tu.RunID.RunNumber > 1 && owner != nil {
		d.resumeFlow(ctx, owner, tu.RunID.FlowRunID)
	}

	return nil
}

// ownerFlow возвращает определение flow, которому принадлежит flow run.
// nil, если flow run не найден или flow не зарегистрирован.
func (d *Dispatcher) ownerFlow(ctx context.Context, flowRunID string) *domain.Flow {
	if d.flows == nil || d.store == nil {
		return nil
	}

	fr, err := d.store.LoadFlowRun(ctx, flowRunID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			d.logger.Warn("failed to load owner flow run", "flow_run_id", flowRunID, "error", err)
		}
		return nil
	}

	f, err := d.registry.Flow(fr.FlowID)
	if err != nil {
		return nil
	}
	return f
}

// resumeFlow продолжает flow run после повторной попытки.
func (d *Dispatcher) resumeFlow(ctx context.Context, f *domain.Flow, flowRunID string) {
	fr, err := d.store.LoadFlowRun(ctx, flowRunID)
	if err != nil {
		d.logger.Warn("failed to reload flow run", "flow_run_id", flowRunID, "error", err)
		return
	}
	if !fr.Status.IsRunning() {
		return
	}

	status, err := d.flows.Run(ctx, flow.Request{
		Flow:        f,
		FlowRunID:   fr.ID,
		Params:      fr.Params,
		GeneratedBy: fr.GeneratedBy,
	})
	if err != nil {
		d.logger.Error("failed to resume flow run", "flow_run_id", flowRunID, "error", err)
		return
	}
	d.logger.Debug("flow run resumed", "flow_run_id", flowRunID, "status", status)
}

// executeFlow выполняет flow run.
func (d *Dispatcher) executeFlow(ctx context.Context, fu *fabric.FlowUnit) error {
	if d.flows == nil {
		return fmt.Errorf("%w: no flow runner", ErrUnknownFlow)
	}

	f := fu.Definition
	if f == nil {
		var err error
		if f, err = d.registry.Flow(fu.FlowID); err != nil {
			return err
		}
	}

	status, err := d.flows.Run(ctx, flow.Request{
		Flow:        f,
		FlowRunID:   fu.FlowRunID,
		Params:      fu.Params,
		GeneratedBy: fu.GeneratedBy,
	})
	if err != nil {
		return err
	}

	telemetry.WithFlowRunID(d.logger, fu.FlowRunID).Debug("flow unit executed", "status", status)
	return nil
}
