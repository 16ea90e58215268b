package runner

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/shaiso/Taskrunner/internal/domain"
	"github.com/shaiso/Taskrunner/internal/fabric"
)

// errNoFabric — тело task породило работу, но Engine создан без fabric.
var errNoFabric = errors.New("dynamic expansion requires a fabric")

// expand обрабатывает последовательность work items, порождённую телом task.
//
// Каждый item (и каждый элемент группы, один уровень вложенности) отправляется
// в fabric как независимый unit. После исчерпания последовательности попытка
// переходит в WAITING_FOR_SUBTASKS и ждёт завершения всех units, затем
// возвращается в RUNNING. Итог — Success, если ожидание не вернуло
// инфраструктурную ошибку.
//
// Недопустимый item завершает попытку с ErrUnsupportedExpansionItem; units,
// отправленные до него, всё равно дожидаются.
func (e *Engine) expand(ctx context.Context, a *attempt, work iter.Seq[domain.WorkItem]) domain.Outcome {
	if e.fabric == nil {
		return unexpected(errNoFabric)
	}

	// 1. Отправляем units по мере производства items
	handles, produceErr := e.submitAll(ctx, a, work)

	a.logger.Info("expansion submitted", "units", len(handles))

	// 2. WAITING_FOR_SUBTASKS
	if err := a.run.Transition(domain.StateWaitingForSubtasks); err != nil {
		return unexpected(err)
	}
	if err := e.checkpoint(ctx, a); err != nil {
		return unexpected(errors.Join(produceErr, err))
	}

	// 3. Ждём все units, без fail-fast
	started := time.Now()
	gatherErr := e.fabric.Gather(ctx, handles)
	e.metrics.ObserveGather(time.Since(started))

	// 4. Обратно в RUNNING. ctx мог быть отменён во время ожидания
	if err := a.run.Transition(domain.StateRunning); err != nil {
		return unexpected(err)
	}
	if err := e.checkpoint(context.WithoutCancel(ctx), a); err != nil {
		return unexpected(err)
	}

	switch {
	case produceErr != nil:
		return domain.FailWith(produceErr)
	case gatherErr != nil:
		return unexpected(fmt.Errorf("gather: %w", gatherErr))
	case a.run.CancelRequested():
		return skipWith(ErrCancelRequested)
	default:
		return domain.Success()
	}
}

// submitAll отправляет units для всех items последовательности.
//
// Останавливается на первом недопустимом item или ошибке отправки и возвращает
// handles уже отправленных units вместе с ошибкой. panic в генераторе
// последовательности также становится ошибкой.
func (e *Engine) submitAll(ctx context.Context, a *attempt, work iter.Seq[domain.WorkItem]) (handles []fabric.Handle, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: work producer panicked: %v", ErrUnexpected, r)
		}
	}()

	submit := func(item domain.WorkItem) error {
		unit, err := e.unitFor(a, item)
		if err != nil {
			return err
		}
		h, err := e.fabric.Submit(ctx, unit)
		if err != nil {
			return fmt.Errorf("%w: submit %s: %w", ErrUnexpected, unit.Describe(), err)
		}
		e.metrics.ExpansionUnit(string(unit.Kind))
		a.logger.Debug("unit submitted", "unit_id", h.ID, "kind", unit.Kind, "unit", unit.Describe())
		handles = append(handles, h)
		return nil
	}

	for item := range work {
		if item.Kind() != domain.WorkGroup {
			if err := submit(item); err != nil {
				return handles, err
			}
			continue
		}

		// Группа разворачивается на один уровень
		for _, member := range item.Members() {
			if member.Kind() == domain.WorkGroup {
				return handles, fmt.Errorf("%w: nested group", ErrUnsupportedExpansionItem)
			}
			if err := submit(member); err != nil {
				return handles, err
			}
		}
	}

	return handles, nil
}

// unitFor строит unit для item.
//
// Идентичности детей выводятся из ключа попытки:
//   - task: flow_run_id = ключ попытки, run_number = 1
//   - flow: flow_run_id = "{ключ попытки}/{flow_id}"
func (e *Engine) unitFor(a *attempt, item domain.WorkItem) (fabric.Unit, error) {
	parent := a.run.Key()

	switch item.Kind() {
	case domain.WorkTask:
		t := item.Task()
		return fabric.NewTaskUnit(fabric.TaskUnit{
			RunID:       domain.RunID{FlowRunID: parent, TaskID: t.ID, RunNumber: 1},
			Params:      a.run.Params.Clone(),
			GeneratedBy: parent,
			Definition:  t,
		}), nil

	case domain.WorkFlow:
		f := item.Flow()
		return fabric.NewFlowUnit(fabric.FlowUnit{
			FlowID:      f.ID,
			FlowRunID:   parent + "/" + f.ID,
			Params:      a.run.Params.Clone(),
			GeneratedBy: parent,
			Definition:  f,
		}), nil

	default:
		return fabric.Unit{}, fmt.Errorf("%w: %s", ErrUnsupportedExpansionItem, item.TypeName())
	}
}
