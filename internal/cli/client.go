package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/shaiso/Taskrunner/internal/domain"
	"github.com/shaiso/Taskrunner/internal/fabric"
	"github.com/shaiso/Taskrunner/internal/repo"
	"github.com/shaiso/Taskrunner/internal/store"
)

// maxCancelWrites — попытки записать запрос отмены при конкурентных записях.
const maxCancelWrites = 5

// ErrNoDispatcher — команда запуска вызвана без подключения к очереди.
var ErrNoDispatcher = errors.New("no unit dispatcher configured")

// Backend — операции хранилища, нужные CLI.
//
// Реализуется repo.Store; store.Store расширен выборками для просмотра.
type Backend interface {
	store.Store
	List(ctx context.Context, filter repo.FlowRunFilter) ([]domain.FlowRun, error)
	ListByFlowRun(ctx context.Context, flowRunID string) ([]domain.TaskRun, error)
}

// Client выполняет операции CLI над хранилищем и fabric.
type Client struct {
	backend    Backend
	dispatcher fabric.Dispatcher
}

// NewClient создаёт Client. dispatcher может быть nil, если команды
// запуска не используются.
func NewClient(backend Backend, dispatcher fabric.Dispatcher) *Client {
	return &Client{backend: backend, dispatcher: dispatcher}
}

// --- Flow runs ---

// ListFlowRuns возвращает flow runs, новые первыми.
func (c *Client) ListFlowRuns(ctx context.Context, filter repo.FlowRunFilter) ([]domain.FlowRun, error) {
	return c.backend.List(ctx, filter)
}

// GetFlowRun возвращает flow run и попытки его tasks.
func (c *Client) GetFlowRun(ctx context.Context, id string) (*domain.FlowRun, []domain.TaskRun, error) {
	fr, err := c.backend.LoadFlowRun(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("flow run %s: %w", id, err)
	}
	runs, err := c.backend.ListByFlowRun(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return fr, runs, nil
}

// StartFlow отправляет flow в fabric. Пустой flowRunID заменяется UUID.
func (c *Client) StartFlow(ctx context.Context, flowID, flowRunID string, params domain.Params) (string, error) {
	if c.dispatcher == nil {
		return "", ErrNoDispatcher
	}
	if flowRunID == "" {
		flowRunID = uuid.NewString()
	}

	unit := fabric.NewFlowUnit(fabric.FlowUnit{
		FlowID:    flowID,
		FlowRunID: flowRunID,
		Params:    params,
	})
	if err := c.dispatcher.Dispatch(ctx, unit); err != nil {
		return "", err
	}
	return flowRunID, nil
}

// CancelFlowRun переводит flow run в CANCELLED и просит отменить
// незавершённые попытки его tasks.
//
// Возвращает количество попыток, получивших запрос отмены.
func (c *Client) CancelFlowRun(ctx context.Context, id string) (int, error) {
	if err := c.markFlowRunCancelled(ctx, id); err != nil {
		return 0, err
	}

	runs, err := c.backend.ListByFlowRun(ctx, id)
	if err != nil {
		return 0, err
	}

	var annotated int
	for _, run := range runs {
		if run.IsFinished() {
			continue
		}
		if err := c.CancelRun(ctx, run.ID, "cli"); err != nil {
			return annotated, err
		}
		annotated++
	}
	return annotated, nil
}

func (c *Client) markFlowRunCancelled(ctx context.Context, id string) error {
	for range maxCancelWrites {
		fr, err := c.backend.LoadFlowRun(ctx, id)
		if err != nil {
			return fmt.Errorf("flow run %s: %w", id, err)
		}
		if fr.IsFinished() {
			return fmt.Errorf("flow run %s already %s", id, fr.Status)
		}

		fr.MarkCancelled()
		err = c.backend.SaveFlowRun(ctx, fr)
		if errors.Is(err, store.ErrConflict) {
			continue
		}
		return err
	}
	return fmt.Errorf("cancel flow run %s: %w", id, store.ErrConflict)
}

// --- Task runs ---

// GetRun возвращает попытку по ключу.
func (c *Client) GetRun(ctx context.Context, id domain.RunID) (*domain.TaskRun, error) {
	run, err := c.backend.Load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("task run %s: %w", id, err)
	}
	return run, nil
}

// ListAttempts возвращает все попытки task внутри flow run.
func (c *Client) ListAttempts(ctx context.Context, flowRunID, taskID string) ([]domain.TaskRun, error) {
	return c.backend.ListAttempts(ctx, flowRunID, taskID)
}

// CancelRun выставляет аннотацию запроса отмены на попытке.
// Движок увидит её при следующей синхронизации с хранилищем.
func (c *Client) CancelRun(ctx context.Context, id domain.RunID, requestedBy string) error {
	for range maxCancelWrites {
		run, err := c.backend.Load(ctx, id)
		if err != nil {
			return fmt.Errorf("task run %s: %w", id, err)
		}
		if run.CancelRequested() {
			return nil
		}

		if run.Annotations == nil {
			run.Annotations = make(map[string]string, 1)
		}
		run.Annotations[domain.AnnotationCancelRequested] = requestedBy

		err = c.backend.Save(ctx, run)
		if errors.Is(err, store.ErrConflict) {
			continue
		}
		return err
	}
	return fmt.Errorf("cancel task run %s: %w", id, store.ErrConflict)
}

// RerunTask отправляет попытку на принудительное выполнение (force).
// Успешная попытка сбрасывается в PENDING и выполняется заново.
func (c *Client) RerunTask(ctx context.Context, id domain.RunID) error {
	if c.dispatcher == nil {
		return ErrNoDispatcher
	}

	run, err := c.GetRun(ctx, id)
	if err != nil {
		return err
	}

	return c.dispatcher.Dispatch(ctx, fabric.NewTaskUnit(fabric.TaskUnit{
		RunID:       run.ID,
		Params:      run.Params,
		GeneratedBy: run.GeneratedBy,
		Force:       true,
	}))
}
