package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shaiso/Taskrunner/internal/domain"
	"github.com/shaiso/Taskrunner/internal/runner"
	"github.com/shaiso/Taskrunner/internal/store"
	"github.com/shaiso/Taskrunner/internal/telemetry"
)

const (
	defaultConcurrency = 4

	// maxStatusWrites — попытки записать итоговый статус flow run при конфликтах.
	maxStatusWrites = 3
)

// Runner выполняет flow runs.
type Runner struct {
	engine      *runner.Engine
	store       store.Store
	logger      *slog.Logger
	concurrency int
}

// Config — конфигурация Runner.
type Config struct {
	Engine *runner.Engine
	Store  store.Store

	// Concurrency — сколько готовых tasks выполнять одновременно (default: 4).
	Concurrency int

	// Logger
	Logger *slog.Logger
}

// New создаёт Runner.
func New(cfg Config) *Runner {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Runner{
		engine:      cfg.Engine,
		store:       cfg.Store,
		logger:      logger,
		concurrency: concurrency,
	}
}

// Request — запрос на выполнение flow.
type Request struct {
	Flow        *domain.Flow
	FlowRunID   string
	Params      domain.Params
	GeneratedBy string
}

// snapshot — состояние tasks flow run, восстановленное из хранилища.
type snapshot struct {
	// latest — последняя попытка каждого task (нет ключа — попыток не было).
	latest map[string]*domain.TaskRun

	// states — состояния завершённых tasks.
	states map[string]domain.State

	// done — tasks, завершённые без запланированного retry.
	done map[string]bool

	// blocked — tasks, которые сейчас нельзя запускать: попытка выполняется
	// в другом месте или ждёт retry.
	blocked map[string]bool
}

// Run выполняет (или продолжает) flow run.
//
// Возвращает статус flow run после выполнения. RUNNING означает, что часть
// tasks ждёт повторных попыток; Run можно вызвать снова, когда они завершатся.
func (r *Runner) Run(ctx context.Context, req Request) (domain.RunStatus, error) {
	logger := telemetry.WithFlowRunID(r.logger, req.FlowRunID).With("flow_id", req.Flow.ID)

	// 1. Строим DAG
	dag, err := BuildDAG(req.Flow)
	if err != nil {
		return "", fmt.Errorf("build dag for flow %s: %w", req.Flow.ID, err)
	}

	// 2. Создаём или загружаем flow run
	fr, err := r.ensureFlowRun(ctx, req)
	if err != nil {
		return "", err
	}
	if fr.IsFinished() {
		logger.Debug("flow run already finished", "status", fr.Status)
		return fr.Status, nil
	}

	// 3. Выполняем готовые tasks, пока они есть
	attempted := make(map[string]bool)
	var snap *snapshot

	for {
		current, err := r.store.LoadFlowRun(ctx, req.FlowRunID)
		if err != nil {
			return "", fmt.Errorf("reload flow run: %w", err)
		}
		if current.IsFinished() {
			logger.Info("flow run finished externally", "status", current.Status)
			return current.Status, nil
		}

		snap, err = r.snapshot(ctx, dag, req.FlowRunID)
		if err != nil {
			return "", err
		}

		blocked := make(map[string]bool, len(snap.blocked)+len(attempted))
		for id := range snap.blocked {
			blocked[id] = true
		}
		for id := range attempted {
			blocked[id] = true
		}

		ready := dag.ReadyNodes(snap.done, blocked)
		if len(ready) == 0 {
			break
		}

		if err := r.runBatch(ctx, dag, req, snap, ready); err != nil {
			return "", err
		}
		for _, node := range ready {
			attempted[node.ID] = true
		}
	}

	// 4. Финализируем, если все tasks завершены
	if !dag.IsComplete(snap.done) {
		logger.Info("flow run waiting for pending attempts",
			"done", len(snap.done),
			"tasks", dag.Size(),
		)
		return domain.RunStatusRunning, nil
	}

	var failed []string
	for _, node := range dag.Order {
		if snap.states[node.ID] == domain.StateFailed {
			failed = append(failed, node.ID)
		}
	}

	return r.finalize(ctx, logger, req.FlowRunID, failed)
}

// ensureFlowRun создаёт flow run в статусе RUNNING или загружает существующий.
func (r *Runner) ensureFlowRun(ctx context.Context, req Request) (*domain.FlowRun, error) {
	fr, err := r.store.LoadFlowRun(ctx, req.FlowRunID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		fr = &domain.FlowRun{
			ID:          req.FlowRunID,
			FlowID:      req.Flow.ID,
			Params:      req.Params.Clone(),
			GeneratedBy: req.GeneratedBy,
			CreatedAt:   time.Now().UTC(),
		}
	case err != nil:
		return nil, fmt.Errorf("load flow run: %w", err)
	case fr.Status != domain.RunStatusPending:
		return fr, nil
	}

	fr.MarkRunning()
	if err := r.store.SaveFlowRun(ctx, fr); err != nil {
		if errors.Is(err, store.ErrConflict) {
			// Flow run создан параллельно — используем его
			return r.store.LoadFlowRun(ctx, req.FlowRunID)
		}
		return nil, fmt.Errorf("save flow run: %w", err)
	}

	r.logger.Info("flow run started", "flow_run_id", fr.ID, "flow_id", fr.FlowID)
	return fr, nil
}

// snapshot восстанавливает состояние tasks из хранилища.
func (r *Runner) snapshot(ctx context.Context, dag *DAG, flowRunID string) (*snapshot, error) {
	s := &snapshot{
		latest:  make(map[string]*domain.TaskRun),
		states:  make(map[string]domain.State),
		done:    make(map[string]bool),
		blocked: make(map[string]bool),
	}

	for _, node := range dag.Order {
		attempts, err := r.store.ListAttempts(ctx, flowRunID, node.ID)
		if err != nil {
			return nil, fmt.Errorf("list attempts of %s: %w", node.ID, err)
		}
		if len(attempts) == 0 {
			continue
		}

		latest := &attempts[len(attempts)-1]
		s.latest[node.ID] = latest

		switch {
		case latest.IsFinished() && !latest.Retrying:
			s.states[node.ID] = latest.State
			s.done[node.ID] = true
		case resumable(latest):
		default:
			s.blocked[node.ID] = true
		}
	}

	return s, nil
}

// resumable — первая попытка, которая ещё не запускалась.
// Повторные попытки (run_number > 1) запускает только планировщик retry.
func resumable(run *domain.TaskRun) bool {
	return run.State == domain.StatePending && run.ID.RunNumber == 1 && run.ScheduledStart == nil
}

// runBatch выполняет готовые tasks параллельно.
func (r *Runner) runBatch(ctx context.Context, dag *DAG, req Request, snap *snapshot, ready []*Node) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for _, node := range ready {
		run := snap.latest[node.ID]
		if run == nil {
			run = domain.NewTaskRun(req.FlowRunID, node.Task, req.Params, 1)
		}
		preceding := dag.Preceding(node.ID, snap.states)

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r.engine.Run(gctx, node.Task, run, preceding, false)
			return nil
		})
	}

	return g.Wait()
}

// finalize записывает итоговый статус flow run.
func (r *Runner) finalize(ctx context.Context, logger *slog.Logger, flowRunID string, failed []string) (domain.RunStatus, error) {
	for range maxStatusWrites {
		fr, err := r.store.LoadFlowRun(ctx, flowRunID)
		if err != nil {
			return "", fmt.Errorf("reload flow run: %w", err)
		}
		if fr.IsFinished() {
			return fr.Status, nil
		}

		if len(failed) > 0 {
			fr.MarkFailed(fmt.Sprintf("tasks failed: %v", failed))
		} else {
			fr.MarkSucceeded()
		}

		err = r.store.SaveFlowRun(ctx, fr)
		if errors.Is(err, store.ErrConflict) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("save flow run: %w", err)
		}

		logger.Info("flow run finished", "status", fr.Status, "duration", fr.Duration())
		return fr.Status, nil
	}

	return "", fmt.Errorf("finalize flow run %s: %w", flowRunID, store.ErrConflict)
}

// Preceding возвращает состояния предшественников task внутри flow run.
// Используется для повторных попыток, которые запускаются вне Run.
func (r *Runner) Preceding(ctx context.Context, f *domain.Flow, flowRunID, taskID string) (map[string]domain.State, error) {
	dag, err := BuildDAG(f)
	if err != nil {
		return nil, err
	}
	snap, err := r.snapshot(ctx, dag, flowRunID)
	if err != nil {
		return nil, err
	}
	return dag.Preceding(taskID, snap.states), nil
}
