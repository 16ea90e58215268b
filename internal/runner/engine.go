package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/shaiso/Taskrunner/internal/domain"
	"github.com/shaiso/Taskrunner/internal/fabric"
	"github.com/shaiso/Taskrunner/internal/store"
	"github.com/shaiso/Taskrunner/internal/telemetry"
)

// Engine выполняет попытки task.
//
// Engine не хранит состояния между вызовами Run и безопасен для
// параллельного использования с разными TaskRun.
type Engine struct {
	store   store.Store
	fabric  fabric.Fabric
	metrics *telemetry.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// Config — конфигурация Engine.
type Config struct {
	// Store — хранилище попыток (обязательно).
	Store store.Store

	// Fabric — среда для units, порождённых dynamic expansion.
	// Без fabric expansion завершает попытку с ошибкой.
	Fabric fabric.Fabric

	// Metrics — метрики (nil — не собирать).
	Metrics *telemetry.Metrics

	// Logger
	Logger *slog.Logger

	// Now — источник времени (по умолчанию time.Now в UTC).
	Now func() time.Time
}

// New создаёт Engine.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	return &Engine{
		store:   cfg.Store,
		fabric:  cfg.Fabric,
		metrics: cfg.Metrics,
		logger:  logger,
		now:     now,
	}
}

// attempt — состояние одного вызова Run.
type attempt struct {
	task   *domain.Task
	run    *domain.TaskRun
	force  bool
	logger *slog.Logger
}

// Run выполняет попытку run определения task и возвращает её итоговое состояние.
//
// preceding — состояния непосредственных предшественников task (для trigger).
// force — принудительный перезапуск: успешная попытка сбрасывается в PENDING,
// проверки владельца и trigger пропускаются.
//
// Во время Run движок владеет run; вызывающая сторона не должна изменять его
// параллельно. Ошибки не возвращаются: любая неудача становится состоянием.
func (e *Engine) Run(ctx context.Context, task *domain.Task, run *domain.TaskRun, preceding map[string]domain.State, force bool) domain.State {
	a := &attempt{
		task:   task,
		run:    run,
		force:  force,
		logger: telemetry.WithTaskRun(e.logger, run.ID),
	}

	// 1. Успешная попытка без force — ничего не делаем
	if run.State == domain.StateSuccess && !force {
		a.logger.Debug("task run already succeeded, nothing to do")
		return run.State
	}

	// 2. Принудительный перезапуск успешной попытки
	if force && run.State == domain.StateSuccess {
		a.logger.Info("forced re-run of succeeded task run")
		run.ResetForRerun()
	}

	// 3–10. Выполнение попытки
	outcome := e.execute(ctx, a, preceding)

	// 11–13. Итоговое состояние, retry, финальная контрольная точка.
	// Записываются и после отмены ctx, иначе запись останется незавершённой
	return e.finish(context.WithoutCancel(ctx), a, outcome)
}

// execute выполняет шаги 3–10 и возвращает сигнал исхода.
// Любая ошибка или panic становится сигналом Fail.
func (e *Engine) execute(ctx context.Context, a *attempt, preceding map[string]domain.State) (outcome domain.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("task run panicked", "panic", r)
			outcome = domain.FailWith(fmt.Errorf("%w: panic: %v", ErrUnexpected, r))
		}
	}()

	run := a.run

	// 3. Создаём или сливаем запись в хранилище
	if err := e.checkpoint(ctx, a); err != nil {
		return unexpected(err)
	}
	if run.CancelRequested() && !a.force {
		return skipWith(ErrCancelRequested)
	}

	// 4. Фиксируем начало запуска
	run.MarkStarted(e.now())
	if err := e.checkpoint(ctx, a); err != nil {
		return unexpected(err)
	}

	if !a.force {
		// 5. Запускать можно только PENDING попытку
		if run.State != domain.StatePending {
			return domain.FailWith(fmt.Errorf("%w: state is %s", ErrNotRunnable, run.State))
		}

		// 6. Владелец попытки должен выполняться
		if o, ok := e.checkOwner(ctx, a); !ok {
			return o
		}
	}

	// 7. RUNNING
	if err := run.Transition(domain.StateRunning); err != nil {
		if !a.force {
			return unexpected(err)
		}
		// Принудительный запуск допускается из любого состояния
		a.logger.Warn("forced run from non-pending state", "state", run.State)
		run.State = domain.StateRunning
	}
	if err := e.checkpoint(ctx, a); err != nil {
		return unexpected(err)
	}

	// 8. Trigger
	if !a.force {
		o := a.task.Evaluate(preceding)
		if !o.Passed() {
			a.logger.Info("trigger did not pass", "outcome", o.String())
			return rejected(o)
		}
	}

	// 9. Параметры вызова
	params := invocationParams(a.task, run)

	// 10. Тело task
	a.logger.Info("invoking task body")
	result, err := a.task.Body(telemetry.WithLogger(ctx, a.logger), params)
	if err != nil {
		return unexpected(err)
	}

	switch result.Kind() {
	case domain.ResultWork:
		return e.expand(ctx, a, result.Work())
	case domain.ResultSignal:
		return result.Outcome()
	default:
		return domain.Success()
	}
}

// checkOwner проверяет, что flow run владельца выполняется.
// Отсутствующий flow run считается активным.
func (e *Engine) checkOwner(ctx context.Context, a *attempt) (domain.Outcome, bool) {
	owner, err := e.store.LoadFlowRun(ctx, a.run.ID.FlowRunID)
	if errors.Is(err, store.ErrNotFound) {
		// Запись владельца может ещё не существовать; такой владелец считается активным
		a.logger.Debug("owner flow run not found, treating as active")
		return domain.Outcome{}, true
	}
	if err != nil {
		return unexpected(fmt.Errorf("load owner flow run: %w", err)), false
	}
	if !owner.Status.IsRunning() {
		return skipWith(fmt.Errorf("%w: flow run %s is %s", ErrOwnerInactive, owner.ID, owner.Status)), false
	}
	return domain.Outcome{}, true
}

// finish выполняет шаги 11–13.
func (e *Engine) finish(ctx context.Context, a *attempt, outcome domain.Outcome) domain.State {
	run := a.run

	// 11. Сигнал → терминальное состояние
	settle(run, outcome.State())
	run.Retrying = false
	run.Error = ""
	if !outcome.Passed() {
		run.Error = outcome.String()
	}

	// 12. Повторная попытка, если остался бюджет
	if run.State == domain.StateFailed {
		e.scheduleRetry(ctx, a)
	}

	// 13. Время завершения и финальная контрольная точка
	run.MarkFinished(e.now())
	if err := e.checkpoint(ctx, a); err != nil {
		a.logger.Error("failed to persist final state", "state", run.State, "error", err)
	}

	e.metrics.TaskRunFinished(run.State.String())

	attrs := []any{"state", run.State, "duration", run.Duration()}
	switch {
	case run.State == domain.StateSuccess:
		a.logger.Info("task run finished", attrs...)
	case run.IsRetrying():
		a.logger.Warn("task run failed, retry scheduled", append(attrs, "error", run.Error)...)
	default:
		a.logger.Warn("task run finished", append(attrs, "error", run.Error)...)
	}

	return run.State
}

// settle переводит попытку в терминальное состояние to.
//
// PENDING попытка сначала проходит через RUNNING. Попытка, которую нельзя было
// запускать (ErrNotRunnable), перезаписывается независимо от текущего состояния.
func settle(run *domain.TaskRun, to domain.State) {
	if run.State == domain.StatePending {
		_ = run.Transition(domain.StateRunning)
	}
	if err := run.Transition(to); err != nil {
		run.State = to
	}
}

// scheduleRetry создаёт следующую попытку, если остался бюджет retry.
func (e *Engine) scheduleRetry(ctx context.Context, a *attempt) {
	run := a.run

	if !a.task.CanRetry(run.ID.RunNumber) {
		a.logger.Debug("retry budget exhausted", "max_retries", a.task.MaxRetries)
		return
	}

	now := e.now()
	delay := a.task.RetryDelay.For(run.ID.RunNumber, a.task.MaxRetries)
	start := now.Add(delay)

	next := domain.NewTaskRun(run.ID.FlowRunID, a.task, run.Params, run.ID.RunNumber+1)
	next.CreatedAt = now
	next.ScheduledStart = &start
	next.GeneratedBy = run.GeneratedBy

	err := e.store.Create(ctx, next)
	switch {
	case err == nil:
		e.metrics.RetryScheduled()
		a.logger.Info("retry scheduled",
			"next_run", next.Key(),
			"delay", delay,
			"scheduled_start", start,
		)
	case errors.Is(err, store.ErrAlreadyExists):
		// Следующая попытка уже создана предыдущим запуском этой попытки
		a.logger.Debug("retry already scheduled", "next_run", next.Key())
	default:
		a.logger.Error("failed to schedule retry", "next_run", next.Key(), "error", err)
		return
	}

	run.Retrying = true
}

// checkpoint сохраняет попытку со слиянием при конфликте.
func (e *Engine) checkpoint(ctx context.Context, a *attempt) error {
	if err := e.store.SaveOrReload(ctx, a.run); err != nil {
		return fmt.Errorf("checkpoint %s: %w", a.run.Key(), err)
	}
	return nil
}

// invocationParams объединяет параметры попытки с ключами, которыми владеет движок.
func invocationParams(task *domain.Task, run *domain.TaskRun) domain.Params {
	params := make(domain.Params, len(run.Params)+3)
	maps.Copy(params, run.Params)
	params[domain.ParamTaskID] = task.ID
	params[domain.ParamTaskName] = task.Name
	params[domain.ParamRunNumber] = run.ID.RunNumber
	return params
}

func unexpected(err error) domain.Outcome {
	if errors.Is(err, ErrUnexpected) {
		return domain.FailWith(err)
	}
	return domain.FailWith(fmt.Errorf("%w: %w", ErrUnexpected, err))
}

func skipWith(err error) domain.Outcome {
	return domain.Outcome{Kind: domain.OutcomeSkip, Reason: err.Error(), Err: err}
}

// rejected оборачивает сигнал trigger'а, сохраняя его вид.
func rejected(o domain.Outcome) domain.Outcome {
	reason := o.Reason
	if reason == "" {
		reason = string(o.Kind)
	}
	err := fmt.Errorf("%w: %s", ErrTriggerRejected, reason)
	return domain.Outcome{Kind: o.Kind, Reason: err.Error(), Err: err}
}
