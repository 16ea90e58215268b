package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shaiso/Taskrunner/internal/domain"
	"github.com/shaiso/Taskrunner/internal/fabric"
	"github.com/shaiso/Taskrunner/internal/store"
	"github.com/shaiso/Taskrunner/internal/telemetry"
)

const (
	defaultBatchSize = 100

	// defaultClaimLease — через сколько попытка, отправленная в fabric, но так и
	// не запущенная воркером, снова станет due (TaskRun.ClaimedUntil).
	defaultClaimLease = 5 * time.Minute
)

// Scheduler — планировщик повторных попыток.
//
// Каждый тик находит PENDING попытки с наступившим scheduled_start и
// отправляет их в fabric как TaskUnit.
type Scheduler struct {
	store      store.Store
	dispatcher fabric.Dispatcher
	metrics    *telemetry.Metrics
	logger     *slog.Logger
	batchSize  int
	claimLease time.Duration
	now        func() time.Time
}

// Config — конфигурация Scheduler.
type Config struct {
	Store      store.Store
	Dispatcher fabric.Dispatcher
	Metrics    *telemetry.Metrics
	Logger     *slog.Logger
	BatchSize  int           // количество попыток за один тик (default: 100)
	ClaimLease time.Duration // default: 5m
	Now        func() time.Time
}

// New создаёт новый Scheduler.
func New(cfg Config) *Scheduler {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	claimLease := cfg.ClaimLease
	if claimLease <= 0 {
		claimLease = defaultClaimLease
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	return &Scheduler{
		store:      cfg.Store,
		dispatcher: cfg.Dispatcher,
		metrics:    cfg.Metrics,
		logger:     logger,
		batchSize:  batchSize,
		claimLease: claimLease,
		now:        now,
	}
}

// Tick выполняет один тик планировщика.
//
// 1. Находит due попытки (PENDING, scheduled_start <= now)
// 2. Для каждой выставляет claimed_until = now + claim lease (CAS)
// 3. Отправляет TaskUnit в fabric
//
// Ошибки одной попытки не блокируют обработку остальных.
func (s *Scheduler) Tick(ctx context.Context) error {
	now := s.now()

	// 1. Находим due попытки
	runs, err := s.store.ListDue(ctx, now, s.batchSize)
	if err != nil {
		return fmt.Errorf("list due task runs: %w", err)
	}

	if len(runs) == 0 {
		return nil
	}

	s.logger.Debug("found due task runs", "count", len(runs))

	// 2. Обрабатываем каждую попытку
	var dispatched int
	for i := range runs {
		run := &runs[i]

		ok, err := s.processRun(ctx, run, now)
		if err != nil {
			s.logger.Error("failed to dispatch task run",
				"taskrun_id", run.Key(),
				"error", err,
			)
			// Продолжаем обработку остальных
			continue
		}
		if ok {
			dispatched++
		}
	}

	s.logger.Info("retry sweep completed",
		"due", len(runs),
		"dispatched", dispatched,
	)

	return nil
}

// processRun захватывает попытку и отправляет её в fabric.
// Возвращает false, если попытку уже захватил другой экземпляр.
func (s *Scheduler) processRun(ctx context.Context, run *domain.TaskRun, now time.Time) (bool, error) {
	// 1. Захват: следующий тик увидит попытку только после истечения lease.
	// scheduled_start остаётся тем, что выставил движок
	lease := now.Add(s.claimLease)
	run.ClaimedUntil = &lease
	if err := s.store.Save(ctx, run); err != nil {
		if errors.Is(err, store.ErrConflict) {
			s.logger.Debug("task run claimed elsewhere", "taskrun_id", run.Key())
			return false, nil
		}
		return false, fmt.Errorf("claim: %w", err)
	}

	// 2. Отправка
	unit := fabric.NewTaskUnit(fabric.TaskUnit{
		RunID:       run.ID,
		Params:      run.Params,
		GeneratedBy: run.GeneratedBy,
	})
	if err := s.dispatcher.Dispatch(ctx, unit); err != nil {
		// Попытка снова станет due после истечения lease
		return false, fmt.Errorf("dispatch: %w", err)
	}

	s.metrics.SweepDispatched()
	s.logger.Info("task run dispatched",
		"taskrun_id", run.Key(),
		"unit_id", unit.ID,
	)
	return true, nil
}
