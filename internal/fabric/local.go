package fabric

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// Local — fabric на горутинах текущего процесса.
//
// Каждый unit исполняется в своей горутине с контекстом, отвязанным от отмены
// отправителя: units независимы от попытки, которая их породила.
// MaxConcurrent ограничивает число одновременно исполняемых units; родитель,
// ждущий детей в Gather, занимает слот, поэтому при вложенных expansion лимит
// должен быть больше глубины вложенности.
type Local struct {
	logger *slog.Logger
	sem    *semaphore.Weighted

	mu       sync.Mutex
	executor Executor
	futures  map[uuid.UUID]*future
	wg       sync.WaitGroup
}

// LocalConfig — конфигурация Local.
type LocalConfig struct {
	// Executor — исполнитель units (можно привязать позже через Bind).
	Executor Executor

	// MaxConcurrent — лимит одновременно исполняемых units (0 — без лимита).
	MaxConcurrent int

	// Logger
	Logger *slog.Logger
}

type future struct {
	done chan struct{}
	err  error
}

var (
	_ Fabric     = (*Local)(nil)
	_ Dispatcher = (*Local)(nil)
)

// NewLocal создаёт Local fabric.
func NewLocal(cfg LocalConfig) *Local {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	l := &Local{
		logger:   logger,
		executor: cfg.Executor,
		futures:  make(map[uuid.UUID]*future),
	}
	if cfg.MaxConcurrent > 0 {
		l.sem = semaphore.NewWeighted(int64(cfg.MaxConcurrent))
	}
	return l
}

// Bind привязывает исполнителя.
// Нужен, когда исполнитель сам зависит от fabric (движок с dynamic expansion).
func (l *Local) Bind(executor Executor) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.executor = executor
}

// Submit запускает unit в отдельной горутине.
func (l *Local) Submit(ctx context.Context, unit Unit) (Handle, error) {
	f, err := l.start(ctx, unit)
	if err != nil {
		return Handle{}, err
	}

	l.mu.Lock()
	l.futures[unit.ID] = f
	l.mu.Unlock()

	return Handle{ID: unit.ID, Kind: unit.Kind}, nil
}

// Dispatch запускает unit без регистрации handle.
func (l *Local) Dispatch(ctx context.Context, unit Unit) error {
	_, err := l.start(ctx, unit)
	return err
}

func (l *Local) start(ctx context.Context, unit Unit) (*future, error) {
	if err := unit.Validate(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	executor := l.executor
	l.mu.Unlock()
	if executor == nil {
		return nil, ErrNoExecutor
	}

	f := &future{done: make(chan struct{})}
	unitCtx := context.WithoutCancel(ctx)

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer close(f.done)

		if l.sem != nil {
			if err := l.sem.Acquire(unitCtx, 1); err != nil {
				f.err = err
				return
			}
			defer l.sem.Release(1)
		}

		f.err = l.execute(unitCtx, executor, unit)
	}()

	l.logger.Debug("unit submitted", "unit_id", unit.ID, "kind", unit.Kind, "unit", unit.Describe())
	return f, nil
}

// execute вызывает исполнителя, превращая panic в ошибку.
func (l *Local) execute(ctx context.Context, executor Executor, unit Unit) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: unit %s panicked: %v", ErrUnitFailed, unit.ID, r)
		}
	}()
	return executor.Execute(ctx, unit)
}

// Gather ждёт завершения всех handles и возвращает объединённые ошибки.
func (l *Local) Gather(ctx context.Context, handles []Handle) error {
	var errs []error

	for _, h := range handles {
		l.mu.Lock()
		f, ok := l.futures[h.ID]
		l.mu.Unlock()

		if !ok {
			errs = append(errs, fmt.Errorf("%w: %s", ErrUnknownHandle, h.ID))
			continue
		}

		select {
		case <-f.done:
		case <-ctx.Done():
			return ctx.Err()
		}

		if f.err != nil {
			errs = append(errs, fmt.Errorf("unit %s: %w", h.ID, f.err))
		}

		l.mu.Lock()
		delete(l.futures, h.ID)
		l.mu.Unlock()
	}

	return errors.Join(errs...)
}

// Wait ждёт завершения всех запущенных units (включая отправленные через Dispatch).
func (l *Local) Wait() {
	l.wg.Wait()
}
