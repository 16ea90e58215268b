package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shaiso/Taskrunner/internal/domain"
)

// MaxReconcileAttempts — сколько раз SaveOrReload повторяет цикл
// чтение → слияние → CAS при конкурентных записях.
const MaxReconcileAttempts = 5

// Store — хранилище попыток и flow runs.
type Store interface {
	// Load возвращает попытку по идентичности или ErrNotFound.
	Load(ctx context.Context, id domain.RunID) (*domain.TaskRun, error)

	// Save записывает попытку (upsert) при совпадении версии.
	// Возвращает ErrConflict, если запись изменилась. При успехе увеличивает run.Version.
	Save(ctx context.Context, run *domain.TaskRun) error

	// SaveOrReload создаёт запись, а если она уже есть — сливает локальные поля
	// с сохранёнными (domain.TaskRun.MergeInto) и записывает результат.
	SaveOrReload(ctx context.Context, run *domain.TaskRun) error

	// Create вставляет новую попытку. ErrAlreadyExists, если она уже есть.
	Create(ctx context.Context, run *domain.TaskRun) error

	// ListAttempts возвращает все попытки task внутри flow run по возрастанию номера.
	ListAttempts(ctx context.Context, flowRunID, taskID string) ([]domain.TaskRun, error)

	// ListDue возвращает PENDING попытки, у которых scheduled_start <= now.
	ListDue(ctx context.Context, now time.Time, limit int) ([]domain.TaskRun, error)

	// LoadFlowRun возвращает flow run или ErrNotFound.
	LoadFlowRun(ctx context.Context, id string) (*domain.FlowRun, error)

	// SaveFlowRun записывает flow run (upsert, CAS по версии).
	SaveFlowRun(ctx context.Context, run *domain.FlowRun) error
}

// casStore — минимальный набор операций, на котором строится Reconcile.
type casStore interface {
	Load(ctx context.Context, id domain.RunID) (*domain.TaskRun, error)
	Save(ctx context.Context, run *domain.TaskRun) error
	Create(ctx context.Context, run *domain.TaskRun) error
}

// Reconcile реализует save-or-reload поверх Load/Create/Save с CAS.
//
// Используется хранилищами, у которых нет атомарного read-modify-write
// (PostgreSQL, Redis).
func Reconcile(ctx context.Context, s casStore, run *domain.TaskRun) error {
	for range MaxReconcileAttempts {
		stored, err := s.Load(ctx, run.ID)
		if errors.Is(err, ErrNotFound) {
			err = s.Create(ctx, run)
			if errors.Is(err, ErrAlreadyExists) {
				// Кто-то создал запись между Load и Create
				continue
			}
			return err
		}
		if err != nil {
			return err
		}

		run.MergeInto(stored)

		err = s.Save(ctx, run)
		if errors.Is(err, ErrConflict) {
			continue
		}
		return err
	}
	return fmt.Errorf("save or reload %s: %w after %d attempts", run.Key(), ErrConflict, MaxReconcileAttempts)
}
