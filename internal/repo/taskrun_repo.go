package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Taskrunner/internal/domain"
	"github.com/shaiso/Taskrunner/internal/store"
)

const taskRunColumns = `
	flow_run_id, task_id, run_number, task_name, state, retrying, params,
	created_at, started_at, finished_at, scheduled_start, claimed_until,
	generated_by, error, annotations, version`

// TaskRunRepo — репозиторий для работы с попытками.
type TaskRunRepo struct {
	pool *pgxpool.Pool
}

// NewTaskRunRepo создаёт новый TaskRunRepo.
func NewTaskRunRepo(pool *pgxpool.Pool) *TaskRunRepo {
	return &TaskRunRepo{pool: pool}
}

// Load возвращает попытку по идентичности.
func (r *TaskRunRepo) Load(ctx context.Context, id domain.RunID) (*domain.TaskRun, error) {
	query := `SELECT` + taskRunColumns + `
		FROM task_runs
		WHERE flow_run_id = $1 AND task_id = $2 AND run_number = $3
	`
	return scanTaskRun(r.pool.QueryRow(ctx, query, id.FlowRunID, id.TaskID, id.RunNumber))
}

// Create вставляет новую попытку.
func (r *TaskRunRepo) Create(ctx context.Context, run *domain.TaskRun) error {
	args, err := taskRunArgs(run)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO task_runs (` + taskRunColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, 1)
		ON CONFLICT (flow_run_id, task_id, run_number) DO NOTHING
	`
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("insert task run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrAlreadyExists
	}

	run.Version = 1
	return nil
}

// Save записывает попытку при совпадении версии.
//
// Version == 0 — запись ещё не сохранялась: выполняется вставка.
func (r *TaskRunRepo) Save(ctx context.Context, run *domain.TaskRun) error {
	if run.Version == 0 {
		err := r.Create(ctx, run)
		if errors.Is(err, store.ErrAlreadyExists) {
			return store.ErrConflict
		}
		return err
	}

	args, err := taskRunArgs(run)
	if err != nil {
		return err
	}

	query := `
		UPDATE task_runs
		SET task_name = $4, state = $5, retrying = $6, params = $7, created_at = $8,
		    started_at = $9, finished_at = $10, scheduled_start = $11, claimed_until = $12,
		    generated_by = $13, error = $14, annotations = $15, version = version + 1
		WHERE flow_run_id = $1 AND task_id = $2 AND run_number = $3 AND version = $16
	`
	tag, err := r.pool.Exec(ctx, query, append(args, run.Version)...)
	if err != nil {
		return fmt.Errorf("update task run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrConflict
	}

	run.Version++
	return nil
}

// SaveOrReload создаёт или сливает запись (store.Reconcile поверх CAS).
func (r *TaskRunRepo) SaveOrReload(ctx context.Context, run *domain.TaskRun) error {
	return store.Reconcile(ctx, r, run)
}

// ListAttempts возвращает попытки task внутри flow run по возрастанию номера.
func (r *TaskRunRepo) ListAttempts(ctx context.Context, flowRunID, taskID string) ([]domain.TaskRun, error) {
	query := `SELECT` + taskRunColumns + `
		FROM task_runs
		WHERE flow_run_id = $1 AND task_id = $2
		ORDER BY run_number ASC
	`
	return r.list(ctx, "list attempts", query, flowRunID, taskID)
}

// ListDue возвращает PENDING попытки, у которых scheduled_start <= now
// и захват планировщиком (claimed_until) истёк.
func (r *TaskRunRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.TaskRun, error) {
	query := `SELECT` + taskRunColumns + `
		FROM task_runs
		WHERE state = 'PENDING' AND scheduled_start IS NOT NULL AND scheduled_start <= $1
		  AND (claimed_until IS NULL OR claimed_until <= $1)
		ORDER BY GREATEST(scheduled_start, claimed_until) ASC
		LIMIT $2
	`
	return r.list(ctx, "list due task runs", query, now, limit)
}

// ListByFlowRun возвращает все попытки flow run.
func (r *TaskRunRepo) ListByFlowRun(ctx context.Context, flowRunID string) ([]domain.TaskRun, error) {
	query := `SELECT` + taskRunColumns + `
		FROM task_runs
		WHERE flow_run_id = $1
		ORDER BY created_at ASC, task_id ASC, run_number ASC
	`
	return r.list(ctx, "list task runs by flow run", query, flowRunID)
}

// ListGeneratedBy возвращает попытки, порождённые попыткой parentKey.
func (r *TaskRunRepo) ListGeneratedBy(ctx context.Context, parentKey string) ([]domain.TaskRun, error) {
	query := `SELECT` + taskRunColumns + `
		FROM task_runs
		WHERE generated_by = $1
		ORDER BY created_at ASC, task_id ASC, run_number ASC
	`
	return r.list(ctx, "list generated task runs", query, parentKey)
}

func (r *TaskRunRepo) list(ctx context.Context, op, query string, args ...any) ([]domain.TaskRun, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var runs []domain.TaskRun
	for rows.Next() {
		run, err := scanTaskRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// --- Helpers ---

// taskRunArgs возвращает значения колонок (без version) в порядке taskRunColumns.
func taskRunArgs(run *domain.TaskRun) ([]any, error) {
	paramsJSON, err := json.Marshal(run.Params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}

	var annotationsJSON []byte
	if len(run.Annotations) > 0 {
		if annotationsJSON, err = json.Marshal(run.Annotations); err != nil {
			return nil, fmt.Errorf("marshal annotations: %w", err)
		}
	}

	return []any{
		run.ID.FlowRunID,
		run.ID.TaskID,
		run.ID.RunNumber,
		nullString(run.TaskName),
		string(run.State),
		run.Retrying,
		paramsJSON,
		run.CreatedAt,
		run.StartedAt,
		run.FinishedAt,
		run.ScheduledStart,
		run.ClaimedUntil,
		nullString(run.GeneratedBy),
		nullString(run.Error),
		annotationsJSON,
	}, nil
}

// scanTaskRun сканирует строку (pgx.Row или pgx.Rows) в TaskRun.
func scanTaskRun(row pgx.Row) (*domain.TaskRun, error) {
	var run domain.TaskRun
	var state string
	var paramsJSON, annotationsJSON []byte
	var taskName, generatedBy, runError *string

	err := row.Scan(
		&run.ID.FlowRunID,
		&run.ID.TaskID,
		&run.ID.RunNumber,
		&taskName,
		&state,
		&run.Retrying,
		&paramsJSON,
		&run.CreatedAt,
		&run.StartedAt,
		&run.FinishedAt,
		&run.ScheduledStart,
		&run.ClaimedUntil,
		&generatedBy,
		&runError,
		&annotationsJSON,
		&run.Version,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan task run: %w", err)
	}

	run.State = domain.ParseState(state)
	run.TaskName = deref(taskName)
	run.GeneratedBy = deref(generatedBy)
	run.Error = deref(runError)

	if paramsJSON != nil {
		if err := json.Unmarshal(paramsJSON, &run.Params); err != nil {
			return nil, fmt.Errorf("unmarshal params: %w", err)
		}
	}
	if annotationsJSON != nil {
		if err := json.Unmarshal(annotationsJSON, &run.Annotations); err != nil {
			return nil, fmt.Errorf("unmarshal annotations: %w", err)
		}
	}

	return &run, nil
}
