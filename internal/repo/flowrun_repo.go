package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Taskrunner/internal/domain"
	"github.com/shaiso/Taskrunner/internal/store"
)

const flowRunColumns = `
	id, flow_id, status, params, generated_by, started_at, finished_at,
	error, created_at, version`

// FlowRunRepo — репозиторий для работы с flow runs.
type FlowRunRepo struct {
	pool *pgxpool.Pool
}

// NewFlowRunRepo создаёт новый FlowRunRepo.
func NewFlowRunRepo(pool *pgxpool.Pool) *FlowRunRepo {
	return &FlowRunRepo{pool: pool}
}

// LoadFlowRun возвращает flow run по ID.
func (r *FlowRunRepo) LoadFlowRun(ctx context.Context, id string) (*domain.FlowRun, error) {
	query := `SELECT` + flowRunColumns + `
		FROM flow_runs
		WHERE id = $1
	`
	return scanFlowRun(r.pool.QueryRow(ctx, query, id))
}

// SaveFlowRun записывает flow run при совпадении версии.
//
// Version == 0 — вставка; ErrConflict, если flow run уже создан.
func (r *FlowRunRepo) SaveFlowRun(ctx context.Context, run *domain.FlowRun) error {
	paramsJSON, err := json.Marshal(run.Params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}

	args := []any{
		run.ID,
		run.FlowID,
		string(run.Status),
		paramsJSON,
		nullString(run.GeneratedBy),
		run.StartedAt,
		run.FinishedAt,
		nullString(run.Error),
		run.CreatedAt,
	}

	var query string
	if run.Version == 0 {
		query = `
			INSERT INTO flow_runs (` + flowRunColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1)
			ON CONFLICT (id) DO NOTHING
		`
	} else {
		query = `
			UPDATE flow_runs
			SET flow_id = $2, status = $3, params = $4, generated_by = $5,
			    started_at = $6, finished_at = $7, error = $8, created_at = $9,
			    version = version + 1
			WHERE id = $1 AND version = $10
		`
		args = append(args, run.Version)
	}

	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("save flow run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrConflict
	}

	run.Version++
	return nil
}

// FlowRunFilter — параметры фильтрации flow runs.
type FlowRunFilter struct {
	FlowID string
	Status domain.RunStatus
	Limit  int
	Offset int
}

// List возвращает flow runs с фильтрацией, новые первыми.
func (r *FlowRunRepo) List(ctx context.Context, filter FlowRunFilter) ([]domain.FlowRun, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT` + flowRunColumns + `
		FROM flow_runs
		WHERE ($1::text IS NULL OR flow_id = $1)
		  AND ($2::text IS NULL OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`
	rows, err := r.pool.Query(ctx, query,
		nullString(filter.FlowID),
		nullString(string(filter.Status)),
		limit,
		filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list flow runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.FlowRun
	for rows.Next() {
		run, err := scanFlowRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// scanFlowRun сканирует строку в FlowRun.
func scanFlowRun(row pgx.Row) (*domain.FlowRun, error) {
	var run domain.FlowRun
	var paramsJSON []byte
	var generatedBy, runError *string

	err := row.Scan(
		&run.ID,
		&run.FlowID,
		&run.Status,
		&paramsJSON,
		&generatedBy,
		&run.StartedAt,
		&run.FinishedAt,
		&runError,
		&run.CreatedAt,
		&run.Version,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan flow run: %w", err)
	}

	run.GeneratedBy = deref(generatedBy)
	run.Error = deref(runError)

	if paramsJSON != nil {
		if err := json.Unmarshal(paramsJSON, &run.Params); err != nil {
			return nil, fmt.Errorf("unmarshal params: %w", err)
		}
	}

	return &run, nil
}
