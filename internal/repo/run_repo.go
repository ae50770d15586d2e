package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Cascade/internal/domain"
)

// RunRepo — архив завершённых runs в Postgres.
//
// Ядро оркестратора держит только активный run и последний
// завершённый в памяти; архив сохраняет историю между рестартами.
// Схема:
//
//	CREATE TABLE run_archive (
//	    id            UUID PRIMARY KEY,
//	    definition_id TEXT NOT NULL,
//	    status        TEXT NOT NULL,
//	    inputs        JSONB,
//	    results       JSONB NOT NULL,
//	    error         TEXT,
//	    started_at    TIMESTAMPTZ NOT NULL,
//	    finished_at   TIMESTAMPTZ NOT NULL
//	)
type RunRepo struct {
	pool *pgxpool.Pool
}

// NewRunRepo создаёт новый RunRepo.
func NewRunRepo(pool *pgxpool.Pool) *RunRepo {
	return &RunRepo{pool: pool}
}

// Archive сохраняет завершённый run в архив.
// Повторный вызов для того же run — no-op (идемпотентность).
func (r *RunRepo) Archive(ctx context.Context, run *domain.Run) error {
	if !run.IsFinished() {
		return fmt.Errorf("run %s is not finished", run.ID)
	}

	inputsJSON, err := json.Marshal(run.Inputs)
	if err != nil {
		return fmt.Errorf("marshal inputs: %w", err)
	}
	resultsJSON, err := json.Marshal(run.Results)
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}

	query := `
		INSERT INTO run_archive (id, definition_id, status, inputs, results, error, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`
	_, err = r.pool.Exec(ctx, query,
		run.ID,
		run.DefinitionID,
		run.Status,
		inputsJSON,
		resultsJSON,
		nullString(run.Error),
		run.StartedAt,
		run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("archive run: %w", err)
	}
	return nil
}

// GetByID возвращает архивный run по ID.
func (r *RunRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Run, error) {
	query := `
		SELECT id, definition_id, status, inputs, results, error, started_at, finished_at
		FROM run_archive
		WHERE id = $1
	`
	return scanRun(r.pool.QueryRow(ctx, query, id))
}

// RunFilter — фильтр списка архивных runs.
type RunFilter struct {
	DefinitionID string
	Status       domain.RunStatus
	Limit        int
	Offset       int
}

// List возвращает архивные runs, отсортированные от новых к старым.
func (r *RunRepo) List(ctx context.Context, filter RunFilter) ([]*domain.Run, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, definition_id, status, inputs, results, error, started_at, finished_at
		FROM run_archive
		WHERE ($1::text IS NULL OR definition_id = $1)
		  AND ($2::text IS NULL OR status = $2)
		ORDER BY started_at DESC
		LIMIT $3 OFFSET $4
	`
	rows, err := r.pool.Query(ctx, query,
		nullString(filter.DefinitionID),
		nullString(string(filter.Status)),
		limit,
		filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// scanRun сканирует run из строки результата.
func scanRun(row pgx.Row) (*domain.Run, error) {
	var run domain.Run
	var inputsJSON, resultsJSON []byte
	var errMsg *string

	err := row.Scan(
		&run.ID,
		&run.DefinitionID,
		&run.Status,
		&inputsJSON,
		&resultsJSON,
		&errMsg,
		&run.StartedAt,
		&run.FinishedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}

	if errMsg != nil {
		run.Error = *errMsg
	}
	if len(inputsJSON) > 0 {
		if err := json.Unmarshal(inputsJSON, &run.Inputs); err != nil {
			return nil, fmt.Errorf("unmarshal inputs: %w", err)
		}
	}
	if err := json.Unmarshal(resultsJSON, &run.Results); err != nil {
		return nil, fmt.Errorf("unmarshal results: %w", err)
	}
	return &run, nil
}
