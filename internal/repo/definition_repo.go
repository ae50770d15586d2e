package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Cascade/internal/domain"
)

// DefinitionRepo — репозиторий definitions в Postgres.
//
// Альтернатива YAML-каталогу для инсталляций, где definitions
// управляются централизованно. Схема:
//
//	CREATE TABLE workflow_definitions (
//	    id          TEXT PRIMARY KEY,
//	    name        TEXT NOT NULL DEFAULT '',
//	    description TEXT NOT NULL DEFAULT '',
//	    steps       JSONB NOT NULL,
//	    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
//	    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
//	)
type DefinitionRepo struct {
	pool *pgxpool.Pool
}

// NewDefinitionRepo создаёт новый DefinitionRepo.
func NewDefinitionRepo(pool *pgxpool.Pool) *DefinitionRepo {
	return &DefinitionRepo{pool: pool}
}

// Upsert создаёт или обновляет definition.
func (r *DefinitionRepo) Upsert(ctx context.Context, def *domain.Definition) error {
	stepsJSON, err := json.Marshal(def.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}

	query := `
		INSERT INTO workflow_definitions (id, name, description, steps)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET name = $2, description = $3, steps = $4, updated_at = now()
	`
	_, err = r.pool.Exec(ctx, query, def.ID, def.Name, def.Description, stepsJSON)
	if err != nil {
		return fmt.Errorf("upsert definition: %w", err)
	}
	return nil
}

// GetByID возвращает definition по ID.
func (r *DefinitionRepo) GetByID(ctx context.Context, id string) (*domain.Definition, error) {
	query := `
		SELECT id, name, description, steps
		FROM workflow_definitions
		WHERE id = $1
	`
	return scanDefinition(r.pool.QueryRow(ctx, query, id))
}

// ListAll возвращает все definitions в порядке ID.
// Используется для заполнения каталога при старте.
func (r *DefinitionRepo) ListAll(ctx context.Context) ([]*domain.Definition, error) {
	query := `
		SELECT id, name, description, steps
		FROM workflow_definitions
		ORDER BY id
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list definitions: %w", err)
	}
	defer rows.Close()

	var defs []*domain.Definition
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

// Delete удаляет definition по ID.
func (r *DefinitionRepo) Delete(ctx context.Context, id string) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM workflow_definitions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete definition: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// scanDefinition сканирует definition из строки результата.
func scanDefinition(row pgx.Row) (*domain.Definition, error) {
	var def domain.Definition
	var stepsJSON []byte

	err := row.Scan(&def.ID, &def.Name, &def.Description, &stepsJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan definition: %w", err)
	}

	if err := json.Unmarshal(stepsJSON, &def.Steps); err != nil {
		return nil, fmt.Errorf("unmarshal steps: %w", err)
	}
	return &def, nil
}
