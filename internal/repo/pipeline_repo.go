package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Cascade/internal/domain"
)

// PipelineRepo — репозиторий для работы с pipelines.
//
// Снапшот привязок хранится как JSONB прямо в записи pipeline:
// это замороженная копия, а не ссылки, поэтому нормализация не нужна.
type PipelineRepo struct {
	pool *pgxpool.Pool
}

// NewPipelineRepo создаёт новый PipelineRepo.
func NewPipelineRepo(pool *pgxpool.Pool) *PipelineRepo {
	return &PipelineRepo{pool: pool}
}

// Create создаёт новый pipeline. Версия начинается с 1.
func (r *PipelineRepo) Create(ctx context.Context, p *domain.Pipeline) error {
	snapshotJSON, err := json.Marshal(p.Snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	query := `
		INSERT INTO pipelines (id, name, program_id, status, snapshot, artifact_ref,
		                       runtime_handle, error, failed_at, last_healthy_at,
		                       version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 1, $11, $11)
	`
	_, err = r.pool.Exec(ctx, query,
		p.ID,
		p.Name,
		p.ProgramID,
		p.Status,
		snapshotJSON,
		nullString(p.ArtifactRef),
		nullString(p.RuntimeHandle),
		nullString(p.Error),
		p.FailedAt,
		p.LastHealthyAt,
		p.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert pipeline: %w", err)
	}
	p.Version = 1
	return nil
}

// GetByID возвращает pipeline по ID.
func (r *PipelineRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Pipeline, error) {
	query := selectPipeline + ` WHERE id = $1`
	return scanPipeline(r.pool.QueryRow(ctx, query, id))
}

// List возвращает все pipelines.
func (r *PipelineRepo) List(ctx context.Context) ([]domain.Pipeline, error) {
	query := selectPipeline + ` ORDER BY created_at ASC`
	return r.list(ctx, query)
}

// ListByStatus возвращает pipelines в любом из заданных статусов.
func (r *PipelineRepo) ListByStatus(ctx context.Context, statuses ...domain.PipelineStatus) ([]domain.Pipeline, error) {
	query := selectPipeline + ` WHERE status = ANY($1) ORDER BY created_at ASC`

	strs := make([]string, len(statuses))
	for i, s := range statuses {
		strs[i] = string(s)
	}
	return r.list(ctx, query, strs)
}

// ListByProgram возвращает pipelines, ссылающиеся на программу.
func (r *PipelineRepo) ListByProgram(ctx context.Context, programID uuid.UUID) ([]domain.Pipeline, error) {
	query := selectPipeline + ` WHERE program_id = $1 ORDER BY created_at ASC`
	return r.list(ctx, query, programID)
}

// UpdateConditional обновляет pipeline, если версия записи не изменилась.
//
// Единственный путь записи статуса pipeline: любой переход предъявляет
// прочитанную версию, гонки разрешаются перечитыванием у вызывающего.
func (r *PipelineRepo) UpdateConditional(ctx context.Context, p *domain.Pipeline, expectedVersion int) error {
	snapshotJSON, err := json.Marshal(p.Snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	query := `
		UPDATE pipelines
		SET name = $3, status = $4, snapshot = $5, artifact_ref = $6,
		    runtime_handle = $7, error = $8, failed_at = $9, last_healthy_at = $10,
		    version = version + 1, updated_at = now()
		WHERE id = $1 AND version = $2
	`
	result, err := r.pool.Exec(ctx, query,
		p.ID,
		expectedVersion,
		p.Name,
		p.Status,
		snapshotJSON,
		nullString(p.ArtifactRef),
		nullString(p.RuntimeHandle),
		nullString(p.Error),
		p.FailedAt,
		p.LastHealthyAt,
	)
	if err != nil {
		return fmt.Errorf("update pipeline: %w", err)
	}
	if result.RowsAffected() == 0 {
		return r.conflictOrMissing(ctx, p.ID)
	}
	p.Version = expectedVersion + 1
	return nil
}

// TouchHealth обновляет last_healthy_at без инкремента версии.
//
// Отметка health-опроса — наблюдение, а не переход состояния;
// инкремент версии на каждый опрос душил бы conditional updates
// пользовательских запросов.
func (r *PipelineRepo) TouchHealth(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE pipelines SET last_healthy_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("touch health: %w", err)
	}
	return nil
}

// Delete удаляет pipeline. Допустим только из SHUTDOWN — проверка
// статуса входит в запрос, чтобы не гоняться с параллельным deploy.
func (r *PipelineRepo) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.pool.Exec(ctx,
		`DELETE FROM pipelines WHERE id = $1 AND status = $2`, id, domain.PipelineStatusShutdown)
	if err != nil {
		return fmt.Errorf("delete pipeline: %w", err)
	}
	if result.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM pipelines WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("check pipeline exists: %w", err)
		}
		if exists {
			return ErrInvalidState
		}
		return ErrNotFound
	}
	return nil
}

// conflictOrMissing различает гонку версий и отсутствие записи.
func (r *PipelineRepo) conflictOrMissing(ctx context.Context, id uuid.UUID) error {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM pipelines WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check pipeline exists: %w", err)
	}
	if exists {
		return ErrVersionConflict
	}
	return ErrNotFound
}

// --- Helpers ---

const selectPipeline = `
	SELECT id, name, program_id, status, snapshot, artifact_ref, runtime_handle,
	       error, failed_at, last_healthy_at, version, created_at, updated_at
	FROM pipelines
`

func (r *PipelineRepo) list(ctx context.Context, query string, args ...any) ([]domain.Pipeline, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list pipelines: %w", err)
	}
	defer rows.Close()

	var pipelines []domain.Pipeline
	for rows.Next() {
		p, err := scanPipelineRows(rows)
		if err != nil {
			return nil, err
		}
		pipelines = append(pipelines, *p)
	}
	return pipelines, rows.Err()
}

// scanPipeline сканирует одну строку в Pipeline.
func scanPipeline(row pgx.Row) (*domain.Pipeline, error) {
	p, err := scanPipelineFields(row.Scan)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

// scanPipelineRows сканирует строку из rows в Pipeline.
func scanPipelineRows(rows pgx.Rows) (*domain.Pipeline, error) {
	return scanPipelineFields(rows.Scan)
}

func scanPipelineFields(scan func(dest ...any) error) (*domain.Pipeline, error) {
	var p domain.Pipeline
	var snapshotJSON []byte
	var artifactRef, handle, pErr *string

	err := scan(
		&p.ID,
		&p.Name,
		&p.ProgramID,
		&p.Status,
		&snapshotJSON,
		&artifactRef,
		&handle,
		&pErr,
		&p.FailedAt,
		&p.LastHealthyAt,
		&p.Version,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan pipeline: %w", err)
	}

	if snapshotJSON != nil {
		if err := json.Unmarshal(snapshotJSON, &p.Snapshot); err != nil {
			return nil, fmt.Errorf("unmarshal snapshot: %w", err)
		}
	}
	if artifactRef != nil {
		p.ArtifactRef = *artifactRef
	}
	if handle != nil {
		p.RuntimeHandle = *handle
	}
	if pErr != nil {
		p.Error = *pErr
	}
	return &p, nil
}
