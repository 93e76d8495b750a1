package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Cascade/internal/domain"
)

// ProgramRepo — репозиторий для работы с programs.
type ProgramRepo struct {
	pool *pgxpool.Pool
}

// NewProgramRepo создаёт новый ProgramRepo.
func NewProgramRepo(pool *pgxpool.Pool) *ProgramRepo {
	return &ProgramRepo{pool: pool}
}

// Create создаёт новую программу. Версия начинается с 1.
func (r *ProgramRepo) Create(ctx context.Context, p *domain.Program) error {
	query := `
		INSERT INTO programs (id, name, source, status, artifact_ref, diagnostics, compile_job_id, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 1, $8, $8)
	`
	_, err := r.pool.Exec(ctx, query,
		p.ID,
		p.Name,
		p.Source,
		p.Status,
		nullString(p.ArtifactRef),
		nullString(p.Diagnostics),
		nullString(p.CompileJobID),
		p.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert program: %w", err)
	}
	p.Version = 1
	return nil
}

// GetByID возвращает программу по ID.
func (r *ProgramRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Program, error) {
	query := selectProgram + ` WHERE id = $1`
	return scanProgram(r.pool.QueryRow(ctx, query, id))
}

// GetByName возвращает программу по имени.
func (r *ProgramRepo) GetByName(ctx context.Context, name string) (*domain.Program, error) {
	query := selectProgram + ` WHERE name = $1`
	return scanProgram(r.pool.QueryRow(ctx, query, name))
}

// List возвращает все программы.
func (r *ProgramRepo) List(ctx context.Context) ([]domain.Program, error) {
	query := selectProgram + ` ORDER BY created_at ASC`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list programs: %w", err)
	}
	defer rows.Close()

	var programs []domain.Program
	for rows.Next() {
		p, err := scanProgramRows(rows)
		if err != nil {
			return nil, err
		}
		programs = append(programs, *p)
	}
	return programs, rows.Err()
}

// ListByStatus возвращает программы в заданном статусе.
func (r *ProgramRepo) ListByStatus(ctx context.Context, status domain.ProgramStatus) ([]domain.Program, error) {
	query := selectProgram + ` WHERE status = $1 ORDER BY created_at ASC`
	rows, err := r.pool.Query(ctx, query, status)
	if err != nil {
		return nil, fmt.Errorf("list programs by status: %w", err)
	}
	defer rows.Close()

	var programs []domain.Program
	for rows.Next() {
		p, err := scanProgramRows(rows)
		if err != nil {
			return nil, err
		}
		programs = append(programs, *p)
	}
	return programs, rows.Err()
}

// UpdateConditional обновляет программу, если версия записи не изменилась.
//
// Версия в БД инкрементируется; p.Version обновляется при успехе.
// Возвращает ErrVersionConflict, если запись успели изменить,
// ErrNotFound — если записи нет.
func (r *ProgramRepo) UpdateConditional(ctx context.Context, p *domain.Program, expectedVersion int) error {
	query := `
		UPDATE programs
		SET name = $3, source = $4, status = $5, artifact_ref = $6,
		    diagnostics = $7, compile_job_id = $8, version = version + 1, updated_at = now()
		WHERE id = $1 AND version = $2
	`
	result, err := r.pool.Exec(ctx, query,
		p.ID,
		expectedVersion,
		p.Name,
		p.Source,
		p.Status,
		nullString(p.ArtifactRef),
		nullString(p.Diagnostics),
		nullString(p.CompileJobID),
	)
	if err != nil {
		return fmt.Errorf("update program: %w", err)
	}
	if result.RowsAffected() == 0 {
		return r.conflictOrMissing(ctx, p.ID)
	}
	p.Version = expectedVersion + 1
	return nil
}

// Delete удаляет программу.
func (r *ProgramRepo) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM programs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete program: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// conflictOrMissing различает гонку версий и отсутствие записи.
func (r *ProgramRepo) conflictOrMissing(ctx context.Context, id uuid.UUID) error {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM programs WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check program exists: %w", err)
	}
	if exists {
		return ErrVersionConflict
	}
	return ErrNotFound
}

// --- Helpers ---

const selectProgram = `
	SELECT id, name, source, status, artifact_ref, diagnostics, compile_job_id, version, created_at, updated_at
	FROM programs
`

// scanProgram сканирует одну строку в Program.
func scanProgram(row pgx.Row) (*domain.Program, error) {
	p, err := scanProgramFields(row.Scan)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

// scanProgramRows сканирует строку из rows в Program.
func scanProgramRows(rows pgx.Rows) (*domain.Program, error) {
	return scanProgramFields(rows.Scan)
}

func scanProgramFields(scan func(dest ...any) error) (*domain.Program, error) {
	var p domain.Program
	var artifactRef, diagnostics, jobID *string

	err := scan(
		&p.ID,
		&p.Name,
		&p.Source,
		&p.Status,
		&artifactRef,
		&diagnostics,
		&jobID,
		&p.Version,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan program: %w", err)
	}

	if artifactRef != nil {
		p.ArtifactRef = *artifactRef
	}
	if diagnostics != nil {
		p.Diagnostics = *diagnostics
	}
	if jobID != nil {
		p.CompileJobID = *jobID
	}
	return &p, nil
}

// nullString возвращает nil для пустой строки (для NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// isUniqueViolation проверяет ошибку уникальности Postgres (23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
