package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Cascade/internal/domain"
)

// AttachmentRepo — репозиторий для работы с привязками коннекторов.
type AttachmentRepo struct {
	pool *pgxpool.Pool
}

// NewAttachmentRepo создаёт новый AttachmentRepo.
func NewAttachmentRepo(pool *pgxpool.Pool) *AttachmentRepo {
	return &AttachmentRepo{pool: pool}
}

// Create создаёт новую привязку.
// Уникальность (program_id, role) обеспечивает индекс в БД.
func (r *AttachmentRepo) Create(ctx context.Context, a *domain.Attachment) error {
	query := `
		INSERT INTO attachments (id, program_id, connector_id, role, role_direction, version, created_at)
		VALUES ($1, $2, $3, $4, $5, 1, $6)
	`
	_, err := r.pool.Exec(ctx, query,
		a.ID,
		a.ProgramID,
		a.ConnectorID,
		a.Role,
		a.RoleDirection,
		a.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert attachment: %w", err)
	}
	a.Version = 1
	return nil
}

// GetByID возвращает привязку по ID.
func (r *AttachmentRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Attachment, error) {
	query := selectAttachment + ` WHERE id = $1`
	return scanAttachment(r.pool.QueryRow(ctx, query, id))
}

// ListByProgram возвращает привязки программы.
func (r *AttachmentRepo) ListByProgram(ctx context.Context, programID uuid.UUID) ([]domain.Attachment, error) {
	query := selectAttachment + ` WHERE program_id = $1 ORDER BY created_at ASC`
	return r.list(ctx, query, programID)
}

// ListByConnector возвращает привязки коннектора.
func (r *AttachmentRepo) ListByConnector(ctx context.Context, connectorID uuid.UUID) ([]domain.Attachment, error) {
	query := selectAttachment + ` WHERE connector_id = $1 ORDER BY created_at ASC`
	return r.list(ctx, query, connectorID)
}

// Delete удаляет привязку (detach).
func (r *AttachmentRepo) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM attachments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete attachment: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteByProgram каскадно удаляет привязки программы.
// Используется при удалении программы.
func (r *AttachmentRepo) DeleteByProgram(ctx context.Context, programID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM attachments WHERE program_id = $1`, programID)
	if err != nil {
		return fmt.Errorf("delete attachments by program: %w", err)
	}
	return nil
}

// DeleteByConnector каскадно удаляет привязки коннектора.
// Используется при удалении коннектора.
func (r *AttachmentRepo) DeleteByConnector(ctx context.Context, connectorID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM attachments WHERE connector_id = $1`, connectorID)
	if err != nil {
		return fmt.Errorf("delete attachments by connector: %w", err)
	}
	return nil
}

// --- Helpers ---

const selectAttachment = `
	SELECT id, program_id, connector_id, role, role_direction, version, created_at
	FROM attachments
`

func (r *AttachmentRepo) list(ctx context.Context, query string, arg any) ([]domain.Attachment, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	var attachments []domain.Attachment
	for rows.Next() {
		var a domain.Attachment
		err := rows.Scan(
			&a.ID,
			&a.ProgramID,
			&a.ConnectorID,
			&a.Role,
			&a.RoleDirection,
			&a.Version,
			&a.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		attachments = append(attachments, a)
	}
	return attachments, rows.Err()
}

// scanAttachment сканирует одну строку в Attachment.
func scanAttachment(row pgx.Row) (*domain.Attachment, error) {
	var a domain.Attachment
	err := row.Scan(
		&a.ID,
		&a.ProgramID,
		&a.ConnectorID,
		&a.Role,
		&a.RoleDirection,
		&a.Version,
		&a.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan attachment: %w", err)
	}
	return &a, nil
}
