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

// ConnectorRepo — репозиторий для работы с connectors.
type ConnectorRepo struct {
	pool *pgxpool.Pool
}

// NewConnectorRepo создаёт новый ConnectorRepo.
func NewConnectorRepo(pool *pgxpool.Pool) *ConnectorRepo {
	return &ConnectorRepo{pool: pool}
}

// Create создаёт новый коннектор. Версия начинается с 1.
func (r *ConnectorRepo) Create(ctx context.Context, c *domain.Connector) error {
	configJSON, err := json.Marshal(c.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	query := `
		INSERT INTO connectors (id, name, direction, transport, config, version, created_at)
		VALUES ($1, $2, $3, $4, $5, 1, $6)
	`
	_, err = r.pool.Exec(ctx, query,
		c.ID,
		c.Name,
		c.Direction,
		c.Transport,
		configJSON,
		c.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert connector: %w", err)
	}
	c.Version = 1
	return nil
}

// GetByID возвращает коннектор по ID.
func (r *ConnectorRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Connector, error) {
	query := selectConnector + ` WHERE id = $1`
	return scanConnector(r.pool.QueryRow(ctx, query, id))
}

// List возвращает все коннекторы.
func (r *ConnectorRepo) List(ctx context.Context) ([]domain.Connector, error) {
	query := selectConnector + ` ORDER BY created_at ASC`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list connectors: %w", err)
	}
	defer rows.Close()

	var connectors []domain.Connector
	for rows.Next() {
		c, err := scanConnectorRows(rows)
		if err != nil {
			return nil, err
		}
		connectors = append(connectors, *c)
	}
	return connectors, rows.Err()
}

// UpdateConditional обновляет коннектор, если версия записи не изменилась.
func (r *ConnectorRepo) UpdateConditional(ctx context.Context, c *domain.Connector, expectedVersion int) error {
	configJSON, err := json.Marshal(c.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	query := `
		UPDATE connectors
		SET name = $3, direction = $4, transport = $5, config = $6, version = version + 1
		WHERE id = $1 AND version = $2
	`
	result, err := r.pool.Exec(ctx, query,
		c.ID,
		expectedVersion,
		c.Name,
		c.Direction,
		c.Transport,
		configJSON,
	)
	if err != nil {
		return fmt.Errorf("update connector: %w", err)
	}
	if result.RowsAffected() == 0 {
		return r.conflictOrMissing(ctx, c.ID)
	}
	c.Version = expectedVersion + 1
	return nil
}

// Delete удаляет коннектор.
func (r *ConnectorRepo) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM connectors WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete connector: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// conflictOrMissing различает гонку версий и отсутствие записи.
func (r *ConnectorRepo) conflictOrMissing(ctx context.Context, id uuid.UUID) error {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM connectors WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check connector exists: %w", err)
	}
	if exists {
		return ErrVersionConflict
	}
	return ErrNotFound
}

// --- Helpers ---

const selectConnector = `
	SELECT id, name, direction, transport, config, version, created_at
	FROM connectors
`

// scanConnector сканирует одну строку в Connector.
func scanConnector(row pgx.Row) (*domain.Connector, error) {
	var c domain.Connector
	var configJSON []byte

	err := row.Scan(
		&c.ID,
		&c.Name,
		&c.Direction,
		&c.Transport,
		&configJSON,
		&c.Version,
		&c.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan connector: %w", err)
	}

	if configJSON != nil {
		if err := json.Unmarshal(configJSON, &c.Config); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}
	return &c, nil
}

// scanConnectorRows сканирует строку из rows в Connector.
func scanConnectorRows(rows pgx.Rows) (*domain.Connector, error) {
	var c domain.Connector
	var configJSON []byte

	err := rows.Scan(
		&c.ID,
		&c.Name,
		&c.Direction,
		&c.Transport,
		&configJSON,
		&c.Version,
		&c.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan connector: %w", err)
	}

	if configJSON != nil {
		if err := json.Unmarshal(configJSON, &c.Config); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}
	return &c, nil
}
