package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Cascade/internal/domain"
)

// Program DTOs

// CreateProgramRequest — запрос на создание программы.
type CreateProgramRequest struct {
	Name   string `json:"name"`
	Source string `json:"source"`
}

// UpdateProgramRequest — запрос на обновление программы.
// Version — прочитанная клиентом версия записи; устаревшая отклоняется.
type UpdateProgramRequest struct {
	Name    *string `json:"name,omitempty"`
	Source  *string `json:"source,omitempty"`
	Version int     `json:"version"`
}

// ProgramResponse — ответ с программой.
type ProgramResponse struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Source      string    `json:"source"`
	Status      string    `json:"status"`
	ArtifactRef string    `json:"artifact_ref,omitempty"`
	Diagnostics string    `json:"diagnostics,omitempty"`
	Version     int       `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ProgramFromDomain конвертирует domain.Program в ProgramResponse.
func ProgramFromDomain(p *domain.Program) ProgramResponse {
	return ProgramResponse{
		ID:          p.ID,
		Name:        p.Name,
		Source:      p.Source,
		Status:      string(p.Status),
		ArtifactRef: p.ArtifactRef,
		Diagnostics: p.Diagnostics,
		Version:     p.Version,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

// Connector DTOs

// CreateConnectorRequest — запрос на регистрацию коннектора.
type CreateConnectorRequest struct {
	Name      string         `json:"name"`
	Direction string         `json:"direction"`
	Transport string         `json:"transport"`
	Config    map[string]any `json:"config"`
}

// UpdateConnectorRequest — запрос на обновление коннектора.
type UpdateConnectorRequest struct {
	Name    *string         `json:"name,omitempty"`
	Config  *map[string]any `json:"config,omitempty"`
	Version int             `json:"version"`
}

// ConnectorResponse — ответ с коннектором.
type ConnectorResponse struct {
	ID        uuid.UUID      `json:"id"`
	Name      string         `json:"name"`
	Direction string         `json:"direction"`
	Transport string         `json:"transport"`
	Config    map[string]any `json:"config"`
	Version   int            `json:"version"`
	CreatedAt time.Time      `json:"created_at"`
}

// ConnectorFromDomain конвертирует domain.Connector в ConnectorResponse.
func ConnectorFromDomain(c *domain.Connector) ConnectorResponse {
	return ConnectorResponse{
		ID:        c.ID,
		Name:      c.Name,
		Direction: string(c.Direction),
		Transport: string(c.Transport),
		Config:    c.Config,
		Version:   c.Version,
		CreatedAt: c.CreatedAt,
	}
}

// Attachment DTOs

// CreateAttachmentRequest — запрос на привязку коннектора к роли программы.
type CreateAttachmentRequest struct {
	ConnectorID   uuid.UUID `json:"connector_id"`
	Role          string    `json:"role"`
	RoleDirection string    `json:"role_direction"`
}

// AttachmentResponse — ответ с привязкой.
type AttachmentResponse struct {
	ID            uuid.UUID `json:"id"`
	ProgramID     uuid.UUID `json:"program_id"`
	ConnectorID   uuid.UUID `json:"connector_id"`
	Role          string    `json:"role"`
	RoleDirection string    `json:"role_direction"`
	CreatedAt     time.Time `json:"created_at"`
}

// AttachmentFromDomain конвертирует domain.Attachment в AttachmentResponse.
func AttachmentFromDomain(a *domain.Attachment) AttachmentResponse {
	return AttachmentResponse{
		ID:            a.ID,
		ProgramID:     a.ProgramID,
		ConnectorID:   a.ConnectorID,
		Role:          a.Role,
		RoleDirection: string(a.RoleDirection),
		CreatedAt:     a.CreatedAt,
	}
}

// Pipeline DTOs

// CreatePipelineRequest — запрос на создание pipeline.
type CreatePipelineRequest struct {
	Name      string    `json:"name"`
	ProgramID uuid.UUID `json:"program_id"`
}

// PipelineResponse — ответ с pipeline.
type PipelineResponse struct {
	ID            uuid.UUID                  `json:"id"`
	Name          string                     `json:"name"`
	ProgramID     uuid.UUID                  `json:"program_id"`
	Status        string                     `json:"status"`
	Snapshot      []domain.AttachedConnector `json:"snapshot,omitempty"`
	ArtifactRef   string                     `json:"artifact_ref,omitempty"`
	RuntimeHandle string                     `json:"runtime_handle,omitempty"`
	Error         string                     `json:"error,omitempty"`
	FailedAt      *time.Time                 `json:"failed_at,omitempty"`
	LastHealthyAt *time.Time                 `json:"last_healthy_at,omitempty"`
	Version       int                        `json:"version"`
	CreatedAt     time.Time                  `json:"created_at"`
	UpdatedAt     time.Time                  `json:"updated_at"`
}

// PipelineFromDomain конвертирует domain.Pipeline в PipelineResponse.
func PipelineFromDomain(p *domain.Pipeline) PipelineResponse {
	return PipelineResponse{
		ID:            p.ID,
		Name:          p.Name,
		ProgramID:     p.ProgramID,
		Status:        string(p.Status),
		Snapshot:      p.Snapshot,
		ArtifactRef:   p.ArtifactRef,
		RuntimeHandle: p.RuntimeHandle,
		Error:         p.Error,
		FailedAt:      p.FailedAt,
		LastHealthyAt: p.LastHealthyAt,
		Version:       p.Version,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}

// Schedule DTOs

// CreateScheduleRequest — запрос на создание schedule.
type CreateScheduleRequest struct {
	Name        string `json:"name"`
	Action      string `json:"action"`
	CronExpr    string `json:"cron_expr,omitempty"`
	IntervalSec int    `json:"interval_sec,omitempty"`
	Timezone    string `json:"timezone,omitempty"`
	Enabled     bool   `json:"enabled"`
}

// UpdateScheduleRequest — запрос на обновление schedule.
type UpdateScheduleRequest struct {
	Name        *string `json:"name,omitempty"`
	Action      *string `json:"action,omitempty"`
	CronExpr    *string `json:"cron_expr,omitempty"`
	IntervalSec *int    `json:"interval_sec,omitempty"`
	Timezone    *string `json:"timezone,omitempty"`
}

// SetEnabledRequest — запрос на включение/выключение.
type SetEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

// ScheduleResponse — ответ со schedule.
type ScheduleResponse struct {
	ID          uuid.UUID  `json:"id"`
	PipelineID  uuid.UUID  `json:"pipeline_id"`
	Name        string     `json:"name"`
	Action      string     `json:"action"`
	CronExpr    string     `json:"cron_expr,omitempty"`
	IntervalSec int        `json:"interval_sec,omitempty"`
	Timezone    string     `json:"timezone"`
	Enabled     bool       `json:"enabled"`
	NextDueAt   *time.Time `json:"next_due_at,omitempty"`
	LastFiredAt *time.Time `json:"last_fired_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// ScheduleFromDomain конвертирует domain.Schedule в ScheduleResponse.
func ScheduleFromDomain(s *domain.Schedule) ScheduleResponse {
	return ScheduleResponse{
		ID:          s.ID,
		PipelineID:  s.PipelineID,
		Name:        s.Name,
		Action:      string(s.Action),
		CronExpr:    s.CronExpr,
		IntervalSec: s.IntervalSec,
		Timezone:    s.Timezone,
		Enabled:     s.Enabled,
		NextDueAt:   s.NextDueAt,
		LastFiredAt: s.LastFiredAt,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
}
