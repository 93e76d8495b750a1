package api

import (
	"log/slog"

	"github.com/shaiso/Cascade/internal/orchestrator"
	"github.com/shaiso/Cascade/internal/repo"
)

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	orc            *orchestrator.Orchestrator
	programRepo    *repo.ProgramRepo
	connectorRepo  *repo.ConnectorRepo
	attachmentRepo *repo.AttachmentRepo
	pipelineRepo   *repo.PipelineRepo
	scheduleRepo   *repo.ScheduleRepo
	logger         *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Orchestrator   *orchestrator.Orchestrator
	ProgramRepo    *repo.ProgramRepo
	ConnectorRepo  *repo.ConnectorRepo
	AttachmentRepo *repo.AttachmentRepo
	PipelineRepo   *repo.PipelineRepo
	ScheduleRepo   *repo.ScheduleRepo
	Logger         *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	return &Handler{
		orc:            cfg.Orchestrator,
		programRepo:    cfg.ProgramRepo,
		connectorRepo:  cfg.ConnectorRepo,
		attachmentRepo: cfg.AttachmentRepo,
		pipelineRepo:   cfg.PipelineRepo,
		scheduleRepo:   cfg.ScheduleRepo,
		logger:         cfg.Logger,
	}
}
