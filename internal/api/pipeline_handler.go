package api

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/shaiso/Cascade/internal/domain"
)

// ListPipelines возвращает список pipelines с опциональным фильтром по статусу.
// GET /api/v1/pipelines?status=RUNNING
func (h *Handler) ListPipelines(w http.ResponseWriter, r *http.Request) {
	var pipelines []domain.Pipeline
	var err error

	if statusStr := r.URL.Query().Get("status"); statusStr != "" {
		pipelines, err = h.pipelineRepo.ListByStatus(r.Context(), domain.PipelineStatus(statusStr))
	} else {
		pipelines, err = h.pipelineRepo.List(r.Context())
	}
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]PipelineResponse, len(pipelines))
	for i := range pipelines {
		result[i] = PipelineFromDomain(&pipelines[i])
	}

	List(w, result, len(result))
}

// CreatePipeline создаёт новый pipeline в статусе SHUTDOWN.
// POST /api/v1/pipelines
func (h *Handler) CreatePipeline(w http.ResponseWriter, r *http.Request) {
	var req CreatePipelineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	pipeline, err := h.orc.CreatePipeline(r.Context(), req.Name, req.ProgramID)
	if HandleOrchestratorError(w, h.logger, err) {
		return
	}

	Created(w, PipelineFromDomain(pipeline))
}

// GetPipeline возвращает pipeline по ID.
// GET /api/v1/pipelines/{id}
func (h *Handler) GetPipeline(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid pipeline id")
		return
	}

	pipeline, err := h.pipelineRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "pipeline not found") {
		return
	}

	Success(w, PipelineFromDomain(pipeline))
}

// DeletePipeline удаляет pipeline вместе с его расписаниями.
// DELETE /api/v1/pipelines/{id}
//
// Допустимо только из статуса SHUTDOWN.
func (h *Handler) DeletePipeline(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid pipeline id")
		return
	}

	if err := h.orc.DeletePipeline(r.Context(), id); err != nil {
		HandleOrchestratorError(w, h.logger, err)
		return
	}

	if err := h.scheduleRepo.DeleteByPipeline(r.Context(), id); err != nil {
		InternalError(w, h.logger, err)
		return
	}

	NoContent(w)
}

// DeployPipeline разворачивает pipeline.
// POST /api/v1/pipelines/{id}/deploy
//
// Отвечает 202 со статусом PROVISIONING: запуск runtime-процесса
// идёт асинхронно, готовность подтверждает health-опрос.
func (h *Handler) DeployPipeline(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid pipeline id")
		return
	}

	pipeline, err := h.orc.Deploy(r.Context(), id)
	if HandleOrchestratorError(w, h.logger, err) {
		return
	}

	JSON(w, http.StatusAccepted, DataResponse{Data: PipelineFromDomain(pipeline)})
}

// PausePipeline приостанавливает потребление входных данных.
// POST /api/v1/pipelines/{id}/pause
func (h *Handler) PausePipeline(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid pipeline id")
		return
	}

	pipeline, err := h.orc.Pause(r.Context(), id)
	if HandleOrchestratorError(w, h.logger, err) {
		return
	}

	Success(w, PipelineFromDomain(pipeline))
}

// ResumePipeline возобновляет потребление входных данных.
// POST /api/v1/pipelines/{id}/resume
func (h *Handler) ResumePipeline(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid pipeline id")
		return
	}

	pipeline, err := h.orc.Resume(r.Context(), id)
	if HandleOrchestratorError(w, h.logger, err) {
		return
	}

	Success(w, PipelineFromDomain(pipeline))
}

// ShutdownPipeline останавливает runtime-процесс pipeline.
// POST /api/v1/pipelines/{id}/shutdown
//
// Идемпотентен: shutdown уже заглушённого pipeline — no-op.
func (h *Handler) ShutdownPipeline(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid pipeline id")
		return
	}

	pipeline, err := h.orc.Shutdown(r.Context(), id)
	if HandleOrchestratorError(w, h.logger, err) {
		return
	}

	Success(w, PipelineFromDomain(pipeline))
}
