package api

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/shaiso/Cascade/internal/domain"
)

// ListPrograms возвращает список программ.
// GET /api/v1/programs
func (h *Handler) ListPrograms(w http.ResponseWriter, r *http.Request) {
	programs, err := h.programRepo.List(r.Context())
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]ProgramResponse, len(programs))
	for i := range programs {
		result[i] = ProgramFromDomain(&programs[i])
	}

	List(w, result, len(result))
}

// CreateProgram создаёт новую программу.
// POST /api/v1/programs
func (h *Handler) CreateProgram(w http.ResponseWriter, r *http.Request) {
	var req CreateProgramRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	program, err := h.orc.CreateProgram(r.Context(), req.Name, req.Source)
	if HandleOrchestratorError(w, h.logger, err) {
		return
	}

	Created(w, ProgramFromDomain(program))
}

// GetProgram возвращает программу по ID.
// GET /api/v1/programs/{id}
func (h *Handler) GetProgram(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid program id")
		return
	}

	program, err := h.programRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "program not found") {
		return
	}

	Success(w, ProgramFromDomain(program))
}

// UpdateProgram обновляет имя и/или исходник программы.
// PUT /api/v1/programs/{id}
//
// Клиент обязан предъявить прочитанную версию записи; изменение
// исходника сбрасывает результат компиляции.
func (h *Handler) UpdateProgram(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid program id")
		return
	}

	var req UpdateProgramRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if req.Version <= 0 {
		BadRequest(w, "version is required")
		return
	}

	program, err := h.orc.UpdateProgram(r.Context(), id, req.Name, req.Source, req.Version)
	if HandleOrchestratorError(w, h.logger, err) {
		return
	}

	Success(w, ProgramFromDomain(program))
}

// DeleteProgram удаляет программу вместе с её привязками.
// DELETE /api/v1/programs/{id}
func (h *Handler) DeleteProgram(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid program id")
		return
	}

	if err := h.orc.DeleteProgram(r.Context(), id); err != nil {
		HandleOrchestratorError(w, h.logger, err)
		return
	}

	NoContent(w)
}

// CompileProgram запрашивает компиляцию программы.
// POST /api/v1/programs/{id}/compile
//
// Повторный запрос во время COMPILING коалесцируется в уже идущее
// задание, поэтому обработчик всегда отвечает 202.
func (h *Handler) CompileProgram(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid program id")
		return
	}

	program, err := h.orc.RequestCompile(r.Context(), id)
	if HandleOrchestratorError(w, h.logger, err) {
		return
	}

	JSON(w, http.StatusAccepted, DataResponse{Data: ProgramFromDomain(program)})
}

// ListAttachments возвращает привязки программы.
// GET /api/v1/programs/{id}/attachments
func (h *Handler) ListAttachments(w http.ResponseWriter, r *http.Request) {
	programID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid program id")
		return
	}

	if _, err := h.programRepo.GetByID(r.Context(), programID); err != nil {
		HandleRepoError(w, h.logger, err, "program not found")
		return
	}

	attachments, err := h.attachmentRepo.ListByProgram(r.Context(), programID)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]AttachmentResponse, len(attachments))
	for i := range attachments {
		result[i] = AttachmentFromDomain(&attachments[i])
	}

	List(w, result, len(result))
}

// CreateAttachment привязывает коннектор к роли программы.
// POST /api/v1/programs/{id}/attachments
func (h *Handler) CreateAttachment(w http.ResponseWriter, r *http.Request) {
	programID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid program id")
		return
	}

	var req CreateAttachmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	attachment, err := h.orc.Attach(r.Context(), programID, req.ConnectorID, req.Role, domain.Direction(req.RoleDirection))
	if HandleOrchestratorError(w, h.logger, err) {
		return
	}

	Created(w, AttachmentFromDomain(attachment))
}

// DeleteAttachment отвязывает коннектор от программы.
// DELETE /api/v1/attachments/{id}
func (h *Handler) DeleteAttachment(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid attachment id")
		return
	}

	if err := h.orc.Detach(r.Context(), id); err != nil {
		HandleOrchestratorError(w, h.logger, err)
		return
	}

	NoContent(w)
}
