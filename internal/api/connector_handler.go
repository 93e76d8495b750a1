package api

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/shaiso/Cascade/internal/domain"
)

// ListConnectors возвращает список коннекторов.
// GET /api/v1/connectors
func (h *Handler) ListConnectors(w http.ResponseWriter, r *http.Request) {
	connectors, err := h.connectorRepo.List(r.Context())
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]ConnectorResponse, len(connectors))
	for i := range connectors {
		result[i] = ConnectorFromDomain(&connectors[i])
	}

	List(w, result, len(result))
}

// CreateConnector регистрирует новый коннектор.
// POST /api/v1/connectors
func (h *Handler) CreateConnector(w http.ResponseWriter, r *http.Request) {
	var req CreateConnectorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	connector, err := h.orc.CreateConnector(r.Context(), &domain.Connector{
		Name:      req.Name,
		Direction: domain.Direction(req.Direction),
		Transport: domain.Transport(req.Transport),
		Config:    req.Config,
	})
	if HandleOrchestratorError(w, h.logger, err) {
		return
	}

	Created(w, ConnectorFromDomain(connector))
}

// GetConnector возвращает коннектор по ID.
// GET /api/v1/connectors/{id}
func (h *Handler) GetConnector(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid connector id")
		return
	}

	connector, err := h.connectorRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "connector not found") {
		return
	}

	Success(w, ConnectorFromDomain(connector))
}

// UpdateConnector обновляет коннектор.
// PUT /api/v1/connectors/{id}
//
// Отклоняется, пока коннектор заморожен в снапшоте незаглушённого
// pipeline. Direction и Transport после регистрации неизменяемы.
func (h *Handler) UpdateConnector(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid connector id")
		return
	}

	var req UpdateConnectorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if req.Version <= 0 {
		BadRequest(w, "version is required")
		return
	}

	connector, err := h.connectorRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "connector not found") {
		return
	}

	if req.Name != nil {
		connector.Name = *req.Name
	}
	if req.Config != nil {
		connector.Config = *req.Config
	}

	updated, err := h.orc.UpdateConnector(r.Context(), connector, req.Version)
	if HandleOrchestratorError(w, h.logger, err) {
		return
	}

	Success(w, ConnectorFromDomain(updated))
}

// DeleteConnector удаляет коннектор с каскадным detach его привязок.
// DELETE /api/v1/connectors/{id}
func (h *Handler) DeleteConnector(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid connector id")
		return
	}

	if err := h.orc.DeleteConnector(r.Context(), id); err != nil {
		HandleOrchestratorError(w, h.logger, err)
		return
	}

	NoContent(w)
}
