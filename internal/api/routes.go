package api

import (
	"net/http"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Middleware chain
	chain := Chain(
		Recovery(h.logger),
		Logging(h.logger),
	)

	// Programs
	mux.Handle("GET /api/v1/programs", chain(http.HandlerFunc(h.ListPrograms)))
	mux.Handle("POST /api/v1/programs", chain(http.HandlerFunc(h.CreateProgram)))
	mux.Handle("GET /api/v1/programs/{id}", chain(http.HandlerFunc(h.GetProgram)))
	mux.Handle("PUT /api/v1/programs/{id}", chain(http.HandlerFunc(h.UpdateProgram)))
	mux.Handle("DELETE /api/v1/programs/{id}", chain(http.HandlerFunc(h.DeleteProgram)))
	mux.Handle("POST /api/v1/programs/{id}/compile", chain(http.HandlerFunc(h.CompileProgram)))

	// Attachments
	mux.Handle("GET /api/v1/programs/{id}/attachments", chain(http.HandlerFunc(h.ListAttachments)))
	mux.Handle("POST /api/v1/programs/{id}/attachments", chain(http.HandlerFunc(h.CreateAttachment)))
	mux.Handle("DELETE /api/v1/attachments/{id}", chain(http.HandlerFunc(h.DeleteAttachment)))

	// Connectors
	mux.Handle("GET /api/v1/connectors", chain(http.HandlerFunc(h.ListConnectors)))
	mux.Handle("POST /api/v1/connectors", chain(http.HandlerFunc(h.CreateConnector)))
	mux.Handle("GET /api/v1/connectors/{id}", chain(http.HandlerFunc(h.GetConnector)))
	mux.Handle("PUT /api/v1/connectors/{id}", chain(http.HandlerFunc(h.UpdateConnector)))
	mux.Handle("DELETE /api/v1/connectors/{id}", chain(http.HandlerFunc(h.DeleteConnector)))

	// Pipelines
	mux.Handle("GET /api/v1/pipelines", chain(http.HandlerFunc(h.ListPipelines)))
	mux.Handle("POST /api/v1/pipelines", chain(http.HandlerFunc(h.CreatePipeline)))
	mux.Handle("GET /api/v1/pipelines/{id}", chain(http.HandlerFunc(h.GetPipeline)))
	mux.Handle("DELETE /api/v1/pipelines/{id}", chain(http.HandlerFunc(h.DeletePipeline)))
	mux.Handle("POST /api/v1/pipelines/{id}/deploy", chain(http.HandlerFunc(h.DeployPipeline)))
	mux.Handle("POST /api/v1/pipelines/{id}/pause", chain(http.HandlerFunc(h.PausePipeline)))
	mux.Handle("POST /api/v1/pipelines/{id}/resume", chain(http.HandlerFunc(h.ResumePipeline)))
	mux.Handle("POST /api/v1/pipelines/{id}/shutdown", chain(http.HandlerFunc(h.ShutdownPipeline)))

	// Schedules
	mux.Handle("GET /api/v1/schedules", chain(http.HandlerFunc(h.ListSchedules)))
	mux.Handle("GET /api/v1/pipelines/{id}/schedules", chain(http.HandlerFunc(h.ListPipelineSchedules)))
	mux.Handle("POST /api/v1/pipelines/{id}/schedules", chain(http.HandlerFunc(h.CreateSchedule)))
	mux.Handle("GET /api/v1/schedules/{id}", chain(http.HandlerFunc(h.GetSchedule)))
	mux.Handle("PUT /api/v1/schedules/{id}", chain(http.HandlerFunc(h.UpdateSchedule)))
	mux.Handle("DELETE /api/v1/schedules/{id}", chain(http.HandlerFunc(h.DeleteSchedule)))
	mux.Handle("PUT /api/v1/schedules/{id}/enabled", chain(http.HandlerFunc(h.SetScheduleEnabled)))
}
