package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// ProgramResponse — программа из API.
type ProgramResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Source      string `json:"source"`
	Status      string `json:"status"`
	ArtifactRef string `json:"artifact_ref,omitempty"`
	Diagnostics string `json:"diagnostics,omitempty"`
	Version     int    `json:"version"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// ConnectorResponse — коннектор из API.
type ConnectorResponse struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Direction string         `json:"direction"`
	Transport string         `json:"transport"`
	Config    map[string]any `json:"config"`
	Version   int            `json:"version"`
	CreatedAt string         `json:"created_at"`
}

// AttachmentResponse — привязка из API.
type AttachmentResponse struct {
	ID            string `json:"id"`
	ProgramID     string `json:"program_id"`
	ConnectorID   string `json:"connector_id"`
	Role          string `json:"role"`
	RoleDirection string `json:"role_direction"`
	CreatedAt     string `json:"created_at"`
}

// PipelineResponse — pipeline из API.
type PipelineResponse struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	ProgramID     string           `json:"program_id"`
	Status        string           `json:"status"`
	Snapshot      []map[string]any `json:"snapshot,omitempty"`
	ArtifactRef   string           `json:"artifact_ref,omitempty"`
	RuntimeHandle string           `json:"runtime_handle,omitempty"`
	Error         string           `json:"error,omitempty"`
	FailedAt      string           `json:"failed_at,omitempty"`
	LastHealthyAt string           `json:"last_healthy_at,omitempty"`
	Version       int              `json:"version"`
	CreatedAt     string           `json:"created_at"`
	UpdatedAt     string           `json:"updated_at"`
}

// ScheduleResponse — расписание из API.
type ScheduleResponse struct {
	ID          string `json:"id"`
	PipelineID  string `json:"pipeline_id"`
	Name        string `json:"name"`
	Action      string `json:"action"`
	CronExpr    string `json:"cron_expr,omitempty"`
	IntervalSec int    `json:"interval_sec,omitempty"`
	Timezone    string `json:"timezone"`
	Enabled     bool   `json:"enabled"`
	NextDueAt   string `json:"next_due_at,omitempty"`
	LastFiredAt string `json:"last_fired_at,omitempty"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// --- Request types ---

// CreateProgramRequest — создание программы.
type CreateProgramRequest struct {
	Name   string `json:"name"`
	Source string `json:"source"`
}

// UpdateProgramRequest — обновление программы.
type UpdateProgramRequest struct {
	Name    *string `json:"name,omitempty"`
	Source  *string `json:"source,omitempty"`
	Version int     `json:"version"`
}

// CreateConnectorRequest — регистрация коннектора.
type CreateConnectorRequest struct {
	Name      string         `json:"name"`
	Direction string         `json:"direction"`
	Transport string         `json:"transport"`
	Config    map[string]any `json:"config"`
}

// UpdateConnectorRequest — обновление коннектора.
type UpdateConnectorRequest struct {
	Name    *string         `json:"name,omitempty"`
	Config  *map[string]any `json:"config,omitempty"`
	Version int             `json:"version"`
}

// CreateAttachmentRequest — привязка коннектора к роли.
type CreateAttachmentRequest struct {
	ConnectorID   string `json:"connector_id"`
	Role          string `json:"role"`
	RoleDirection string `json:"role_direction"`
}

// CreatePipelineRequest — создание pipeline.
type CreatePipelineRequest struct {
	Name      string `json:"name"`
	ProgramID string `json:"program_id"`
}

// CreateScheduleRequest — создание расписания.
type CreateScheduleRequest struct {
	Name        string `json:"name"`
	Action      string `json:"action"`
	CronExpr    string `json:"cron_expr,omitempty"`
	IntervalSec int    `json:"interval_sec,omitempty"`
	Timezone    string `json:"timezone,omitempty"`
	Enabled     bool   `json:"enabled"`
}

// UpdateScheduleRequest — обновление расписания.
type UpdateScheduleRequest struct {
	Name        *string `json:"name,omitempty"`
	Action      *string `json:"action,omitempty"`
	CronExpr    *string `json:"cron_expr,omitempty"`
	IntervalSec *int    `json:"interval_sec,omitempty"`
	Timezone    *string `json:"timezone,omitempty"`
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// --- Client ---

// Client — HTTP-клиент для Cascade API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// --- Programs ---

// ListPrograms возвращает все программы.
func (c *Client) ListPrograms() ([]ProgramResponse, error) {
	var programs []ProgramResponse
	err := c.list("/api/v1/programs", nil, &programs)
	return programs, err
}

// CreateProgram создаёт новую программу.
func (c *Client) CreateProgram(req CreateProgramRequest) (*ProgramResponse, error) {
	var program ProgramResponse
	err := c.post("/api/v1/programs", req, &program)
	return &program, err
}

// GetProgram возвращает программу по ID.
func (c *Client) GetProgram(id string) (*ProgramResponse, error) {
	var program ProgramResponse
	err := c.get("/api/v1/programs/"+id, &program)
	return &program, err
}

// UpdateProgram обновляет программу.
func (c *Client) UpdateProgram(id string, req UpdateProgramRequest) (*ProgramResponse, error) {
	var program ProgramResponse
	err := c.put("/api/v1/programs/"+id, req, &program)
	return &program, err
}

// DeleteProgram удаляет программу.
func (c *Client) DeleteProgram(id string) error {
	return c.delete("/api/v1/programs/" + id)
}

// CompileProgram запрашивает компиляцию программы.
func (c *Client) CompileProgram(id string) (*ProgramResponse, error) {
	var program ProgramResponse
	err := c.post("/api/v1/programs/"+id+"/compile", nil, &program)
	return &program, err
}

// ListAttachments возвращает привязки программы.
func (c *Client) ListAttachments(programID string) ([]AttachmentResponse, error) {
	var attachments []AttachmentResponse
	err := c.list("/api/v1/programs/"+programID+"/attachments", nil, &attachments)
	return attachments, err
}

// CreateAttachment привязывает коннектор к роли программы.
func (c *Client) CreateAttachment(programID string, req CreateAttachmentRequest) (*AttachmentResponse, error) {
	var attachment AttachmentResponse
	err := c.post("/api/v1/programs/"+programID+"/attachments", req, &attachment)
	return &attachment, err
}

// DeleteAttachment отвязывает коннектор.
func (c *Client) DeleteAttachment(id string) error {
	return c.delete("/api/v1/attachments/" + id)
}

// --- Connectors ---

// ListConnectors возвращает все коннекторы.
func (c *Client) ListConnectors() ([]ConnectorResponse, error) {
	var connectors []ConnectorResponse
	err := c.list("/api/v1/connectors", nil, &connectors)
	return connectors, err
}

// CreateConnector регистрирует новый коннектор.
func (c *Client) CreateConnector(req CreateConnectorRequest) (*ConnectorResponse, error) {
	var connector ConnectorResponse
	err := c.post("/api/v1/connectors", req, &connector)
	return &connector, err
}

// GetConnector возвращает коннектор по ID.
func (c *Client) GetConnector(id string) (*ConnectorResponse, error) {
	var connector ConnectorResponse
	err := c.get("/api/v1/connectors/"+id, &connector)
	return &connector, err
}

// UpdateConnector обновляет коннектор.
func (c *Client) UpdateConnector(id string, req UpdateConnectorRequest) (*ConnectorResponse, error) {
	var connector ConnectorResponse
	err := c.put("/api/v1/connectors/"+id, req, &connector)
	return &connector, err
}

// DeleteConnector удаляет коннектор.
func (c *Client) DeleteConnector(id string) error {
	return c.delete("/api/v1/connectors/" + id)
}

// --- Pipelines ---

// ListPipelines возвращает pipelines. Если status не пустой — фильтрует.
func (c *Client) ListPipelines(status string) ([]PipelineResponse, error) {
	params := url.Values{}
	if status != "" {
		params.Set("status", status)
	}

	var pipelines []PipelineResponse
	err := c.list("/api/v1/pipelines", params, &pipelines)
	return pipelines, err
}

// CreatePipeline создаёт новый pipeline.
func (c *Client) CreatePipeline(req CreatePipelineRequest) (*PipelineResponse, error) {
	var pipeline PipelineResponse
	err := c.post("/api/v1/pipelines", req, &pipeline)
	return &pipeline, err
}

// GetPipeline возвращает pipeline по ID.
func (c *Client) GetPipeline(id string) (*PipelineResponse, error) {
	var pipeline PipelineResponse
	err := c.get("/api/v1/pipelines/"+id, &pipeline)
	return &pipeline, err
}

// DeletePipeline удаляет pipeline.
func (c *Client) DeletePipeline(id string) error {
	return c.delete("/api/v1/pipelines/" + id)
}

// DeployPipeline разворачивает pipeline.
func (c *Client) DeployPipeline(id string) (*PipelineResponse, error) {
	var pipeline PipelineResponse
	err := c.post("/api/v1/pipelines/"+id+"/deploy", nil, &pipeline)
	return &pipeline, err
}

// PausePipeline приостанавливает pipeline.
func (c *Client) PausePipeline(id string) (*PipelineResponse, error) {
	var pipeline PipelineResponse
	err := c.post("/api/v1/pipelines/"+id+"/pause", nil, &pipeline)
	return &pipeline, err
}

// ResumePipeline возобновляет pipeline.
func (c *Client) ResumePipeline(id string) (*PipelineResponse, error) {
	var pipeline PipelineResponse
	err := c.post("/api/v1/pipelines/"+id+"/resume", nil, &pipeline)
	return &pipeline, err
}

// ShutdownPipeline останавливает pipeline.
func (c *Client) ShutdownPipeline(id string) (*PipelineResponse, error) {
	var pipeline PipelineResponse
	err := c.post("/api/v1/pipelines/"+id+"/shutdown", nil, &pipeline)
	return &pipeline, err
}

// --- Schedules ---

// ListSchedules возвращает все расписания.
func (c *Client) ListSchedules() ([]ScheduleResponse, error) {
	var schedules []ScheduleResponse
	err := c.list("/api/v1/schedules", nil, &schedules)
	return schedules, err
}

// ListPipelineSchedules возвращает расписания pipeline.
func (c *Client) ListPipelineSchedules(pipelineID string) ([]ScheduleResponse, error) {
	var schedules []ScheduleResponse
	err := c.list("/api/v1/pipelines/"+pipelineID+"/schedules", nil, &schedules)
	return schedules, err
}

// CreateSchedule создаёт расписание для pipeline.
func (c *Client) CreateSchedule(pipelineID string, req CreateScheduleRequest) (*ScheduleResponse, error) {
	var schedule ScheduleResponse
	err := c.post("/api/v1/pipelines/"+pipelineID+"/schedules", req, &schedule)
	return &schedule, err
}

// GetSchedule возвращает расписание по ID.
func (c *Client) GetSchedule(id string) (*ScheduleResponse, error) {
	var schedule ScheduleResponse
	err := c.get("/api/v1/schedules/"+id, &schedule)
	return &schedule, err
}

// UpdateSchedule обновляет расписание.
func (c *Client) UpdateSchedule(id string, req UpdateScheduleRequest) (*ScheduleResponse, error) {
	var schedule ScheduleResponse
	err := c.put("/api/v1/schedules/"+id, req, &schedule)
	return &schedule, err
}

// DeleteSchedule удаляет расписание.
func (c *Client) DeleteSchedule(id string) error {
	return c.delete("/api/v1/schedules/" + id)
}

// EnableSchedule включает расписание.
func (c *Client) EnableSchedule(id string) (*ScheduleResponse, error) {
	var schedule ScheduleResponse
	body := map[string]bool{"enabled": true}
	err := c.put("/api/v1/schedules/"+id+"/enabled", body, &schedule)
	return &schedule, err
}

// DisableSchedule выключает расписание.
func (c *Client) DisableSchedule(id string) (*ScheduleResponse, error) {
	var schedule ScheduleResponse
	body := map[string]bool{"enabled": false}
	err := c.put("/api/v1/schedules/"+id+"/enabled", body, &schedule)
	return &schedule, err
}

// --- HTTP helpers ---

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

func (c *Client) put(path string, body any, result any) error {
	return c.doData(http.MethodPut, path, body, result)
}

func (c *Client) delete(path string) error {
	resp, err := c.do(http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return c.checkError(resp)
}

func (c *Client) list(path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return json.Unmarshal(lr.Data, result)
}

func (c *Client) doData(method, path string, body any, result any) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	// 204 No Content
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return fmt.Errorf("API error: HTTP %d", resp.StatusCode)
	}

	return fmt.Errorf("%s: %s", er.Error.Code, er.Error.Message)
}
