package compiler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

const (
	defaultRequestTimeout = 15 * time.Second
	submitMaxElapsed      = 30 * time.Second
)

// HTTPClient — клиент HTTP API сервиса компиляции.
//
// Endpoints:
//
//	POST /v1/jobs            {program_id, source}   → {job_id}
//	GET  /v1/jobs/{id}                              → {state, artifact_ref, diagnostics}
//	DELETE /v1/jobs/{id}
type HTTPClient struct {
	baseURL string
	httpc   *http.Client
}

// NewHTTPClient создаёт клиент компилятора.
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: defaultRequestTimeout},
	}
}

type submitRequest struct {
	ProgramID uuid.UUID `json:"program_id"`
	Source    string    `json:"source"`
}

type submitResponse struct {
	JobID string `json:"job_id"`
}

type pollResponse struct {
	State       JobState `json:"state"`
	ArtifactRef string   `json:"artifact_ref,omitempty"`
	Diagnostics string   `json:"diagnostics,omitempty"`
}

// Submit отправляет исходник на компиляцию.
// Отправка повторяется с экспоненциальной задержкой: сетевые сбои
// и 5xx — повод для retry, 4xx — нет.
func (c *HTTPClient) Submit(ctx context.Context, programID uuid.UUID, source string) (string, error) {
	body, err := json.Marshal(submitRequest{ProgramID: programID, Source: source})
	if err != nil {
		return "", fmt.Errorf("marshal submit request: %w", err)
	}

	var jobID string
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/jobs", bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpc.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("compiler returned %d", resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(fmt.Errorf("compiler rejected submission: %s", readError(resp.Body)))
		}

		var sr submitResponse
		if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
			return backoff.Permanent(fmt.Errorf("decode submit response: %w", err))
		}
		jobID = sr.JobID
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = submitMaxElapsed
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return jobID, nil
}

// Poll возвращает состояние задания. Один запрос без повторов:
// вызывающий и так опрашивает периодически.
func (c *HTTPClient) Poll(ctx context.Context, jobID string) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/jobs/"+jobID, nil)
	if err != nil {
		return Result{}, err
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Result{}, ErrJobNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("compiler returned %d: %s", resp.StatusCode, readError(resp.Body))
	}

	var pr pollResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return Result{}, fmt.Errorf("decode poll response: %w", err)
	}
	return Result{State: pr.State, ArtifactRef: pr.ArtifactRef, Diagnostics: pr.Diagnostics}, nil
}

// Cancel отменяет задание. 404 не считается ошибкой — задание
// могло уже завершиться и быть удалено.
func (c *HTTPClient) Cancel(ctx context.Context, jobID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/v1/jobs/"+jobID, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("compiler returned %d: %s", resp.StatusCode, readError(resp.Body))
	}
	return nil
}

// readError читает тело ответа для сообщения об ошибке (с ограничением).
func readError(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 512))
	return string(b)
}
