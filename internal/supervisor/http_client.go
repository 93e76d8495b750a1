package supervisor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultRequestTimeout = 30 * time.Second

// HTTPClient — клиент control-канала супервизора (runner-демона).
//
// Endpoints:
//
//	POST   /v1/processes                      StartRequest → {handle}
//	POST   /v1/processes/{handle}/signal      {signal}
//	GET    /v1/processes/{handle}/health      → {state}
type HTTPClient struct {
	baseURL string
	httpc   *http.Client
}

// NewHTTPClient создаёт клиент супервизора.
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: defaultRequestTimeout},
	}
}

type startResponse struct {
	Handle string `json:"handle"`
}

type signalRequest struct {
	Signal Signal `json:"signal"`
}

type healthResponse struct {
	State HealthState `json:"state"`
}

// Start запускает runtime-процесс pipeline.
func (c *HTTPClient) Start(ctx context.Context, sr StartRequest) (string, error) {
	body, err := json.Marshal(sr)
	if err != nil {
		return "", fmt.Errorf("marshal start request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/processes", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("%w: supervisor returned %d: %s", ErrStartFailed, resp.StatusCode, readError(resp.Body))
	}

	var out startResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode start response: %w", err)
	}
	if out.Handle == "" {
		return "", fmt.Errorf("%w: empty handle", ErrStartFailed)
	}
	return out.Handle, nil
}

// Signal посылает сигнал процессу.
func (c *HTTPClient) Signal(ctx context.Context, handle string, sig Signal) error {
	body, err := json.Marshal(signalRequest{Signal: sig})
	if err != nil {
		return fmt.Errorf("marshal signal request: %w", err)
	}

	url := c.baseURL + "/v1/processes/" + handle + "/signal"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusAccepted, http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		return ErrUnknownHandle
	default:
		return fmt.Errorf("supervisor returned %d: %s", resp.StatusCode, readError(resp.Body))
	}
}

// Health возвращает здоровье процесса.
// Недоступность супервизора — HealthUnknown, не ошибка наблюдения смерти.
func (c *HTTPClient) Health(ctx context.Context, handle string) (HealthState, error) {
	url := c.baseURL + "/v1/processes/" + handle + "/health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return HealthUnknown, err
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return HealthUnknown, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		// Handle неизвестен: процесса нет.
		return HealthDead, nil
	}
	if resp.StatusCode != http.StatusOK {
		return HealthUnknown, fmt.Errorf("supervisor returned %d: %s", resp.StatusCode, readError(resp.Body))
	}

	var out healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return HealthUnknown, fmt.Errorf("decode health response: %w", err)
	}
	return out.State, nil
}

// readError читает тело ответа для сообщения об ошибке (с ограничением).
func readError(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 512))
	return string(b)
}
