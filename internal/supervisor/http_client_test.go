package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
)

func TestStart(t *testing.T) {
	pipelineID := uuid.New()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/processes" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}

		var req StartRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.PipelineID != pipelineID {
			t.Errorf("pipeline_id = %s, want %s", req.PipelineID, pipelineID)
		}
		if req.ArtifactRef != "artifact://p/1" {
			t.Errorf("artifact_ref = %q", req.ArtifactRef)
		}

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(startResponse{Handle: "proc-1"})
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL)
	handle, err := client.Start(context.Background(), StartRequest{
		PipelineID:  pipelineID,
		ArtifactRef: "artifact://p/1",
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if handle != "proc-1" {
		t.Errorf("handle = %q, want proc-1", handle)
	}
}

func TestStart_Failure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no capacity", http.StatusConflict)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL)
	if _, err := client.Start(context.Background(), StartRequest{}); !errors.Is(err, ErrStartFailed) {
		t.Errorf("err = %v, want ErrStartFailed", err)
	}
}

func TestSignal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/processes/proc-1/signal" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}

		var req signalRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Signal != SignalPause {
			t.Errorf("signal = %s, want pause", req.Signal)
		}

		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL)
	if err := client.Signal(context.Background(), "proc-1", SignalPause); err != nil {
		t.Fatalf("Signal: %v", err)
	}
}

func TestSignal_UnknownHandle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL)
	if err := client.Signal(context.Background(), "gone", SignalTerminate); !errors.Is(err, ErrUnknownHandle) {
		t.Errorf("err = %v, want ErrUnknownHandle", err)
	}
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/processes/proc-1/health" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(healthResponse{State: HealthDegraded})
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL)
	state, err := client.Health(context.Background(), "proc-1")
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if state != HealthDegraded {
		t.Errorf("state = %s, want DEGRADED", state)
	}
}

func TestHealth_UnknownHandleIsDead(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL)
	state, err := client.Health(context.Background(), "gone")
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if state != HealthDead {
		t.Errorf("state = %s, want DEAD", state)
	}
}

func TestHealth_UnreachableIsUnknown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // сервер уже мёртв

	client := NewHTTPClient(srv.URL)
	state, err := client.Health(context.Background(), "proc-1")
	if err == nil {
		t.Fatal("expected error for unreachable supervisor")
	}
	if state != HealthUnknown {
		t.Errorf("state = %s, want UNKNOWN", state)
	}
}
