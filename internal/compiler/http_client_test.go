package compiler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
)

func TestSubmit(t *testing.T) {
	programID := uuid.New()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/jobs" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}

		var req submitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.ProgramID != programID {
			t.Errorf("program_id = %s, want %s", req.ProgramID, programID)
		}
		if req.Source != "SELECT 1" {
			t.Errorf("source = %q", req.Source)
		}

		json.NewEncoder(w).Encode(submitResponse{JobID: "job-1"})
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL)
	jobID, err := client.Submit(context.Background(), programID, "SELECT 1")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if jobID != "job-1" {
		t.Errorf("jobID = %q, want job-1", jobID)
	}
}

func TestSubmit_RetriesOn5xx(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(submitResponse{JobID: "job-2"})
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL)
	jobID, err := client.Submit(context.Background(), uuid.New(), "SELECT 1")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if jobID != "job-2" {
		t.Errorf("jobID = %q", jobID)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestSubmit_4xxIsPermanent(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "bad program", http.StatusBadRequest)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL)
	if _, err := client.Submit(context.Background(), uuid.New(), "garbage"); err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry on 4xx)", calls)
	}
}

func TestPoll(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/jobs/job-1" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(pollResponse{State: JobStateSuccess, ArtifactRef: "artifact://p/1"})
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL)
	result, err := client.Poll(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if result.State != JobStateSuccess {
		t.Errorf("state = %s", result.State)
	}
	if result.ArtifactRef != "artifact://p/1" {
		t.Errorf("artifact_ref = %q", result.ArtifactRef)
	}
}

func TestPoll_Failure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(pollResponse{State: JobStateFailure, Diagnostics: "syntax error at line 3"})
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL)
	result, err := client.Poll(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if result.State != JobStateFailure {
		t.Errorf("state = %s", result.State)
	}
	if result.Diagnostics != "syntax error at line 3" {
		t.Errorf("diagnostics = %q", result.Diagnostics)
	}
}

func TestPoll_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL)
	if _, err := client.Poll(context.Background(), "gone"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("err = %v, want ErrJobNotFound", err)
	}
}

func TestCancel_NotFoundIsOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("method = %s", r.Method)
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL)
	if err := client.Cancel(context.Background(), "gone"); err != nil {
		t.Errorf("Cancel: %v", err)
	}
}
