package cmd

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/spigell/recruiter-loop/internal/model"
	"github.com/spigell/recruiter-loop/internal/queue"
)

func TestAPIClientPending(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/queue" || r.URL.Query().Get("tenant") != "acme" {
			t.Errorf("unexpected request %s", r.URL)
		}
		json.NewEncoder(w).Encode(queue.Page{Tasks: []queue.QueuedTask{{Task: model.Task{ID: "t-1"}, WaitSeconds: 120}}, Total: 1})
	}))
	defer srv.Close()

	tasks, err := newAPIClient(srv.URL+"/").Pending(context.Background(), "acme")
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != "t-1" || tasks[0].WaitSeconds != 120 {
		t.Fatalf("unexpected tasks: %+v", tasks)
	}
}

func TestAPIClientDecide(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var d queue.Decision
		if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
			t.Errorf("decode decision: %v", err)
		}
		task := model.Task{ID: d.TaskID, Status: model.StatusApproved, DecidedBy: d.Operator}
		if d.TaskID == "t-queued" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusAccepted)
			json.NewEncoder(w).Encode(map[string]any{"task": task, "error": "queue is full"})
			return
		}
		json.NewEncoder(w).Encode(task)
	}))
	defer srv.Close()

	client := newAPIClient(srv.URL)

	task, err := client.Decide(context.Background(), queue.Decision{TaskID: "t-1", Action: queue.ActionApprove, Operator: "ann"})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if task.DecidedBy != "ann" || task.Status != model.StatusApproved {
		t.Fatalf("unexpected task: %+v", task)
	}

	task, err = client.Decide(context.Background(), queue.Decision{TaskID: "t-queued", Action: queue.ActionApprove, Operator: "ann"})
	if err == nil || !strings.Contains(err.Error(), "queue is full") {
		t.Fatalf("expected enqueue error, got %v", err)
	}
	if task == nil || task.ID != "t-queued" {
		t.Fatalf("expected the recorded task alongside the error, got %+v", task)
	}
}

func TestAPIClientErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "task not found"})
	}))
	defer srv.Close()

	_, err := newAPIClient(srv.URL).Decide(context.Background(), queue.Decision{TaskID: "missing"})
	if err == nil || !strings.Contains(err.Error(), "404 task not found") {
		t.Fatalf("expected 404 error, got %v", err)
	}
}

func TestAPIClientResetCounters(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("unexpected method %s", r.Method)
		}
		paths = append(paths, r.URL.RequestURI())
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := newAPIClient(srv.URL)
	if err := client.ResetCounters(context.Background(), "", ""); err != nil {
		t.Fatalf("reset all: %v", err)
	}
	if err := client.ResetCounters(context.Background(), "acme", "2026-10-17"); err != nil {
		t.Fatalf("reset tenant: %v", err)
	}

	want := []string{"/api/v1/auto-approvals", "/api/v1/tenants/acme/auto-approvals?day=2026-10-17"}
	if len(paths) != 2 || paths[0] != want[0] || paths[1] != want[1] {
		t.Fatalf("unexpected paths %v", paths)
	}
}
