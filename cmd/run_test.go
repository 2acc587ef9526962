package cmd

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spigell/recruiter-loop/internal/model"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestReadRequestsList(t *testing.T) {
	path := writeFile(t, "requests.yaml", `
- tenant_id: acme
  type: draft_outreach
  input:
    candidate_id: c-1
    current_company: Initech
- tenant_id: acme
  type: send_offer
  priority: urgent
  candidate_flags: [vip]
`)

	reqs, err := readRequests(path)
	if err != nil {
		t.Fatalf("readRequests: %v", err)
	}
	if len(reqs) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(reqs))
	}
	if reqs[0].Type != model.TaskType("draft_outreach") || reqs[0].Input["candidate_id"] != "c-1" {
		t.Fatalf("unexpected first request: %+v", reqs[0])
	}
	if reqs[1].Priority != model.PriorityUrgent || len(reqs[1].CandidateFlags) != 1 {
		t.Fatalf("unexpected second request: %+v", reqs[1])
	}
}

func TestReadRequestsDocument(t *testing.T) {
	path := writeFile(t, "requests.json", `{"requests": [{"tenant_id": "acme", "type": "screen_candidate"}]}`)

	reqs, err := readRequests(path)
	if err != nil {
		t.Fatalf("readRequests: %v", err)
	}
	if len(reqs) != 1 || reqs[0].TenantID != "acme" {
		t.Fatalf("unexpected requests: %+v", reqs)
	}
}

func TestReadRequestsRejectsDocumentWithoutRequests(t *testing.T) {
	path := writeFile(t, "requests.yaml", "tasks: []\n")

	if _, err := readRequests(path); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestReportByTenant(t *testing.T) {
	path := writeFile(t, "requests.yaml", `
- {tenant_id: acme, type: draft_outreach}
- {tenant_id: acme, type: draft_outreach}
- {tenant_id: globex, type: send_offer}
`)
	reqs, err := readRequests(path)
	if err != nil {
		t.Fatalf("readRequests: %v", err)
	}

	report := reportByTenant(reqs)
	if report["acme"]["draft_outreach"] != 2 || report["globex"]["send_offer"] != 1 {
		t.Fatalf("unexpected report: %v", report)
	}
}
