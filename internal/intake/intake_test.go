package intake

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spigell/recruiter-loop/internal/model"
	"github.com/spigell/recruiter-loop/internal/orchestrator"
	"github.com/spigell/recruiter-loop/internal/outreach"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type stubConversations struct {
	history map[string][]*outreach.Message
	err     error
}

func (s stubConversations) Conversation(_ context.Context, candidateID string) ([]*outreach.Message, error) {
	return s.history[candidateID], s.err
}

func registry(t *testing.T) *orchestrator.Registry {
	t.Helper()
	noop := orchestrator.ExecutorFunc(func(context.Context, *model.Task) (map[string]any, error) { return nil, nil })
	executors := map[model.TaskType]orchestrator.Executor{}
	for _, tt := range []model.TaskType{model.TaskSendOutreach, model.TaskSendFollowUp, model.TaskScheduleInterview, model.TaskSendOffer, model.TaskDiscussCompensation, model.TaskRejectCandidate} {
		executors[tt] = noop
	}
	r, err := orchestrator.NewRegistry(orchestrator.RecruitingSpecs(executors)...)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return r
}

func request(typ model.TaskType, candidate, company string) orchestrator.Request {
	input := map[string]any{}
	if candidate != "" {
		input["candidate_id"] = candidate
	}
	if company != "" {
		input["current_company"] = company
	}
	return orchestrator.Request{TenantID: "acme", Type: typ, Input: input}
}

func TestPipeline(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "do-not-contact.yaml")
	list := &DoNotContact{}
	list.Add("asked to be left alone", "c-blocked")
	if err := list.ToFile(path); err != nil {
		t.Fatalf("write list: %v", err)
	}

	core, logs := observer.New(zap.InfoLevel)
	pipeline := New([]Filter{
		NewCandidateRequired(registry(t)),
		NewDoNotContact(path, nil),
		NewExcludedCompanies([]string{" Initech "}),
		NewAlreadyContacted(stubConversations{history: map[string][]*outreach.Message{
			"c-known": {{ID: "m1", Direction: "outbound"}},
		}}, nil),
	}, zap.New(core))

	reqs := []orchestrator.Request{
		request(model.TaskSearchStrategy, "", ""),
		request(model.TaskSendOutreach, "", ""),
		request(model.TaskSendOutreach, "c-blocked", ""),
		request(model.TaskSendOutreach, "c-initech", "initech"),
		request(model.TaskSendOutreach, "c-known", ""),
		request(model.TaskSendFollowUp, "c-known", ""),
		request(model.TaskSendOutreach, "c-new", ""),
	}

	kept, dropped, err := pipeline.Run(context.Background(), reqs)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(kept) != 3 || len(dropped) != 4 {
		t.Fatalf("expected 3 kept and 4 dropped, got %d and %d", len(kept), len(dropped))
	}

	wantFilters := []string{"candidate_required", "do_not_contact", "excluded_companies", "already_contacted"}
	for i, d := range dropped {
		if d.Filter != wantFilters[i] {
			t.Fatalf("dropped[%d] filter = %s, want %s", i, d.Filter, wantFilters[i])
		}
	}
	if kept[1].Type != model.TaskSendFollowUp {
		t.Fatalf("follow-ups must pass the already contacted filter, got %v", kept[1].Type)
	}
	if logs.FilterMessage("filter step").Len() != 4 {
		t.Fatalf("expected one log entry per step, got %d", logs.FilterMessage("filter step").Len())
	}
}

func TestAlreadyContactedDisabledWithoutClient(t *testing.T) {
	f := NewAlreadyContacted(nil, nil)
	if f.IsEnabled() {
		t.Fatalf("filter must be disabled without an outreach client")
	}

	pipeline := New([]Filter{f}, nil)
	kept, _, err := pipeline.Run(context.Background(), []orchestrator.Request{request(model.TaskSendOutreach, "c1", "")})
	if err != nil || len(kept) != 1 {
		t.Fatalf("disabled filter must pass requests through, got %v %v", kept, err)
	}
	if status := pipeline.Describe()[0]; status.Enabled || status.Reason == "" {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestAlreadyContactedLookupError(t *testing.T) {
	pipeline := New([]Filter{NewAlreadyContacted(stubConversations{err: errors.New("503")}, nil)}, nil)
	if _, _, err := pipeline.Run(context.Background(), []orchestrator.Request{request(model.TaskSendOutreach, "c1", "")}); err == nil {
		t.Fatalf("expected lookup error")
	}
}

func TestDoNotContactFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "list.yaml")

	list, err := ReadDoNotContact(path)
	if err != nil || len(list.Items) != 0 {
		t.Fatalf("missing file must read as empty, got %v %v", list, err)
	}

	list.Add("opt out", "c1", "c2", "c1")
	if err := list.ToFile(path); err != nil {
		t.Fatalf("write: %v", err)
	}
	again, err := ReadDoNotContact(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if ids := again.CandidateIDs(); len(ids) != 2 || ids[0] != "c1" {
		t.Fatalf("unexpected ids %v", ids)
	}

	if err := os.WriteFile(path, []byte(`{"items":[{"candidate_id":"c9"}]}`), 0o644); err != nil {
		t.Fatalf("write json: %v", err)
	}
	fromJSON, err := ReadDoNotContact(path)
	if err != nil || fromJSON.CandidateIDs()[0] != "c9" {
		t.Fatalf("json lists must be accepted, got %v %v", fromJSON, err)
	}
}
