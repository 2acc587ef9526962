package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/spigell/recruiter-loop/internal/ai"
	"github.com/spigell/recruiter-loop/internal/autoapprove"
	"github.com/spigell/recruiter-loop/internal/convergence"
	"github.com/spigell/recruiter-loop/internal/escalation"
	"github.com/spigell/recruiter-loop/internal/evaluator"
	"github.com/spigell/recruiter-loop/internal/intake"
	"github.com/spigell/recruiter-loop/internal/jobs"
	"github.com/spigell/recruiter-loop/internal/metrics"
	"github.com/spigell/recruiter-loop/internal/model"
	"github.com/spigell/recruiter-loop/internal/notify"
	"github.com/spigell/recruiter-loop/internal/orchestrator"
	"github.com/spigell/recruiter-loop/internal/policy"
	"github.com/spigell/recruiter-loop/internal/queue"
	"github.com/spigell/recruiter-loop/internal/server"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRunner struct{ score float64 }

func (r stubRunner) Run(_ context.Context, rc convergence.RunContext) (*model.Run, error) {
	run := &model.Run{
		ID:          "run-1",
		TenantID:    rc.TenantID,
		TaskType:    rc.TaskType,
		Status:      model.RunConverged,
		Converged:   true,
		FinalScore:  r.score,
		FinalOutput: "Hi Dana, we would love to talk about the staff engineer role.",
		Iterations:  []model.Iteration{{Number: 1}},
	}
	if rc.TaskType == model.TaskSendOffer {
		run.Escalation = model.EngineEscalation{Required: true, Reasons: []model.EscalationReason{model.ReasonSensitiveTaskType}}
	}
	return run, nil
}

type stubGrader struct{ score float64 }

func (g stubGrader) Evaluate(_ context.Context, req ai.EvaluateRequest) (*ai.Scores, error) {
	dims := make(map[string]float64, len(req.Dimensions))
	for _, d := range req.Dimensions {
		dims[d.Name] = g.score
	}
	return &ai.Scores{Dimensions: dims, Confidence: 0.9}, nil
}

type env struct {
	srv       *server.Server
	tasks     *queue.MemoryRepository
	policies  *policy.MemoryStore
	counter   *autoapprove.MemoryCounter
	dashboard *notify.DashboardSink
	notifier  *notify.Dispatcher
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		tasks:     queue.NewMemoryRepository(),
		policies:  policy.NewMemoryStore(),
		counter:   autoapprove.NewMemoryCounter(),
		dashboard: notify.NewDashboardSink(50),
	}
	e.notifier = notify.NewDispatcher(map[model.Channel]notify.Sink{model.ChannelDashboard: e.dashboard}, nil)
	queued := jobs.NewMemoryQueue(64, nil)

	noop := orchestrator.ExecutorFunc(func(_ context.Context, task *model.Task) (map[string]any, error) {
		return map[string]any{"delivered": task.ID}, nil
	})
	executors := map[model.TaskType]orchestrator.Executor{}
	for _, tt := range []model.TaskType{model.TaskSendOutreach, model.TaskSendFollowUp, model.TaskScheduleInterview, model.TaskSendOffer, model.TaskDiscussCompensation, model.TaskRejectCandidate} {
		executors[tt] = noop
	}
	registry, err := orchestrator.NewRegistry(orchestrator.RecruitingSpecs(executors)...)
	require.NoError(t, err)
	decider, err := escalation.New(escalation.DefaultTriggers())
	require.NoError(t, err)

	orch, err := orchestrator.New(orchestrator.Deps{
		Registry: registry,
		Engine:   stubRunner{score: 0.95},
		Decider:  decider,
		Tasks:    e.tasks,
		Counter:  e.counter,
		Jobs:     queued,
		Notifier: e.notifier,
		Tenants:  orchestrator.Tenants{},
	})
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	require.NoError(t, metrics.RegisterWith(reg, metrics.New()))

	e.srv = server.New(server.Deps{
		Orchestrator: orch,
		Queue:        queue.New(e.tasks, queued),
		Tasks:        e.tasks,
		Policies:     e.policies,
		Evaluator:    evaluator.New(stubGrader{score: 0.8}, 0.6, nil),
		Decider:      decider,
		Counter:      e.counter,
		Dashboard:    e.dashboard,
		Intake:       intake.New([]intake.Filter{intake.NewCandidateRequired(registry)}, nil),
		Metrics:      promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})
	return e
}

func (e *env) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.srv.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHealthEndpoint(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, http.MethodGet, "/api/v1/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestOfferGoesThroughReview(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, http.MethodPost, "/api/v1/tasks", `{"tenant_id":"acme","type":"send_offer","input":{"candidate_id":"c1"}}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	out := decode[orchestrator.Outcome](t, w)
	assert.Equal(t, orchestrator.RouteHeld, out.Route)
	assert.True(t, out.Escalation.Escalate)
	taskID := out.Task.ID

	w = e.do(t, http.MethodGet, "/api/v1/queue?tenant=acme", "")
	require.Equal(t, http.StatusOK, w.Code)
	page := decode[queue.Page](t, w)
	require.Len(t, page.Tasks, 1)
	assert.Equal(t, taskID, page.Tasks[0].ID)

	w = e.do(t, http.MethodPost, "/api/v1/queue/"+taskID+"/decision", `{"action":"reject","operator":"maria"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code, "reject without reason")

	w = e.do(t, http.MethodPost, "/api/v1/queue/"+taskID+"/decision", `{"action":"approve","operator":"maria"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, model.StatusApproved, decode[model.Task](t, w).Status)

	w = e.do(t, http.MethodPost, "/api/v1/tasks/"+taskID+"/execute", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	task := decode[model.Task](t, w)
	assert.Equal(t, model.StatusCompleted, task.Status)
	assert.Equal(t, taskID, task.Result["delivered"])

	e.notifier.Wait()
	w = e.do(t, http.MethodGet, "/api/v1/tenants/acme/notifications", "")
	require.Equal(t, http.StatusOK, w.Code)
	feed := decode[struct {
		Notifications []notify.Notification `json:"notifications"`
	}](t, w)
	require.NotEmpty(t, feed.Notifications)
	assert.Equal(t, notify.EventEscalated, feed.Notifications[0].Event)
}

func TestErrorMapping(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, http.MethodGet, "/api/v1/tasks/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = e.do(t, http.MethodPost, "/api/v1/tasks", `{"tenant_id":"acme","type":"draft_outreach"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	out := decode[orchestrator.Outcome](t, w)
	assert.Equal(t, orchestrator.RouteCompleted, out.Route)

	w = e.do(t, http.MethodPost, "/api/v1/tasks/"+out.Task.ID+"/cancel", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = e.do(t, http.MethodPost, "/api/v1/tasks", `{"tenant_id":"acme","type":"fly_to_moon"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodPost, "/api/v1/tasks", `{"tenant":"acme"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code, "unknown fields are rejected")
}

func TestPolicyLifecycle(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, http.MethodPost, "/api/v1/tenants/acme/policies/criteria", `{"operator":"lead","content":{"dimensions":[{"name":"tone","weight":1}]}}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	first := decode[model.PolicyVersion](t, w)
	assert.Equal(t, model.PolicyDraft, first.Status)

	w = e.do(t, http.MethodPost, "/api/v1/policies/"+first.ID+"/activate", `{"operator":""}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodPost, "/api/v1/policies/"+first.ID+"/activate", `{"operator":"lead"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = e.do(t, http.MethodPost, "/api/v1/tenants/acme/policies/criteria", `{"operator":"lead","parent_id":"`+first.ID+`","content":{"dimensions":[{"name":"tone","weight":2}]}}`)
	require.Equal(t, http.StatusCreated, w.Code)
	second := decode[model.PolicyVersion](t, w)

	w = e.do(t, http.MethodGet, "/api/v1/policies/compare?from="+first.ID+"&to="+second.ID, "")
	require.Equal(t, http.StatusOK, w.Code)
	diff := decode[struct {
		Changes []policy.Change `json:"changes"`
	}](t, w)
	require.Len(t, diff.Changes, 1)
	assert.Equal(t, policy.ChangeUpdated, diff.Changes[0].Kind)

	w = e.do(t, http.MethodPost, "/api/v1/policies/"+second.ID+"/reject", `{"operator":"lead"}`)
	require.Equal(t, http.StatusOK, w.Code)
	w = e.do(t, http.MethodPost, "/api/v1/policies/"+second.ID+"/activate", `{"operator":"lead"}`)
	assert.Equal(t, http.StatusConflict, w.Code, "rejected drafts cannot be activated")

	w = e.do(t, http.MethodGet, "/api/v1/tenants/acme/policies/criteria/active", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, first.ID, decode[model.PolicyVersion](t, w).ID)

	w = e.do(t, http.MethodGet, "/api/v1/tenants/acme/policies/rules", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEvaluationEndpoints(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, http.MethodPost, "/api/v1/tenants/acme/evaluate/quick-check", `{"task_type":"draft_outreach","output":"hello"}`)
	assert.Equal(t, http.StatusNotFound, w.Code, "no active criteria yet")

	ctx := context.Background()
	v, err := e.policies.CreateDraft(ctx, policy.Draft{TenantID: "acme", Kind: model.KindCriteria, Content: model.Document(`{"dimensions":[{"name":"tone","weight":1}]}`), Author: model.Human("lead")})
	require.NoError(t, err)
	_, err = e.policies.Activate(ctx, v.ID, model.Human("lead"))
	require.NoError(t, err)

	w = e.do(t, http.MethodPost, "/api/v1/tenants/acme/evaluate/quick-check", `{"task_type":"draft_outreach","output":"hello"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	quick := decode[evaluator.QuickResult](t, w)
	assert.True(t, quick.Passed)

	w = e.do(t, http.MethodPost, "/api/v1/tenants/acme/evaluate/calibrate", `{"task_type":"draft_outreach","output":"hello","human":{"overall":0.3}}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	cal := decode[evaluator.Calibration](t, w)
	assert.False(t, cal.Aligned)
	assert.InDelta(t, 0.5, cal.OverallDiff, 0.001)

	w = e.do(t, http.MethodPost, "/api/v1/tenants/acme/evaluate/calibrate", `{"task_type":"draft_outreach","output":"hello"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAutoApprovalCounterEndpoints(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	day := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	_, _, err := e.counter.Reserve(ctx, "acme", day, 5)
	require.NoError(t, err)

	w := e.do(t, http.MethodGet, "/api/v1/tenants/acme/auto-approvals?day=2026-06-01", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)

	w = e.do(t, http.MethodDelete, "/api/v1/auto-approvals?day=2026-06-01", "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	count, err := e.counter.Count(ctx, "acme", day)
	require.NoError(t, err)
	assert.Zero(t, count)

	w = e.do(t, http.MethodGet, "/api/v1/tenants/acme/auto-approvals?day=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTriggersAndMetrics(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, http.MethodGet, "/api/v1/escalation/triggers", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "sensitive_task_type")

	w = e.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestBatchRunsIntakeFilters(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, http.MethodPost, "/api/v1/tasks/batch", `{"requests":[
		{"tenant_id":"acme","type":"send_outreach"},
		{"tenant_id":"acme","type":"draft_outreach","input":{"candidate_id":"c1"}},
		{"tenant_id":"","type":"draft_outreach"}
	]}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode[struct {
		Results []orchestrator.BatchOutcome `json:"results"`
		Dropped []intake.Dropped            `json:"dropped"`
	}](t, w)

	require.Len(t, body.Dropped, 1)
	assert.Equal(t, "candidate_required", body.Dropped[0].Filter)
	require.Len(t, body.Results, 2)
	assert.Empty(t, body.Results[0].Error)
	assert.NotEmpty(t, body.Results[1].Error, "a failing request does not fail the batch")

	w = e.do(t, http.MethodGet, "/api/v1/intake/filters", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "candidate_required")
}
