package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/spigell/recruiter-loop/internal/autoapprove"
	"github.com/spigell/recruiter-loop/internal/convergence"
	"github.com/spigell/recruiter-loop/internal/escalation"
	"github.com/spigell/recruiter-loop/internal/jobs"
	"github.com/spigell/recruiter-loop/internal/model"
	"github.com/spigell/recruiter-loop/internal/notify"
	"github.com/spigell/recruiter-loop/internal/queue"
)

var now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

type stubRunner struct {
	score  float64
	output string
	err    error
}

func (r stubRunner) Run(_ context.Context, rc convergence.RunContext) (*model.Run, error) {
	run := &model.Run{
		ID:          "run-" + string(rc.TaskType),
		TenantID:    rc.TenantID,
		TaskType:    rc.TaskType,
		FinalScore:  r.score,
		FinalOutput: r.output,
		Iterations:  []model.Iteration{{Number: 1}},
	}
	if r.err != nil {
		run.Status = model.RunError
		run.Error = r.err.Error()
		run.Escalation = model.EngineEscalation{Required: true, Reasons: []model.EscalationReason{model.ReasonNotConverged, model.ReasonLowConfidence}}
		return run, r.err
	}
	run.Status = model.RunConverged
	run.Converged = r.score >= 0.8
	if !run.Converged {
		run.Status = model.RunMaxIterations
	}
	if !run.Converged || r.score < 0.9 || rc.TaskType == model.TaskSendOffer {
		run.Escalation.Required = true
		run.Escalation.Reasons = []model.EscalationReason{model.ReasonLowConfidence}
	}
	return run, nil
}

type recordingEnqueuer struct {
	mu   sync.Mutex
	jobs []jobs.Job
}

func (e *recordingEnqueuer) Enqueue(_ context.Context, job jobs.Job) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.jobs = append(e.jobs, job)
	return nil
}

type recordingNotifier struct {
	mu       sync.Mutex
	sent     []notify.Notification
	channels [][]model.Channel
}

func (n *recordingNotifier) Notify(msg notify.Notification, channels []model.Channel) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	n.channels = append(n.channels, channels)
}

type fixture struct {
	orch     *Orchestrator
	tasks    *queue.MemoryRepository
	jobs     *recordingEnqueuer
	notifier *recordingNotifier
	executed []string
	mu       sync.Mutex
}

func newFixture(t *testing.T, runner Runner, tenants Tenants, execErr error) *fixture {
	t.Helper()
	f := &fixture{tasks: queue.NewMemoryRepository(), jobs: &recordingEnqueuer{}, notifier: &recordingNotifier{}}

	send := ExecutorFunc(func(_ context.Context, task *model.Task) (map[string]any, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.executed = append(f.executed, task.ID)
		if execErr != nil {
			return nil, execErr
		}
		return map[string]any{"message_id": "m-" + task.ID}, nil
	})
	executors := map[model.TaskType]Executor{}
	for _, tt := range []model.TaskType{model.TaskSendOutreach, model.TaskSendFollowUp, model.TaskScheduleInterview, model.TaskSendOffer, model.TaskDiscussCompensation, model.TaskRejectCandidate} {
		executors[tt] = send
	}
	registry, err := NewRegistry(RecruitingSpecs(executors)...)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	decider, err := escalation.New(escalation.DefaultTriggers())
	if err != nil {
		t.Fatalf("decider: %v", err)
	}

	f.orch, err = New(Deps{
		Registry: registry,
		Engine:   runner,
		Decider:  decider,
		Tasks:    f.tasks,
		Counter:  autoapprove.NewMemoryCounter(),
		Jobs:     f.jobs,
		Notifier: f.notifier,
		Tenants:  tenants,
	}, WithClock(func() time.Time { return now }), WithBatchSize(3))
	if err != nil {
		t.Fatalf("orchestrator: %v", err)
	}
	return f
}

func autoTenant(maxDaily int) TenantConfig {
	return TenantConfig{
		AutonomyLevel: escalation.AutonomyBalanced,
		AutoApproval:  AutoApproval{Enabled: true, Threshold: 0.85, MaxDaily: maxDaily, Rules: []model.TaskType{model.TaskSendOutreach}},
	}
}

const friendly = "Hi Sam, loved your talk on observability. Open to a quick chat?"

func TestSandboxedTaskCompletes(t *testing.T) {
	f := newFixture(t, stubRunner{score: 0.95, output: "boolean search string"}, nil, nil)

	out, err := f.orch.ProcessTask(context.Background(), Request{TenantID: "acme", Type: model.TaskSearchStrategy}, autoTenant(5))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if out.Route != RouteCompleted || out.Task.Status != model.StatusCompleted {
		t.Fatalf("expected completed, got %s/%s", out.Route, out.Task.Status)
	}
	if out.Task.Result["output"] != "boolean search string" || out.Task.RunID != "run-generate_search_strategy" {
		t.Fatalf("unexpected task %+v", out.Task)
	}
	if len(f.jobs.jobs) != 0 {
		t.Fatalf("sandboxed tasks are not executed")
	}
}

func TestOfferEscalatesDespiteHighScore(t *testing.T) {
	f := newFixture(t, stubRunner{score: 0.95, output: "We are delighted to offer you the role."}, nil, nil)
	tenant := autoTenant(5)
	tenant.AutoApproval.Bypass = true
	tenant.Channels = []model.Channel{model.ChannelEmail}

	out, err := f.orch.ProcessTask(context.Background(), Request{TenantID: "acme", Type: model.TaskSendOffer}, tenant)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if out.Route != RouteHeld || out.Task.Status != model.StatusPendingApproval {
		t.Fatalf("expected held, got %s", out.Route)
	}
	if out.Task.EscalationReason != model.ReasonSensitiveTaskType || out.Task.Priority != model.PriorityHigh {
		t.Fatalf("unexpected reason/priority %s/%s", out.Task.EscalationReason, out.Task.Priority)
	}
	if out.Task.ExpiresAt == nil || !out.Task.ExpiresAt.Equal(now.Add(DefaultApprovalTTL)) {
		t.Fatalf("expected default approval window, got %v", out.Task.ExpiresAt)
	}
	if len(f.notifier.sent) != 1 {
		t.Fatalf("expected one escalation notification, got %d", len(f.notifier.sent))
	}
	want := []model.Channel{model.ChannelDashboard, model.ChannelChat, model.ChannelEmail}
	got := f.notifier.channels[0]
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] || got[2] != want[2] {
		t.Fatalf("expected trigger and tenant channels %v, got %v", want, got)
	}
}

func TestAutoApprovalRespectsDailyCap(t *testing.T) {
	f := newFixture(t, stubRunner{score: 0.95, output: friendly}, nil, nil)
	tenant := autoTenant(2)

	var routes []Route
	for i := 0; i < 4; i++ {
		out, err := f.orch.ProcessTask(context.Background(), Request{TenantID: "acme", Type: model.TaskSendOutreach}, tenant)
		if err != nil {
			t.Fatalf("process: %v", err)
		}
		routes = append(routes, out.Route)
		if out.Route == RouteHeld && out.Task.EscalationReason != "" {
			t.Fatalf("cap overflow is held without a reason, got %s", out.Task.EscalationReason)
		}
	}

	want := []Route{RouteAutoApproved, RouteAutoApproved, RouteHeld, RouteHeld}
	for i := range want {
		if routes[i] != want[i] {
			t.Fatalf("routes %v want %v", routes, want)
		}
	}
	if len(f.jobs.jobs) != 2 || f.jobs.jobs[0].Kind != jobs.KindExecute {
		t.Fatalf("expected 2 execution jobs, got %+v", f.jobs.jobs)
	}
	if len(f.notifier.sent) != 0 {
		t.Fatalf("plain holds do not notify")
	}
}

func TestAutoApprovalCapUnderConcurrency(t *testing.T) {
	f := newFixture(t, stubRunner{score: 0.95, output: friendly}, Tenants{"acme": autoTenant(3)}, nil)

	reqs := make([]Request, 10)
	for i := range reqs {
		reqs[i] = Request{TenantID: "acme", Type: model.TaskSendOutreach}
	}
	results := f.orch.ProcessBatch(context.Background(), reqs)

	approved := 0
	for _, r := range results {
		if r.Err != nil {
			t.Fatalf("unexpected error %v", r.Err)
		}
		if r.Outcome.Route == RouteAutoApproved {
			approved++
		}
	}
	if approved != 3 {
		t.Fatalf("expected exactly 3 auto-approvals, got %d", approved)
	}
}

func TestAutoApprovalEligibility(t *testing.T) {
	tests := []struct {
		name   string
		score  float64
		tenant func() TenantConfig
		typ    model.TaskType
		want   Route
	}{
		{name: "no rule for type", score: 0.95, typ: model.TaskSendFollowUp, tenant: func() TenantConfig { return autoTenant(5) }, want: RouteHeld},
		{name: "bypass flag", score: 0.95, typ: model.TaskSendFollowUp, tenant: func() TenantConfig {
			c := autoTenant(5)
			c.AutoApproval.Bypass = true
			return c
		}, want: RouteAutoApproved},
		{name: "disabled", score: 0.95, typ: model.TaskSendOutreach, tenant: func() TenantConfig {
			c := autoTenant(5)
			c.AutoApproval.Enabled = false
			return c
		}, want: RouteHeld},
		{name: "under tenant threshold", score: 0.92, typ: model.TaskSendOutreach, tenant: func() TenantConfig {
			c := autoTenant(5)
			c.AutoApproval.Threshold = 0.93
			return c
		}, want: RouteHeld},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, stubRunner{score: tt.score, output: friendly}, nil, nil)
			out, err := f.orch.ProcessTask(context.Background(), Request{TenantID: "acme", Type: tt.typ}, tt.tenant())
			if err != nil {
				t.Fatalf("process: %v", err)
			}
			if out.Route != tt.want {
				t.Fatalf("route %s want %s", out.Route, tt.want)
			}
		})
	}
}

func TestTenantAutonomyOverride(t *testing.T) {
	f := newFixture(t, stubRunner{score: 0.99, output: friendly}, nil, nil)
	tenant := autoTenant(5)
	tenant.AutonomyLevel = escalation.AutonomyConservative

	out, err := f.orch.ProcessTask(context.Background(), Request{TenantID: "acme", Type: model.TaskSendOutreach}, tenant)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if out.Route != RouteHeld || out.Task.EscalationReason != model.ReasonTenantPolicy {
		t.Fatalf("expected tenant policy hold, got %s/%s", out.Route, out.Task.EscalationReason)
	}
}

func TestEngineFailureHoldsTask(t *testing.T) {
	f := newFixture(t, stubRunner{err: errors.New("oracle unavailable")}, nil, nil)

	out, err := f.orch.ProcessTask(context.Background(), Request{TenantID: "acme", Type: model.TaskSearchStrategy}, autoTenant(5))
	if err != nil {
		t.Fatalf("engine errors must not fail the call: %v", err)
	}
	if out.Route != RouteHeld || out.Error == "" || out.Task.Error != "oracle unavailable" {
		t.Fatalf("expected held task with error, got %+v", out)
	}
	// confidence 0 also trips the low confidence trigger, which outranks the engine reason
	if out.Task.EscalationReason != model.ReasonLowConfidence {
		t.Fatalf("unexpected reason %s", out.Task.EscalationReason)
	}
}

func TestProcessBatchIsolatesFailures(t *testing.T) {
	f := newFixture(t, stubRunner{score: 0.95, output: "plan"}, nil, nil)

	results := f.orch.ProcessBatch(context.Background(), []Request{
		{TenantID: "acme", Type: model.TaskSearchStrategy},
		{TenantID: "acme", Type: "teleport_candidate"},
		{TenantID: "", Type: model.TaskSearchStrategy},
		{TenantID: "acme", Type: model.TaskScreenCandidate},
	})

	if len(results) != 4 {
		t.Fatalf("expected a result per request, got %d", len(results))
	}
	for i, wantErr := range []bool{false, true, true, false} {
		if (results[i].Err != nil) != wantErr {
			t.Fatalf("request %d: unexpected error state %v", i, results[i].Err)
		}
		if !wantErr && results[i].Outcome.Task.Status != model.StatusCompleted {
			t.Fatalf("request %d: expected completed", i)
		}
	}
	if !errors.Is(results[1].Err, model.ErrValidation) {
		t.Fatalf("expected validation error, got %v", results[1].Err)
	}
}

func TestExecuteTask(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, stubRunner{score: 0.95, output: friendly}, nil, nil)
	out, err := f.orch.ProcessTask(ctx, Request{TenantID: "acme", Type: model.TaskSendOutreach}, autoTenant(5))
	if err != nil || out.Route != RouteAutoApproved {
		t.Fatalf("expected auto-approved task, got %v (%v)", out, err)
	}

	if err := f.orch.HandleExecuteJob(ctx, f.jobs.jobs[0]); err != nil {
		t.Fatalf("execute job: %v", err)
	}
	task, _ := f.tasks.Get(ctx, out.Task.ID)
	if task.Status != model.StatusCompleted || task.Result["message_id"] != "m-"+task.ID {
		t.Fatalf("unexpected executed task %+v", task)
	}

	if _, err := f.orch.ExecuteTask(ctx, task.ID); !errors.Is(err, model.ErrInvalidTransition) {
		t.Fatalf("completed task must not execute again, got %v", err)
	}
}

func TestExecuteTaskFailureIsRecorded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, stubRunner{score: 0.95, output: friendly}, nil, errors.New("mailbox full"))
	out, _ := f.orch.ProcessTask(ctx, Request{TenantID: "acme", Type: model.TaskSendOutreach}, autoTenant(5))

	task, err := f.orch.ExecuteTask(ctx, out.Task.ID)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if task.Status != model.StatusFailed || task.Error != "mailbox full" {
		t.Fatalf("expected failed task, got %s/%q", task.Status, task.Error)
	}
	if len(f.executed) != 1 {
		t.Fatalf("execution must not be retried, got %d attempts", len(f.executed))
	}
	if len(f.notifier.sent) != 1 || f.notifier.sent[0].Event != notify.EventFailed {
		t.Fatalf("expected failure notification")
	}
}

func TestCancelApprovedTask(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, stubRunner{score: 0.95, output: friendly}, nil, nil)
	out, _ := f.orch.ProcessTask(ctx, Request{TenantID: "acme", Type: model.TaskSendOutreach}, autoTenant(5))

	task, err := f.orch.CancelTask(ctx, out.Task.ID)
	if err != nil || task.Status != model.StatusCancelled {
		t.Fatalf("expected cancelled, got %v (%v)", task, err)
	}
	if err := f.orch.HandleExecuteJob(ctx, f.jobs.jobs[0]); err != nil {
		t.Fatalf("cancelled job should be skipped, got %v", err)
	}
	if len(f.executed) != 0 {
		t.Fatalf("cancelled task must not execute")
	}
	if _, err := f.orch.CancelTask(ctx, out.Task.ID); !errors.Is(err, model.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

func TestRegistryValidation(t *testing.T) {
	if _, err := NewRegistry(TaskSpec{Type: model.TaskSendOutreach, Class: model.ClassEffectful}); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("effectful type without executor must fail, got %v", err)
	}
	if _, err := NewRegistry(TaskSpec{Type: model.TaskDraftOutreach, Class: model.ClassSandboxed}, TaskSpec{Type: model.TaskDraftOutreach, Class: model.ClassSandboxed}); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("duplicate type must fail, got %v", err)
	}

	r, err := NewRegistry(RecruitingSpecs(map[model.TaskType]Executor{
		model.TaskSendOutreach:        ExecutorFunc(nil),
		model.TaskSendFollowUp:        ExecutorFunc(nil),
		model.TaskScheduleInterview:   ExecutorFunc(nil),
		model.TaskSendOffer:           ExecutorFunc(nil),
		model.TaskDiscussCompensation: ExecutorFunc(nil),
		model.TaskRejectCandidate:     ExecutorFunc(nil),
	})...)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	sensitive := r.SensitiveTypes()
	if len(sensitive) != 3 || sensitive[0] != model.TaskDiscussCompensation {
		t.Fatalf("unexpected sensitive types %v", sensitive)
	}
}
