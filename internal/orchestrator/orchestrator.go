// Package orchestrator runs the per-task pipeline: generate, decide, then execute or hold for review.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/spigell/recruiter-loop/internal/autoapprove"
	"github.com/spigell/recruiter-loop/internal/convergence"
	"github.com/spigell/recruiter-loop/internal/escalation"
	"github.com/spigell/recruiter-loop/internal/jobs"
	"github.com/spigell/recruiter-loop/internal/logger"
	"github.com/spigell/recruiter-loop/internal/model"
	"github.com/spigell/recruiter-loop/internal/notify"
	"github.com/spigell/recruiter-loop/internal/queue"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultBatchSize bounds how many tasks ProcessBatch runs at once.
const DefaultBatchSize = 5

// Runner runs the convergence loop.
type Runner interface {
	Run(ctx context.Context, rc convergence.RunContext) (*model.Run, error)
}

// Decider evaluates escalation triggers.
type Decider interface {
	Decide(c escalation.Context, tenant escalation.TenantPolicy) escalation.Decision
}

// Request asks for one task to be produced.
type Request struct {
	TenantID           string                  `json:"tenant_id"`
	Type               model.TaskType          `json:"type"`
	Priority           model.Priority          `json:"priority,omitempty"`
	Input              map[string]any          `json:"input,omitempty"`
	Constraints        convergence.Constraints `json:"constraints,omitempty"`
	CandidateFlags     []string                `json:"candidate_flags,omitempty"`
	ConversationIntent string                  `json:"conversation_intent,omitempty"`
}

// Route is where a processed task went.
type Route string

const (
	RouteCompleted    Route = "completed"
	RouteAutoApproved Route = "auto_approved"
	RouteHeld         Route = "pending_approval"
)

// Outcome is the result of processing one request.
type Outcome struct {
	Task       *model.Task         `json:"task,omitempty"`
	Run        *model.Run          `json:"run,omitempty"`
	Escalation escalation.Decision `json:"escalation"`
	Route      Route               `json:"route,omitempty"`
	Error      string              `json:"error,omitempty"`
}

// Orchestrator wires the engine, the decider and the approval queue.
type Orchestrator struct {
	registry  *Registry
	engine    Runner
	decider   Decider
	tasks     queue.Repository
	counter   autoapprove.Counter
	jobs      jobs.Enqueuer
	notifier  notify.Notifier
	tenants   Tenants
	batchSize int
	now       func() time.Time
	logger    *zap.Logger
	observe   func(*Outcome)
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Registry *Registry
	Engine   Runner
	Decider  Decider
	Tasks    queue.Repository
	Counter  autoapprove.Counter
	Jobs     jobs.Enqueuer
	Notifier notify.Notifier
	Tenants  Tenants
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithBatchSize sets the ProcessBatch concurrency.
func WithBatchSize(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.batchSize = n
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithLogger sets the orchestrator logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithObserver is called with every routed task.
func WithObserver(fn func(*Outcome)) Option {
	return func(o *Orchestrator) { o.observe = fn }
}

// New builds an Orchestrator.
func New(deps Deps, opts ...Option) (*Orchestrator, error) {
	switch {
	case deps.Registry == nil:
		return nil, errors.New("task registry is required")
	case deps.Engine == nil:
		return nil, errors.New("convergence engine is required")
	case deps.Decider == nil:
		return nil, errors.New("escalation decider is required")
	case deps.Tasks == nil:
		return nil, errors.New("task repository is required")
	case deps.Counter == nil:
		return nil, errors.New("auto-approval counter is required")
	case deps.Jobs == nil:
		return nil, errors.New("job queue is required")
	}

	o := &Orchestrator{
		registry:  deps.Registry,
		engine:    deps.Engine,
		decider:   deps.Decider,
		tasks:     deps.Tasks,
		counter:   deps.Counter,
		jobs:      deps.Jobs,
		notifier:  deps.Notifier,
		tenants:   deps.Tenants,
		batchSize: DefaultBatchSize,
		now:       time.Now,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Tenant returns the configuration used for a tenant.
func (o *Orchestrator) Tenant(tenantID string) TenantConfig {
	return o.tenants.Get(tenantID)
}

// ProcessTask generates output for the request and routes the resulting task.
// Engine failures do not fail the call: the task is held for review with the run error attached.
func (o *Orchestrator) ProcessTask(ctx context.Context, req Request, tenant TenantConfig) (*Outcome, error) {
	if strings.TrimSpace(req.TenantID) == "" {
		return nil, fmt.Errorf("%w: tenant id is required", model.ErrValidation)
	}
	spec, ok := o.registry.Lookup(req.Type)
	if !ok {
		return nil, fmt.Errorf("%w: unknown task type %q", model.ErrValidation, req.Type)
	}
	priority := req.Priority
	if priority.Rank() == 0 {
		priority = spec.Priority
	}

	task := &model.Task{
		ID:        uuid.NewString(),
		TenantID:  req.TenantID,
		Type:      req.Type,
		Status:    model.StatusDraft,
		Priority:  priority,
		Payload:   model.TaskPayload{Input: req.Input},
		CreatedAt: o.now(),
	}
	if err := o.tasks.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	log := logger.WithTask(o.logger, task)

	out := &Outcome{}
	run, runErr := o.engine.Run(ctx, convergence.RunContext{
		TenantID:    req.TenantID,
		TaskType:    req.Type,
		Input:       req.Input,
		Constraints: req.Constraints,
		Config:      tenant.Loop,
	})
	if runErr != nil {
		out.Error = runErr.Error()
		log.Warn("convergence run failed, holding task for review", zap.Error(runErr))
	}
	if run == nil {
		run = &model.Run{Status: model.RunError, Error: out.Error, Escalation: model.EngineEscalation{Required: true, Reasons: []model.EscalationReason{model.ReasonNotConverged}}}
	}
	out.Run = run

	out.Escalation = o.decider.Decide(escalation.Context{
		TenantID:           req.TenantID,
		TaskType:           req.Type,
		Content:            run.FinalOutput,
		Confidence:         run.FinalScore,
		CandidateFlags:     req.CandidateFlags,
		ConversationIntent: req.ConversationIntent,
		Input:              req.Input,
	}, tenant.Policy())

	route, reason, channels := o.route(ctx, req.TenantID, spec, tenant, run, out.Escalation, log)
	out.Route = route
	if route == RouteHeld && out.Escalation.Escalate && out.Escalation.Priority.Rank() > priority.Rank() {
		priority = out.Escalation.Priority
	}

	now := o.now()
	updated, err := o.tasks.Update(ctx, task.ID, func(t *model.Task) error {
		t.RunID = run.ID
		t.Iterations = len(run.Iterations)
		t.Confidence = run.FinalScore
		t.Payload.Content = run.FinalOutput
		t.Error = run.Error
		t.Priority = priority
		switch route {
		case RouteCompleted:
			t.Result = map[string]any{"output": run.FinalOutput}
			return queue.Transition(t, model.StatusCompleted)
		case RouteAutoApproved:
			return queue.Transition(t, model.StatusApproved)
		default:
			t.EscalationReason = reason
			expires := now.Add(tenant.ttl())
			t.ExpiresAt = &expires
			return queue.Transition(t, model.StatusPendingApproval)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("route task %s: %w", task.ID, err)
	}
	out.Task = updated
	log = logger.WithTask(o.logger, updated)

	switch {
	case route == RouteAutoApproved:
		if err := o.jobs.Enqueue(ctx, jobs.Job{Kind: jobs.KindExecute, TenantID: updated.TenantID, TaskID: updated.ID, EnqueuedAt: now}); err != nil {
			log.Error("auto-approved task not queued for execution", zap.Error(err))
			out.Error = joinError(out.Error, err)
		}
	case route == RouteHeld && len(channels) > 0 && o.notifier != nil:
		message := out.Escalation.Message
		if message == "" {
			message = string(reason)
		}
		o.notifier.Notify(notify.Notification{
			TenantID: updated.TenantID,
			TaskID:   updated.ID,
			TaskType: updated.Type,
			Event:    notify.EventEscalated,
			Priority: updated.Priority,
			Reason:   reason,
			Message:  message,
		}, channels)
	}

	log.Info("task routed",
		zap.String("route", string(route)),
		zap.String("reason", string(updated.EscalationReason)),
		zap.Float64("confidence", updated.Confidence),
		zap.Int("iterations", updated.Iterations),
	)
	if o.observe != nil {
		o.observe(out)
	}
	return out, nil
}

// route applies the routing rules in order. Only escalated tasks carry a reason and channels.
func (o *Orchestrator) route(ctx context.Context, tenantID string, spec TaskSpec, tenant TenantConfig, run *model.Run, decision escalation.Decision, log *zap.Logger) (Route, model.EscalationReason, []model.Channel) {
	if spec.Class == model.ClassGated || run.Escalation.Required || decision.Escalate {
		var reason model.EscalationReason
		switch {
		case decision.Escalate:
			reason = decision.Reason
		case run.Escalation.Required && len(run.Escalation.Reasons) > 0:
			reason = run.Escalation.Reasons[0]
		default:
			reason = model.ReasonGatedTaskType
		}
		channels := slices.Clone(decision.Channels)
		for _, ch := range tenant.Channels {
			if !slices.Contains(channels, ch) {
				channels = append(channels, ch)
			}
		}
		if len(channels) == 0 {
			channels = []model.Channel{model.ChannelDashboard}
		}
		return RouteHeld, reason, channels
	}

	if spec.Class == model.ClassSandboxed {
		return RouteCompleted, "", nil
	}

	auto := tenant.AutoApproval
	if auto.eligible(spec.Type) && run.Converged && run.FinalScore >= auto.Threshold {
		ok, count, err := o.counter.Reserve(ctx, tenantID, o.now(), auto.MaxDaily)
		switch {
		case err != nil:
			log.Warn("auto-approval counter unavailable", zap.Error(err))
		case ok:
			log.Debug("auto-approval slot reserved", zap.Int("used", count), zap.Int("max_daily", auto.MaxDaily))
			return RouteAutoApproved, "", nil
		default:
			log.Info("daily auto-approval limit reached", zap.Int("max_daily", auto.MaxDaily))
		}
	}
	return RouteHeld, "", nil
}

func joinError(prev string, err error) string {
	if prev == "" {
		return err.Error()
	}
	return prev + "; " + err.Error()
}

// BatchOutcome is the result for one request of a batch.
type BatchOutcome struct {
	Request Request  `json:"request"`
	Outcome *Outcome `json:"outcome,omitempty"`
	Error   string   `json:"error,omitempty"`
	Err     error    `json:"-"`
}

// ProcessBatch processes requests in chunks of the batch size. Each request succeeds or fails on its own.
func (o *Orchestrator) ProcessBatch(ctx context.Context, reqs []Request) []BatchOutcome {
	results := make([]BatchOutcome, len(reqs))
	for start := 0; start < len(reqs); start += o.batchSize {
		end := min(start+o.batchSize, len(reqs))

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				req := reqs[i]
				out, err := o.ProcessTask(ctx, req, o.tenants.Get(req.TenantID))
				results[i] = BatchOutcome{Request: req, Outcome: out, Err: err}
				if err != nil {
					results[i].Error = err.Error()
				}
			}(i)
		}
		wg.Wait()
	}
	return results
}

// ExecuteTask runs the executor of an approved task once. Failures are recorded, not retried.
func (o *Orchestrator) ExecuteTask(ctx context.Context, taskID string) (*model.Task, error) {
	task, err := o.tasks.Update(ctx, taskID, func(t *model.Task) error {
		if t.Status != model.StatusApproved {
			return fmt.Errorf("%w: task %s is %s, only approved tasks can be executed", model.ErrInvalidTransition, t.ID, t.Status)
		}
		return queue.Transition(t, model.StatusExecuting)
	})
	if err != nil {
		return nil, err
	}
	log := logger.WithTask(o.logger, task)

	spec, _ := o.registry.Lookup(task.Type)
	var (
		result  map[string]any
		execErr error
	)
	if spec.Executor == nil {
		execErr = fmt.Errorf("no executor registered for %s", task.Type)
	} else {
		result, execErr = spec.Executor.Execute(ctx, task)
	}

	task, err = o.tasks.Update(ctx, taskID, func(t *model.Task) error {
		if execErr != nil {
			t.Error = execErr.Error()
			return queue.Transition(t, model.StatusFailed)
		}
		t.Error = ""
		t.Result = result
		return queue.Transition(t, model.StatusCompleted)
	})
	if err != nil {
		return nil, err
	}

	if execErr != nil {
		log.Error("task execution failed", zap.Error(execErr))
		if o.notifier != nil {
			o.notifier.Notify(notify.Notification{
				TenantID: task.TenantID,
				TaskID:   task.ID,
				TaskType: task.Type,
				Event:    notify.EventFailed,
				Message:  execErr.Error(),
			}, o.tenants.Get(task.TenantID).Channels)
		}
		return task, nil
	}
	log.Info("task executed")
	return task, nil
}

// CancelTask stops an approved task before it executes.
func (o *Orchestrator) CancelTask(ctx context.Context, taskID string) (*model.Task, error) {
	return o.tasks.Update(ctx, taskID, func(t *model.Task) error {
		return queue.Transition(t, model.StatusCancelled)
	})
}

// HandleExecuteJob is the job handler for execution jobs. Tasks cancelled after approval are skipped.
func (o *Orchestrator) HandleExecuteJob(ctx context.Context, job jobs.Job) error {
	task, err := o.tasks.Get(ctx, job.TaskID)
	if err != nil {
		return err
	}
	if task.Status == model.StatusCancelled {
		o.logger.Info("skipping cancelled task", zap.String(logger.FieldTask, task.ID))
		return nil
	}
	_, err = o.ExecuteTask(ctx, job.TaskID)
	return err
}
