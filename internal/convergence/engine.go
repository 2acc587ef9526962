// Package convergence runs the generate, evaluate and learn loop for one task.
package convergence

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/spigell/recruiter-loop/internal/ai"
	"github.com/spigell/recruiter-loop/internal/evaluator"
	"github.com/spigell/recruiter-loop/internal/model"
	"github.com/spigell/recruiter-loop/internal/policy"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrTimeout is returned when a run exceeds its time budget.
var ErrTimeout = errors.New("convergence run timed out")

// Evaluator grades one output.
type Evaluator interface {
	Evaluate(ctx context.Context, req evaluator.Request) (*model.Evaluation, error)
}

// Constraints are per-task limits passed through to generation.
type Constraints struct {
	RequireEscalation bool           `json:"require_escalation,omitempty"`
	Rules             map[string]any `json:"rules,omitempty"`
}

// RunContext is the input of one run.
type RunContext struct {
	TenantID    string
	TaskType    model.TaskType
	Input       map[string]any
	Constraints Constraints
	Config      *Override
}

// Engine drives convergence runs. It reads Guidelines and Criteria but can only write Guidelines drafts.
type Engine struct {
	oracle    ai.Oracle
	evaluator Evaluator
	policies  policy.Reader
	drafts    policy.GuidelinesDrafter
	sensitive map[model.TaskType]bool
	defaults  Config
	now       func() time.Time
	logger    *zap.Logger
	observe   func(*model.Run)
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig replaces the default loop settings. Zero fields keep the defaults.
func WithConfig(c Config) Option {
	return func(e *Engine) { e.defaults = DefaultConfig().Merge(c.override()) }
}

// WithSensitiveTypes marks task types whose output always escalates.
func WithSensitiveTypes(types ...model.TaskType) Option {
	return func(e *Engine) {
		for _, t := range types {
			e.sensitive[t] = true
		}
	}
}

// WithDrafter enables post-run persistence of proposed Guidelines.
func WithDrafter(d policy.GuidelinesDrafter) Option {
	return func(e *Engine) { e.drafts = d }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithObserver is called with every finished run.
func WithObserver(fn func(*model.Run)) Option {
	return func(e *Engine) { e.observe = fn }
}

// New builds an Engine.
func New(oracle ai.Oracle, eval Evaluator, policies policy.Reader, opts ...Option) *Engine {
	e := &Engine{
		oracle:    oracle,
		evaluator: eval,
		policies:  policies,
		sensitive: make(map[model.TaskType]bool),
		defaults:  DefaultConfig(),
		now:       time.Now,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes the loop until the output passes, the iteration budget is spent, the time budget
// runs out, or the oracle fails. The returned run is always non-nil.
func (e *Engine) Run(ctx context.Context, rc RunContext) (*model.Run, error) {
	cfg := e.defaults.Merge(rc.Config)
	run := &model.Run{
		ID:        uuid.NewString(),
		TenantID:  rc.TenantID,
		TaskType:  rc.TaskType,
		Status:    model.RunRunning,
		StartedAt: e.now(),
	}
	log := e.logger.With(zap.String("run_id", run.ID), zap.String("tenant_id", rc.TenantID), zap.String("task_type", string(rc.TaskType)))

	runCtx := ctx
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	guidelines, err := e.policies.Active(runCtx, rc.TenantID, model.KindGuidelines)
	if err != nil {
		return e.fail(ctx, run, rc, cfg, fmt.Errorf("load guidelines: %w", err))
	}
	criteria, err := e.policies.Active(runCtx, rc.TenantID, model.KindCriteria)
	if err != nil {
		return e.fail(ctx, run, rc, cfg, fmt.Errorf("load criteria: %w", err))
	}
	rubric, err := model.ParseRubric(criteria.Content, rc.TaskType)
	if err != nil {
		return e.fail(ctx, run, rc, cfg, err)
	}

	working := policy.NewWorkingCopy(guidelines)
	deadline := run.StartedAt.Add(cfg.Timeout)

	for n := 1; n <= cfg.MaxIterations; n++ {
		if cfg.Timeout > 0 && !e.now().Before(deadline) {
			return e.fail(ctx, run, rc, cfg, ErrTimeout)
		}

		var it *model.Iteration
		it, working, err = e.iterate(runCtx, n, rc, cfg, rubric, working, log)
		if it != nil {
			run.Iterations = append(run.Iterations, *it)
			run.FinalOutput = it.Generation.Output
			run.FinalScore = it.Evaluation.Overall
		}
		if err != nil {
			return e.fail(ctx, run, rc, cfg, err)
		}
		if it.Learning != nil {
			run.Proposals = append(run.Proposals, it.Learning.Edits...)
		}

		if it.Evaluation.Passed {
			run.Converged = true
			run.Status = model.RunConverged
			break
		}
	}

	if run.Status == model.RunRunning {
		run.Status = model.RunMaxIterations
	}

	if cfg.persist() && e.drafts != nil && working.Dirty() {
		e.persist(ctx, run, working, log)
	}

	e.finish(run, rc, cfg)
	log.Info("convergence run finished",
		zap.String("status", string(run.Status)),
		zap.Int("iterations", len(run.Iterations)),
		zap.Float64("score", run.FinalScore),
		zap.Bool("escalate", run.Escalation.Required),
	)
	return run, nil
}

// iterate runs one generate/evaluate pass and, on failure, the learn step.
// It returns the partially filled iteration on error so the run keeps its history.
func (e *Engine) iterate(ctx context.Context, n int, rc RunContext, cfg Config, rubric model.Rubric, working policy.WorkingCopy, log *zap.Logger) (*model.Iteration, policy.WorkingCopy, error) {
	it := &model.Iteration{
		Number:        n,
		PolicyVersion: working.Version(),
		AppliedEdits:  len(working.Edits()),
		StartedAt:     e.now(),
	}

	doc, err := working.Document()
	if err != nil {
		return nil, working, err
	}

	gen, err := e.oracle.Generate(ctx, ai.GenerateRequest{
		TenantID:    rc.TenantID,
		TaskType:    rc.TaskType,
		Input:       rc.Input,
		Constraints: rc.Constraints.Rules,
		Guidelines:  doc,
	})
	if err != nil {
		return nil, working, err
	}
	it.Generation = *gen

	evaluation, err := e.evaluator.Evaluate(ctx, evaluator.Request{
		TaskType:         rc.TaskType,
		Output:           gen.Output,
		Rubric:           rubric,
		PassingThreshold: cfg.ConvergenceThreshold,
	})
	if err != nil {
		return nil, working, err
	}
	it.Evaluation = *evaluation

	log.Debug("iteration evaluated",
		zap.Int("iteration", n),
		zap.Float64("score", evaluation.Overall),
		zap.Bool("passed", evaluation.Passed),
	)

	if evaluation.Passed {
		it.CompletedAt = e.now()
		return it, working, nil
	}

	learning, next, err := e.learn(ctx, rc, cfg, gen.Output, *evaluation, doc, working, log)
	it.Learning = learning
	it.CompletedAt = e.now()
	if err != nil {
		return it, working, err
	}
	return it, next, nil
}

func (e *Engine) learn(ctx context.Context, rc RunContext, cfg Config, output string, evaluation model.Evaluation, doc model.Document, working policy.WorkingCopy, log *zap.Logger) (*model.Learning, policy.WorkingCopy, error) {
	learning, err := e.oracle.ExtractLearnings(ctx, ai.LearnRequest{
		TaskType:   rc.TaskType,
		Input:      rc.Input,
		Output:     output,
		Evaluation: evaluation,
		Guidelines: doc,
	})
	if err != nil {
		return nil, working, err
	}

	edits := learning.Edits
	learning.Strategy = model.LearnPatch
	if len(edits) > cfg.RegenerateEditThreshold || slices.ContainsFunc(edits, policy.Structural) {
		learning.Strategy = model.LearnRegenerate
		edits, err = e.regenerate(ctx, rc, doc, *learning)
		if err != nil {
			return learning, working, err
		}
	}

	next, applyErr := working.Apply(edits...)
	if applyErr != nil {
		log.Warn("some proposed guideline edits were not applicable", zap.Error(applyErr))
	}
	learning.Applied = next.Edits()[len(working.Edits()):]
	return learning, next, nil
}

// regenerate rewrites the structural sections plus any section the proposed edits touched.
func (e *Engine) regenerate(ctx context.Context, rc RunContext, doc model.Document, learning model.Learning) ([]model.Edit, error) {
	sections := []string{model.SectionWorkflows, model.SectionDecisionTrees}
	for _, edit := range learning.Edits {
		if s := policy.Section(edit.Path); s != "" && !slices.Contains(sections, s) {
			sections = append(sections, s)
		}
	}

	regenerated, err := e.oracle.RegenerateGuidelines(ctx, ai.RegenerateRequest{
		TaskType:   rc.TaskType,
		Guidelines: doc,
		Learning:   learning,
		Sections:   sections,
	})
	if err != nil {
		return nil, err
	}

	var edits []model.Edit
	for _, name := range sections {
		value, ok := regenerated[name]
		if !ok {
			continue
		}
		edits = append(edits, model.Edit{
			Path:      name,
			Op:        model.EditReplace,
			Value:     value,
			Rationale: fmt.Sprintf("regenerated from %d insights", len(learning.Insights)),
		})
	}
	return edits, nil
}

func (e *Engine) persist(ctx context.Context, run *model.Run, working policy.WorkingCopy, log *zap.Logger) {
	doc, err := working.Document()
	if err != nil {
		log.Warn("cannot materialise proposed guidelines", zap.Error(err))
		return
	}
	draft, err := e.drafts.DraftGuidelines(ctx, run.TenantID, doc, working.ParentID(), model.Agent("convergence:"+run.ID))
	if err != nil {
		log.Warn("cannot persist proposed guidelines", zap.Error(err))
		return
	}
	run.DraftID = draft.ID
	log.Info("proposed guidelines saved as draft", zap.String("draft_id", draft.ID), zap.Int("version", draft.Number))
}

func (e *Engine) fail(ctx context.Context, run *model.Run, rc RunContext, cfg Config, err error) (*model.Run, error) {
	switch {
	case ctx.Err() != nil:
		run.Status = model.RunCancelled
	case errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded):
		run.Status = model.RunTimeout
		err = ErrTimeout
	default:
		run.Status = model.RunError
		run.Recoverable = ai.IsRecoverable(err)
	}
	run.Error = err.Error()

	e.finish(run, rc, cfg)
	e.logger.Warn("convergence run aborted",
		zap.String("run_id", run.ID),
		zap.String("status", string(run.Status)),
		zap.Int("iterations", len(run.Iterations)),
		zap.Error(err),
	)
	return run, fmt.Errorf("convergence run %s: %w", run.ID, err)
}

// finish stamps completion and decides engine-level escalation.
func (e *Engine) finish(run *model.Run, rc RunContext, cfg Config) {
	completed := e.now()
	run.CompletedAt = &completed

	var reasons []model.EscalationReason
	if !run.Converged {
		reasons = append(reasons, model.ReasonNotConverged)
	}
	if run.FinalScore < cfg.EscalationThreshold {
		reasons = append(reasons, model.ReasonLowConfidence)
	}
	if e.sensitive[rc.TaskType] {
		reasons = append(reasons, model.ReasonSensitiveTaskType)
	}
	if rc.Constraints.RequireEscalation {
		reasons = append(reasons, model.ReasonConstraint)
	}
	run.Escalation = model.EngineEscalation{Required: len(reasons) > 0, Reasons: reasons}

	if e.observe != nil {
		e.observe(run)
	}
}
