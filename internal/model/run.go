package model

import "time"

// RunStatus is the state of a convergence run.
type RunStatus string

const (
	RunRunning       RunStatus = "running"
	RunConverged     RunStatus = "converged"
	RunMaxIterations RunStatus = "max_iterations_reached"
	RunError         RunStatus = "error"
	RunTimeout       RunStatus = "timeout"
	RunCancelled     RunStatus = "cancelled"
)

// Generation is one oracle output with its call metadata.
type Generation struct {
	Output     string        `json:"output"`
	Model      string        `json:"model,omitempty"`
	TokensUsed int           `json:"tokens_used,omitempty"`
	Latency    time.Duration `json:"latency"`
}

// PatternMatch is a failure pattern found in an output.
type PatternMatch struct {
	Name     string   `json:"name"`
	Severity Severity `json:"severity"`
	Excerpt  string   `json:"excerpt,omitempty"`
}

// Evaluation is the graded result of an output against a rubric.
type Evaluation struct {
	Overall    float64            `json:"overall"`
	RawOverall float64            `json:"raw_overall"`
	Dimensions map[string]float64 `json:"dimensions"`
	Passed     bool               `json:"passed"`
	Reasoning  string             `json:"reasoning,omitempty"`
	Confidence float64            `json:"confidence"`
	Failures   []PatternMatch     `json:"failures,omitempty"`
}

// InsightType classifies what a learning observed.
type InsightType string

const (
	InsightPattern     InsightType = "pattern"
	InsightGap         InsightType = "gap"
	InsightConflict    InsightType = "conflict"
	InsightImprovement InsightType = "improvement"
)

// Insight is one observation extracted from a failed output.
type Insight struct {
	Type        InsightType `json:"type"`
	Description string      `json:"description"`
	Confidence  float64     `json:"confidence"`
}

// LearnStrategy is how a learning was applied to the working copy.
type LearnStrategy string

const (
	LearnPatch      LearnStrategy = "patch"
	LearnRegenerate LearnStrategy = "regenerate"
)

// Learning is the outcome of the learn step of one iteration.
type Learning struct {
	Insights []Insight `json:"insights,omitempty"`
	// Edits are the proposals as extracted; they are kept for audit even when not applicable.
	Edits []Edit `json:"edits,omitempty"`
	// Applied are the edits that reached the working copy: the applicable proposals for a patch,
	// the section replacements for a regeneration.
	Applied   []Edit        `json:"applied,omitempty"`
	Reasoning string        `json:"reasoning,omitempty"`
	Strategy  LearnStrategy `json:"strategy"`
}

// Iteration records one generate/evaluate/learn pass.
type Iteration struct {
	Number        int        `json:"number"`
	Generation    Generation `json:"generation"`
	PolicyVersion int        `json:"policy_version"`
	AppliedEdits  int        `json:"applied_edits"`
	Evaluation    Evaluation `json:"evaluation"`
	Learning      *Learning  `json:"learning,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   time.Time  `json:"completed_at"`
}

// EngineEscalation is the convergence engine's own escalation verdict.
type EngineEscalation struct {
	Required bool               `json:"required"`
	Reasons  []EscalationReason `json:"reasons,omitempty"`
}

// Run is one convergence attempt for a task.
type Run struct {
	ID          string           `json:"id"`
	TenantID    string           `json:"tenant_id"`
	TaskType    TaskType         `json:"task_type"`
	Status      RunStatus        `json:"status"`
	Iterations  []Iteration      `json:"iterations"`
	Converged   bool             `json:"converged"`
	FinalScore  float64          `json:"final_score"`
	FinalOutput string           `json:"final_output"`
	Proposals   []Edit           `json:"proposals,omitempty"`
	DraftID     string           `json:"draft_id,omitempty"`
	Escalation  EngineEscalation `json:"escalation"`
	Error       string           `json:"error,omitempty"`
	Recoverable bool             `json:"recoverable,omitempty"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

// Learnings counts iterations that produced a learning record.
func (r *Run) Learnings() int {
	n := 0
	for _, it := range r.Iterations {
		if it.Learning != nil {
			n++
		}
	}
	return n
}
