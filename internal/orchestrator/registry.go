package orchestrator

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/spigell/recruiter-loop/internal/model"
)

// DefaultApprovalTTL is how long a task may wait for a human decision.
const DefaultApprovalTTL = 72 * time.Hour

// Executor performs the real-world side effect of an approved task.
type Executor interface {
	Execute(ctx context.Context, task *model.Task) (map[string]any, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, task *model.Task) (map[string]any, error)

func (f ExecutorFunc) Execute(ctx context.Context, task *model.Task) (map[string]any, error) {
	return f(ctx, task)
}

// TaskSpec describes how one task type is handled.
type TaskSpec struct {
	Type      model.TaskType
	Class     model.TaskClass
	Sensitive bool
	Priority  model.Priority
	Executor  Executor
}

// Registry is the static task-type table.
type Registry struct {
	specs map[model.TaskType]TaskSpec
}

// NewRegistry validates specs. Types that can be approved need an executor.
func NewRegistry(specs ...TaskSpec) (*Registry, error) {
	r := &Registry{specs: make(map[model.TaskType]TaskSpec, len(specs))}
	for _, s := range specs {
		if _, ok := r.specs[s.Type]; ok {
			return nil, fmt.Errorf("%w: task type %s registered twice", model.ErrValidation, s.Type)
		}
		switch s.Class {
		case model.ClassSandboxed:
		case model.ClassEffectful, model.ClassGated:
			if s.Executor == nil {
				return nil, fmt.Errorf("%w: task type %s needs an executor", model.ErrValidation, s.Type)
			}
		default:
			return nil, fmt.Errorf("%w: task type %s has unknown class %q", model.ErrValidation, s.Type, s.Class)
		}
		if s.Priority == "" {
			s.Priority = model.PriorityMedium
		}
		r.specs[s.Type] = s
	}
	return r, nil
}

// RecruitingSpecs is the built-in task table. Effectful types use the executors given for them.
func RecruitingSpecs(executors map[model.TaskType]Executor) []TaskSpec {
	spec := func(t model.TaskType, class model.TaskClass, sensitive bool, p model.Priority) TaskSpec {
		return TaskSpec{Type: t, Class: class, Sensitive: sensitive, Priority: p, Executor: executors[t]}
	}
	return []TaskSpec{
		spec(model.TaskSearchStrategy, model.ClassSandboxed, false, model.PriorityLow),
		spec(model.TaskScreenCandidate, model.ClassSandboxed, false, model.PriorityLow),
		spec(model.TaskDraftOutreach, model.ClassSandboxed, false, model.PriorityLow),
		spec(model.TaskSendOutreach, model.ClassEffectful, false, model.PriorityMedium),
		spec(model.TaskSendFollowUp, model.ClassEffectful, false, model.PriorityMedium),
		spec(model.TaskScheduleInterview, model.ClassEffectful, false, model.PriorityHigh),
		spec(model.TaskSendOffer, model.ClassGated, true, model.PriorityHigh),
		spec(model.TaskDiscussCompensation, model.ClassGated, true, model.PriorityHigh),
		spec(model.TaskRejectCandidate, model.ClassGated, true, model.PriorityMedium),
	}
}

// Lookup returns the spec for a type.
func (r *Registry) Lookup(t model.TaskType) (TaskSpec, bool) {
	s, ok := r.specs[t]
	return s, ok
}

// Types lists registered types in name order.
func (r *Registry) Types() []model.TaskType {
	return slices.Sorted(maps.Keys(r.specs))
}

// SensitiveTypes lists the types whose output always escalates.
func (r *Registry) SensitiveTypes() []model.TaskType {
	var out []model.TaskType
	for _, t := range r.Types() {
		if r.specs[t].Sensitive {
			out = append(out, t)
		}
	}
	return out
}
