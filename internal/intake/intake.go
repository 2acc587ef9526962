// Package intake screens task requests before they reach the orchestrator.
package intake

import (
	"context"
	"fmt"
	"strings"

	"github.com/spigell/recruiter-loop/internal/orchestrator"

	"go.uber.org/zap"
)

// Filter is a single screening step applied to a batch of requests.
type Filter interface {
	Name() string
	Disable(reason string)
	IsEnabled() bool
	Apply(ctx context.Context, reqs []orchestrator.Request) ([]orchestrator.Request, []Dropped, error)
}

// Dropped records a request a filter removed.
type Dropped struct {
	Filter      string               `json:"filter"`
	Reason      string               `json:"reason"`
	Request     orchestrator.Request `json:"request"`
	CandidateID string               `json:"candidate_id,omitempty"`
}

// Step describes the result of executing a filtering step.
type Step struct {
	Name    string
	Initial int
	Dropped int
	Left    int
}

// Status represents runtime information about a filter.
type Status struct {
	Name    string            `json:"name"`
	Enabled bool              `json:"enabled"`
	Reason  string            `json:"reason,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

type statusProvider interface {
	Status() Status
}

// Pipeline runs filters in order.
type Pipeline struct {
	steps  []Filter
	logger *zap.Logger
}

func New(steps []Filter, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{steps: steps, logger: logger}
}

// DisableByName marks a filter with the provided name as disabled while keeping it in the list.
func (p *Pipeline) DisableByName(name, reason string) {
	for _, step := range p.steps {
		if step.Name() == name {
			step.Disable(reason)
		}
	}
}

// Run returns the requests that passed every enabled filter and the ones that were dropped.
func (p *Pipeline) Run(ctx context.Context, reqs []orchestrator.Request) ([]orchestrator.Request, []Dropped, error) {
	var dropped []Dropped
	for _, step := range p.steps {
		if !step.IsEnabled() {
			p.logger.Info("filter disabled", zap.String("name", step.Name()))
			continue
		}

		initial := len(reqs)
		next, removed, err := step.Apply(ctx, reqs)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", step.Name(), err)
		}
		for i := range removed {
			removed[i].Filter = step.Name()
		}

		p.logger.Info("filter step",
			zap.String("name", step.Name()),
			zap.Int("initial", initial),
			zap.Int("dropped", len(removed)),
			zap.Int("left", len(next)),
		)
		reqs = next
		dropped = append(dropped, removed...)
	}
	return reqs, dropped, nil
}

// Describe returns status entries for the pipeline filters.
func (p *Pipeline) Describe() []Status {
	statuses := make([]Status, 0, len(p.steps))
	for _, step := range p.steps {
		if reporter, ok := step.(statusProvider); ok {
			statuses = append(statuses, reporter.Status())
			continue
		}
		statuses = append(statuses, Status{Name: step.Name(), Enabled: step.IsEnabled()})
	}
	return statuses
}

func candidateID(req orchestrator.Request) string {
	if v, ok := req.Input["candidate_id"]; ok {
		return strings.TrimSpace(fmt.Sprint(v))
	}
	return ""
}

func inputString(req orchestrator.Request, key string) string {
	if v, ok := req.Input[key]; ok {
		if s, ok := v.(string); ok {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

// partition keeps requests for which drop returns an empty reason.
func partition(reqs []orchestrator.Request, drop func(orchestrator.Request) string) ([]orchestrator.Request, []Dropped) {
	kept := make([]orchestrator.Request, 0, len(reqs))
	var dropped []Dropped
	for _, req := range reqs {
		if reason := drop(req); reason != "" {
			dropped = append(dropped, Dropped{Reason: reason, Request: req, CandidateID: candidateID(req)})
			continue
		}
		kept = append(kept, req)
	}
	return kept, dropped
}
