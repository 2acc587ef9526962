// Package escalation decides whether generated output must wait for a human.
package escalation

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/spigell/recruiter-loop/internal/model"

	"go.uber.org/zap"
)

// Autonomy is the tenant-level appetite for unattended actions.
type Autonomy string

const (
	AutonomyConservative Autonomy = "conservative"
	AutonomyBalanced     Autonomy = "balanced"
	AutonomyHigh         Autonomy = "high"
)

// Context is what triggers are evaluated against.
type Context struct {
	TenantID           string
	TaskType           model.TaskType
	Content            string
	Confidence         float64
	CandidateFlags     []string
	ConversationIntent string
	Input              map[string]any
}

// TenantPolicy holds the overrides checked before any trigger.
type TenantPolicy struct {
	Autonomy  Autonomy
	Overrides []model.TaskType
	Channels  []model.Channel
}

// Decision is the outcome of one evaluation.
type Decision struct {
	Escalate bool                   `json:"escalate"`
	Triggers []string               `json:"triggers,omitempty"`
	Reason   model.EscalationReason `json:"reason,omitempty"`
	Priority model.Priority         `json:"priority,omitempty"`
	Channels []model.Channel        `json:"channels,omitempty"`
	Message  string                 `json:"message,omitempty"`
}

// Status describes a compiled trigger.
type Status struct {
	Name    string            `json:"name"`
	Enabled bool              `json:"enabled"`
	Details map[string]string `json:"details,omitempty"`
}

type rule struct {
	Trigger
	match matcher
}

// Decider evaluates an ordered trigger set.
type Decider struct {
	rules  []rule
	logger *zap.Logger
}

// Option configures a Decider.
type Option func(*options)

type options struct {
	predicates map[string]Predicate
	logger     *zap.Logger
}

// WithPredicate registers an extra custom predicate.
func WithPredicate(name string, p Predicate) Option {
	return func(o *options) { o.predicates[name] = p }
}

// WithLogger sets the decider logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// New compiles triggers. Invalid patterns, comparisons or unknown predicates fail construction.
func New(triggers []Trigger, opts ...Option) (*Decider, error) {
	o := &options{predicates: BuiltinPredicates(), logger: zap.NewNop()}
	for _, opt := range opts {
		opt(o)
	}

	d := &Decider{logger: o.logger}
	var errs []error
	for _, t := range triggers {
		m, err := compile(t, o.predicates)
		if err != nil {
			errs = append(errs, fmt.Errorf("trigger %s: %w", t.Name, err))
			continue
		}
		d.rules = append(d.rules, rule{Trigger: t, match: m})
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrValidation, err)
	}
	return d, nil
}

// Decide applies tenant overrides, then collects every matching enabled trigger.
func (d *Decider) Decide(c Context, tenant TenantPolicy) Decision {
	if tenant.Autonomy == AutonomyConservative {
		return d.override("tenant_autonomy", "tenant autonomy is conservative", tenant)
	}
	if slices.Contains(tenant.Overrides, c.TaskType) {
		return d.override("tenant_override:"+string(c.TaskType), fmt.Sprintf("tenant requires review of %s", c.TaskType), tenant)
	}

	var matched []rule
	for _, r := range d.rules {
		if r.Enabled && r.match(c) {
			matched = append(matched, r)
		}
	}
	if len(matched) == 0 {
		return Decision{}
	}

	decision := Decision{Escalate: true}
	best := matched[0]
	for _, r := range matched {
		decision.Triggers = append(decision.Triggers, r.Name)
		for _, ch := range r.Channels {
			if !slices.Contains(decision.Channels, ch) {
				decision.Channels = append(decision.Channels, ch)
			}
		}
		if r.Priority.Rank() > best.Priority.Rank() {
			best = r
		}
	}
	decision.Reason = best.Reason
	decision.Priority = best.Priority
	decision.Message = "escalation triggered by: " + strings.Join(decision.Triggers, ", ")

	d.logger.Debug("escalation triggers matched",
		zap.String("tenant_id", c.TenantID),
		zap.String("task_type", string(c.TaskType)),
		zap.Strings("triggers", decision.Triggers),
		zap.String("reason", string(decision.Reason)),
	)
	return decision
}

func (d *Decider) override(name, message string, tenant TenantPolicy) Decision {
	channels := slices.Clone(tenant.Channels)
	if len(channels) == 0 {
		channels = []model.Channel{model.ChannelDashboard}
	}
	return Decision{
		Escalate: true,
		Triggers: []string{name},
		Reason:   model.ReasonTenantPolicy,
		Priority: model.PriorityHigh,
		Channels: channels,
		Message:  message,
	}
}

// Describe returns status entries for the compiled triggers in evaluation order.
func (d *Decider) Describe() []Status {
	statuses := make([]Status, 0, len(d.rules))
	for _, r := range d.rules {
		details := map[string]string{
			"kind":     string(r.Condition.Kind),
			"reason":   string(r.Reason),
			"priority": string(r.Priority),
		}
		switch r.Condition.Kind {
		case ConditionContentRegex:
			details["pattern"] = r.Condition.Pattern
		case ConditionConfidence:
			details["threshold"] = r.Condition.Op + " " + strconv.FormatFloat(r.Condition.Value, 'f', -1, 64)
		case ConditionCustom:
			details["predicate"] = r.Condition.Custom
		}
		statuses = append(statuses, Status{Name: r.Name, Enabled: r.Enabled, Details: details})
	}
	return statuses
}

// Predicates lists the names usable in custom conditions.
func Predicates() []string {
	return slices.Sorted(maps.Keys(BuiltinPredicates()))
}
