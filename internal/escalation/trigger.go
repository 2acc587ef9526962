package escalation

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/spigell/recruiter-loop/internal/model"

	"github.com/mitchellh/mapstructure"
)

// ConditionKind selects which part of the context a trigger inspects.
type ConditionKind string

const (
	ConditionTaskType           ConditionKind = "task_type"
	ConditionContentRegex       ConditionKind = "content_regex"
	ConditionConfidence         ConditionKind = "confidence"
	ConditionCandidateFlag      ConditionKind = "candidate_flag"
	ConditionConversationIntent ConditionKind = "conversation_intent"
	ConditionCustom             ConditionKind = "custom"
)

// Condition is a tagged variant: Kind decides which of the other fields apply.
type Condition struct {
	Kind      ConditionKind    `mapstructure:"kind" json:"kind"`
	TaskTypes []model.TaskType `mapstructure:"task-types" json:"task_types,omitempty"`
	Pattern   string           `mapstructure:"pattern" json:"pattern,omitempty"`
	Op        string           `mapstructure:"op" json:"op,omitempty"`
	Value     float64          `mapstructure:"value" json:"value,omitempty"`
	Flags     []string         `mapstructure:"flags" json:"flags,omitempty"`
	Intents   []string         `mapstructure:"intents" json:"intents,omitempty"`
	Custom    string           `mapstructure:"custom" json:"custom,omitempty"`
}

// Trigger is one declarative escalation rule.
type Trigger struct {
	Name      string                 `mapstructure:"name" json:"name"`
	Enabled   bool                   `mapstructure:"enabled" json:"enabled"`
	Condition Condition              `mapstructure:"condition" json:"condition"`
	Reason    model.EscalationReason `mapstructure:"reason" json:"reason"`
	Priority  model.Priority         `mapstructure:"priority" json:"priority"`
	Channels  []model.Channel        `mapstructure:"channels" json:"channels,omitempty"`
}

// Predicate is a named custom condition.
type Predicate func(Context) bool

// DefaultTriggers returns the built-in rule set.
func DefaultTriggers() []Trigger {
	return []Trigger{
		{
			Name:      "sensitive_task_type",
			Enabled:   true,
			Condition: Condition{Kind: ConditionTaskType, TaskTypes: []model.TaskType{model.TaskSendOffer, model.TaskDiscussCompensation, model.TaskRejectCandidate}},
			Reason:    model.ReasonSensitiveTaskType,
			Priority:  model.PriorityHigh,
			Channels:  []model.Channel{model.ChannelDashboard, model.ChannelChat},
		},
		{
			Name:      "compensation_mentioned",
			Enabled:   true,
			Condition: Condition{Kind: ConditionContentRegex, Pattern: `(?i)\b(salary|compensation|equity|signing bonus|stock options)\b|\$\s?\d{2,3}(,\d{3})+`},
			Reason:    model.ReasonSensitiveContent,
			Priority:  model.PriorityHigh,
			Channels:  []model.Channel{model.ChannelDashboard, model.ChannelChat},
		},
		{
			Name:      "low_confidence",
			Enabled:   true,
			Condition: Condition{Kind: ConditionConfidence, Op: "lt", Value: 0.7},
			Reason:    model.ReasonLowConfidence,
			Priority:  model.PriorityMedium,
			Channels:  []model.Channel{model.ChannelDashboard},
		},
		{
			Name:      "vip_candidate",
			Enabled:   true,
			Condition: Condition{Kind: ConditionCandidateFlag, Flags: []string{"vip", "executive", "referral"}},
			Reason:    model.ReasonVIPCandidate,
			Priority:  model.PriorityUrgent,
			Channels:  []model.Channel{model.ChannelDashboard, model.ChannelChat, model.ChannelEmail},
		},
		{
			Name:      "candidate_intent",
			Enabled:   true,
			Condition: Condition{Kind: ConditionConversationIntent, Intents: []string{"negotiating", "complaint", "legal", "opt_out"}},
			Reason:    model.ReasonCandidateIntent,
			Priority:  model.PriorityUrgent,
			Channels:  []model.Channel{model.ChannelDashboard, model.ChannelChat},
		},
		{
			Name:      "repeat_contact",
			Enabled:   true,
			Condition: Condition{Kind: ConditionCustom, Custom: "repeat_contact"},
			Reason:    model.ReasonCustomRule,
			Priority:  model.PriorityMedium,
			Channels:  []model.Channel{model.ChannelDashboard},
		},
	}
}

// BuiltinPredicates returns the custom predicates available to every decider.
func BuiltinPredicates() map[string]Predicate {
	return map[string]Predicate{
		// three or more earlier messages without a reply
		"repeat_contact": func(c Context) bool {
			return inputNumber(c.Input, "previous_contacts") >= 3
		},
		"senior_role": func(c Context) bool {
			level := strings.ToLower(inputString(c.Input, "role_level"))
			return slices.Contains([]string{"director", "vp", "c_level", "executive"}, level)
		},
	}
}

// DecodeTriggers reads trigger definitions from loosely typed config. Triggers are enabled unless
// the entry says otherwise.
func DecodeTriggers(raw []map[string]any) ([]Trigger, error) {
	triggers := make([]Trigger, 0, len(raw))
	for i, entry := range raw {
		t := Trigger{Enabled: true}
		decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result:           &t,
			WeaklyTypedInput: true,
			ErrorUnused:      true,
		})
		if err != nil {
			return nil, err
		}
		if err := decoder.Decode(entry); err != nil {
			return nil, fmt.Errorf("%w: trigger %d: %v", model.ErrValidation, i, err)
		}
		if strings.TrimSpace(t.Name) == "" {
			return nil, fmt.Errorf("%w: trigger %d: name is required", model.ErrValidation, i)
		}
		triggers = append(triggers, t)
	}
	return triggers, nil
}

// Merge lays configured triggers over the defaults: same name replaces, new names are appended.
func Merge(defaults, overrides []Trigger) []Trigger {
	merged := slices.Clone(defaults)
	for _, o := range overrides {
		i := slices.IndexFunc(merged, func(t Trigger) bool { return t.Name == o.Name })
		if i >= 0 {
			merged[i] = o
			continue
		}
		merged = append(merged, o)
	}
	return merged
}

type matcher func(Context) bool

func compile(t Trigger, predicates map[string]Predicate) (matcher, error) {
	c := t.Condition
	switch c.Kind {
	case ConditionTaskType:
		types := slices.Clone(c.TaskTypes)
		return func(ctx Context) bool { return slices.Contains(types, ctx.TaskType) }, nil
	case ConditionContentRegex:
		re, err := regexp.Compile(c.Pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern: %w", err)
		}
		return func(ctx Context) bool { return ctx.Content != "" && re.MatchString(ctx.Content) }, nil
	case ConditionConfidence:
		cmp, err := comparison(c.Op)
		if err != nil {
			return nil, err
		}
		value := c.Value
		return func(ctx Context) bool { return cmp(ctx.Confidence, value) }, nil
	case ConditionCandidateFlag:
		flags := lowered(c.Flags)
		return func(ctx Context) bool {
			return slices.ContainsFunc(ctx.CandidateFlags, func(f string) bool {
				return slices.Contains(flags, strings.ToLower(f))
			})
		}, nil
	case ConditionConversationIntent:
		intents := lowered(c.Intents)
		return func(ctx Context) bool {
			return ctx.ConversationIntent != "" && slices.Contains(intents, strings.ToLower(ctx.ConversationIntent))
		}, nil
	case ConditionCustom:
		p, ok := predicates[c.Custom]
		if !ok {
			return nil, fmt.Errorf("unknown custom predicate %q", c.Custom)
		}
		return matcher(p), nil
	default:
		return nil, fmt.Errorf("unknown condition kind %q", c.Kind)
	}
}

func comparison(op string) (func(a, b float64) bool, error) {
	switch op {
	case "lt", "<":
		return func(a, b float64) bool { return a < b }, nil
	case "lte", "<=":
		return func(a, b float64) bool { return a <= b }, nil
	case "gt", ">":
		return func(a, b float64) bool { return a > b }, nil
	case "gte", ">=":
		return func(a, b float64) bool { return a >= b }, nil
	default:
		return nil, fmt.Errorf("unknown comparison %q", op)
	}
}

func lowered(values []string) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = strings.ToLower(strings.TrimSpace(v))
	}
	return out
}

func inputString(input map[string]any, key string) string {
	if v, ok := input[key].(string); ok {
		return v
	}
	return ""
}

func inputNumber(input map[string]any, key string) float64 {
	switch v := input[key].(type) {
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case float64:
		return v
	default:
		return 0
	}
}
