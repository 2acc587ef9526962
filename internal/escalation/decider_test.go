package escalation

import (
	"errors"
	"slices"
	"testing"

	"github.com/spigell/recruiter-loop/internal/model"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func mustDecider(t *testing.T, triggers []Trigger, opts ...Option) *Decider {
	t.Helper()
	d, err := New(triggers, opts...)
	if err != nil {
		t.Fatalf("new decider: %v", err)
	}
	return d
}

func TestDecideCollectsAllMatches(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	d := mustDecider(t, DefaultTriggers(), WithLogger(zap.New(core)))

	decision := d.Decide(Context{
		TaskType:       model.TaskSendOutreach,
		Content:        "We can offer a base salary of $180,000.",
		Confidence:     0.95,
		CandidateFlags: []string{"VIP"},
	}, TenantPolicy{Autonomy: AutonomyBalanced})

	if !decision.Escalate {
		t.Fatalf("expected escalation")
	}
	if !slices.Equal(decision.Triggers, []string{"compensation_mentioned", "vip_candidate"}) {
		t.Fatalf("unexpected triggers %v", decision.Triggers)
	}
	if decision.Reason != model.ReasonVIPCandidate || decision.Priority != model.PriorityUrgent {
		t.Fatalf("expected urgent vip reason, got %s/%s", decision.Reason, decision.Priority)
	}
	want := []model.Channel{model.ChannelDashboard, model.ChannelChat, model.ChannelEmail}
	if !slices.Equal(decision.Channels, want) {
		t.Fatalf("expected channel union %v, got %v", want, decision.Channels)
	}
	if decision.Message != "escalation triggered by: compensation_mentioned, vip_candidate" {
		t.Fatalf("unexpected message %q", decision.Message)
	}
	if logs.FilterMessage("escalation triggers matched").Len() != 1 {
		t.Fatalf("expected debug log for matches")
	}
}

func TestDecideNoMatch(t *testing.T) {
	d := mustDecider(t, DefaultTriggers())

	decision := d.Decide(Context{
		TaskType:   model.TaskSendOutreach,
		Content:    "Hi Ana, your work on distributed tracing caught our eye.",
		Confidence: 0.92,
		Input:      map[string]any{"previous_contacts": 1},
	}, TenantPolicy{Autonomy: AutonomyHigh})

	if decision.Escalate || len(decision.Triggers) != 0 {
		t.Fatalf("expected no escalation, got %+v", decision)
	}
}

func TestDecideTenantOverridesShortCircuit(t *testing.T) {
	d := mustDecider(t, DefaultTriggers())
	calm := Context{TaskType: model.TaskSendFollowUp, Content: "Checking in.", Confidence: 0.99}

	tests := []struct {
		name    string
		tenant  TenantPolicy
		trigger string
	}{
		{name: "conservative", tenant: TenantPolicy{Autonomy: AutonomyConservative}, trigger: "tenant_autonomy"},
		{name: "task override", tenant: TenantPolicy{Autonomy: AutonomyHigh, Overrides: []model.TaskType{model.TaskSendFollowUp}}, trigger: "tenant_override:send_follow_up"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision := d.Decide(calm, tt.tenant)
			if !decision.Escalate || decision.Reason != model.ReasonTenantPolicy {
				t.Fatalf("expected tenant policy escalation, got %+v", decision)
			}
			if len(decision.Triggers) != 1 || decision.Triggers[0] != tt.trigger {
				t.Fatalf("expected only %s, got %v", tt.trigger, decision.Triggers)
			}
			if !slices.Equal(decision.Channels, []model.Channel{model.ChannelDashboard}) {
				t.Fatalf("expected default dashboard channel, got %v", decision.Channels)
			}
		})
	}
}

func TestDecideConditions(t *testing.T) {
	d := mustDecider(t, DefaultTriggers())

	tests := []struct {
		name   string
		ctx    Context
		reason model.EscalationReason
	}{
		{name: "sensitive type", ctx: Context{TaskType: model.TaskSendOffer, Confidence: 1}, reason: model.ReasonSensitiveTaskType},
		{name: "low confidence", ctx: Context{TaskType: model.TaskSendOutreach, Confidence: 0.5}, reason: model.ReasonLowConfidence},
		{name: "intent", ctx: Context{TaskType: model.TaskSendFollowUp, Confidence: 1, ConversationIntent: "Complaint"}, reason: model.ReasonCandidateIntent},
		{name: "custom predicate", ctx: Context{TaskType: model.TaskSendFollowUp, Confidence: 1, Input: map[string]any{"previous_contacts": 4}}, reason: model.ReasonCustomRule},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision := d.Decide(tt.ctx, TenantPolicy{})
			if !decision.Escalate || decision.Reason != tt.reason {
				t.Fatalf("expected %s, got %+v", tt.reason, decision)
			}
		})
	}
}

func TestDisabledTriggerIsSkipped(t *testing.T) {
	triggers := DefaultTriggers()
	for i := range triggers {
		if triggers[i].Name == "low_confidence" {
			triggers[i].Enabled = false
		}
	}
	d := mustDecider(t, triggers)

	decision := d.Decide(Context{TaskType: model.TaskSendOutreach, Confidence: 0.1}, TenantPolicy{})
	if decision.Escalate {
		t.Fatalf("disabled trigger must not fire: %+v", decision)
	}
	for _, s := range d.Describe() {
		if s.Name == "low_confidence" && s.Enabled {
			t.Fatalf("describe should report trigger disabled")
		}
	}
}

func TestAddingTriggersNeverRemovesEscalation(t *testing.T) {
	contexts := []Context{
		{TaskType: model.TaskSendOutreach, Confidence: 0.4},
		{TaskType: model.TaskSendOffer, Confidence: 0.99},
		{TaskType: model.TaskSendFollowUp, Confidence: 0.95, CandidateFlags: []string{"referral"}},
		{TaskType: model.TaskSendOutreach, Confidence: 0.95},
	}
	extra := Trigger{
		Name:      "interview_scheduling",
		Enabled:   true,
		Condition: Condition{Kind: ConditionTaskType, TaskTypes: []model.TaskType{model.TaskScheduleInterview}},
		Reason:    model.ReasonCustomRule,
		Priority:  model.PriorityLow,
		Channels:  []model.Channel{model.ChannelEmail},
	}

	base := DefaultTriggers()
	for n := 1; n <= len(base); n++ {
		smaller := mustDecider(t, base[:n-1])
		larger := mustDecider(t, append(slices.Clone(base[:n]), extra))
		for _, c := range contexts {
			before := smaller.Decide(c, TenantPolicy{})
			after := larger.Decide(c, TenantPolicy{})
			if before.Escalate && !after.Escalate {
				t.Fatalf("adding triggers removed escalation for %+v", c)
			}
			if after.Escalate && before.Escalate && after.Priority.Rank() < before.Priority.Rank() {
				t.Fatalf("adding triggers lowered priority for %+v", c)
			}
		}
	}
}

func TestNewRejectsInvalidTriggers(t *testing.T) {
	tests := []struct {
		name      string
		condition Condition
	}{
		{name: "bad regex", condition: Condition{Kind: ConditionContentRegex, Pattern: "("}},
		{name: "unknown predicate", condition: Condition{Kind: ConditionCustom, Custom: "moon_phase"}},
		{name: "bad comparison", condition: Condition{Kind: ConditionConfidence, Op: "about"}},
		{name: "unknown kind", condition: Condition{Kind: "weather"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New([]Trigger{{Name: tt.name, Enabled: true, Condition: tt.condition}})
			if !errors.Is(err, model.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestWithPredicate(t *testing.T) {
	trigger := Trigger{
		Name:      "night_shift",
		Enabled:   true,
		Condition: Condition{Kind: ConditionCustom, Custom: "night_shift"},
		Reason:    model.ReasonCustomRule,
		Priority:  model.PriorityLow,
	}
	d := mustDecider(t, []Trigger{trigger}, WithPredicate("night_shift", func(c Context) bool {
		return c.Input["shift"] == "night"
	}))

	if !d.Decide(Context{Input: map[string]any{"shift": "night"}}, TenantPolicy{}).Escalate {
		t.Fatalf("expected registered predicate to match")
	}
}

func TestDecodeTriggersAndMerge(t *testing.T) {
	raw := []map[string]any{
		{
			"name":      "low_confidence",
			"condition": map[string]any{"kind": "confidence", "op": "lt", "value": "0.85"},
			"reason":    "low_confidence",
			"priority":  "high",
			"channels":  []any{"dashboard"},
		},
		{
			"name":      "competitor",
			"enabled":   false,
			"condition": map[string]any{"kind": "candidate_flag", "flags": []any{"competitor"}},
			"reason":    "custom_rule",
			"priority":  "low",
		},
	}

	configured, err := DecodeTriggers(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !configured[0].Enabled || configured[1].Enabled {
		t.Fatalf("expected enabled default with explicit opt-out, got %v/%v", configured[0].Enabled, configured[1].Enabled)
	}
	if configured[0].Condition.Value != 0.85 {
		t.Fatalf("expected weakly typed value, got %v", configured[0].Condition.Value)
	}

	merged := Merge(DefaultTriggers(), configured)
	if len(merged) != len(DefaultTriggers())+1 {
		t.Fatalf("expected one appended trigger, got %d", len(merged))
	}
	d := mustDecider(t, merged)
	decision := d.Decide(Context{TaskType: model.TaskSendOutreach, Confidence: 0.8}, TenantPolicy{})
	if !decision.Escalate || decision.Priority != model.PriorityHigh {
		t.Fatalf("expected overridden threshold to fire with high priority, got %+v", decision)
	}
}

func TestDecodeTriggersRejectsUnknownKeys(t *testing.T) {
	_, err := DecodeTriggers([]map[string]any{{"name": "x", "colour": "red"}})
	if !errors.Is(err, model.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	_, err = DecodeTriggers([]map[string]any{{"reason": "custom_rule"}})
	if !errors.Is(err, model.ErrValidation) {
		t.Fatalf("expected missing name error, got %v", err)
	}
}
