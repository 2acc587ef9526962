// Package model contains the domain types shared by the control loops.
package model

import (
	"slices"
	"time"
)

// TaskType is a recruiting action the agent can perform.
type TaskType string

const (
	TaskSearchStrategy      TaskType = "generate_search_strategy"
	TaskScreenCandidate     TaskType = "screen_candidate"
	TaskDraftOutreach       TaskType = "draft_outreach"
	TaskSendOutreach        TaskType = "send_outreach"
	TaskSendFollowUp        TaskType = "send_follow_up"
	TaskScheduleInterview   TaskType = "schedule_interview"
	TaskSendOffer           TaskType = "send_offer"
	TaskDiscussCompensation TaskType = "discuss_compensation"
	TaskRejectCandidate     TaskType = "reject_candidate"
)

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	StatusDraft           TaskStatus = "draft"
	StatusPendingApproval TaskStatus = "pending_approval"
	StatusApproved        TaskStatus = "approved"
	StatusRejected        TaskStatus = "rejected"
	StatusExecuting       TaskStatus = "executing"
	StatusCompleted       TaskStatus = "completed"
	StatusFailed          TaskStatus = "failed"
	StatusExpired         TaskStatus = "expired"
	StatusCancelled       TaskStatus = "cancelled"
)

var transitions = map[TaskStatus][]TaskStatus{
	StatusDraft:           {StatusCompleted, StatusPendingApproval, StatusApproved},
	StatusPendingApproval: {StatusApproved, StatusRejected, StatusExpired},
	StatusApproved:        {StatusExecuting, StatusCancelled},
	StatusExecuting:       {StatusCompleted, StatusFailed},
}

// CanTransition reports whether the state machine allows moving from one status to another.
func CanTransition(from, to TaskStatus) bool {
	return slices.Contains(transitions[from], to)
}

// Terminal reports whether no further transition is possible.
func (s TaskStatus) Terminal() bool {
	return len(transitions[s]) == 0
}

// Priority orders escalations and queued tasks.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Rank returns a comparable weight, higher is more urgent. Unknown values rank below low.
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

// EscalationReason explains why a task is waiting for a human.
type EscalationReason string

const (
	ReasonLowConfidence     EscalationReason = "low_confidence"
	ReasonNotConverged      EscalationReason = "not_converged"
	ReasonSensitiveTaskType EscalationReason = "sensitive_task_type"
	ReasonSensitiveContent  EscalationReason = "sensitive_content"
	ReasonVIPCandidate      EscalationReason = "vip_candidate"
	ReasonCandidateIntent   EscalationReason = "candidate_intent"
	ReasonConstraint        EscalationReason = "constraint"
	ReasonTenantPolicy      EscalationReason = "tenant_policy"
	ReasonCustomRule        EscalationReason = "custom_rule"
	ReasonGatedTaskType     EscalationReason = "gated_task_type"
)

// TaskClass describes how a task type may reach the outside world.
type TaskClass string

const (
	// ClassSandboxed tasks have no external side effects.
	ClassSandboxed TaskClass = "sandboxed"
	// ClassEffectful tasks act externally and may be auto-approved under tenant policy.
	ClassEffectful TaskClass = "effectful"
	// ClassGated tasks act externally and always wait for a human.
	ClassGated TaskClass = "gated"
)

// Task is a unit of agent work.
type Task struct {
	ID               string           `json:"id"`
	TenantID         string           `json:"tenant_id"`
	Type             TaskType         `json:"type"`
	Status           TaskStatus       `json:"status"`
	Priority         Priority         `json:"priority"`
	EscalationReason EscalationReason `json:"escalation_reason,omitempty"`
	Payload          TaskPayload      `json:"payload"`
	RunID            string           `json:"run_id,omitempty"`
	Iterations       int              `json:"iterations"`
	Confidence       float64          `json:"confidence"`
	AssignedTo       string           `json:"assigned_to,omitempty"`
	AssignedAt       *time.Time       `json:"assigned_at,omitempty"`
	DecidedBy        string           `json:"decided_by,omitempty"`
	RejectionReason  string           `json:"rejection_reason,omitempty"`
	Error            string           `json:"error,omitempty"`
	Result           map[string]any   `json:"result,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
	ExpiresAt        *time.Time       `json:"expires_at,omitempty"`
}

// TaskPayload carries the request input alongside the generated content.
type TaskPayload struct {
	Input   map[string]any `json:"input,omitempty"`
	Content string         `json:"content,omitempty"`
	Edited  bool           `json:"edited,omitempty"`
}

// Expired reports whether a pending task has outlived its approval window.
func (t *Task) Expired(now time.Time) bool {
	return t.Status == StatusPendingApproval && t.ExpiresAt != nil && now.After(*t.ExpiresAt)
}

// Clone returns a deep enough copy for repositories to hand out without sharing maps.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	if t.Payload.Input != nil {
		c.Payload.Input = make(map[string]any, len(t.Payload.Input))
		for k, v := range t.Payload.Input {
			c.Payload.Input[k] = v
		}
	}
	if t.Result != nil {
		c.Result = make(map[string]any, len(t.Result))
		for k, v := range t.Result {
			c.Result[k] = v
		}
	}
	if t.AssignedAt != nil {
		at := *t.AssignedAt
		c.AssignedAt = &at
	}
	if t.ExpiresAt != nil {
		at := *t.ExpiresAt
		c.ExpiresAt = &at
	}
	return &c
}
