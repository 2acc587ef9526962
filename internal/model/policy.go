package model

import (
	"encoding/json"
	"time"
)

// PolicyKind distinguishes the two versioned documents a tenant owns.
type PolicyKind string

const (
	// KindGuidelines is the generative policy the agent may propose edits to.
	KindGuidelines PolicyKind = "guidelines"
	// KindCriteria is the evaluative rubric only humans may change.
	KindCriteria PolicyKind = "criteria"
)

// PolicyStatus is the lifecycle state of a policy version.
type PolicyStatus string

const (
	PolicyDraft    PolicyStatus = "draft"
	PolicyActive   PolicyStatus = "active"
	PolicyArchived PolicyStatus = "archived"
	PolicyRejected PolicyStatus = "rejected"
)

// AuthorKind identifies who produced a policy change.
type AuthorKind string

const (
	AuthorHuman AuthorKind = "human"
	AuthorAgent AuthorKind = "agent"
)

// Author records the actor behind a policy change.
type Author struct {
	Kind AuthorKind `json:"kind"`
	ID   string     `json:"id"`
	Via  string     `json:"via,omitempty"`
}

// Human builds a human author.
func Human(id string) Author { return Author{Kind: AuthorHuman, ID: id} }

// Agent builds an agent author.
func Agent(via string) Author { return Author{Kind: AuthorAgent, ID: "agent", Via: via} }

// Document is a JSON policy body.
type Document = json.RawMessage

// PolicyVersion is one immutable revision of a tenant policy.
type PolicyVersion struct {
	ID          string       `json:"id"`
	TenantID    string       `json:"tenant_id"`
	Kind        PolicyKind   `json:"kind"`
	Number      int          `json:"number"`
	Status      PolicyStatus `json:"status"`
	Content     Document     `json:"content"`
	Author      Author       `json:"author"`
	ParentID    string       `json:"parent_id,omitempty"`
	Source      string       `json:"source,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	ActivatedAt *time.Time   `json:"activated_at,omitempty"`
	DecidedBy   string       `json:"decided_by,omitempty"`
}

// EditOp is the kind of change a learning proposes.
type EditOp string

const (
	EditAdd    EditOp = "add"
	EditModify EditOp = "modify"
	EditRemove EditOp = "remove"
	// EditReplace swaps a whole section, produced by regeneration.
	EditReplace EditOp = "replace"
)

// Edit is a path-addressed change to a Guidelines document.
type Edit struct {
	Path      string          `json:"path"`
	Op        EditOp          `json:"op"`
	Value     json.RawMessage `json:"value,omitempty"`
	Rationale string          `json:"rationale,omitempty"`
}

// Guidelines sections that hold structure rather than wording.
const (
	SectionWorkflows     = "workflows"
	SectionDecisionTrees = "decision_trees"
	SectionTemplates     = "templates"
	SectionConstraints   = "constraints"
)
