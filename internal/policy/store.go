// Package policy stores versioned Guidelines and Criteria documents per tenant.
package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spigell/recruiter-loop/internal/model"
)

// Reader is the read-only view handed to the convergence engine.
type Reader interface {
	Active(ctx context.Context, tenantID string, kind model.PolicyKind) (*model.PolicyVersion, error)
}

// GuidelinesDrafter persists agent-proposed Guidelines. It cannot touch Criteria.
type GuidelinesDrafter interface {
	DraftGuidelines(ctx context.Context, tenantID string, content model.Document, parentID string, author model.Author) (*model.PolicyVersion, error)
}

// Draft describes a new policy version.
type Draft struct {
	TenantID string
	Kind     model.PolicyKind
	Content  model.Document
	ParentID string
	Author   model.Author
	// Source is an optional idempotency key. A second draft with the same tenant, kind
	// and source returns the existing version instead of creating a new one.
	Source string
}

// Store is the full policy store used by humans and the feedback processor.
type Store interface {
	Reader
	GuidelinesDrafter
	Version(ctx context.Context, id string) (*model.PolicyVersion, error)
	List(ctx context.Context, tenantID string, kind model.PolicyKind) ([]*model.PolicyVersion, error)
	CreateDraft(ctx context.Context, d Draft) (*model.PolicyVersion, error)
	Activate(ctx context.Context, id string, actor model.Author) (*model.PolicyVersion, error)
	Reject(ctx context.Context, id string, actor model.Author) (*model.PolicyVersion, error)
}

func validateDraft(d Draft) error {
	if strings.TrimSpace(d.TenantID) == "" {
		return fmt.Errorf("%w: tenant id is required", model.ErrValidation)
	}
	switch d.Kind {
	case model.KindGuidelines, model.KindCriteria:
	default:
		return fmt.Errorf("%w: unknown policy kind %q", model.ErrValidation, d.Kind)
	}
	if err := checkAuthor(d.Kind, d.Author); err != nil {
		return err
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(d.Content, &obj); err != nil {
		return fmt.Errorf("%w: policy content must be a JSON object: %v", model.ErrValidation, err)
	}
	return nil
}

func checkAuthor(kind model.PolicyKind, actor model.Author) error {
	if strings.TrimSpace(actor.ID) == "" {
		return fmt.Errorf("%w: author is required", model.ErrValidation)
	}
	if kind == model.KindCriteria && actor.Kind != model.AuthorHuman {
		return model.ErrCriteriaReadOnly
	}
	return nil
}

func checkDecision(v *model.PolicyVersion, actor model.Author) error {
	if err := checkAuthor(v.Kind, actor); err != nil {
		return err
	}
	if v.Status != model.PolicyDraft {
		return fmt.Errorf("%w: version %s is %s, not draft", model.ErrInvalidTransition, v.ID, v.Status)
	}
	return nil
}

func notFound(format string, args ...any) error {
	return fmt.Errorf("%w: %s", model.ErrNotFound, fmt.Sprintf(format, args...))
}
