package policy

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/spigell/recruiter-loop/internal/model"

	"github.com/google/uuid"
)

// MemoryStore keeps policy versions in process memory.
type MemoryStore struct {
	mu       sync.Mutex
	versions map[string]*model.PolicyVersion
	now      func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		versions: make(map[string]*model.PolicyVersion),
		now:      time.Now,
	}
}

func (s *MemoryStore) Active(_ context.Context, tenantID string, kind model.PolicyKind) (*model.PolicyVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, v := range s.versions {
		if v.TenantID == tenantID && v.Kind == kind && v.Status == model.PolicyActive {
			return clone(v), nil
		}
	}
	return nil, notFound("no active %s for tenant %s", kind, tenantID)
}

func (s *MemoryStore) Version(_ context.Context, id string) (*model.PolicyVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.versions[id]
	if !ok {
		return nil, notFound("policy version %s", id)
	}
	return clone(v), nil
}

func (s *MemoryStore) List(_ context.Context, tenantID string, kind model.PolicyKind) ([]*model.PolicyVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.PolicyVersion
	for _, v := range s.versions {
		if v.TenantID == tenantID && v.Kind == kind {
			out = append(out, clone(v))
		}
	}
	slices.SortFunc(out, func(a, b *model.PolicyVersion) int { return a.Number - b.Number })
	return out, nil
}

func (s *MemoryStore) DraftGuidelines(ctx context.Context, tenantID string, content model.Document, parentID string, author model.Author) (*model.PolicyVersion, error) {
	return s.CreateDraft(ctx, Draft{
		TenantID: tenantID,
		Kind:     model.KindGuidelines,
		Content:  content,
		ParentID: parentID,
		Author:   author,
	})
}

func (s *MemoryStore) CreateDraft(_ context.Context, d Draft) (*model.PolicyVersion, error) {
	if err := validateDraft(d); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	number := 1
	for _, v := range s.versions {
		if v.TenantID != d.TenantID || v.Kind != d.Kind {
			continue
		}
		if d.Source != "" && v.Source == d.Source {
			return clone(v), nil
		}
		if v.Number >= number {
			number = v.Number + 1
		}
	}

	v := &model.PolicyVersion{
		ID:        uuid.NewString(),
		TenantID:  d.TenantID,
		Kind:      d.Kind,
		Number:    number,
		Status:    model.PolicyDraft,
		Content:   append(model.Document(nil), d.Content...),
		Author:    d.Author,
		ParentID:  d.ParentID,
		Source:    d.Source,
		CreatedAt: s.now().UTC(),
	}
	s.versions[v.ID] = v
	return clone(v), nil
}

// Activate promotes a draft and archives the previous active version in one step.
func (s *MemoryStore) Activate(_ context.Context, id string, actor model.Author) (*model.PolicyVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.versions[id]
	if !ok {
		return nil, notFound("policy version %s", id)
	}
	if err := checkDecision(v, actor); err != nil {
		return nil, err
	}

	for _, other := range s.versions {
		if other.TenantID == v.TenantID && other.Kind == v.Kind && other.Status == model.PolicyActive {
			other.Status = model.PolicyArchived
		}
	}

	now := s.now().UTC()
	v.Status = model.PolicyActive
	v.ActivatedAt = &now
	v.DecidedBy = actor.ID
	return clone(v), nil
}

func (s *MemoryStore) Reject(_ context.Context, id string, actor model.Author) (*model.PolicyVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.versions[id]
	if !ok {
		return nil, notFound("policy version %s", id)
	}
	if err := checkDecision(v, actor); err != nil {
		return nil, err
	}

	v.Status = model.PolicyRejected
	v.DecidedBy = actor.ID
	return clone(v), nil
}

func clone(v *model.PolicyVersion) *model.PolicyVersion {
	c := *v
	c.Content = append(model.Document(nil), v.Content...)
	if v.ActivatedAt != nil {
		at := *v.ActivatedAt
		c.ActivatedAt = &at
	}
	return &c
}
