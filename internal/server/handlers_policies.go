package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/spigell/recruiter-loop/internal/model"
	"github.com/spigell/recruiter-loop/internal/policy"

	"github.com/go-chi/chi/v5"
)

func policyKind(r *http.Request) (model.PolicyKind, error) {
	kind := model.PolicyKind(chi.URLParam(r, "kind"))
	switch kind {
	case model.KindGuidelines, model.KindCriteria:
		return kind, nil
	}
	return "", fmt.Errorf("%w: unknown policy kind %q", model.ErrValidation, kind)
}

func (s *Server) handleListPolicies(w http.ResponseWriter, r *http.Request) {
	kind, err := policyKind(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	versions, err := s.Policies.List(r.Context(), chi.URLParam(r, "tenant"), kind)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"versions": versions})
}

func (s *Server) handleActivePolicy(w http.ResponseWriter, r *http.Request) {
	kind, err := policyKind(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	v, err := s.Policies.Active(r.Context(), chi.URLParam(r, "tenant"), kind)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	v, err := s.Policies.Version(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// handleDraftPolicy stores a human-authored draft. Drafts never go live until activated.
func (s *Server) handleDraftPolicy(w http.ResponseWriter, r *http.Request) {
	kind, err := policyKind(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var body struct {
		Operator string          `json:"operator"`
		ParentID string          `json:"parent_id,omitempty"`
		Content  json.RawMessage `json:"content"`
	}
	if err := decodeJSON(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	v, err := s.Policies.CreateDraft(r.Context(), policy.Draft{
		TenantID: chi.URLParam(r, "tenant"),
		Kind:     kind,
		Content:  model.Document(body.Content),
		ParentID: body.ParentID,
		Author:   model.Human(body.Operator),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

type policyDecision struct {
	Operator string `json:"operator"`
}

func (s *Server) handleActivatePolicy(w http.ResponseWriter, r *http.Request) {
	var body policyDecision
	if err := decodeJSON(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	v, err := s.Policies.Activate(r.Context(), chi.URLParam(r, "id"), model.Human(body.Operator))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleRejectPolicy(w http.ResponseWriter, r *http.Request) {
	var body policyDecision
	if err := decodeJSON(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	v, err := s.Policies.Reject(r.Context(), chi.URLParam(r, "id"), model.Human(body.Operator))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleComparePolicies(w http.ResponseWriter, r *http.Request) {
	from, to := strings.TrimSpace(r.URL.Query().Get("from")), strings.TrimSpace(r.URL.Query().Get("to"))
	if from == "" || to == "" {
		s.fail(w, r, fmt.Errorf("%w: from and to version ids are required", model.ErrValidation))
		return
	}
	a, err := s.Policies.Version(r.Context(), from)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	b, err := s.Policies.Version(r.Context(), to)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if a.TenantID != b.TenantID || a.Kind != b.Kind {
		s.fail(w, r, fmt.Errorf("%w: versions belong to different policies", model.ErrValidation))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"from":    a.Number,
		"to":      b.Number,
		"changes": policy.Compare(a.Content, b.Content),
	})
}
