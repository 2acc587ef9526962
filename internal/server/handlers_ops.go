package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spigell/recruiter-loop/internal/autoapprove"
	"github.com/spigell/recruiter-loop/internal/evaluator"
	"github.com/spigell/recruiter-loop/internal/model"

	"github.com/go-chi/chi/v5"
)

type evaluationRequest struct {
	TaskType model.TaskType        `json:"task_type"`
	Output   string                `json:"output"`
	Human    *evaluator.HumanScore `json:"human,omitempty"`
}

func (s *Server) rubric(r *http.Request, taskType model.TaskType) (model.Rubric, error) {
	criteria, err := s.Policies.Active(r.Context(), chi.URLParam(r, "tenant"), model.KindCriteria)
	if err != nil {
		return model.Rubric{}, err
	}
	return model.ParseRubric(criteria.Content, taskType)
}

func (s *Server) decodeEvaluation(w http.ResponseWriter, r *http.Request) (evaluationRequest, model.Rubric, bool) {
	var body evaluationRequest
	if err := decodeJSON(r, &body); err != nil {
		s.fail(w, r, err)
		return body, model.Rubric{}, false
	}
	if strings.TrimSpace(body.Output) == "" {
		s.fail(w, r, fmt.Errorf("%w: output is required", model.ErrValidation))
		return body, model.Rubric{}, false
	}
	rubric, err := s.rubric(r, body.TaskType)
	if err != nil {
		s.fail(w, r, err)
		return body, model.Rubric{}, false
	}
	return body, rubric, true
}

func (s *Server) handleQuickCheck(w http.ResponseWriter, r *http.Request) {
	body, rubric, ok := s.decodeEvaluation(w, r)
	if !ok {
		return
	}
	result, err := s.Evaluator.QuickCheck(r.Context(), body.TaskType, body.Output, rubric)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleCalibrate(w http.ResponseWriter, r *http.Request) {
	body, rubric, ok := s.decodeEvaluation(w, r)
	if !ok {
		return
	}
	if body.Human == nil {
		s.fail(w, r, fmt.Errorf("%w: human score is required", model.ErrValidation))
		return
	}
	result, err := s.Evaluator.Calibrate(r.Context(), body.TaskType, body.Output, *body.Human, rubric)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleTriggers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"triggers": s.Decider.Describe()})
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	if s.Dashboard == nil {
		writeJSON(w, http.StatusOK, map[string]any{"notifications": []any{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": s.Dashboard.Feed(chi.URLParam(r, "tenant"))})
}

func (s *Server) day(r *http.Request) (time.Time, error) {
	raw := r.URL.Query().Get("day")
	if raw == "" {
		return s.now(), nil
	}
	day, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: day must be YYYY-MM-DD", model.ErrValidation)
	}
	return day, nil
}

func (s *Server) handleAutoApprovals(w http.ResponseWriter, r *http.Request) {
	day, err := s.day(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	tenantID := chi.URLParam(r, "tenant")
	count, err := s.Counter.Count(r.Context(), tenantID, day)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tenant_id": tenantID,
		"day":       autoapprove.DayKey(day),
		"count":     count,
		"limit":     s.Orchestrator.Tenant(tenantID).AutoApproval.MaxDaily,
	})
}

// handleResetAutoApprovals serves both the per-tenant and the global reset routes.
func (s *Server) handleResetAutoApprovals(w http.ResponseWriter, r *http.Request) {
	day, err := s.day(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	tenantID := chi.URLParam(r, "tenant")
	if err := s.Counter.Reset(r.Context(), tenantID, day); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
