package server

import (
	"fmt"
	"net/http"

	"github.com/spigell/recruiter-loop/internal/intake"
	"github.com/spigell/recruiter-loop/internal/model"
	"github.com/spigell/recruiter-loop/internal/orchestrator"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleProcessTask(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.Request
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	out, err := s.Orchestrator.ProcessTask(r.Context(), req, s.Orchestrator.Tenant(req.TenantID))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleProcessBatch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Requests []orchestrator.Request `json:"requests"`
	}
	if err := decodeJSON(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	if len(body.Requests) == 0 {
		s.fail(w, r, fmt.Errorf("%w: requests are required", model.ErrValidation))
		return
	}

	reqs := body.Requests
	var dropped []intake.Dropped
	if s.Intake != nil {
		var err error
		if reqs, dropped, err = s.Intake.Run(r.Context(), reqs); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"results": s.Orchestrator.ProcessBatch(r.Context(), reqs),
		"dropped": dropped,
	})
}

func (s *Server) handleIntakeFilters(w http.ResponseWriter, r *http.Request) {
	var statuses []intake.Status
	if s.Intake != nil {
		statuses = s.Intake.Describe()
	}
	writeJSON(w, http.StatusOK, map[string]any{"filters": statuses})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.Tasks.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleExecuteTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.Orchestrator.ExecuteTask(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.Orchestrator.CancelTask(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}
