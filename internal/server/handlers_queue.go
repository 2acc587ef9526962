package server

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/spigell/recruiter-loop/internal/model"
	"github.com/spigell/recruiter-loop/internal/queue"

	"github.com/go-chi/chi/v5"
)

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func convertList[T ~string](values []string) []T {
	out := make([]T, 0, len(values))
	for _, v := range values {
		out = append(out, T(v))
	}
	return out
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", model.ErrValidation, name)
	}
	return n, nil
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		s.fail(w, r, err)
		return
	}

	page, err := s.Queue.GetPending(r.Context(), queue.Filter{
		TenantID:   q.Get("tenant"),
		Types:      convertList[model.TaskType](splitList(q.Get("type"))),
		Priorities: convertList[model.Priority](splitList(q.Get("priority"))),
		Reasons:    convertList[model.EscalationReason](splitList(q.Get("reason"))),
		AssignedTo: q.Get("assigned_to"),
		Unassigned: q.Get("unassigned") == "true",
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.Queue.GetStats(r.Context(), r.URL.Query().Get("tenant"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Operator string `json:"operator"`
	}
	if err := decodeJSON(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	task, err := s.Queue.Assign(r.Context(), chi.URLParam(r, "id"), body.Operator)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleUnassign(w http.ResponseWriter, r *http.Request) {
	task, err := s.Queue.Unassign(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleAutoAssign(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TenantID       string   `json:"tenant_id"`
		Operators      []string `json:"operators"`
		MaxPerOperator int      `json:"max_per_operator"`
	}
	if err := decodeJSON(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	assignments, err := s.Queue.AutoAssign(r.Context(), body.TenantID, body.Operators, body.MaxPerOperator)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"assignments": assignments})
}

func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request) {
	var d queue.Decision
	if err := decodeJSON(r, &d); err != nil {
		s.fail(w, r, err)
		return
	}
	d.TaskID = chi.URLParam(r, "id")
	task, err := s.Queue.ProcessDecision(r.Context(), d)
	if err != nil && task == nil {
		s.fail(w, r, err)
		return
	}
	if err != nil {
		// The decision was recorded but execution could not be queued.
		writeJSON(w, http.StatusAccepted, map[string]any{"task": task, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleBatchDecision(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Action   queue.Action `json:"action"`
		TaskIDs  []string     `json:"task_ids"`
		Operator string       `json:"operator"`
		Reason   string       `json:"reason,omitempty"`
	}
	if err := decodeJSON(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}

	var result queue.BatchResult
	switch body.Action {
	case queue.ActionApprove:
		result = s.Queue.BatchApprove(r.Context(), body.TaskIDs, body.Operator)
	case queue.ActionReject:
		result = s.Queue.BatchReject(r.Context(), body.TaskIDs, body.Operator, body.Reason)
	default:
		s.fail(w, r, fmt.Errorf("%w: batch action must be approve or reject", model.ErrValidation))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleExpire(w http.ResponseWriter, r *http.Request) {
	expired, err := s.Queue.ProcessExpiredTasks(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"expired": expired})
}
