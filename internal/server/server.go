// Package server provides the HTTP API of the recruiter loop.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spigell/recruiter-loop/internal/autoapprove"
	"github.com/spigell/recruiter-loop/internal/escalation"
	"github.com/spigell/recruiter-loop/internal/evaluator"
	"github.com/spigell/recruiter-loop/internal/intake"
	"github.com/spigell/recruiter-loop/internal/model"
	"github.com/spigell/recruiter-loop/internal/notify"
	"github.com/spigell/recruiter-loop/internal/orchestrator"
	"github.com/spigell/recruiter-loop/internal/policy"
	"github.com/spigell/recruiter-loop/internal/queue"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// Deps are the components the API exposes. Intake, Dashboard and Metrics may be nil.
type Deps struct {
	Orchestrator *orchestrator.Orchestrator
	Queue        *queue.Queue
	Tasks        queue.Repository
	Policies     policy.Store
	Evaluator    *evaluator.Evaluator
	Decider      *escalation.Decider
	Counter      autoapprove.Counter
	Dashboard    *notify.DashboardSink
	Intake       *intake.Pipeline
	Metrics      http.Handler
}

// Server is the HTTP API server.
type Server struct {
	Deps
	router  chi.Router
	origins []string
	now     func() time.Time
	logger  *zap.Logger
}

type Option func(*Server)

// WithAllowedOrigins sets the CORS origins. The default allows any origin.
func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) {
		if len(origins) > 0 {
			s.origins = origins
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// New creates a new Server.
func New(deps Deps, opts ...Option) *Server {
	s := &Server{
		Deps:    deps,
		origins: []string{"*"},
		now:     time.Now,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.buildRouter()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/api/v1/health", s.handleHealth)

	r.Route("/api/v1/tasks", func(r chi.Router) {
		r.Post("/", s.handleProcessTask)
		r.Post("/batch", s.handleProcessBatch)
		r.Get("/{id}", s.handleGetTask)
		r.Post("/{id}/execute", s.handleExecuteTask)
		r.Post("/{id}/cancel", s.handleCancelTask)
	})

	r.Route("/api/v1/queue", func(r chi.Router) {
		r.Get("/", s.handlePending)
		r.Get("/stats", s.handleStats)
		r.Post("/auto-assign", s.handleAutoAssign)
		r.Post("/batch", s.handleBatchDecision)
		r.Post("/expire", s.handleExpire)
		r.Post("/{id}/assign", s.handleAssign)
		r.Delete("/{id}/assign", s.handleUnassign)
		r.Post("/{id}/decision", s.handleDecision)
	})

	r.Route("/api/v1/policies", func(r chi.Router) {
		r.Get("/compare", s.handleComparePolicies)
		r.Get("/{id}", s.handleGetPolicy)
		r.Post("/{id}/activate", s.handleActivatePolicy)
		r.Post("/{id}/reject", s.handleRejectPolicy)
	})

	r.Route("/api/v1/tenants/{tenant}", func(r chi.Router) {
		r.Get("/policies/{kind}", s.handleListPolicies)
		r.Get("/policies/{kind}/active", s.handleActivePolicy)
		r.Post("/policies/{kind}", s.handleDraftPolicy)
		r.Post("/evaluate/quick-check", s.handleQuickCheck)
		r.Post("/evaluate/calibrate", s.handleCalibrate)
		r.Get("/notifications", s.handleNotifications)
		r.Get("/auto-approvals", s.handleAutoApprovals)
		r.Delete("/auto-approvals", s.handleResetAutoApprovals)
	})

	r.Get("/api/v1/escalation/triggers", s.handleTriggers)
	r.Get("/api/v1/intake/filters", s.handleIntakeFilters)
	r.Delete("/api/v1/auto-approvals", s.handleResetAutoApprovals)

	if s.Metrics != nil {
		r.Handle("/metrics", s.Metrics)
	}

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", model.ErrValidation, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, model.ErrCriteriaReadOnly):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeError(w, status, err.Error())
}
