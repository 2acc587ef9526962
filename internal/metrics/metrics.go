// Package metrics defines Prometheus metrics for the recruiter loop.
package metrics

import (
	"time"

	"github.com/spigell/recruiter-loop/internal/model"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all registered Prometheus collectors.
type Metrics struct {
	RunsTotal          *prometheus.CounterVec
	RunIterations      *prometheus.HistogramVec
	RunFinalScore      *prometheus.HistogramVec
	RunDuration        *prometheus.HistogramVec
	RoutesTotal        *prometheus.CounterVec
	EscalationsTotal   *prometheus.CounterVec
	DecisionsTotal     *prometheus.CounterVec
	OracleCallsTotal   *prometheus.CounterVec
	OracleCallDuration *prometheus.HistogramVec
}

// New creates unregistered metric instances.
func New() *Metrics {
	return &Metrics{
		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recruiter_loop_runs_total",
				Help: "Total number of convergence runs by task type and terminal status.",
			},
			[]string{"task_type", "status"},
		),
		RunIterations: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "recruiter_loop_run_iterations",
				Help:    "Iterations used by each convergence run.",
				Buckets: []float64{1, 2, 3, 4, 5, 6, 8, 10},
			},
			[]string{"task_type"},
		),
		RunFinalScore: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "recruiter_loop_run_final_score",
				Help:    "Final rubric score of each convergence run.",
				Buckets: []float64{0.3, 0.5, 0.6, 0.7, 0.8, 0.85, 0.9, 0.95, 1},
			},
			[]string{"task_type"},
		),
		RunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "recruiter_loop_run_duration_seconds",
				Help:    "Wall time of each convergence run in seconds.",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"task_type"},
		),
		RoutesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recruiter_loop_routes_total",
				Help: "Processed tasks by task type and route.",
			},
			[]string{"task_type", "route"},
		),
		EscalationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recruiter_loop_escalations_total",
				Help: "Escalation triggers that fired, by trigger name.",
			},
			[]string{"trigger"},
		),
		DecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recruiter_loop_decisions_total",
				Help: "Human decisions on queued tasks by action.",
			},
			[]string{"action"},
		),
		OracleCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recruiter_loop_oracle_calls_total",
				Help: "Generation oracle calls by operation and result.",
			},
			[]string{"op", "result"},
		),
		OracleCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "recruiter_loop_oracle_call_duration_seconds",
				Help:    "Generation oracle call latency in seconds.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"op"},
		),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.RunsTotal,
		m.RunIterations,
		m.RunFinalScore,
		m.RunDuration,
		m.RoutesTotal,
		m.EscalationsTotal,
		m.DecisionsTotal,
		m.OracleCallsTotal,
		m.OracleCallDuration,
	}
}

// RegisterWith registers a pre-built Metrics instance with the given registry.
func RegisterWith(reg prometheus.Registerer, m *Metrics) error {
	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// ObserveRun records a finished convergence run.
func (m *Metrics) ObserveRun(run *model.Run) {
	taskType := string(run.TaskType)
	m.RunsTotal.WithLabelValues(taskType, string(run.Status)).Inc()
	m.RunIterations.WithLabelValues(taskType).Observe(float64(len(run.Iterations)))
	m.RunFinalScore.WithLabelValues(taskType).Observe(run.FinalScore)
	if run.CompletedAt != nil {
		m.RunDuration.WithLabelValues(taskType).Observe(run.CompletedAt.Sub(run.StartedAt).Seconds())
	}
}

// ObserveRoute records where a processed task went and which triggers fired.
func (m *Metrics) ObserveRoute(taskType model.TaskType, route string, triggers []string) {
	m.RoutesTotal.WithLabelValues(string(taskType), route).Inc()
	for _, name := range triggers {
		m.EscalationsTotal.WithLabelValues(name).Inc()
	}
}

// ObserveDecision records a human decision.
func (m *Metrics) ObserveDecision(action string) {
	m.DecisionsTotal.WithLabelValues(action).Inc()
}

// ObserveOracleCall matches the oracle's call observer signature.
func (m *Metrics) ObserveOracleCall(op string, elapsed time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.OracleCallsTotal.WithLabelValues(op, result).Inc()
	m.OracleCallDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}
