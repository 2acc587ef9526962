package convergence

import (
	"context"
	"testing"
	"time"

	"github.com/spigell/recruiter-loop/internal/model"
)

func threshold(v float64) *float64 { return &v }

func TestMergeKeepsUnsetFields(t *testing.T) {
	got := DefaultConfig().Merge(&Override{MaxIterations: 2})

	if got.MaxIterations != 2 {
		t.Fatalf("expected max iterations override, got %d", got.MaxIterations)
	}
	if got.ConvergenceThreshold != 0.8 || got.EscalationThreshold != 0.9 || got.Timeout != 2*time.Minute {
		t.Fatalf("unset fields must keep defaults, got %+v", got)
	}
}

func TestMergeAllowsZeroThresholds(t *testing.T) {
	got := DefaultConfig().Merge(&Override{ConvergenceThreshold: threshold(0), EscalationThreshold: threshold(0)})

	if got.ConvergenceThreshold != 0 || got.EscalationThreshold != 0 {
		t.Fatalf("expected thresholds overridden to 0, got %+v", got)
	}
}

func TestWithConfigZeroFieldsKeepDefaults(t *testing.T) {
	e := New(nil, nil, nil, WithConfig(Config{MaxIterations: 7}))

	if e.defaults.MaxIterations != 7 || e.defaults.ConvergenceThreshold != 0.8 || e.defaults.RegenerateEditThreshold != 2 {
		t.Fatalf("unexpected engine defaults %+v", e.defaults)
	}
}

func TestRunWithZeroConvergenceThresholdPassesFirstIteration(t *testing.T) {
	store := seededStore(t)
	oracle := &scriptedOracle{}
	engine := New(oracle, &scriptedEvaluator{scores: []float64{0.1}}, store)

	run, err := engine.Run(context.Background(), RunContext{
		TenantID: tenant,
		TaskType: model.TaskSendOutreach,
		Config:   &Override{ConvergenceThreshold: threshold(0)},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !run.Converged || len(run.Iterations) != 1 || oracle.learnCalls != 0 {
		t.Fatalf("expected convergence on the first iteration, got %+v", run)
	}
}
