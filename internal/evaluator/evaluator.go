// Package evaluator grades outputs against a Criteria rubric.
package evaluator

import (
	"context"
	"fmt"
	"math"

	"github.com/spigell/recruiter-loop/internal/ai"
	"github.com/spigell/recruiter-loop/internal/model"
	"github.com/spigell/recruiter-loop/internal/utils"

	"go.uber.org/zap"
)

const (
	// DefaultQuickThreshold is the holistic score QuickCheck needs to pass.
	DefaultQuickThreshold = 0.6
	// AlignmentTolerance is the largest overall gap at which automated and human scores agree.
	AlignmentTolerance = 0.15
	holisticDimension  = "overall_quality"
)

// Grader is the part of the oracle the evaluator needs.
type Grader interface {
	Evaluate(ctx context.Context, req ai.EvaluateRequest) (*ai.Scores, error)
}

// Evaluator scores outputs with the oracle and the failure-pattern detector.
type Evaluator struct {
	grader         Grader
	detector       *Detector
	quickThreshold float64
	logger         *zap.Logger
}

// New returns an Evaluator. A non-positive quickThreshold selects DefaultQuickThreshold.
func New(grader Grader, quickThreshold float64, logger *zap.Logger) *Evaluator {
	if quickThreshold <= 0 {
		quickThreshold = DefaultQuickThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{
		grader:         grader,
		detector:       NewDetector(),
		quickThreshold: quickThreshold,
		logger:         logger,
	}
}

// Request is one evaluation. Dimensions override the rubric dimensions when set.
type Request struct {
	TaskType         model.TaskType
	Output           string
	Rubric           model.Rubric
	Dimensions       []model.Dimension
	PassingThreshold float64
}

// Evaluate grades req.Output, takes the weighted mean of the dimension scores and applies
// failure-pattern discounts to it.
func (e *Evaluator) Evaluate(ctx context.Context, req Request) (*model.Evaluation, error) {
	dims := req.Dimensions
	if len(dims) == 0 {
		dims = req.Rubric.Dimensions
	}
	if len(dims) == 0 {
		return nil, fmt.Errorf("%w: no dimensions to grade", model.ErrValidation)
	}

	matches, err := e.detector.Detect(req.Output, req.Rubric.FailurePatterns)
	if err != nil {
		return nil, err
	}

	scores, err := e.grader.Evaluate(ctx, ai.EvaluateRequest{
		TaskType:   req.TaskType,
		Output:     req.Output,
		Rubric:     req.Rubric,
		Dimensions: dims,
	})
	if err != nil {
		return nil, err
	}

	// The rubric weights decide the overall score; a grader-supplied overall is only logged.
	raw := weightedMean(scores.Dimensions, dims)
	if scores.Overall != nil {
		e.logger.Debug("grader overall ignored in favor of weighted dimensions",
			zap.Float64("grader_overall", *scores.Overall),
			zap.Float64("weighted", raw),
		)
	}
	overall := Discount(raw, matches)

	evaluation := &model.Evaluation{
		Overall:    overall,
		RawOverall: raw,
		Dimensions: scores.Dimensions,
		Passed:     overall >= req.PassingThreshold,
		Reasoning:  scores.Reasoning,
		Confidence: scores.Confidence,
		Failures:   matches,
	}

	e.logger.Debug("output evaluated",
		zap.String("task_type", string(req.TaskType)),
		zap.Float64("raw_score", raw),
		zap.Float64("score", overall),
		zap.Int("failure_patterns", len(matches)),
		zap.Bool("passed", evaluation.Passed),
	)
	return evaluation, nil
}

// QuickResult is the outcome of a cheap pre-screen.
type QuickResult struct {
	Passed bool    `json:"passed"`
	Score  float64 `json:"score"`
	Reason string  `json:"reason"`
}

// QuickCheck fails immediately on a critical failure pattern, otherwise runs one holistic grading call.
func (e *Evaluator) QuickCheck(ctx context.Context, taskType model.TaskType, output string, rubric model.Rubric) (*QuickResult, error) {
	matches, err := e.detector.Detect(output, rubric.FailurePatterns)
	if err != nil {
		return nil, err
	}
	if m, ok := Critical(matches); ok {
		return &QuickResult{Passed: false, Reason: fmt.Sprintf("critical failure pattern %q", m.Name)}, nil
	}

	holistic := []model.Dimension{{
		Name:        holisticDimension,
		Description: "Overall quality against the quality standards",
		Weight:      1,
	}}
	scores, err := e.grader.Evaluate(ctx, ai.EvaluateRequest{TaskType: taskType, Output: output, Rubric: rubric, Dimensions: holistic})
	if err != nil {
		return nil, err
	}

	score := scores.Dimensions[holisticDimension]
	if scores.Overall != nil {
		score = *scores.Overall
	}
	score = Discount(score, matches)

	reason := scores.Reasoning
	if reason == "" {
		reason = fmt.Sprintf("holistic score %.2f against threshold %.2f", score, e.quickThreshold)
	}
	return &QuickResult{Passed: score >= e.quickThreshold, Score: score, Reason: reason}, nil
}

// HumanScore is an operator's grading of an output.
type HumanScore struct {
	Overall    float64            `json:"overall"`
	Dimensions map[string]float64 `json:"dimensions,omitempty"`
}

// Calibration compares automated and human grading of the same output.
type Calibration struct {
	Automated      model.Evaluation   `json:"automated"`
	Human          HumanScore         `json:"human"`
	OverallDiff    float64            `json:"overall_diff"`
	DimensionDiffs map[string]float64 `json:"dimension_diffs"`
	Aligned        bool               `json:"aligned"`
}

// Calibrate grades output and reports its distance from human. It has no routing effect.
func (e *Evaluator) Calibrate(ctx context.Context, taskType model.TaskType, output string, human HumanScore, rubric model.Rubric) (*Calibration, error) {
	auto, err := e.Evaluate(ctx, Request{TaskType: taskType, Output: output, Rubric: rubric})
	if err != nil {
		return nil, err
	}

	diffs := make(map[string]float64, len(human.Dimensions))
	for name, hs := range human.Dimensions {
		if as, ok := auto.Dimensions[name]; ok {
			diffs[name] = math.Abs(as - hs)
		}
	}

	overallDiff := math.Abs(auto.Overall - human.Overall)
	return &Calibration{
		Automated:      *auto,
		Human:          human,
		OverallDiff:    overallDiff,
		DimensionDiffs: diffs,
		Aligned:        overallDiff < AlignmentTolerance,
	}, nil
}

func weightedMean(scores map[string]float64, dims []model.Dimension) float64 {
	var sum, weights float64
	for _, d := range dims {
		w := d.Weight
		if w <= 0 {
			w = 1
		}
		sum += scores[d.Name] * w
		weights += w
	}
	if weights == 0 {
		return 0
	}
	return utils.Clamp01(sum / weights)
}
