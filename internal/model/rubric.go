package model

import (
	"encoding/json"
	"fmt"
)

// Severity grades how damaging a failure pattern is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Level maps a severity onto the 1..4 scale used by score discounting.
func (s Severity) Level() float64 {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	default:
		return 1
	}
}

// Dimension is one graded axis of a rubric.
type Dimension struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Weight      float64 `json:"weight,omitempty"`
}

// FailurePattern is a regular expression that marks known bad output.
type FailurePattern struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Pattern     string   `json:"pattern"`
	Severity    Severity `json:"severity"`
}

// Rubric is the typed view of a Criteria document for one task type.
type Rubric struct {
	QualityStandards []string                    `json:"quality_standards,omitempty"`
	Dimensions       []Dimension                 `json:"dimensions,omitempty"`
	FailurePatterns  []FailurePattern            `json:"failure_patterns,omitempty"`
	TaskTypes        map[TaskType]RubricOverride `json:"task_types,omitempty"`
}

// RubricOverride narrows a rubric for a single task type.
type RubricOverride struct {
	QualityStandards []string         `json:"quality_standards,omitempty"`
	Dimensions       []Dimension      `json:"dimensions,omitempty"`
	FailurePatterns  []FailurePattern `json:"failure_patterns,omitempty"`
}

// ParseRubric decodes a Criteria document and folds in the override for taskType.
// Override dimensions replace the defaults; standards and patterns are appended.
func ParseRubric(doc Document, taskType TaskType) (Rubric, error) {
	var r Rubric
	if len(doc) == 0 {
		return r, fmt.Errorf("%w: empty criteria document", ErrValidation)
	}
	if err := json.Unmarshal(doc, &r); err != nil {
		return r, fmt.Errorf("%w: decode criteria: %v", ErrValidation, err)
	}

	if o, ok := r.TaskTypes[taskType]; ok {
		if len(o.Dimensions) > 0 {
			r.Dimensions = o.Dimensions
		}
		r.QualityStandards = append(r.QualityStandards, o.QualityStandards...)
		r.FailurePatterns = append(r.FailurePatterns, o.FailurePatterns...)
	}
	r.TaskTypes = nil

	if len(r.Dimensions) == 0 {
		return r, fmt.Errorf("%w: criteria define no dimensions for %s", ErrValidation, taskType)
	}
	return r, nil
}

// DimensionNames lists the rubric dimensions in order.
func (r Rubric) DimensionNames() []string {
	names := make([]string, 0, len(r.Dimensions))
	for _, d := range r.Dimensions {
		names = append(names, d.Name)
	}
	return names
}
