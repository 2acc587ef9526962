// Package ai holds the generation oracle used by the convergence loop.
package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spigell/recruiter-loop/internal/model"
)

// GenerateRequest asks the oracle for task content under a Guidelines document.
type GenerateRequest struct {
	TenantID    string
	TaskType    model.TaskType
	Input       map[string]any
	Constraints map[string]any
	Guidelines  model.Document
}

// EvaluateRequest asks the oracle to grade an output on the given dimensions.
type EvaluateRequest struct {
	TaskType   model.TaskType
	Output     string
	Rubric     model.Rubric
	Dimensions []model.Dimension
}

// Scores is the raw grading returned by the oracle. Overall is nil when the grader omitted it.
type Scores struct {
	Dimensions map[string]float64
	Overall    *float64
	Reasoning  string
	Confidence float64
}

// LearnRequest asks the oracle to explain a failed output in terms of Guidelines edits.
type LearnRequest struct {
	TaskType   model.TaskType
	Input      map[string]any
	Output     string
	Evaluation model.Evaluation
	Guidelines model.Document
}

// RegenerateRequest asks the oracle to rewrite whole Guidelines sections.
type RegenerateRequest struct {
	TaskType   model.TaskType
	Guidelines model.Document
	Learning   model.Learning
	Sections   []string
}

// Oracle is the stateless generation service behind the convergence loop.
type Oracle interface {
	Generate(ctx context.Context, req GenerateRequest) (*model.Generation, error)
	Evaluate(ctx context.Context, req EvaluateRequest) (*Scores, error)
	ExtractLearnings(ctx context.Context, req LearnRequest) (*model.Learning, error)
	RegenerateGuidelines(ctx context.Context, req RegenerateRequest) (map[string]json.RawMessage, error)
}

// ErrPermanent marks generator failures that will not succeed on retry.
var ErrPermanent = errors.New("permanent oracle failure")

// OracleError wraps any failure of an oracle call.
type OracleError struct {
	Op          string
	Err         error
	Recoverable bool
}

func (e *OracleError) Error() string {
	return fmt.Sprintf("oracle %s: %v", e.Op, e.Err)
}

func (e *OracleError) Unwrap() error { return e.Err }

func wrapOracle(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	var oe *OracleError
	if errors.As(err, &oe) {
		return err
	}
	return &OracleError{
		Op:          op,
		Err:         err,
		Recoverable: ctx.Err() == nil && !errors.Is(err, ErrPermanent),
	}
}

// IsRecoverable reports whether err came from an oracle call worth retrying later.
func IsRecoverable(err error) bool {
	var oe *OracleError
	return errors.As(err, &oe) && oe.Recoverable
}
