// Package jobs carries asynchronous work (task execution and human feedback) to background workers.
package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/spigell/recruiter-loop/internal/model"
)

// Kind selects the handler for a job.
type Kind string

const (
	KindExecute  Kind = "execute"
	KindFeedback Kind = "feedback"
)

// ErrClosed is returned when enqueueing on a stopped queue.
var ErrClosed = errors.New("job queue is closed")

// Feedback is a human suggestion attached to an approval decision.
type Feedback struct {
	TaskType         model.TaskType `json:"task_type"`
	Operator         string         `json:"operator"`
	Text             string         `json:"text"`
	Content          string         `json:"content,omitempty"`
	UpdateGuidelines bool           `json:"update_guidelines"`
	UpdateCriteria   bool           `json:"update_criteria"`
}

// Job is one unit of background work.
type Job struct {
	ID         string    `json:"id"`
	Kind       Kind      `json:"kind"`
	TenantID   string    `json:"tenant_id"`
	TaskID     string    `json:"task_id"`
	Feedback   *Feedback `json:"feedback,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Enqueuer accepts jobs without waiting for them to run.
type Enqueuer interface {
	Enqueue(ctx context.Context, job Job) error
}

// Handler processes one job.
type Handler func(ctx context.Context, job Job) error

// Queue is an Enqueuer with its own workers.
type Queue interface {
	Enqueuer
	Start(ctx context.Context, workers int, handle Handler) error
	Close() error
}

// Router dispatches jobs by kind.
type Router map[Kind]Handler

// Handle runs the handler registered for the job kind.
func (r Router) Handle(ctx context.Context, job Job) error {
	h, ok := r[job.Kind]
	if !ok {
		return errors.New("no handler for job kind " + string(job.Kind))
	}
	return h(ctx, job)
}
