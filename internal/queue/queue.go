// Package queue holds tasks waiting for a human decision.
package queue

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/spigell/recruiter-loop/internal/jobs"
	"github.com/spigell/recruiter-loop/internal/logger"
	"github.com/spigell/recruiter-loop/internal/model"
	"github.com/spigell/recruiter-loop/internal/notify"

	"go.uber.org/zap"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

// Action is the kind of human decision.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionEdit    Action = "edit"
)

// Decision is an operator's verdict on a pending task.
type Decision struct {
	TaskID                  string `json:"task_id"`
	Action                  Action `json:"action"`
	Operator                string `json:"operator"`
	Reason                  string `json:"reason,omitempty"`
	Content                 string `json:"content,omitempty"`
	Feedback                string `json:"feedback,omitempty"`
	SuggestGuidelinesUpdate bool   `json:"suggest_guidelines_update,omitempty"`
	SuggestCriteriaUpdate   bool   `json:"suggest_criteria_update,omitempty"`
}

func (d Decision) validate() error {
	if strings.TrimSpace(d.TaskID) == "" {
		return fmt.Errorf("%w: task id is required", model.ErrValidation)
	}
	if strings.TrimSpace(d.Operator) == "" {
		return fmt.Errorf("%w: operator is required", model.ErrValidation)
	}
	switch d.Action {
	case ActionApprove:
	case ActionReject:
		if strings.TrimSpace(d.Reason) == "" {
			return fmt.Errorf("%w: reject requires a reason", model.ErrValidation)
		}
	case ActionEdit:
		if strings.TrimSpace(d.Content) == "" {
			return fmt.Errorf("%w: edit requires replacement content", model.ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown action %q", model.ErrValidation, d.Action)
	}
	return nil
}

// Filter narrows the pending view. Zero values match everything.
type Filter struct {
	TenantID   string
	Types      []model.TaskType
	Priorities []model.Priority
	Reasons    []model.EscalationReason
	AssignedTo string
	Unassigned bool
	Limit      int
	Offset     int
}

func (f Filter) match(t *model.Task) bool {
	switch {
	case t.Status != model.StatusPendingApproval:
		return false
	case f.TenantID != "" && t.TenantID != f.TenantID:
		return false
	case len(f.Types) > 0 && !slices.Contains(f.Types, t.Type):
		return false
	case len(f.Priorities) > 0 && !slices.Contains(f.Priorities, t.Priority):
		return false
	case len(f.Reasons) > 0 && !slices.Contains(f.Reasons, t.EscalationReason):
		return false
	case f.AssignedTo != "" && t.AssignedTo != f.AssignedTo:
		return false
	case f.Unassigned && t.AssignedTo != "":
		return false
	}
	return true
}

// QueuedTask is a pending task with its live wait time.
type QueuedTask struct {
	model.Task
	WaitSeconds float64 `json:"wait_seconds"`
}

// Page is one slice of the pending view.
type Page struct {
	Tasks  []QueuedTask `json:"tasks"`
	Total  int          `json:"total"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

// Stats summarises the pending queue of a tenant.
type Stats struct {
	Total          int                            `json:"total"`
	ByPriority     map[model.Priority]int         `json:"by_priority"`
	ByType         map[model.TaskType]int         `json:"by_type"`
	ByReason       map[model.EscalationReason]int `json:"by_reason"`
	Assigned       int                            `json:"assigned"`
	Unassigned     int                            `json:"unassigned"`
	AvgWaitSeconds float64                        `json:"avg_wait_seconds"`
	MaxWaitSeconds float64                        `json:"max_wait_seconds"`
}

// Assignment records one auto-assigned task.
type Assignment struct {
	TaskID   string `json:"task_id"`
	Operator string `json:"operator"`
}

// BatchFailure explains why one id in a batch was not processed.
type BatchFailure struct {
	TaskID string `json:"task_id"`
	Error  string `json:"error"`
	Err    error  `json:"-"`
}

// BatchResult partitions batch ids by outcome.
type BatchResult struct {
	Succeeded []string       `json:"succeeded"`
	Failed    []BatchFailure `json:"failed"`
}

// Queue implements the approval workflow on top of a Repository.
type Queue struct {
	repo     Repository
	jobs     jobs.Enqueuer
	notifier notify.Notifier
	channels func(tenantID string) []model.Channel
	now      func() time.Time
	logger   *zap.Logger
	observe  func(Action)
	pending  sync.WaitGroup
}

// Option configures a Queue.
type Option func(*Queue)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// WithLogger sets the queue logger.
func WithLogger(l *zap.Logger) Option {
	return func(q *Queue) {
		if l != nil {
			q.logger = l
		}
	}
}

// WithNotifier enables rejection notifications on the tenant channels returned by channels.
func WithNotifier(n notify.Notifier, channels func(tenantID string) []model.Channel) Option {
	return func(q *Queue) {
		q.notifier = n
		if channels != nil {
			q.channels = channels
		}
	}
}

// WithObserver is called after every successful decision.
func WithObserver(fn func(Action)) Option {
	return func(q *Queue) { q.observe = fn }
}

// New creates a Queue. Approved tasks and feedback are handed to enqueuer.
func New(repo Repository, enqueuer jobs.Enqueuer, opts ...Option) *Queue {
	q := &Queue{
		repo:     repo,
		jobs:     enqueuer,
		channels: func(string) []model.Channel { return []model.Channel{model.ChannelDashboard} },
		now:      time.Now,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// GetPending lists pending tasks ordered by priority, then by age.
func (q *Queue) GetPending(ctx context.Context, f Filter) (Page, error) {
	tasks, err := q.repo.List(ctx, f.match)
	if err != nil {
		return Page{}, err
	}
	sortByPriority(tasks)

	limit := f.Limit
	if limit <= 0 {
		limit = DefaultPageSize
	}
	limit = min(limit, MaxPageSize)
	offset := max(f.Offset, 0)

	page := Page{Total: len(tasks), Limit: limit, Offset: offset, Tasks: []QueuedTask{}}
	if offset >= len(tasks) {
		return page, nil
	}
	now := q.now()
	for _, t := range tasks[offset:min(offset+limit, len(tasks))] {
		page.Tasks = append(page.Tasks, QueuedTask{Task: *t, WaitSeconds: now.Sub(t.CreatedAt).Seconds()})
	}
	return page, nil
}

// GetStats computes counts and wait times from the current queue contents.
func (q *Queue) GetStats(ctx context.Context, tenantID string) (Stats, error) {
	tasks, err := q.repo.List(ctx, Filter{TenantID: tenantID}.match)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{
		Total:      len(tasks),
		ByPriority: make(map[model.Priority]int),
		ByType:     make(map[model.TaskType]int),
		ByReason:   make(map[model.EscalationReason]int),
	}
	now := q.now()
	var total time.Duration
	for _, t := range tasks {
		stats.ByPriority[t.Priority]++
		stats.ByType[t.Type]++
		if t.EscalationReason != "" {
			stats.ByReason[t.EscalationReason]++
		}
		if t.AssignedTo != "" {
			stats.Assigned++
		} else {
			stats.Unassigned++
		}
		wait := now.Sub(t.CreatedAt)
		total += wait
		stats.MaxWaitSeconds = max(stats.MaxWaitSeconds, wait.Seconds())
	}
	if len(tasks) > 0 {
		stats.AvgWaitSeconds = total.Seconds() / float64(len(tasks))
	}
	return stats, nil
}

// Assign gives a pending task to an operator.
func (q *Queue) Assign(ctx context.Context, taskID, operator string) (*model.Task, error) {
	if strings.TrimSpace(operator) == "" {
		return nil, fmt.Errorf("%w: operator is required", model.ErrValidation)
	}
	return q.repo.Update(ctx, taskID, func(t *model.Task) error {
		if err := requirePending(t); err != nil {
			return err
		}
		now := q.now()
		t.AssignedTo = operator
		t.AssignedAt = &now
		return nil
	})
}

// Unassign returns a pending task to the shared pool.
func (q *Queue) Unassign(ctx context.Context, taskID string) (*model.Task, error) {
	return q.repo.Update(ctx, taskID, func(t *model.Task) error {
		if err := requirePending(t); err != nil {
			return err
		}
		t.AssignedTo = ""
		t.AssignedAt = nil
		return nil
	})
}

// AutoAssign distributes unassigned tasks round-robin, most urgent first. Operators already holding
// maxPerOperator tasks are skipped; when all are full the remaining tasks stay unassigned.
func (q *Queue) AutoAssign(ctx context.Context, tenantID string, operators []string, maxPerOperator int) ([]Assignment, error) {
	if len(operators) == 0 {
		return nil, fmt.Errorf("%w: at least one operator is required", model.ErrValidation)
	}
	if maxPerOperator <= 0 {
		return nil, fmt.Errorf("%w: max per operator must be positive", model.ErrValidation)
	}

	pending, err := q.repo.List(ctx, Filter{TenantID: tenantID}.match)
	if err != nil {
		return nil, err
	}
	load := make(map[string]int, len(operators))
	var unassigned []*model.Task
	for _, t := range pending {
		if t.AssignedTo != "" {
			load[t.AssignedTo]++
			continue
		}
		unassigned = append(unassigned, t)
	}
	sortByPriority(unassigned)

	var assignments []Assignment
	cursor := 0
	for _, t := range unassigned {
		operator := ""
		for i := 0; i < len(operators); i++ {
			candidate := operators[(cursor+i)%len(operators)]
			if load[candidate] < maxPerOperator {
				operator = candidate
				cursor = (cursor + i + 1) % len(operators)
				break
			}
		}
		if operator == "" {
			break
		}

		if _, err := q.Assign(ctx, t.ID, operator); err != nil {
			q.logger.Warn("auto-assign skipped task", zap.String(logger.FieldTask, t.ID), zap.Error(err))
			continue
		}
		load[operator]++
		assignments = append(assignments, Assignment{TaskID: t.ID, Operator: operator})
	}
	return assignments, nil
}

// ProcessDecision applies an operator decision to a pending task.
func (q *Queue) ProcessDecision(ctx context.Context, d Decision) (*model.Task, error) {
	if err := d.validate(); err != nil {
		return nil, err
	}

	now := q.now()
	task, err := q.repo.Update(ctx, d.TaskID, func(t *model.Task) error {
		if err := requirePending(t); err != nil {
			return err
		}
		if t.Expired(now) {
			return fmt.Errorf("%w: task %s expired at %s", model.ErrValidation, t.ID, t.ExpiresAt.Format(time.RFC3339))
		}
		t.DecidedBy = d.Operator
		switch d.Action {
		case ActionReject:
			t.RejectionReason = d.Reason
			return Transition(t, model.StatusRejected)
		case ActionEdit:
			t.Payload.Content = d.Content
			t.Payload.Edited = true
		}
		return Transition(t, model.StatusApproved)
	})
	if err != nil {
		return nil, err
	}

	log := logger.WithTask(q.logger, task).With(zap.String(logger.FieldOperator, d.Operator), zap.String("action", string(d.Action)))
	log.Info("decision recorded")

	q.enqueueFeedback(task, d, log)
	if q.observe != nil {
		q.observe(d.Action)
	}

	if d.Action == ActionReject {
		if q.notifier != nil {
			q.notifier.Notify(notify.Notification{
				TenantID: task.TenantID,
				TaskID:   task.ID,
				TaskType: task.Type,
				Event:    notify.EventRejected,
				Message:  d.Reason,
			}, q.channels(task.TenantID))
		}
		return task, nil
	}

	if err := q.jobs.Enqueue(ctx, jobs.Job{Kind: jobs.KindExecute, TenantID: task.TenantID, TaskID: task.ID, EnqueuedAt: now}); err != nil {
		log.Error("approved task not queued for execution", zap.Error(err))
		return task, fmt.Errorf("enqueue execution of %s: %w", task.ID, err)
	}
	return task, nil
}

func (q *Queue) enqueueFeedback(task *model.Task, d Decision, log *zap.Logger) {
	text := strings.TrimSpace(d.Feedback)
	if text == "" || !(d.SuggestGuidelinesUpdate || d.SuggestCriteriaUpdate) {
		return
	}
	job := jobs.Job{
		Kind:     jobs.KindFeedback,
		TenantID: task.TenantID,
		TaskID:   task.ID,
		Feedback: &jobs.Feedback{
			TaskType:         task.Type,
			Operator:         d.Operator,
			Text:             text,
			Content:          task.Payload.Content,
			UpdateGuidelines: d.SuggestGuidelinesUpdate,
			UpdateCriteria:   d.SuggestCriteriaUpdate,
		},
		EnqueuedAt: q.now(),
	}

	q.pending.Add(1)
	go func() {
		defer q.pending.Done()
		if err := q.jobs.Enqueue(context.Background(), job); err != nil {
			log.Error("feedback not queued", zap.Error(err))
		}
	}()
}

// Wait blocks until background feedback submissions finish.
func (q *Queue) Wait() {
	q.pending.Wait()
}

// BatchApprove approves every id independently.
func (q *Queue) BatchApprove(ctx context.Context, ids []string, operator string) BatchResult {
	return q.batch(ctx, ids, Decision{Action: ActionApprove, Operator: operator})
}

// BatchReject rejects every id independently with the same reason.
func (q *Queue) BatchReject(ctx context.Context, ids []string, operator, reason string) BatchResult {
	return q.batch(ctx, ids, Decision{Action: ActionReject, Operator: operator, Reason: reason})
}

func (q *Queue) batch(ctx context.Context, ids []string, template Decision) BatchResult {
	result := BatchResult{Succeeded: []string{}, Failed: []BatchFailure{}}
	for _, id := range ids {
		d := template
		d.TaskID = id
		if _, err := q.ProcessDecision(ctx, d); err != nil {
			result.Failed = append(result.Failed, BatchFailure{TaskID: id, Error: err.Error(), Err: err})
			continue
		}
		result.Succeeded = append(result.Succeeded, id)
	}
	return result
}

// ProcessExpiredTasks moves pending tasks past their deadline to EXPIRED without notifying anyone.
func (q *Queue) ProcessExpiredTasks(ctx context.Context) ([]string, error) {
	now := q.now()
	candidates, err := q.repo.List(ctx, func(t *model.Task) bool { return t.Expired(now) })
	if err != nil {
		return nil, err
	}

	var expired []string
	var errs []error
	for _, c := range candidates {
		_, err := q.repo.Update(ctx, c.ID, func(t *model.Task) error {
			if !t.Expired(now) {
				return errSkip
			}
			return Transition(t, model.StatusExpired)
		})
		switch {
		case errors.Is(err, errSkip):
		case err != nil:
			errs = append(errs, err)
		default:
			expired = append(expired, c.ID)
		}
	}
	if len(expired) > 0 {
		q.logger.Info("expired pending tasks", zap.Strings("tasks", expired))
	}
	return expired, errors.Join(errs...)
}

var errSkip = errors.New("skip")

func requirePending(t *model.Task) error {
	if t.Status != model.StatusPendingApproval {
		return fmt.Errorf("%w: task %s is %s, not %s", model.ErrValidation, t.ID, t.Status, model.StatusPendingApproval)
	}
	return nil
}

func sortByPriority(tasks []*model.Task) {
	slices.SortStableFunc(tasks, func(a, b *model.Task) int {
		if d := b.Priority.Rank() - a.Priority.Rank(); d != 0 {
			return d
		}
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}
