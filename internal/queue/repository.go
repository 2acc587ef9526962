package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/spigell/recruiter-loop/internal/model"
)

// Repository stores tasks. Update applies fn to the stored task atomically.
type Repository interface {
	Create(ctx context.Context, task *model.Task) error
	Get(ctx context.Context, id string) (*model.Task, error)
	Update(ctx context.Context, id string, fn func(*model.Task) error) (*model.Task, error)
	List(ctx context.Context, match func(*model.Task) bool) ([]*model.Task, error)
}

// MemoryRepository keeps tasks in process memory.
type MemoryRepository struct {
	mu    sync.Mutex
	tasks map[string]*model.Task
	now   func() time.Time
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{tasks: make(map[string]*model.Task), now: time.Now}
}

func (r *MemoryRepository) Create(_ context.Context, task *model.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if task.ID == "" {
		return fmt.Errorf("%w: task id is required", model.ErrValidation)
	}
	if _, ok := r.tasks[task.ID]; ok {
		return fmt.Errorf("%w: task %s already exists", model.ErrValidation, task.ID)
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = r.now()
	}
	task.UpdatedAt = task.CreatedAt
	r.tasks[task.ID] = task.Clone()
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id string) (*model.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: task %s", model.ErrNotFound, id)
	}
	return t.Clone(), nil
}

func (r *MemoryRepository) Update(_ context.Context, id string, fn func(*model.Task) error) (*model.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: task %s", model.ErrNotFound, id)
	}
	next := current.Clone()
	if err := fn(next); err != nil {
		return current.Clone(), err
	}
	next.UpdatedAt = r.now()
	r.tasks[id] = next
	return next.Clone(), nil
}

func (r *MemoryRepository) List(_ context.Context, match func(*model.Task) bool) ([]*model.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*model.Task
	for _, t := range r.tasks {
		if match == nil || match(t) {
			out = append(out, t.Clone())
		}
	}
	return out, nil
}

// Transition moves t to status if the state machine allows it.
func Transition(t *model.Task, to model.TaskStatus) error {
	if !model.CanTransition(t.Status, to) {
		return fmt.Errorf("%w: task %s from %s to %s", model.ErrInvalidTransition, t.ID, t.Status, to)
	}
	t.Status = to
	return nil
}
