package jobs

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MemoryQueue runs jobs on in-process workers.
type MemoryQueue struct {
	jobs   chan Job
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewMemoryQueue creates a queue holding up to size waiting jobs.
func NewMemoryQueue(size int, logger *zap.Logger) *MemoryQueue {
	if logger == nil {
		logger = zap.NewNop()
	}
	if size <= 0 {
		size = 128
	}
	return &MemoryQueue{jobs: make(chan Job, size), logger: logger}
}

// Enqueue blocks only while the buffer is full.
func (q *MemoryQueue) Enqueue(ctx context.Context, job Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	select {
	case q.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start launches workers that run handle until Close is called.
func (q *MemoryQueue) Start(ctx context.Context, workers int, handle Handler) error {
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for job := range q.jobs {
				if err := handle(ctx, job); err != nil {
					q.logger.Warn("job failed",
						zap.String("job_id", job.ID),
						zap.String("kind", string(job.Kind)),
						zap.String("task_id", job.TaskID),
						zap.Error(err),
					)
				}
			}
		}()
	}
	return nil
}

// Close stops accepting jobs and waits for the workers to drain the buffer.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()
	q.wg.Wait()
	return nil
}
