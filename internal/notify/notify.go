// Package notify fans task events out to operator channels.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/spigell/recruiter-loop/internal/model"

	"go.uber.org/zap"
)

// Event names what happened to a task.
type Event string

const (
	EventEscalated Event = "escalated"
	EventRejected  Event = "rejected"
	EventFailed    Event = "failed"
)

// Notification is one message for operators.
type Notification struct {
	TenantID  string                 `json:"tenant_id"`
	TaskID    string                 `json:"task_id"`
	TaskType  model.TaskType         `json:"task_type"`
	Event     Event                  `json:"event"`
	Priority  model.Priority         `json:"priority,omitempty"`
	Reason    model.EscalationReason `json:"reason,omitempty"`
	Message   string                 `json:"message"`
	CreatedAt time.Time              `json:"created_at"`
}

// Text renders the notification as a single line.
func (n Notification) Text() string {
	text := fmt.Sprintf("[%s] task %s (%s) %s", n.TenantID, n.TaskID, n.TaskType, n.Event)
	if n.Priority != "" {
		text += " priority=" + string(n.Priority)
	}
	if n.Reason != "" {
		text += " reason=" + string(n.Reason)
	}
	if n.Message != "" {
		text += ": " + n.Message
	}
	return text
}

// Sink delivers notifications to one channel.
type Sink interface {
	Send(ctx context.Context, n Notification) error
}

// Notifier is what the queue and orchestrator depend on.
type Notifier interface {
	Notify(n Notification, channels []model.Channel)
}

// Dispatcher sends every notification to its channels in the background.
type Dispatcher struct {
	sinks   map[model.Channel]Sink
	timeout time.Duration
	logger  *zap.Logger
	now     func() time.Time
	wg      sync.WaitGroup
}

// NewDispatcher creates a dispatcher. Channels without a sink are logged and skipped.
func NewDispatcher(sinks map[model.Channel]Sink, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{sinks: sinks, timeout: 10 * time.Second, logger: logger, now: time.Now}
}

// Notify returns immediately; delivery failures are only logged.
func (d *Dispatcher) Notify(n Notification, channels []model.Channel) {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = d.now()
	}
	for _, ch := range channels {
		sink, ok := d.sinks[ch]
		if !ok {
			d.logger.Debug("no sink for channel", zap.String("channel", string(ch)), zap.String("task_id", n.TaskID))
			continue
		}
		d.wg.Add(1)
		go func(ch model.Channel, sink Sink) {
			defer d.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
			defer cancel()
			if err := sink.Send(ctx, n); err != nil {
				d.logger.Warn("notification not delivered",
					zap.String("channel", string(ch)),
					zap.String("tenant_id", n.TenantID),
					zap.String("task_id", n.TaskID),
					zap.Error(err),
				)
			}
		}(ch, sink)
	}
}

// Wait blocks until in-flight deliveries finish.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
