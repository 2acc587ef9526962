package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"
)

const (
	streamName   = "RECRUITER_JOBS"
	subjectRoot  = "recruiter.jobs"
	consumerName = "recruiter-loop-workers"
)

// NATSQueue publishes jobs to a JetStream work queue shared by every replica.
type NATSQueue struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	stream jetstream.Stream
	logger *zap.Logger
}

// NewNATSQueue connects to url and makes sure the job stream exists.
func NewNATSQueue(ctx context.Context, url string, logger *zap.Logger) (*NATSQueue, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, err := nats.Connect(url, nats.Name("recruiter-loop"))
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("get jetstream: %w", err)
	}
	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  []string{subjectRoot + ".>"},
		Retention: jetstream.WorkQueuePolicy,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create stream %s: %w", streamName, err)
	}
	return &NATSQueue{conn: conn, js: js, stream: stream, logger: logger}, nil
}

func subject(kind Kind) string {
	return subjectRoot + "." + string(kind)
}

func (q *NATSQueue) Enqueue(ctx context.Context, job Job) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if _, err := q.js.Publish(ctx, subject(job.Kind), data); err != nil {
		return fmt.Errorf("publish job %s: %w", job.ID, err)
	}
	return nil
}

// Start runs workers consumers until ctx is cancelled. Failed jobs are redelivered up to three times.
func (q *NATSQueue) Start(ctx context.Context, workers int, handle Handler) error {
	consumer, err := q.stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       consumerName,
		FilterSubject: subjectRoot + ".>",
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       5 * time.Minute,
		MaxDeliver:    3,
	})
	if err != nil {
		return fmt.Errorf("create consumer: %w", err)
	}

	for range max(workers, 1) {
		go q.consume(ctx, consumer, handle)
	}
	return nil
}

func (q *NATSQueue) consume(ctx context.Context, consumer jetstream.Consumer, handle Handler) {
	for ctx.Err() == nil {
		msgs, err := consumer.Fetch(1, jetstream.FetchMaxWait(5*time.Second))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			q.logger.Debug("fetch jobs", zap.Error(err))
			continue
		}

		for msg := range msgs.Messages() {
			q.handle(ctx, msg, handle)
		}
		if err := msgs.Error(); err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, nats.ErrTimeout) {
			q.logger.Warn("job fetch error", zap.Error(err))
		}
	}
}

func (q *NATSQueue) handle(ctx context.Context, msg jetstream.Msg, handle Handler) {
	var job Job
	if err := json.Unmarshal(msg.Data(), &job); err != nil {
		q.logger.Error("dropping malformed job", zap.String("subject", msg.Subject()), zap.Error(err))
		_ = msg.Term()
		return
	}

	if err := handle(ctx, job); err != nil {
		q.logger.Warn("job failed", zap.String("job_id", job.ID), zap.String("kind", string(job.Kind)), zap.Error(err))
		_ = msg.Nak()
		return
	}
	if err := msg.Ack(); err != nil {
		q.logger.Warn("ack job", zap.String("job_id", job.ID), zap.Error(err))
	}
}

// Close drains the connection.
func (q *NATSQueue) Close() error {
	return q.conn.Drain()
}
