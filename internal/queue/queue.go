// Package queue carries background work items between the API process and
// the worker process over Kafka.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// JobKind selects the worker-side handler.
type JobKind string

const (
	// JobSettle pays out the collection leg of a paid transaction.
	JobSettle JobKind = "settle"
	// JobInvoice issues the fiscal document for a paid transaction.
	JobInvoice JobKind = "invoice"
)

// Job is one unit of background work. Delivery is at-least-once, so every
// handler must be idempotent on TransactionID.
type Job struct {
	Kind          JobKind   `json:"kind"`
	TransactionID uuid.UUID `json:"transaction_id"`
	Attempt       int       `json:"attempt"`
	EnqueuedAt    time.Time `json:"enqueued_at"`
}

// Enqueuer publishes jobs for the worker.
type Enqueuer interface {
	Enqueue(ctx context.Context, job Job) error
}

// Handler processes one job. Returning an error requeues the job up to the
// retry budget.
type Handler func(ctx context.Context, job Job) error

// KafkaQueue is the production queue on one Kafka topic, keyed by
// transaction id so retries for the same transaction stay ordered.
type KafkaQueue struct {
	logger *zap.Logger
	writer *kafka.Writer
}

// NewKafkaQueue creates a producer for the jobs topic.
func NewKafkaQueue(logger *zap.Logger, brokers []string, topic string) *KafkaQueue {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
	}
	return &KafkaQueue{logger: logger, writer: writer}
}

// Enqueue publishes a job.
func (q *KafkaQueue) Enqueue(ctx context.Context, job Job) error {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	err = q.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(job.TransactionID.String()),
		Value: payload,
	})
	if err != nil {
		return fmt.Errorf("failed to publish job: %w", err)
	}
	q.logger.Debug("job enqueued",
		zap.String("kind", string(job.Kind)),
		zap.String("transaction_id", job.TransactionID.String()))
	return nil
}

// Close flushes and closes the producer.
func (q *KafkaQueue) Close() error {
	return q.writer.Close()
}

// Consumer reads jobs and dispatches them to per-kind handlers.
type Consumer struct {
	logger      *zap.Logger
	reader      *kafka.Reader
	requeue     Enqueuer
	maxAttempts int
	handlers    map[JobKind]Handler
}

// NewConsumer creates a consumer in the given group. Failed jobs are
// republished through requeue until maxAttempts is exhausted.
func NewConsumer(logger *zap.Logger, brokers []string, topic, groupID string, requeue Enqueuer, maxAttempts int) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		GroupID:     groupID,
		Topic:       topic,
		StartOffset: kafka.LastOffset,
	})
	return &Consumer{
		logger:      logger,
		reader:      reader,
		requeue:     requeue,
		maxAttempts: maxAttempts,
		handlers:    make(map[JobKind]Handler),
	}
}

// Handle registers the handler for a job kind.
func (c *Consumer) Handle(kind JobKind, h Handler) {
	c.handlers[kind] = h
}

// Run consumes until the context is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("job consume error", zap.Error(err))
			continue
		}
		c.process(ctx, msg.Value)
	}
}

func (c *Consumer) process(ctx context.Context, payload []byte) {
	var job Job
	if err := json.Unmarshal(payload, &job); err != nil {
		c.logger.Error("invalid job payload", zap.Error(err))
		return
	}

	handler, ok := c.handlers[job.Kind]
	if !ok {
		c.logger.Error("no handler for job kind", zap.String("kind", string(job.Kind)))
		return
	}

	if err := handler(ctx, job); err != nil {
		c.logger.Error("job failed",
			zap.String("kind", string(job.Kind)),
			zap.String("transaction_id", job.TransactionID.String()),
			zap.Int("attempt", job.Attempt),
			zap.Error(err))
		if job.Attempt+1 < c.maxAttempts {
			job.Attempt++
			if err := c.requeue.Enqueue(ctx, job); err != nil {
				c.logger.Error("failed to requeue job", zap.Error(err))
			}
		} else {
			c.logger.Error("job exhausted retries",
				zap.String("kind", string(job.Kind)),
				zap.String("transaction_id", job.TransactionID.String()))
		}
	}
}

// Close closes the underlying reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// MemoryQueue is an in-process Enqueuer for tests and single-node runs.
type MemoryQueue struct {
	mu   sync.Mutex
	jobs []Job
}

// NewMemoryQueue creates an empty in-memory queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

// Enqueue appends the job.
func (q *MemoryQueue) Enqueue(ctx context.Context, job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}
	q.jobs = append(q.jobs, job)
	return nil
}

// Jobs returns a snapshot of everything enqueued so far.
func (q *MemoryQueue) Jobs() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Job, len(q.jobs))
	copy(out, q.jobs)
	return out
}

// Drain pops every queued job through the handler, including jobs the
// handler itself requeues, until the queue is empty.
func (q *MemoryQueue) Drain(ctx context.Context, handler Handler) error {
	for {
		q.mu.Lock()
		if len(q.jobs) == 0 {
			q.mu.Unlock()
			return nil
		}
		job := q.jobs[0]
		q.jobs = q.jobs[1:]
		q.mu.Unlock()

		if err := handler(ctx, job); err != nil {
			return err
		}
	}
}
