// Package jobqueue implements the JobQueue external collaborator: a
// transient, priority-and-retry-aware work-dispatch mechanism fed by the
// frontier pump inside the worker (C7). The frontier is the durable
// source of truth; the queue owns a job from dispatch until it is acked,
// nacked into terminal failure, or detected stalled.
package jobqueue

import (
	"context"
	"time"
)

// Job is a unit of dispatched work: one URL record claimed from the
// frontier, ready for a crawl handler.
type Job struct {
	ID         string
	URL        string
	Depth      int
	CrawlJobID string
	Priority   int
	Attempts   int
	EnqueuedAt time.Time
}

// Event is a lifecycle notification emitted as jobs move through the
// queue: completed, failed, or stalled.
type Event struct {
	JobID      string
	CrawlJobID string
	Status     EventStatus
	Err        error
	At         time.Time
}

// EventStatus classifies a lifecycle Event.
type EventStatus string

const (
	EventCompleted EventStatus = "completed"
	EventFailed    EventStatus = "failed"
	EventStalled   EventStatus = "stalled"
)

// Stats reports the current distribution of jobs across states.
type Stats struct {
	Active    int
	Waiting   int
	Completed int
	Failed    int
	Delayed   int
}

// Queue is the JobQueue interface the worker's frontier pump feeds and
// its crawl handlers drain.
type Queue interface {
	// Enqueue admits a job, available immediately or after availableAt if
	// it is in the future (used for retry backoff).
	Enqueue(ctx context.Context, job Job, availableAt time.Time) error

	// Dequeue blocks until a job is available or ctx is done.
	Dequeue(ctx context.Context) (Job, error)

	// Ack marks a job as successfully completed.
	Ack(ctx context.Context, jobID string) error

	// Nack reports a handler failure for jobID. The queue consults its
	// retry policy: if attempts remain, the job is re-enqueued with
	// backoff; otherwise it is marked terminally failed.
	Nack(ctx context.Context, jobID string, cause error) error

	// Stats reports current queue-state counters.
	Stats(ctx context.Context) (Stats, error)

	// Events returns a channel of lifecycle notifications, consumed by a
	// downstream completion-event publisher.
	Events() <-chan Event

	// Close releases queue resources.
	Close() error
}

// RetryPolicy decides whether a failed job should be retried and how
// long to wait before the next attempt.
type RetryPolicy interface {
	ShouldRetry(attempt int) bool
	Backoff(attempt int) time.Duration
}
