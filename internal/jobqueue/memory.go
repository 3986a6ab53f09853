package jobqueue

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"
)

const delayPollInterval = 200 * time.Millisecond

// defaultStallTimeout bounds how long a job may sit dequeued without an
// Ack or Nack before promoteLoop treats its handler as crashed and emits
// EventStalled. The queue itself holds no durable state, so it never
// requeues a stalled job — recovery of the underlying frontier record is
// the store's reclaim sweep; this is purely the notification path.
const defaultStallTimeout = 10 * time.Minute

// Memory is a priority-and-retry-aware in-process Queue: a heap of
// ready jobs ordered by priority then FIFO, and a delay wheel (a second
// heap ordered by availableAt) that periodically promotes jobs whose
// backoff has elapsed.
type Memory struct {
	mu      sync.Mutex
	cond    *sync.Cond
	ready   readyHeap
	delayed delayedHeap
	active  map[string]*activeJob
	retry   RetryPolicy

	completed int
	failed    int

	stallTimeout time.Duration
	events       chan Event
	stop         chan struct{}
	once         sync.Once
}

type activeJob struct {
	job        Job
	attempts   int
	dequeuedAt time.Time
}

// NewMemory builds an in-process Queue. retry may be nil, in which case
// Nack always marks jobs terminally failed without retrying.
func NewMemory(retry RetryPolicy) *Memory {
	m := &Memory{
		active:       make(map[string]*activeJob),
		retry:        retry,
		stallTimeout: defaultStallTimeout,
		events:       make(chan Event, 64),
		stop:         make(chan struct{}),
	}
	m.cond = sync.NewCond(&m.mu)
	go m.promoteLoop()
	return m
}

func (m *Memory) promoteLoop() {
	ticker := time.NewTicker(delayPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.mu.Lock()
			if m.promoteDue() {
				m.cond.Broadcast()
			}
			stalled := m.collectStalled()
			m.mu.Unlock()
			for _, evt := range stalled {
				m.emit(evt)
			}
		}
	}
}

// collectStalled finds active jobs whose handler has held them past
// stallTimeout without acking or nacking, evicts them from active so
// they don't leak forever, and returns the events to emit. Caller holds
// m.mu.
func (m *Memory) collectStalled() []Event {
	var stalled []Event
	cutoff := time.Now().Add(-m.stallTimeout)
	for id, active := range m.active {
		if active.dequeuedAt.After(cutoff) {
			continue
		}
		delete(m.active, id)
		stalled = append(stalled, Event{
			JobID:      id,
			CrawlJobID: active.job.CrawlJobID,
			Status:     EventStalled,
			At:         time.Now(),
		})
	}
	return stalled
}

// promoteDue moves delayed jobs whose availableAt has elapsed into the
// ready heap. Caller holds m.mu.
func (m *Memory) promoteDue() bool {
	now := time.Now()
	promoted := false
	for len(m.delayed) > 0 && !m.delayed[0].availableAt.After(now) {
		item := heap.Pop(&m.delayed).(*delayedItem)
		heap.Push(&m.ready, &readyItem{job: item.job})
		promoted = true
	}
	return promoted
}

func (m *Memory) Enqueue(_ context.Context, job Job, availableAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}

	if availableAt.After(time.Now()) {
		heap.Push(&m.delayed, &delayedItem{job: job, availableAt: availableAt})
	} else {
		heap.Push(&m.ready, &readyItem{job: job})
	}
	m.cond.Broadcast()
	return nil
}

func (m *Memory) Dequeue(ctx context.Context) (Job, error) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			m.mu.Lock()
			m.cond.Broadcast()
			m.mu.Unlock()
		case <-done:
		}
	}()
	defer close(done)

	m.mu.Lock()
	defer m.mu.Unlock()

	for {
		m.promoteDue()
		if len(m.ready) > 0 {
			item := heap.Pop(&m.ready).(*readyItem)
			job := item.job
			m.active[job.ID] = &activeJob{job: job, attempts: job.Attempts, dequeuedAt: time.Now()}
			return job, nil
		}
		if ctx.Err() != nil {
			return Job{}, ctx.Err()
		}
		m.cond.Wait()
	}
}

func (m *Memory) Ack(_ context.Context, jobID string) error {
	m.mu.Lock()
	active, ok := m.active[jobID]
	if ok {
		delete(m.active, jobID)
		m.completed++
	}
	m.mu.Unlock()

	if !ok {
		return errors.New("jobqueue: ack of unknown job " + jobID)
	}
	m.emit(Event{JobID: jobID, CrawlJobID: active.job.CrawlJobID, Status: EventCompleted, At: time.Now()})
	return nil
}

func (m *Memory) Nack(_ context.Context, jobID string, cause error) error {
	m.mu.Lock()
	active, ok := m.active[jobID]
	if !ok {
		m.mu.Unlock()
		return errors.New("jobqueue: nack of unknown job " + jobID)
	}
	delete(m.active, jobID)

	attempt := active.attempts + 1
	retryable := m.retry != nil && m.retry.ShouldRetry(attempt)
	if retryable {
		job := active.job
		job.Attempts = attempt
		availableAt := time.Now().Add(m.retry.Backoff(attempt))
		heap.Push(&m.delayed, &delayedItem{job: job, availableAt: availableAt})
		m.cond.Broadcast()
		m.mu.Unlock()
		return nil
	}

	m.failed++
	m.mu.Unlock()

	m.emit(Event{JobID: jobID, CrawlJobID: active.job.CrawlJobID, Status: EventFailed, Err: cause, At: time.Now()})
	return nil
}

func (m *Memory) Stats(_ context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		Active:    len(m.active),
		Waiting:   len(m.ready),
		Delayed:   len(m.delayed),
		Completed: m.completed,
		Failed:    m.failed,
	}, nil
}

func (m *Memory) Events() <-chan Event {
	return m.events
}

func (m *Memory) emit(evt Event) {
	select {
	case m.events <- evt:
	default:
		// events channel is advisory; drop under backpressure rather than block.
	}
}

func (m *Memory) Close() error {
	m.once.Do(func() {
		close(m.stop)
		close(m.events)
	})
	return nil
}

type readyItem struct {
	job Job
}

type readyHeap []*readyItem

func (h readyHeap) Len() int { return len(h) }
func (h readyHeap) Less(i, j int) bool {
	if h[i].job.Priority != h[j].job.Priority {
		return h[i].job.Priority > h[j].job.Priority
	}
	return h[i].job.EnqueuedAt.Before(h[j].job.EnqueuedAt)
}
func (h readyHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *readyHeap) Push(x any)   { *h = append(*h, x.(*readyItem)) }
func (h *readyHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

type delayedItem struct {
	job         Job
	availableAt time.Time
}

type delayedHeap []*delayedItem

func (h delayedHeap) Len() int            { return len(h) }
func (h delayedHeap) Less(i, j int) bool  { return h[i].availableAt.Before(h[j].availableAt) }
func (h delayedHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *delayedHeap) Push(x any)         { *h = append(*h, x.(*delayedItem)) }
func (h *delayedHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
