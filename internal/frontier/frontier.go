// Package frontier implements the durable, priority-ordered, retry-aware
// URL queue described as component C2: a thin contract over
// internal/store plus a worker-local fast-reject cache for recently
// enqueued URLs.
package frontier

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/crawlmesh/crawlmesh/internal/store"
)

// Outcome is the terminal result of a claimed URL record.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
)

// Frontier is the C2 contract: enqueue, claim, complete, reschedule, stats.
type Frontier interface {
	Enqueue(ctx context.Context, url, parent string, depth int, jobID string, priority int) (added bool, err error)
	ClaimBatch(ctx context.Context, n int) ([]*store.URLRecord, error)
	Complete(ctx context.Context, id string, outcome Outcome, errMessage string) error
	RescheduleFailed(ctx context.Context, delay time.Duration) (int, error)
	// ReclaimStale recovers records left in processing because the
	// handler that claimed them crashed before reporting completed or
	// failed: any processing record claimed more than maxAge ago is
	// returned to pending (or to failed once attempts are exhausted).
	ReclaimStale(ctx context.Context, maxAge time.Duration) (int, error)
	Stats(ctx context.Context) (store.FrontierStats, error)
}

// DefaultRescheduleDelay is the reference backoff applied when rescheduling
// failed records: 60 minutes.
const DefaultRescheduleDelay = 60 * time.Minute

// recentSet is a worker-local, in-memory fast-reject cache for normalized
// URLs enqueued recently in this process. It is never the correctness
// barrier — store-level uniqueness is — and is rebuilt empty on worker
// start; it is never synchronized across workers.
type recentSet struct {
	seen sync.Map
}

// markIfNew records url if unseen and reports whether it was new.
func (r *recentSet) markIfNew(url string) bool {
	if url == "" {
		return false
	}
	_, loaded := r.seen.LoadOrStore(url, struct{}{})
	return !loaded
}

// Store wraps a store.Store with the recentSet optimization and exposes the
// Frontier contract. It is backend-agnostic: the same type works whether
// store.Store is backed by Postgres or the in-memory test double.
type Store struct {
	backing store.Store
	recent  recentSet
	clock   func() time.Time
}

// New builds a Frontier backed by backing. Pass clock for deterministic
// tests; nil defaults to time.Now.
func New(backing store.Store, clock func() time.Time) *Store {
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &Store{backing: backing, clock: clock}
}

// Enqueue inserts a normalized URL record with status=pending. A second
// insertion of the same normalized URL is a silent no-op, never a
// conflict — the recentSet short-circuits the common case before the
// store round-trip, but the store's own uniqueness constraint is always
// the correctness barrier.
func (f *Store) Enqueue(ctx context.Context, url, parent string, depth int, jobID string, priority int) (bool, error) {
	if !f.recent.markIfNew(url) {
		return false, nil
	}
	rec := &store.URLRecord{
		URL:         url,
		ParentURL:   parent,
		Depth:       depth,
		JobID:       jobID,
		Priority:    priority,
		Status:      store.URLStatusPending,
		CreatedAt:   f.clock(),
		ScheduledAt: f.clock(),
	}
	added, err := f.backing.EnqueueURL(ctx, rec)
	if err != nil {
		return false, fmt.Errorf("frontier: enqueue: %w", err)
	}
	return added, nil
}

// ClaimBatch atomically selects up to n eligible pending records, marking
// them processing and incrementing attempts in the same step.
func (f *Store) ClaimBatch(ctx context.Context, n int) ([]*store.URLRecord, error) {
	recs, err := f.backing.ClaimBatch(ctx, n, f.clock())
	if err != nil {
		return nil, fmt.Errorf("frontier: claim batch: %w", err)
	}
	return recs, nil
}

// Complete sets the terminal status on a claimed record.
func (f *Store) Complete(ctx context.Context, id string, outcome Outcome, errMessage string) error {
	status := store.URLStatusCompleted
	if outcome == OutcomeFailed {
		status = store.URLStatusFailed
	}
	if err := f.backing.CompleteURL(ctx, id, status, errMessage); err != nil {
		return fmt.Errorf("frontier: complete: %w", err)
	}
	return nil
}

// RescheduleFailed moves failed records with attempts<3 back to pending
// with scheduled_at = now + delay.
func (f *Store) RescheduleFailed(ctx context.Context, delay time.Duration) (int, error) {
	n, err := f.backing.RescheduleFailed(ctx, delay, f.clock())
	if err != nil {
		return 0, fmt.Errorf("frontier: reschedule failed: %w", err)
	}
	return n, nil
}

// ReclaimStale recovers processing records whose claim is older than
// maxAge, recovering work a crashed handler left behind.
func (f *Store) ReclaimStale(ctx context.Context, maxAge time.Duration) (int, error) {
	n, err := f.backing.ReclaimStale(ctx, maxAge, f.clock())
	if err != nil {
		return 0, fmt.Errorf("frontier: reclaim stale: %w", err)
	}
	return n, nil
}

// Stats reports frontier counts by status.
func (f *Store) Stats(ctx context.Context) (store.FrontierStats, error) {
	stats, err := f.backing.FrontierStats(ctx)
	if err != nil {
		return store.FrontierStats{}, fmt.Errorf("frontier: stats: %w", err)
	}
	return stats, nil
}
