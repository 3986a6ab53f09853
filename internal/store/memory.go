package store

import (
	"context"
	"sort"
	"sync"
	"time"

	idgen "github.com/crawlmesh/crawlmesh/internal/id/uuid"
)

var memoryIDGen = idgen.NewUUIDGenerator()

// Memory is an in-process Store for tests and for running the crawler
// without a Postgres dependency. It preserves the same status/attempts
// semantics as Postgres, serialized behind a single mutex, except that
// EnqueueURL keeps a caller-supplied Attempts value where Postgres starts
// every new record at zero attempts.
type Memory struct {
	mu     sync.Mutex
	jobs   map[string]*CrawlJob
	urls   map[string]*URLRecord
	pages  map[string]*CrawledPage
	robots map[string]*RobotsRecord
}

// NewMemory constructs an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		jobs:   make(map[string]*CrawlJob),
		urls:   make(map[string]*URLRecord),
		pages:  make(map[string]*CrawledPage),
		robots: make(map[string]*RobotsRecord),
	}
}

func (m *Memory) Close() {}

func (m *Memory) CreateJob(_ context.Context, job *CrawlJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job.ID == "" {
		job.ID, _ = memoryIDGen.NewID()
	}
	if job.Status == "" {
		job.Status = JobStatusPending
	}
	if job.Priority == 0 {
		job.Priority = 5
	}
	if job.MaxDepth == 0 {
		job.MaxDepth = 3
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	clone := *job
	m.jobs[job.ID] = &clone
	return nil
}

func (m *Memory) GetJob(_ context.Context, id string) (*CrawlJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *job
	return &clone, nil
}

func (m *Memory) UpdateJob(_ context.Context, job *CrawlJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; !ok {
		return ErrNotFound
	}
	clone := *job
	m.jobs[job.ID] = &clone
	return nil
}

func (m *Memory) IncrementJobCounters(_ context.Context, id string, pagesCrawled, pagesIndexed int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	job.PagesCrawled += pagesCrawled
	job.PagesIndexed += pagesIndexed
	return nil
}

func (m *Memory) EnqueueURL(_ context.Context, rec *URLRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.urls {
		if existing.URL == rec.URL {
			return false, nil
		}
	}
	if rec.ID == "" {
		rec.ID, _ = memoryIDGen.NewID()
	}
	if rec.Status == "" {
		rec.Status = URLStatusPending
	}
	if rec.Priority == 0 {
		rec.Priority = 5
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.ScheduledAt.IsZero() {
		rec.ScheduledAt = rec.CreatedAt
	}
	clone := *rec
	m.urls[rec.ID] = &clone
	return true, nil
}

func (m *Memory) ClaimBatch(_ context.Context, n int, now time.Time) ([]*URLRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var eligible []*URLRecord
	for _, rec := range m.urls {
		if rec.Status == URLStatusPending && !rec.ScheduledAt.After(now) && rec.Attempts < MaxAttempts {
			eligible = append(eligible, rec)
		}
	}
	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].Priority != eligible[j].Priority {
			return eligible[i].Priority > eligible[j].Priority
		}
		return eligible[i].CreatedAt.Before(eligible[j].CreatedAt)
	})

	if len(eligible) > n {
		eligible = eligible[:n]
	}

	claimed := make([]*URLRecord, 0, len(eligible))
	for _, rec := range eligible {
		rec.Status = URLStatusProcessing
		rec.Attempts++
		rec.ScheduledAt = now
		clone := *rec
		claimed = append(claimed, &clone)
	}
	return claimed, nil
}

// ReclaimStale moves processing records whose lease (scheduled_at, set
// at claim time) is older than maxAge back to pending, or to failed once
// attempts are exhausted, recovering work a crashed handler left behind.
func (m *Memory) ReclaimStale(_ context.Context, maxAge time.Duration, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := now.Add(-maxAge)
	count := 0
	for _, rec := range m.urls {
		if rec.Status != URLStatusProcessing || rec.ScheduledAt.After(cutoff) {
			continue
		}
		if rec.Attempts < MaxAttempts {
			rec.Status = URLStatusPending
		} else {
			rec.Status = URLStatusFailed
		}
		rec.ScheduledAt = now
		count++
	}
	return count, nil
}

func (m *Memory) CompleteURL(_ context.Context, id string, status URLStatus, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.urls[id]
	if !ok {
		return ErrNotFound
	}
	rec.Status = status
	rec.ErrorMessage = errMsg
	return nil
}

func (m *Memory) RescheduleFailed(_ context.Context, delay time.Duration, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, rec := range m.urls {
		if rec.Status == URLStatusFailed && rec.Attempts < MaxAttempts {
			rec.Status = URLStatusPending
			rec.ScheduledAt = now.Add(delay)
			count++
		}
	}
	return count, nil
}

func (m *Memory) FrontierStats(_ context.Context) (FrontierStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var stats FrontierStats
	for _, rec := range m.urls {
		switch rec.Status {
		case URLStatusPending:
			stats.Pending++
		case URLStatusProcessing:
			stats.Processing++
		case URLStatusCompleted:
			stats.Completed++
		case URLStatusFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

func (m *Memory) GetCrawledPage(_ context.Context, url string) (*CrawledPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	page, ok := m.pages[url]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *page
	return &clone, nil
}

func (m *Memory) UpsertCrawledPage(_ context.Context, page *CrawledPage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if page.ID == "" {
		if existing, ok := m.pages[page.URL]; ok {
			page.ID = existing.ID
		} else {
			page.ID, _ = memoryIDGen.NewID()
		}
	}
	clone := *page
	m.pages[page.URL] = &clone
	return nil
}

func (m *Memory) GetRobotsRecord(_ context.Context, host string) (*RobotsRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.robots[host]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *rec
	return &clone, nil
}

func (m *Memory) UpsertRobotsRecord(_ context.Context, rec *RobotsRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *rec
	m.robots[rec.Domain] = &clone
	return nil
}
