package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a lookup by id or key matches no record.
var ErrNotFound = errors.New("store: not found")

// Store is the metadata persistence contract shared by the frontier, the
// robots cache, and the worker's page bookkeeping. A backing store that
// preserves the field and constraint semantics below is substitutable —
// Postgres and an in-memory store both implement it (see Memory for the
// one difference in EnqueueURL).
type Store interface {
	// Crawl jobs.
	CreateJob(ctx context.Context, job *CrawlJob) error
	GetJob(ctx context.Context, id string) (*CrawlJob, error)
	UpdateJob(ctx context.Context, job *CrawlJob) error
	IncrementJobCounters(ctx context.Context, id string, pagesCrawled, pagesIndexed int) error

	// Frontier (url_queue).
	EnqueueURL(ctx context.Context, rec *URLRecord) (added bool, err error)
	ClaimBatch(ctx context.Context, n int, now time.Time) ([]*URLRecord, error)
	CompleteURL(ctx context.Context, id string, status URLStatus, errMsg string) error
	RescheduleFailed(ctx context.Context, delay time.Duration, now time.Time) (int, error)
	// ReclaimStale recovers records stuck in processing because the
	// handler that claimed them crashed before reporting a terminal
	// outcome: records whose claim (scheduled_at) is older than maxAge
	// move back to pending (or to failed once attempts are exhausted).
	ReclaimStale(ctx context.Context, maxAge time.Duration, now time.Time) (int, error)
	FrontierStats(ctx context.Context) (FrontierStats, error)

	// Crawled pages.
	GetCrawledPage(ctx context.Context, url string) (*CrawledPage, error)
	UpsertCrawledPage(ctx context.Context, page *CrawledPage) error

	// Robots cache, durable tier.
	GetRobotsRecord(ctx context.Context, host string) (*RobotsRecord, error)
	UpsertRobotsRecord(ctx context.Context, rec *RobotsRecord) error

	Close()
}
