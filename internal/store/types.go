// Package store defines the metadata persistence contract for the crawler
// (crawl jobs, the URL frontier, crawled-page bookkeeping and the robots
// cache) and provides a pgx-backed Postgres implementation plus an
// in-process implementation for tests and for running without a database.
package store

import "time"

// URLStatus is the lifecycle state of a frontier (url_queue) record.
type URLStatus string

const (
	URLStatusPending    URLStatus = "pending"
	URLStatusProcessing URLStatus = "processing"
	URLStatusCompleted  URLStatus = "completed"
	URLStatusFailed     URLStatus = "failed"
)

// JobStatus is the lifecycle state of a crawl job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusInProgress JobStatus = "in_progress"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// MaxAttempts is the cap on frontier claim attempts before a URL record is
// considered permanently failed.
const MaxAttempts = 3

// CrawlJob mirrors the crawl_jobs table.
type CrawlJob struct {
	ID            string
	URL           string
	Status        JobStatus
	Priority      int
	Depth         int
	MaxDepth      int
	DomainFilter  []string
	CreatedAt     time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time
	ErrorMessage  string
	PagesCrawled  int
	PagesIndexed  int
}

// URLRecord mirrors the url_queue table — a single frontier entry.
type URLRecord struct {
	ID           string
	URL          string
	ParentURL    string
	Depth        int
	Priority     int
	JobID        string
	Status       URLStatus
	Attempts     int
	CreatedAt    time.Time
	ScheduledAt  time.Time
	ErrorMessage string
}

// CrawledPage mirrors the crawled_pages table — the "have we seen this
// recently" oracle, keyed by normalized URL.
type CrawledPage struct {
	ID           string
	URL          string
	Title        string
	ContentHash  string
	LastCrawled  time.Time
	LastModified *time.Time
	StatusCode   int
	ContentType  string
	WordCount    int
	Domain       string
	Indexed      bool
	ErrorCount   int
}

// RobotsRecord mirrors the robots_cache table.
type RobotsRecord struct {
	Domain      string
	RobotsTxt   string
	LastUpdated time.Time
	CrawlDelay  int
}

// FrontierStats reports counts by frontier status, as returned by
// Frontier.Stats.
type FrontierStats struct {
	Pending    int
	Processing int
	Completed  int
	Failed     int
}
