package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	idgen "github.com/crawlmesh/crawlmesh/internal/id/uuid"
)

var postgresIDGen = idgen.NewUUIDGenerator()

// PostgresConfig controls the connection pool backing a Postgres store.
type PostgresConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// queryRower is the subset of pgxpool.Pool used by Postgres, narrowed for
// mockability in tests.
type queryRower interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Postgres is a pgx-backed MetadataStore implementing the crawl_jobs,
// url_queue, crawled_pages and robots_cache tables.
type Postgres struct {
	pool queryRower
}

// NewPostgres opens a connection pool against cfg.DSN.
func NewPostgres(ctx context.Context, cfg PostgresConfig) (*Postgres, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store: dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("store: parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("store: connect postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// NewPostgresWithPool builds a store from an existing pool, for tests.
func NewPostgresWithPool(pool queryRower) *Postgres {
	return &Postgres{pool: pool}
}

// Pool exposes the underlying connection pool so a PostgresProgress
// repository can share it instead of opening a second pool.
func (s *Postgres) Pool() queryRower {
	return s.pool
}

// Close releases the underlying connection pool.
func (s *Postgres) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Postgres) CreateJob(ctx context.Context, job *CrawlJob) error {
	if job.ID == "" {
		job.ID, _ = postgresIDGen.NewID()
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
	_, err := s.pool.Exec(ctx, `
INSERT INTO crawl_jobs (id, url, status, priority, depth, max_depth, domain_filter, created_at, error_message, pages_crawled, pages_indexed)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		job.ID, job.URL, job.Status, job.Priority, job.Depth, job.MaxDepth,
		job.DomainFilter, job.CreatedAt, job.ErrorMessage, job.PagesCrawled, job.PagesIndexed)
	if err != nil {
		return fmt.Errorf("store: create job: %w", err)
	}
	return nil
}

func (s *Postgres) GetJob(ctx context.Context, id string) (*CrawlJob, error) {
	row := s.pool.QueryRow(ctx, `
SELECT id, url, status, priority, depth, max_depth, domain_filter, created_at, started_at, completed_at, error_message, pages_crawled, pages_indexed
FROM crawl_jobs WHERE id = $1`, id)

	var job CrawlJob
	if err := row.Scan(&job.ID, &job.URL, &job.Status, &job.Priority, &job.Depth, &job.MaxDepth,
		&job.DomainFilter, &job.CreatedAt, &job.StartedAt, &job.CompletedAt, &job.ErrorMessage,
		&job.PagesCrawled, &job.PagesIndexed); err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get job: %w", err)
	}
	return &job, nil
}

func (s *Postgres) UpdateJob(ctx context.Context, job *CrawlJob) error {
	_, err := s.pool.Exec(ctx, `
UPDATE crawl_jobs SET status=$2, started_at=$3, completed_at=$4, error_message=$5, pages_crawled=$6, pages_indexed=$7
WHERE id = $1`,
		job.ID, job.Status, job.StartedAt, job.CompletedAt, job.ErrorMessage, job.PagesCrawled, job.PagesIndexed)
	if err != nil {
		return fmt.Errorf("store: update job: %w", err)
	}
	return nil
}

func (s *Postgres) IncrementJobCounters(ctx context.Context, id string, pagesCrawled, pagesIndexed int) error {
	_, err := s.pool.Exec(ctx, `
UPDATE crawl_jobs SET pages_crawled = pages_crawled + $2, pages_indexed = pages_indexed + $3 WHERE id = $1`,
		id, pagesCrawled, pagesIndexed)
	if err != nil {
		return fmt.Errorf("store: increment job counters: %w", err)
	}
	return nil
}

// EnqueueURL inserts a frontier record. Duplicate normalized URLs are a
// silent no-op via ON CONFLICT DO NOTHING, per the frontier's uniqueness
// contract.
func (s *Postgres) EnqueueURL(ctx context.Context, rec *URLRecord) (bool, error) {
	if rec.ID == "" {
		rec.ID, _ = postgresIDGen.NewID()
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
	tag, err := s.pool.Exec(ctx, `
INSERT INTO url_queue (id, url, parent_url, depth, priority, job_id, status, attempts, created_at, scheduled_at, error_message)
VALUES ($1,$2,$3,$4,$5,$6,$7,0,$8,$9,$10)
ON CONFLICT (url) DO NOTHING`,
		rec.ID, rec.URL, rec.ParentURL, rec.Depth, rec.Priority, rec.JobID, rec.Status,
		rec.CreatedAt, rec.ScheduledAt, rec.ErrorMessage)
	if err != nil {
		return false, fmt.Errorf("store: enqueue url: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ClaimBatch atomically claims up to n pending, eligible records, ordered
// by priority DESC, created_at ASC, using SKIP LOCKED so concurrent workers
// never double-claim the same row.
func (s *Postgres) ClaimBatch(ctx context.Context, n int, now time.Time) ([]*URLRecord, error) {
	rows, err := s.pool.Query(ctx, `
WITH claimed AS (
	SELECT id FROM url_queue
	WHERE status = $1 AND scheduled_at <= $2 AND attempts < $3
	ORDER BY priority DESC, created_at ASC
	LIMIT $4
	FOR UPDATE SKIP LOCKED
)
UPDATE url_queue SET status = $5, attempts = attempts + 1, scheduled_at = $2
WHERE id IN (SELECT id FROM claimed)
RETURNING id, url, parent_url, depth, priority, job_id, status, attempts, created_at, scheduled_at, error_message`,
		URLStatusPending, now, MaxAttempts, n, URLStatusProcessing)
	if err != nil {
		return nil, fmt.Errorf("store: claim batch: %w", err)
	}
	defer rows.Close()

	var out []*URLRecord
	for rows.Next() {
		var rec URLRecord
		if err := rows.Scan(&rec.ID, &rec.URL, &rec.ParentURL, &rec.Depth, &rec.Priority, &rec.JobID,
			&rec.Status, &rec.Attempts, &rec.CreatedAt, &rec.ScheduledAt, &rec.ErrorMessage); err != nil {
			return nil, fmt.Errorf("store: scan claimed record: %w", err)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

func (s *Postgres) CompleteURL(ctx context.Context, id string, status URLStatus, errMsg string) error {
	_, err := s.pool.Exec(ctx, `UPDATE url_queue SET status=$2, error_message=$3 WHERE id=$1`, id, status, errMsg)
	if err != nil {
		return fmt.Errorf("store: complete url: %w", err)
	}
	return nil
}

// RescheduleFailed moves failed records with attempts<MaxAttempts back to
// pending with scheduled_at = now + delay.
func (s *Postgres) RescheduleFailed(ctx context.Context, delay time.Duration, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
UPDATE url_queue SET status=$1, scheduled_at=$2
WHERE status=$3 AND attempts < $4`,
		URLStatusPending, now.Add(delay), URLStatusFailed, MaxAttempts)
	if err != nil {
		return 0, fmt.Errorf("store: reschedule failed: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ReclaimStale recovers records left in processing by a handler that
// crashed before reporting a terminal outcome: a processing record whose
// lease (scheduled_at, stamped at claim time) is older than maxAge moves
// back to pending, or to failed once attempts are exhausted.
func (s *Postgres) ReclaimStale(ctx context.Context, maxAge time.Duration, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
UPDATE url_queue SET
	status = CASE WHEN attempts < $4 THEN $1 ELSE $5 END,
	scheduled_at = $2
WHERE status = $6 AND scheduled_at <= $3`,
		URLStatusPending, now, now.Add(-maxAge), MaxAttempts, URLStatusFailed, URLStatusProcessing)
	if err != nil {
		return 0, fmt.Errorf("store: reclaim stale: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Postgres) FrontierStats(ctx context.Context) (FrontierStats, error) {
	row := s.pool.QueryRow(ctx, `
SELECT
	count(*) FILTER (WHERE status = $1),
	count(*) FILTER (WHERE status = $2),
	count(*) FILTER (WHERE status = $3),
	count(*) FILTER (WHERE status = $4)
FROM url_queue`, URLStatusPending, URLStatusProcessing, URLStatusCompleted, URLStatusFailed)

	var stats FrontierStats
	if err := row.Scan(&stats.Pending, &stats.Processing, &stats.Completed, &stats.Failed); err != nil {
		return FrontierStats{}, fmt.Errorf("store: frontier stats: %w", err)
	}
	return stats, nil
}

func (s *Postgres) GetCrawledPage(ctx context.Context, url string) (*CrawledPage, error) {
	row := s.pool.QueryRow(ctx, `
SELECT id, url, title, content_hash, last_crawled, last_modified, status_code, content_type, word_count, domain, indexed, error_count
FROM crawled_pages WHERE url = $1`, url)

	var page CrawledPage
	if err := row.Scan(&page.ID, &page.URL, &page.Title, &page.ContentHash, &page.LastCrawled,
		&page.LastModified, &page.StatusCode, &page.ContentType, &page.WordCount, &page.Domain,
		&page.Indexed, &page.ErrorCount); err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get crawled page: %w", err)
	}
	return &page, nil
}

func (s *Postgres) UpsertCrawledPage(ctx context.Context, page *CrawledPage) error {
	if page.ID == "" {
		page.ID, _ = postgresIDGen.NewID()
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO crawled_pages (id, url, title, content_hash, last_crawled, last_modified, status_code, content_type, word_count, domain, indexed, error_count)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
ON CONFLICT (url) DO UPDATE SET
	title=excluded.title, content_hash=excluded.content_hash, last_crawled=excluded.last_crawled,
	last_modified=excluded.last_modified, status_code=excluded.status_code, content_type=excluded.content_type,
	word_count=excluded.word_count, domain=excluded.domain, indexed=excluded.indexed, error_count=excluded.error_count`,
		page.ID, page.URL, page.Title, page.ContentHash, page.LastCrawled, page.LastModified,
		page.StatusCode, page.ContentType, page.WordCount, page.Domain, page.Indexed, page.ErrorCount)
	if err != nil {
		return fmt.Errorf("store: upsert crawled page: %w", err)
	}
	return nil
}

func (s *Postgres) GetRobotsRecord(ctx context.Context, host string) (*RobotsRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT domain, robots_txt, last_updated, crawl_delay FROM robots_cache WHERE domain = $1`, host)

	var rec RobotsRecord
	if err := row.Scan(&rec.Domain, &rec.RobotsTxt, &rec.LastUpdated, &rec.CrawlDelay); err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get robots record: %w", err)
	}
	return &rec, nil
}

func (s *Postgres) UpsertRobotsRecord(ctx context.Context, rec *RobotsRecord) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO robots_cache (domain, robots_txt, last_updated, crawl_delay)
VALUES ($1,$2,$3,$4)
ON CONFLICT (domain) DO UPDATE SET robots_txt=excluded.robots_txt, last_updated=excluded.last_updated, crawl_delay=excluded.crawl_delay`,
		rec.Domain, rec.RobotsTxt, rec.LastUpdated, rec.CrawlDelay)
	if err != nil {
		return fmt.Errorf("store: upsert robots record: %w", err)
	}
	return nil
}
