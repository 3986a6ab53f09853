package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// PostgresProgress is a pgx-backed ProgressRepository implementing the
// job_runs and site_stats tables. It is a distinct type from Postgres for
// the same reason MemoryProgress is distinct from Memory: GetJob's argument
// type differs between Store and ProgressRepository.
type PostgresProgress struct {
	pool queryRower
}

// NewPostgresProgress builds a progress repository over an existing pool,
// typically shared with a Postgres store against the same database.
func NewPostgresProgress(pool queryRower) *PostgresProgress {
	return &PostgresProgress{pool: pool}
}

func (s *PostgresProgress) UpsertJobStart(ctx context.Context, jobID uuid.UUID, startedAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO job_runs (id, job_id, started_at, status)
VALUES ($1,$1,$2,$3)
ON CONFLICT (id) DO UPDATE SET started_at = excluded.started_at`,
		jobID, startedAt, RunRunning)
	if err != nil {
		return fmt.Errorf("store: upsert job start: %w", err)
	}
	return nil
}

func (s *PostgresProgress) CompleteJob(ctx context.Context, jobID uuid.UUID, finishedAt time.Time, status JobRunStatus, errMsg *string) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO job_runs (id, job_id, started_at, finished_at, status, error_message)
VALUES ($1,$1,$2,$2,$3,$4)
ON CONFLICT (id) DO UPDATE SET finished_at = excluded.finished_at, status = excluded.status, error_message = excluded.error_message`,
		jobID, finishedAt, status, errMsg)
	if err != nil {
		return fmt.Errorf("store: complete job run: %w", err)
	}
	return nil
}

func (s *PostgresProgress) UpsertSiteStats(ctx context.Context, jobID uuid.UUID, site string, deltaVisits, deltaBytes int64, statusClass string, at time.Time) error {
	var col string
	switch statusClass {
	case "2xx":
		col = "fetch_2xx"
	case "3xx":
		col = "fetch_3xx"
	case "4xx":
		col = "fetch_4xx"
	case "5xx":
		col = "fetch_5xx"
	default:
		col = "fetch_other"
	}
	query := fmt.Sprintf(`
INSERT INTO site_stats (job_id, site, last_update, visits, bytes_total, %s)
VALUES ($1,$2,$3,$4,$5,$4)
ON CONFLICT (job_id, site) DO UPDATE SET
	last_update = excluded.last_update,
	visits = site_stats.visits + excluded.visits,
	bytes_total = site_stats.bytes_total + excluded.bytes_total,
	%s = site_stats.%s + excluded.%s`, col, col, col, col)
	_, err := s.pool.Exec(ctx, query, jobID, site, at, deltaVisits, deltaBytes)
	if err != nil {
		return fmt.Errorf("store: upsert site stats: %w", err)
	}
	return nil
}

func (s *PostgresProgress) GetJob(ctx context.Context, jobID uuid.UUID) (JobRun, error) {
	row := s.pool.QueryRow(ctx, `
SELECT id, job_id, started_at, finished_at, status, error_message FROM job_runs WHERE job_id = $1`, jobID)

	var run JobRun
	if err := row.Scan(&run.ID, &run.JobID, &run.StartedAt, &run.FinishedAt, &run.Status, &run.ErrorMessage); err != nil {
		if err == pgx.ErrNoRows {
			return JobRun{}, ErrNotFound
		}
		return JobRun{}, fmt.Errorf("store: get job run: %w", err)
	}
	return run, nil
}

func (s *PostgresProgress) ListJobs(ctx context.Context, status *JobRunStatus, limit, offset int) ([]JobRun, error) {
	var rows pgx.Rows
	var err error
	if status != nil {
		rows, err = s.pool.Query(ctx, `
SELECT id, job_id, started_at, finished_at, status, error_message FROM job_runs
WHERE status = $1 ORDER BY started_at DESC LIMIT $2 OFFSET $3`, *status, limit, offset)
	} else {
		rows, err = s.pool.Query(ctx, `
SELECT id, job_id, started_at, finished_at, status, error_message FROM job_runs
ORDER BY started_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("store: list job runs: %w", err)
	}
	defer rows.Close()

	var out []JobRun
	for rows.Next() {
		var run JobRun
		if err := rows.Scan(&run.ID, &run.JobID, &run.StartedAt, &run.FinishedAt, &run.Status, &run.ErrorMessage); err != nil {
			return nil, fmt.Errorf("store: scan job run: %w", err)
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func (s *PostgresProgress) ListJobSites(ctx context.Context, jobID uuid.UUID, limit, offset int) ([]SiteStats, error) {
	rows, err := s.pool.Query(ctx, `
SELECT job_id, site, last_update, visits, bytes_total, fetch_2xx, fetch_3xx, fetch_4xx, fetch_5xx
FROM site_stats WHERE job_id = $1 ORDER BY site ASC LIMIT $2 OFFSET $3`, jobID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("store: list job sites: %w", err)
	}
	defer rows.Close()

	var out []SiteStats
	for rows.Next() {
		var stat SiteStats
		if err := rows.Scan(&stat.JobID, &stat.Site, &stat.LastUpdate, &stat.Visits, &stat.BytesTotal,
			&stat.Fetch2xx, &stat.Fetch3xx, &stat.Fetch4xx, &stat.Fetch5xx); err != nil {
			return nil, fmt.Errorf("store: scan site stats: %w", err)
		}
		out = append(out, stat)
	}
	return out, rows.Err()
}
