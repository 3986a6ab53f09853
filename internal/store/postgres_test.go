package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
)

func TestPostgres_CreateJob_GeneratesIDAndDefaults(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s := NewPostgresWithPool(mock)

	job := &CrawlJob{URL: "https://example.com"}

	mock.ExpectExec("INSERT INTO crawl_jobs").
		WithArgs(pgxmock.AnyArg(), job.URL, JobStatusPending, 5, 0, 3, job.DomainFilter,
			pgxmock.AnyArg(), "", 0, 0).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = s.CreateJob(context.Background(), job)
	require.NoError(t, err)
	require.NotEmpty(t, job.ID)
	require.Equal(t, JobStatusPending, job.Status)
	require.Equal(t, 5, job.Priority)
	require.Equal(t, 3, job.MaxDepth)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetJob_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s := NewPostgresWithPool(mock)

	mock.ExpectQuery("SELECT id, url, status").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err = s.GetJob(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_EnqueueURL_ConflictIsNotAnError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s := NewPostgresWithPool(mock)
	rec := &URLRecord{URL: "https://example.com/a", JobID: "job-1"}

	mock.ExpectExec("INSERT INTO url_queue").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	inserted, err := s.EnqueueURL(context.Background(), rec)
	require.NoError(t, err)
	require.False(t, inserted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_FrontierStats_ScansCounts(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s := NewPostgresWithPool(mock)

	rows := pgxmock.NewRows([]string{"pending", "processing", "completed", "failed"}).
		AddRow(int64(3), int64(1), int64(10), int64(2))
	mock.ExpectQuery("FROM url_queue").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(rows)

	stats, err := s.FrontierStats(context.Background())
	require.NoError(t, err)
	require.Equal(t, FrontierStats{Pending: 3, Processing: 1, Completed: 10, Failed: 2}, stats)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_RescheduleFailed_ReturnsAffectedCount(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s := NewPostgresWithPool(mock)

	mock.ExpectExec("UPDATE url_queue SET status").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 4))

	n, err := s.RescheduleFailed(context.Background(), time.Minute, time.Now().UTC())
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ReclaimStale_ReturnsAffectedCount(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s := NewPostgresWithPool(mock)

	mock.ExpectExec("UPDATE url_queue SET").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))

	n, err := s.ReclaimStale(context.Background(), 15*time.Minute, time.Now().UTC())
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.NoError(t, mock.ExpectationsWereMet())
}
