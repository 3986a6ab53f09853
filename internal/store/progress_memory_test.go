package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryProgress_UpsertJobStartThenComplete(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryProgress()
	jobID := uuid.New()
	start := time.Now().UTC()

	require.NoError(t, p.UpsertJobStart(ctx, jobID, start))

	run, err := p.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, RunRunning, run.Status)
	assert.Nil(t, run.FinishedAt)

	finish := start.Add(time.Minute)
	require.NoError(t, p.CompleteJob(ctx, jobID, finish, RunSuccess, nil))

	run, err = p.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, RunSuccess, run.Status)
	require.NotNil(t, run.FinishedAt)
	assert.True(t, run.FinishedAt.Equal(finish))
}

func TestMemoryProgress_GetJob_NotFound(t *testing.T) {
	p := NewMemoryProgress()
	_, err := p.GetJob(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryProgress_UpsertSiteStats_AccumulatesPerStatusClass(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryProgress()
	jobID := uuid.New()
	now := time.Now().UTC()

	require.NoError(t, p.UpsertSiteStats(ctx, jobID, "example.com", 1, 100, "2xx", now))
	require.NoError(t, p.UpsertSiteStats(ctx, jobID, "example.com", 1, 50, "2xx", now.Add(time.Second)))
	require.NoError(t, p.UpsertSiteStats(ctx, jobID, "example.com", 1, 0, "4xx", now))

	sites, err := p.ListJobSites(ctx, jobID, 10, 0)
	require.NoError(t, err)
	require.Len(t, sites, 1)
	assert.Equal(t, int64(3), sites[0].Visits)
	assert.Equal(t, int64(150), sites[0].BytesTotal)
	assert.Equal(t, int64(2), sites[0].Fetch2xx)
	assert.Equal(t, int64(1), sites[0].Fetch4xx)
}

func TestMemoryProgress_ListJobs_FiltersByStatusAndPaginates(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryProgress()
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		id := uuid.New()
		require.NoError(t, p.UpsertJobStart(ctx, id, now.Add(time.Duration(i)*time.Minute)))
	}
	errJobID := uuid.New()
	require.NoError(t, p.UpsertJobStart(ctx, errJobID, now))
	require.NoError(t, p.CompleteJob(ctx, errJobID, now.Add(time.Minute), RunError, nil))

	running := RunRunning
	jobs, err := p.ListJobs(ctx, &running, 10, 0)
	require.NoError(t, err)
	assert.Len(t, jobs, 3)

	failed := RunError
	jobs, err = p.ListJobs(ctx, &failed, 10, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, errJobID, jobs[0].JobID)

	all, err := p.ListJobs(ctx, nil, 2, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
