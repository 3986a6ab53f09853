package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_EnqueueURL_DedupIsSilentNoOp(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	added, err := m.EnqueueURL(ctx, &URLRecord{URL: "https://example.com/a"})
	require.NoError(t, err)
	assert.True(t, added)

	added, err = m.EnqueueURL(ctx, &URLRecord{URL: "https://example.com/a"})
	require.NoError(t, err)
	assert.False(t, added)
}

func TestMemory_ClaimBatch_OrdersByPriorityThenCreatedAt(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Now().UTC()

	_, _ = m.EnqueueURL(ctx, &URLRecord{URL: "https://a.com", Priority: 1, CreatedAt: now})
	_, _ = m.EnqueueURL(ctx, &URLRecord{URL: "https://b.com", Priority: 5, CreatedAt: now.Add(time.Second)})
	_, _ = m.EnqueueURL(ctx, &URLRecord{URL: "https://c.com", Priority: 5, CreatedAt: now})

	claimed, err := m.ClaimBatch(ctx, 10, now.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, claimed, 3)
	assert.Equal(t, "https://c.com", claimed[0].URL)
	assert.Equal(t, "https://b.com", claimed[1].URL)
	assert.Equal(t, "https://a.com", claimed[2].URL)
	for _, rec := range claimed {
		assert.Equal(t, URLStatusProcessing, rec.Status)
		assert.Equal(t, 1, rec.Attempts)
	}
}

func TestMemory_ClaimBatch_RespectsScheduledAtAndAttemptsCap(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Now().UTC()

	_, _ = m.EnqueueURL(ctx, &URLRecord{URL: "https://future.com", ScheduledAt: now.Add(time.Hour), CreatedAt: now})
	_, _ = m.EnqueueURL(ctx, &URLRecord{URL: "https://exhausted.com", Attempts: MaxAttempts, CreatedAt: now})
	claimed, err := m.ClaimBatch(ctx, 10, now)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestMemory_RescheduleFailed_MovesEligibleBackToPending(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Now().UTC()

	_, _ = m.EnqueueURL(ctx, &URLRecord{URL: "https://x.com", CreatedAt: now})
	claimed, err := m.ClaimBatch(ctx, 1, now)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.NoError(t, m.CompleteURL(ctx, claimed[0].ID, URLStatusFailed, "boom"))

	n, err := m.RescheduleFailed(ctx, time.Hour, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stats, err := m.FrontierStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, 0, stats.Failed)
}

func TestMemory_ReclaimStale_RecoversAbandonedProcessingRecord(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Now().UTC()

	_, _ = m.EnqueueURL(ctx, &URLRecord{URL: "https://x.com", CreatedAt: now})
	claimed, err := m.ClaimBatch(ctx, 1, now)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	n, err := m.ReclaimStale(ctx, 15*time.Minute, now.Add(20*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stats, err := m.FrontierStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, 0, stats.Processing)
}

func TestMemory_ReclaimStale_MovesExhaustedAttemptsToFailed(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Now().UTC()

	rec := &URLRecord{URL: "https://x.com", CreatedAt: now, Attempts: MaxAttempts - 1}
	_, _ = m.EnqueueURL(ctx, rec)
	claimed, err := m.ClaimBatch(ctx, 1, now)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.Equal(t, MaxAttempts, claimed[0].Attempts)

	n, err := m.ReclaimStale(ctx, 15*time.Minute, now.Add(20*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stats, err := m.FrontierStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
}

func TestMemory_ReclaimStale_IgnoresFreshClaim(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Now().UTC()

	_, _ = m.EnqueueURL(ctx, &URLRecord{URL: "https://x.com", CreatedAt: now})
	_, err := m.ClaimBatch(ctx, 1, now)
	require.NoError(t, err)

	n, err := m.ReclaimStale(ctx, 15*time.Minute, now)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestMemory_UpsertCrawledPage_PreservesIDAcrossUpdates(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.UpsertCrawledPage(ctx, &CrawledPage{URL: "https://x.com", Title: "first"}))
	first, err := m.GetCrawledPage(ctx, "https://x.com")
	require.NoError(t, err)

	require.NoError(t, m.UpsertCrawledPage(ctx, &CrawledPage{URL: "https://x.com", Title: "second"}))
	second, err := m.GetCrawledPage(ctx, "https://x.com")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "second", second.Title)
}
