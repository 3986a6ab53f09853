package frontier

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crawlmesh/crawlmesh/internal/store"
)

func TestFrontier_Enqueue_RecentSetShortCircuitsDuplicates(t *testing.T) {
	ctx := context.Background()
	backing := store.NewMemory()
	f := New(backing, nil)

	added, err := f.Enqueue(ctx, "https://example.com/a", "", 0, "job-1", 5)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = f.Enqueue(ctx, "https://example.com/a", "", 0, "job-1", 5)
	require.NoError(t, err)
	assert.False(t, added)

	stats, err := f.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pending)
}

func TestFrontier_ClaimBatch_MarksProcessing(t *testing.T) {
	ctx := context.Background()
	backing := store.NewMemory()
	f := New(backing, nil)

	_, err := f.Enqueue(ctx, "https://example.com/a", "", 0, "job-1", 5)
	require.NoError(t, err)

	claimed, err := f.ClaimBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, store.URLStatusProcessing, claimed[0].Status)
}

func TestFrontier_Complete_SetsTerminalStatus(t *testing.T) {
	ctx := context.Background()
	backing := store.NewMemory()
	f := New(backing, nil)

	_, _ = f.Enqueue(ctx, "https://example.com/a", "", 0, "job-1", 5)
	claimed, _ := f.ClaimBatch(ctx, 1)
	require.Len(t, claimed, 1)

	require.NoError(t, f.Complete(ctx, claimed[0].ID, OutcomeFailed, "network error"))

	stats, err := f.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
}

func TestFrontier_ReclaimStale_RecoversAbandonedClaim(t *testing.T) {
	ctx := context.Background()
	backing := store.NewMemory()
	now := time.Now().UTC()
	f := New(backing, func() time.Time { return now })

	_, _ = f.Enqueue(ctx, "https://example.com/a", "", 0, "job-1", 5)
	claimed, err := f.ClaimBatch(ctx, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	// Handler crashes: no Complete call ever arrives. Advance the clock
	// past the lease window and sweep.
	now = now.Add(20 * time.Minute)
	n, err := f.ReclaimStale(ctx, 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stats, err := f.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pending)
}

func TestFrontier_ReclaimStale_IgnoresFreshClaims(t *testing.T) {
	ctx := context.Background()
	backing := store.NewMemory()
	now := time.Now().UTC()
	f := New(backing, func() time.Time { return now })

	_, _ = f.Enqueue(ctx, "https://example.com/a", "", 0, "job-1", 5)
	_, err := f.ClaimBatch(ctx, 1)
	require.NoError(t, err)

	n, err := f.ReclaimStale(ctx, 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	stats, err := f.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Processing)
}

func TestFrontier_RescheduleFailed_UsesReferenceBackoff(t *testing.T) {
	ctx := context.Background()
	backing := store.NewMemory()
	now := time.Now().UTC()
	f := New(backing, func() time.Time { return now })

	_, _ = f.Enqueue(ctx, "https://example.com/a", "", 0, "job-1", 5)
	claimed, _ := f.ClaimBatch(ctx, 1)
	require.NoError(t, f.Complete(ctx, claimed[0].ID, OutcomeFailed, "boom"))

	n, err := f.RescheduleFailed(ctx, DefaultRescheduleDelay)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stats, err := f.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pending)
}
