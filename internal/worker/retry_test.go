package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRetryPolicy_ShouldRetry(t *testing.T) {
	p := NewRetryPolicy()

	require.True(t, p.ShouldRetry(1))
	require.True(t, p.ShouldRetry(3))
	require.False(t, p.ShouldRetry(4))
}

func TestRetryPolicy_BackoffGrowsAndCaps(t *testing.T) {
	p := NewRetryPolicy()

	for attempt := 1; attempt <= 6; attempt++ {
		d := p.Backoff(attempt)
		require.GreaterOrEqual(t, d, time.Duration(0))
		require.LessOrEqual(t, d, 30*time.Second)
	}
}

func TestRetryPolicy_BackoffIsJittered(t *testing.T) {
	p := NewRetryPolicy()

	seen := make(map[time.Duration]struct{})
	for i := 0; i < 20; i++ {
		seen[p.Backoff(2)] = struct{}{}
	}
	require.Greater(t, len(seen), 1, "expected jittered backoff to vary across calls")
}
