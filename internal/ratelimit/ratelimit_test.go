package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_Wait_EnforcesMinimumSpacing(t *testing.T) {
	backing := NewMemoryStore()
	now := time.Now().UTC()
	var slept time.Duration

	l := New(backing, func() time.Time { return now }, func(_ context.Context, d time.Duration) {
		slept = d
		now = now.Add(d)
	})

	require.NoError(t, l.SetDelay(context.Background(), "example.com", 500*time.Millisecond))
	require.NoError(t, l.Wait(context.Background(), "example.com"))
	assert.Zero(t, slept, "first wait on a fresh host should not sleep")

	now = now.Add(100 * time.Millisecond)
	require.NoError(t, l.Wait(context.Background(), "example.com"))
	assert.Equal(t, 400*time.Millisecond, slept)
}

func TestLimiter_Wait_NoSleepWhenElapsedExceedsDelay(t *testing.T) {
	backing := NewMemoryStore()
	now := time.Now().UTC()
	var sleptCalls int

	l := New(backing, func() time.Time { return now }, func(_ context.Context, d time.Duration) {
		sleptCalls++
	})

	require.NoError(t, l.SetDelay(context.Background(), "example.com", 200*time.Millisecond))
	require.NoError(t, l.Wait(context.Background(), "example.com"))

	now = now.Add(time.Second)
	require.NoError(t, l.Wait(context.Background(), "example.com"))
	assert.Equal(t, 0, sleptCalls)
}

func TestLimiter_Wait_FallsBackToDefaultDelayOnBackendError(t *testing.T) {
	l := New(erroringStore{}, nil, func(context.Context, time.Duration) {})
	err := l.Wait(context.Background(), "example.com")
	assert.NoError(t, err, "limiter must never fail the caller on a backend error")
}

type erroringStore struct{}

func (erroringStore) GetState(context.Context, string) (time.Time, time.Duration, error) {
	return time.Time{}, 0, assertError{}
}
func (erroringStore) SetDelay(context.Context, string, time.Duration) error { return assertError{} }
func (erroringStore) SetLastRequest(context.Context, string, time.Time) error {
	return assertError{}
}

type assertError struct{}

func (assertError) Error() string { return "backend unavailable" }
