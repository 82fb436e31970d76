package ratelimit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelfmate/sharing-backend/interfaces"
	"github.com/shelfmate/sharing-backend/kvstore"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFixedWindowBoundary(t *testing.T) {
	kv := kvstore.NewMemoryStore(testLogger())
	limiter := NewLimiter(kv, FailOpen, testLogger())
	ctx := context.Background()

	// Start 1s before the end of a one-minute window.
	windowStart := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	current := windowStart.Add(59 * time.Second)
	limiter.now = func() time.Time { return current }

	// Two requests fit within the window.
	result, err := limiter.Check(ctx, "203.0.113.7", "share-create", 2, time.Minute)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.Equal(t, 1, result.Remaining)

	result, err = limiter.Check(ctx, "203.0.113.7", "share-create", 2, time.Minute)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.Equal(t, 0, result.Remaining)

	// The third is rejected with the next window start as the reset instant.
	result, err = limiter.Check(ctx, "203.0.113.7", "share-create", 2, time.Minute)
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, 0, result.Remaining)
	assert.Equal(t, windowStart.Add(time.Minute), result.ResetAt.UTC())

	// One second later a fresh window opens and the request passes, even
	// though only 1s elapsed since the rejection. Fixed-window counting
	// permits up to 2x the limit across a boundary; that behavior is pinned
	// here on purpose.
	current = current.Add(time.Second)

	result, err = limiter.Check(ctx, "203.0.113.7", "share-create", 2, time.Minute)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.Equal(t, 1, result.Remaining)
}

func TestLimiterKeysAreScoped(t *testing.T) {
	kv := kvstore.NewMemoryStore(testLogger())
	limiter := NewLimiter(kv, FailOpen, testLogger())
	ctx := context.Background()

	current := time.Date(2024, 6, 1, 12, 0, 30, 0, time.UTC)
	limiter.now = func() time.Time { return current }

	result, err := limiter.Check(ctx, "203.0.113.7", "share-create", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, result.Allowed)

	// A different endpoint and a different client each get their own counter.
	result, err = limiter.Check(ctx, "203.0.113.7", "share-get", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, result.Allowed)

	result, err = limiter.Check(ctx, "198.51.100.4", "share-create", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, result.Allowed)

	// The original pair is now exhausted.
	result, err = limiter.Check(ctx, "203.0.113.7", "share-create", 1, time.Minute)
	require.NoError(t, err)
	assert.False(t, result.Allowed)
}

// failingStore simulates an unreachable backend.
type failingStore struct {
	interfaces.KVStore
}

func (f *failingStore) Get(ctx context.Context, key string) ([]byte, error) {
	return nil, errors.New("connection refused")
}

func (f *failingStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return errors.New("connection refused")
}

func TestStoreFailurePolicies(t *testing.T) {
	ctx := context.Background()

	t.Run("fail open allows the request", func(t *testing.T) {
		limiter := NewLimiter(&failingStore{}, FailOpen, testLogger())
		result, err := limiter.Check(ctx, "203.0.113.7", "share-create", 10, time.Hour)
		require.NoError(t, err)
		assert.True(t, result.Allowed)
	})

	t.Run("fail closed surfaces the failure", func(t *testing.T) {
		limiter := NewLimiter(&failingStore{}, FailClosed, testLogger())
		_, err := limiter.Check(ctx, "203.0.113.7", "share-create", 10, time.Hour)
		assert.ErrorIs(t, err, interfaces.ErrInternal)
	})
}
