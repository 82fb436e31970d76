package kvstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelfmate/sharing-backend/interfaces"
)

// brokenStore fails every operation, as an unreachable backend would.
type brokenStore struct{}

func (b *brokenStore) Get(ctx context.Context, key string) ([]byte, error) {
	return nil, errors.New("connection refused")
}

func (b *brokenStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return errors.New("connection refused")
}

func (b *brokenStore) Delete(ctx context.Context, key string) error {
	return errors.New("connection refused")
}

func (b *brokenStore) List(ctx context.Context, prefix string) ([]string, error) {
	return nil, errors.New("connection refused")
}

func (b *brokenStore) Available(ctx context.Context) bool { return false }

func (b *brokenStore) Name() string { return "broken" }

func newErrorCounter() *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kv_operation_errors_total",
	}, []string{"backend", "operation"})
}

func TestInstrumentedStoreCountsFailures(t *testing.T) {
	counter := newErrorCounter()
	store := NewInstrumentedStore(&brokenStore{}, counter)
	ctx := context.Background()

	_, err := store.Get(ctx, "share:ABC123")
	require.Error(t, err)
	require.Error(t, store.Put(ctx, "share:ABC123", []byte("x"), time.Minute))
	require.Error(t, store.Delete(ctx, "share:ABC123"))
	_, err = store.List(ctx, "share:")
	require.Error(t, err)

	for _, operation := range []string{"get", "put", "delete", "list"} {
		assert.Equal(t, float64(1), testutil.ToFloat64(counter.WithLabelValues("broken", operation)), operation)
	}
}

func TestInstrumentedStorePassesThrough(t *testing.T) {
	counter := newErrorCounter()
	store := NewInstrumentedStore(NewMemoryStore(testLogger()), counter)
	ctx := context.Background()

	// A miss is not a backend failure.
	_, err := store.Get(ctx, "share:ABC123")
	assert.ErrorIs(t, err, interfaces.ErrKeyNotFound)

	require.NoError(t, store.Put(ctx, "share:ABC123", []byte("record"), 0))
	value, err := store.Get(ctx, "share:ABC123")
	require.NoError(t, err)
	assert.Equal(t, []byte("record"), value)
	assert.Equal(t, "memory", store.Name())

	assert.Equal(t, float64(0), testutil.ToFloat64(counter.WithLabelValues("memory", "get")))
	assert.Equal(t, float64(0), testutil.ToFloat64(counter.WithLabelValues("memory", "put")))
}
