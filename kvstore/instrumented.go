package kvstore

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/shelfmate/sharing-backend/interfaces"
)

// InstrumentedStore wraps a key-value store and counts failed operations into
// a Prometheus counter labeled by backend name and operation. Absent keys are
// not failures and are not counted.
type InstrumentedStore struct {
	inner  interfaces.KVStore
	errors *prometheus.CounterVec
}

// NewInstrumentedStore wraps kv so its operation failures are recorded into
// errCounter (labels: backend, operation).
func NewInstrumentedStore(kv interfaces.KVStore, errCounter *prometheus.CounterVec) *InstrumentedStore {
	return &InstrumentedStore{
		inner:  kv,
		errors: errCounter,
	}
}

func (s *InstrumentedStore) record(operation string, err error) {
	if err == nil || errors.Is(err, interfaces.ErrKeyNotFound) {
		return
	}
	s.errors.WithLabelValues(s.inner.Name(), operation).Inc()
}

// Get retrieves the value stored at key.
func (s *InstrumentedStore) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := s.inner.Get(ctx, key)
	s.record("get", err)
	return value, err
}

// Put stores value at key.
func (s *InstrumentedStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	err := s.inner.Put(ctx, key, value, ttl)
	s.record("put", err)
	return err
}

// Delete removes the entry at key.
func (s *InstrumentedStore) Delete(ctx context.Context, key string) error {
	err := s.inner.Delete(ctx, key)
	s.record("delete", err)
	return err
}

// List returns all keys with the given prefix.
func (s *InstrumentedStore) List(ctx context.Context, prefix string) ([]string, error) {
	keys, err := s.inner.List(ctx, prefix)
	s.record("list", err)
	return keys, err
}

// Available checks if the underlying store is accessible.
func (s *InstrumentedStore) Available(ctx context.Context) bool {
	return s.inner.Available(ctx)
}

// Name returns the underlying store's identifier.
func (s *InstrumentedStore) Name() string {
	return s.inner.Name()
}

var _ interfaces.KVStore = (*InstrumentedStore)(nil)
