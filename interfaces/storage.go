package interfaces

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrKeyNotFound is returned when the requested key is absent from the
	// key-value store (or has been evicted by its TTL).
	ErrKeyNotFound = errors.New("key not found")

	// ErrBackendUnavailable is returned when a storage backend is not
	// accessible. This could be due to network issues, authentication
	// failures, or service outages.
	ErrBackendUnavailable = errors.New("storage backend unavailable")

	// ErrInvalidLocationURI is returned when a store location URI is
	// malformed or names an unsupported scheme.
	ErrInvalidLocationURI = errors.New("invalid store location URI")
)

// KVStore is the durable key-value store every record in the system lives in.
//
// The contract is deliberately weak: single-key get/put/delete/list, eventual
// consistency, no cross-key transactions and no compare-and-swap. Multi-step
// read-modify-write sequences built on top of it (alias indices, backup
// indices, rate-limit counters) are last-write-wins under concurrent access.
type KVStore interface {
	// Get retrieves the value stored at key. Returns ErrKeyNotFound when the
	// key is absent or its TTL has elapsed.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores value at key. A zero ttl means the entry is permanent.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes the entry at key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns all keys with the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// Available checks if the store is accessible.
	Available(ctx context.Context) bool

	// Name returns an identifier for logging.
	Name() string
}

// KVStoreFactory creates key-value stores from location URIs.
type KVStoreFactory interface {
	// KVStoreFor creates a store from a URI.
	// Supports memory://, file://, redis://, s3://
	KVStoreFor(locationURI string) (KVStore, error)
}
