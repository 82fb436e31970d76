package kvstore

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shelfmate/sharing-backend/interfaces"
)

// MemoryStore implements the key-value store in process memory with lazy TTL
// eviction. It backs tests and single-node development setups.
//
// The mutex protects map integrity only. It deliberately does not serialize
// read-modify-write sequences spanning multiple calls, so the same lost-update
// races that exist against a remote store are observable here too.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	log     *slog.Logger
	now     func() time.Time
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time // zero means permanent
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(log *slog.Logger) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		log:     log,
		now:     time.Now,
	}
}

// Get retrieves the value stored at key, evicting it first if its TTL elapsed.
func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return nil, interfaces.ErrKeyNotFound
	}

	if s.expired(entry) {
		delete(s.entries, key)
		return nil, interfaces.ErrKeyNotFound
	}

	value := make([]byte, len(entry.value))
	copy(value, entry.value)
	return value, nil
}

// Put stores value at key. A zero ttl makes the entry permanent.
func (s *MemoryStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	stored := make([]byte, len(value))
	copy(stored, value)

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = s.now().Add(ttl)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memoryEntry{value: stored, expiresAt: expiresAt}
	return nil
}

// Delete removes the entry at key. Absent keys are not an error.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// List returns all non-expired keys with the given prefix.
func (s *MemoryStore) List(ctx context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var keys []string
	for key, entry := range s.entries {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if s.expired(entry) {
			delete(s.entries, key)
			continue
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// Available always reports true for the in-memory store.
func (s *MemoryStore) Available(ctx context.Context) bool {
	return true
}

// Name returns a unique identifier for this store.
func (s *MemoryStore) Name() string {
	return "memory"
}

func (s *MemoryStore) expired(entry memoryEntry) bool {
	return !entry.expiresAt.IsZero() && !entry.expiresAt.After(s.now())
}
