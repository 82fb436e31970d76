package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shelfmate/sharing-backend/cryptoutils"
	"github.com/shelfmate/sharing-backend/interfaces"
)

const (
	// entryTTL is how long an individual backup version is kept.
	entryTTL = 365 * 24 * time.Hour

	// maxHistoryEntries bounds the version history per (backupKey, type).
	// The oldest versions are evicted when the cap is exceeded.
	maxHistoryEntries = 50
)

// entry is one stored backup version.
type entry struct {
	BackupKey string    `json:"backupKey"`
	Type      string    `json:"type"`
	Data      string    `json:"data"`
	Checksum  string    `json:"checksum"`
	Timestamp time.Time `json:"timestamp"`
}

// historyIndex enumerates the versions of one (backupKey, type) pair, oldest
// first. Like the alias index, it is a last-write-wins document.
type historyIndex struct {
	Entries []historyIndexEntry `json:"entries"`
}

type historyIndexEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Checksum  string    `json:"checksum"`
}

// UploadResult reports the outcome of an upload: either a new version was
// appended, or the payload matched the newest stored version and was skipped.
type UploadResult struct {
	Skipped     bool      `json:"skipped"`
	Timestamp   time.Time `json:"timestamp"`
	BackupCount int       `json:"backupCount"`
}

// DownloadResult is the newest stored version of a (backupKey, type) pair.
type DownloadResult struct {
	Data        string    `json:"data"`
	Checksum    string    `json:"checksum"`
	Timestamp   time.Time `json:"timestamp"`
	BackupCount int       `json:"backupCount"`
}

// Store manages bounded, deduplicated backup version histories. All access is
// gated on the key registry: unregistered keys cannot hold backups, and
// uploads must be signed by the registered public key.
type Store struct {
	kv       interfaces.KVStore
	registry *KeyRegistry
	log      *slog.Logger
	now      func() time.Time
}

// NewStore creates a backup store on the given key-value store.
func NewStore(kv interfaces.KVStore, registry *KeyRegistry, log *slog.Logger) *Store {
	return &Store{
		kv:       kv,
		registry: registry,
		log:      log,
		now:      time.Now,
	}
}

func entryKey(key interfaces.BackupKey, backupType interfaces.BackupType, ts time.Time) string {
	return fmt.Sprintf("bk:%s:%s:%d", key, backupType, ts.UnixNano())
}

func indexKey(key interfaces.BackupKey, backupType interfaces.BackupType) string {
	return fmt.Sprintf("bkidx:%s:%s", key, backupType)
}

// Upload appends a new version under (key, backupType), unless the supplied
// checksum matches the newest stored version, in which case nothing is written
// and the result reports Skipped. Authorization is a signature over the
// backup key, verified against the registered public key.
func (s *Store) Upload(ctx context.Context, key interfaces.BackupKey, backupType interfaces.BackupType, data, checksum, signature string) (*UploadResult, error) {
	if err := backupType.Validate(); err != nil {
		return nil, err
	}
	if data == "" || checksum == "" {
		return nil, fmt.Errorf("%w: data and checksum are required", interfaces.ErrValidation)
	}

	registration, err := s.registry.Lookup(ctx, key)
	if err != nil {
		return nil, err
	}
	if !cryptoutils.VerifyOwnership(signature, key.String(), registration.PublicKey) {
		return nil, fmt.Errorf("backup key %s: %w", key, interfaces.ErrUnauthorized)
	}

	index, err := s.loadIndex(ctx, key, backupType)
	if err != nil {
		return nil, err
	}

	// Clients upload on a schedule whether or not anything changed; an
	// unchanged payload is acknowledged without growing the history.
	if n := len(index.Entries); n > 0 && index.Entries[n-1].Checksum == checksum {
		return &UploadResult{
			Skipped:     true,
			Timestamp:   index.Entries[n-1].Timestamp,
			BackupCount: n,
		}, nil
	}

	now := s.now()
	stored := &entry{
		BackupKey: key.String(),
		Type:      backupType.String(),
		Data:      data,
		Checksum:  checksum,
		Timestamp: now,
	}

	value, err := json.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding backup entry: %v", interfaces.ErrInternal, err)
	}
	if err := s.kv.Put(ctx, entryKey(key, backupType, now), value, entryTTL); err != nil {
		return nil, fmt.Errorf("%w: storing backup entry: %v", interfaces.ErrInternal, err)
	}

	index.Entries = append(index.Entries, historyIndexEntry{Timestamp: now, Checksum: checksum})

	for len(index.Entries) > maxHistoryEntries {
		evicted := index.Entries[0]
		index.Entries = index.Entries[1:]
		if err := s.kv.Delete(ctx, entryKey(key, backupType, evicted.Timestamp)); err != nil {
			// The entry's own TTL will reap it eventually.
			s.log.Warn("Failed to delete evicted backup entry",
				slog.String("backupKey", key.String()),
				slog.String("type", backupType.String()),
				"err", err)
		}
	}

	if err := s.persistIndex(ctx, key, backupType, index); err != nil {
		return nil, err
	}

	s.log.Info("Backup uploaded",
		slog.String("backupKey", key.String()),
		slog.String("type", backupType.String()),
		slog.Int("backupCount", len(index.Entries)))

	return &UploadResult{
		Timestamp:   now,
		BackupCount: len(index.Entries),
	}, nil
}

// Download returns the newest stored version under (key, backupType). Index
// entries whose backing entry has already expired are skipped, walking
// backwards until a live version is found.
func (s *Store) Download(ctx context.Context, key interfaces.BackupKey, backupType interfaces.BackupType) (*DownloadResult, error) {
	if err := backupType.Validate(); err != nil {
		return nil, err
	}

	if _, err := s.registry.Lookup(ctx, key); err != nil {
		return nil, err
	}

	index, err := s.loadIndex(ctx, key, backupType)
	if err != nil {
		return nil, err
	}

	for i := len(index.Entries) - 1; i >= 0; i-- {
		value, err := s.kv.Get(ctx, entryKey(key, backupType, index.Entries[i].Timestamp))
		if errors.Is(err, interfaces.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: fetching backup entry: %v", interfaces.ErrInternal, err)
		}

		var stored entry
		if err := json.Unmarshal(value, &stored); err != nil {
			return nil, fmt.Errorf("%w: decoding backup entry: %v", interfaces.ErrInternal, err)
		}

		return &DownloadResult{
			Data:        stored.Data,
			Checksum:    stored.Checksum,
			Timestamp:   stored.Timestamp,
			BackupCount: len(index.Entries),
		}, nil
	}

	return nil, fmt.Errorf("no backups for key %s type %s: %w", key, backupType, interfaces.ErrNotFound)
}

func (s *Store) loadIndex(ctx context.Context, key interfaces.BackupKey, backupType interfaces.BackupType) (*historyIndex, error) {
	value, err := s.kv.Get(ctx, indexKey(key, backupType))
	if errors.Is(err, interfaces.ErrKeyNotFound) {
		return &historyIndex{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: fetching backup index: %v", interfaces.ErrInternal, err)
	}

	var index historyIndex
	if err := json.Unmarshal(value, &index); err != nil {
		return nil, fmt.Errorf("%w: decoding backup index: %v", interfaces.ErrInternal, err)
	}
	return &index, nil
}

// persistIndex rewrites the index with the full entry TTL, so it outlives the
// newest version it references.
func (s *Store) persistIndex(ctx context.Context, key interfaces.BackupKey, backupType interfaces.BackupType, index *historyIndex) error {
	value, err := json.Marshal(index)
	if err != nil {
		return fmt.Errorf("%w: encoding backup index: %v", interfaces.ErrInternal, err)
	}
	if err := s.kv.Put(ctx, indexKey(key, backupType), value, entryTTL); err != nil {
		return fmt.Errorf("%w: storing backup index: %v", interfaces.ErrInternal, err)
	}
	return nil
}
