package kvstore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shelfmate/sharing-backend/interfaces"
)

// FileStore implements the key-value store on the local file system. Each key
// maps to one file holding a JSON envelope of the value and its expiry.
// Expiration is enforced at read time; expired files are removed lazily.
type FileStore struct {
	baseDir     string
	log         *slog.Logger
	locationURI string
	now         func() time.Time
}

type fileEnvelope struct {
	Value     []byte    `json:"value"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
}

// NewFileStore creates a file-backed store rooted at baseDir, creating the
// directory if needed.
func NewFileStore(baseDir string, log *slog.Logger) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &FileStore{
		baseDir:     baseDir,
		log:         log,
		locationURI: fmt.Sprintf("file://%s", baseDir),
		now:         time.Now,
	}, nil
}

// Get retrieves the value stored at key. Returns ErrKeyNotFound for absent or
// expired entries.
func (s *FileStore) Get(ctx context.Context, key string) ([]byte, error) {
	path := s.filePath(key)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, interfaces.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read entry file: %w", err)
	}

	var envelope fileEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode entry file: %w", err)
	}

	if !envelope.ExpiresAt.IsZero() && !envelope.ExpiresAt.After(s.now()) {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.log.Debug("Failed to remove expired entry", slog.String("key", key), "err", err)
		}
		return nil, interfaces.ErrKeyNotFound
	}

	return envelope.Value, nil
}

// Put stores value at key. A zero ttl makes the entry permanent.
func (s *FileStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	envelope := fileEnvelope{Value: value}
	if ttl > 0 {
		envelope.ExpiresAt = s.now().Add(ttl)
	}

	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to encode entry: %w", err)
	}

	if err := os.WriteFile(s.filePath(key), data, 0o644); err != nil {
		return fmt.Errorf("failed to write entry file: %w", err)
	}

	s.log.Debug("Stored entry in file",
		slog.String("key", key),
		slog.Int("size", len(value)))

	return nil
}

// Delete removes the entry at key. Absent keys are not an error.
func (s *FileStore) Delete(ctx context.Context, key string) error {
	if err := os.Remove(s.filePath(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove entry file: %w", err)
	}
	return nil
}

// List returns all non-expired keys with the given prefix.
func (s *FileStore) List(ctx context.Context, prefix string) ([]string, error) {
	dirEntries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read store directory: %w", err)
	}

	var keys []string
	for _, dirEntry := range dirEntries {
		if dirEntry.IsDir() {
			continue
		}

		key, err := decodeFileName(dirEntry.Name())
		if err != nil {
			continue
		}
		if !strings.HasPrefix(key, prefix) {
			continue
		}

		// Re-read through Get so expired entries are filtered and cleaned.
		if _, err := s.Get(ctx, key); err != nil {
			continue
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// Available checks that the base directory still exists.
func (s *FileStore) Available(ctx context.Context) bool {
	_, err := os.Stat(s.baseDir)
	if err != nil {
		s.log.Debug("File store unavailable", "err", err)
		return false
	}
	return true
}

// Name returns a unique identifier for this store.
func (s *FileStore) Name() string {
	return fmt.Sprintf("file-%s", filepath.Base(s.baseDir))
}

// filePath maps a key to a file path. Keys are base64-encoded so record keys
// containing separators stay reversible for List.
func (s *FileStore) filePath(key string) string {
	return filepath.Join(s.baseDir, base64.URLEncoding.EncodeToString([]byte(key)))
}

func decodeFileName(name string) (string, error) {
	raw, err := base64.URLEncoding.DecodeString(name)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
