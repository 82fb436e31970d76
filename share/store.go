package share

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
	// retentionWindow is how long a share outlives the snapshot timestamp
	// embedded in its payload. Expiry is anchored to content, not to request
	// time or access recency.
	retentionWindow = 90 * 24 * time.Hour

	// minTTL is the floor applied to the stored TTL, so a share created from
	// an old snapshot is still retrievable for a moment instead of being
	// born dead.
	minTTL = 60 * time.Second
)

// Record is a primary share record. The public key supplied at creation is
// the sole authorization credential for later mutation; there is no separate
// owner identity.
type Record struct {
	ShareCode         string    `json:"shareCode"`
	SnapshotData      string    `json:"snapshotData"`
	PublicKey         string    `json:"publicKey"`
	SnapshotTimestamp time.Time `json:"snapshotTimestamp"`
	ExpiresAt         time.Time `json:"expiresAt"`
	CreatedAt         time.Time `json:"createdAt"`
	CreatedByAddress  string    `json:"createdByAddress"`
	AccessCount       int64     `json:"accessCount"`
	LastAccessedAt    time.Time `json:"lastAccessedAt"`
}

// Store manages primary share records in the key-value store.
type Store struct {
	kv  interfaces.KVStore
	log *slog.Logger
	now func() time.Time
}

// NewStore creates a share store on the given key-value store.
func NewStore(kv interfaces.KVStore, log *slog.Logger) *Store {
	return &Store{
		kv:  kv,
		log: log,
		now: time.Now,
	}
}

func shareKey(code interfaces.ShareCode) string {
	return "share:" + code.String()
}

// Create claims an unused share code. No signature is required: anyone may
// claim a free code, and the supplied public key becomes the only credential
// that can mutate or delete the record afterwards.
//
// The retention window is anchored to the timestamp embedded in the snapshot
// payload; a payload the server cannot parse anchors to the current time.
func (s *Store) Create(ctx context.Context, code interfaces.ShareCode, snapshotData, publicKey, requesterAddress string) (*Record, error) {
	if err := code.Validate(); err != nil {
		return nil, err
	}
	if snapshotData == "" || publicKey == "" {
		return nil, fmt.Errorf("%w: snapshotData and publicKey are required", interfaces.ErrValidation)
	}

	if _, err := s.kv.Get(ctx, shareKey(code)); err == nil {
		return nil, fmt.Errorf("share %s: %w", code, interfaces.ErrConflict)
	} else if !errors.Is(err, interfaces.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: checking share code: %v", interfaces.ErrInternal, err)
	}

	now := s.now()
	snapshotTimestamp := s.extractTimestamp(snapshotData, code)

	record := &Record{
		ShareCode:         code.String(),
		SnapshotData:      snapshotData,
		PublicKey:         publicKey,
		SnapshotTimestamp: snapshotTimestamp,
		ExpiresAt:         snapshotTimestamp.Add(retentionWindow),
		CreatedAt:         now,
		CreatedByAddress:  requesterAddress,
	}

	if err := s.persist(ctx, record); err != nil {
		return nil, err
	}

	s.log.Info("Share created",
		slog.String("shareCode", code.String()),
		slog.Time("expiresAt", record.ExpiresAt))

	return record, nil
}

// Get returns the record at code and bumps its access counters. Access never
// extends the retention window: the record is re-persisted with the remaining
// TTL recomputed from the content anchor.
func (s *Store) Get(ctx context.Context, code interfaces.ShareCode) (*Record, error) {
	record, err := s.load(ctx, code)
	if err != nil {
		return nil, err
	}

	record.AccessCount++
	record.LastAccessedAt = s.now()

	// Counter bumps are best effort; a failed re-persist must not hide the
	// record from the reader.
	if err := s.persist(ctx, record); err != nil {
		s.log.Warn("Failed to persist access counters", slog.String("shareCode", code.String()), "err", err)
	}

	return record, nil
}

// Exists reports whether a live record is stored at code.
func (s *Store) Exists(ctx context.Context, code interfaces.ShareCode) (bool, error) {
	_, err := s.load(ctx, code)
	if errors.Is(err, interfaces.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Update replaces the snapshot and public key of an existing share.
//
// The signature is verified against the public key currently on the record,
// never the newly supplied one. This ordering is what makes ownership
// transfer possible: the old key authorizes handing the record to a new key.
// The retention window re-anchors to the new snapshot's embedded timestamp.
func (s *Store) Update(ctx context.Context, code interfaces.ShareCode, snapshotData, publicKey, signature string) (*Record, error) {
	if snapshotData == "" || publicKey == "" {
		return nil, fmt.Errorf("%w: snapshotData and publicKey are required", interfaces.ErrValidation)
	}

	record, err := s.load(ctx, code)
	if err != nil {
		return nil, err
	}

	if !cryptoutils.VerifyOwnership(signature, code.String(), record.PublicKey) {
		return nil, fmt.Errorf("share %s: %w", code, interfaces.ErrUnauthorized)
	}

	snapshotTimestamp := s.extractTimestamp(snapshotData, code)

	record.SnapshotData = snapshotData
	record.PublicKey = publicKey
	record.SnapshotTimestamp = snapshotTimestamp
	record.ExpiresAt = snapshotTimestamp.Add(retentionWindow)

	if err := s.persist(ctx, record); err != nil {
		return nil, err
	}

	s.log.Info("Share updated",
		slog.String("shareCode", code.String()),
		slog.Time("expiresAt", record.ExpiresAt))

	return record, nil
}

// Delete removes the record at code after verifying ownership. Aliases
// pointing at the share are not cascaded; they keep resolving to a missing
// primary until their own TTL elapses.
func (s *Store) Delete(ctx context.Context, code interfaces.ShareCode, signature string) error {
	record, err := s.load(ctx, code)
	if err != nil {
		return err
	}

	if !cryptoutils.VerifyOwnership(signature, code.String(), record.PublicKey) {
		return fmt.Errorf("share %s: %w", code, interfaces.ErrUnauthorized)
	}

	if err := s.kv.Delete(ctx, shareKey(code)); err != nil {
		return fmt.Errorf("%w: deleting share: %v", interfaces.ErrInternal, err)
	}

	s.log.Info("Share deleted", slog.String("shareCode", code.String()))
	return nil
}

// load fetches a record without touching its access counters. Records whose
// expiry has passed but which the store has not evicted yet behave as absent.
func (s *Store) load(ctx context.Context, code interfaces.ShareCode) (*Record, error) {
	if err := code.Validate(); err != nil {
		return nil, err
	}

	value, err := s.kv.Get(ctx, shareKey(code))
	if errors.Is(err, interfaces.ErrKeyNotFound) {
		return nil, fmt.Errorf("share %s: %w", code, interfaces.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: fetching share: %v", interfaces.ErrInternal, err)
	}

	var record Record
	if err := json.Unmarshal(value, &record); err != nil {
		return nil, fmt.Errorf("%w: decoding share record: %v", interfaces.ErrInternal, err)
	}

	if !record.ExpiresAt.After(s.now()) {
		return nil, fmt.Errorf("share %s: %w", code, interfaces.ErrNotFound)
	}

	return &record, nil
}

// persist writes the record with a TTL derived from its expiry anchor,
// clamped to at least minTTL from now.
func (s *Store) persist(ctx context.Context, record *Record) error {
	value, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("%w: encoding share record: %v", interfaces.ErrInternal, err)
	}

	ttl := record.ExpiresAt.Sub(s.now())
	if ttl < minTTL {
		ttl = minTTL
	}

	code, err := interfaces.NewShareCode(record.ShareCode)
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrInternal, err)
	}

	if err := s.kv.Put(ctx, shareKey(code), value, ttl); err != nil {
		return fmt.Errorf("%w: storing share record: %v", interfaces.ErrInternal, err)
	}
	return nil
}

// extractTimestamp pulls the retention anchor out of the snapshot payload,
// falling back to the current time when the payload cannot be parsed.
func (s *Store) extractTimestamp(snapshotData string, code interfaces.ShareCode) time.Time {
	ts, err := cryptoutils.SnapshotTimestamp(snapshotData)
	if err != nil {
		s.log.Debug("Snapshot timestamp extraction failed, anchoring to now",
			slog.String("shareCode", code.String()),
			"err", err)
		return s.now()
	}
	return ts
}
