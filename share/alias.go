package share

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shelfmate/sharing-backend/interfaces"
)

const (
	// minAliasDuration and maxAliasDuration bound the caller-chosen lifetime
	// of an expiring share: one hour up to 30 days and 23 hours.
	minAliasDuration = time.Hour
	maxAliasDuration = 30*24*time.Hour + 23*time.Hour

	// maxCodeAttempts bounds the retry loop for generating a code unique
	// across both the share and alias namespaces. With ~2.2e9 possible codes
	// exhausting this is probabilistically negligible, but it must not loop
	// forever.
	maxCodeAttempts = 10
)

// AliasRecord is an expiring share: a time-boxed secondary code that
// indirects to a primary share record with its own display metadata. The
// reference is not ownership — the primary may be deleted or expire while
// aliases pointing at it remain.
type AliasRecord struct {
	ShareCode        string    `json:"shareCode"`
	MainShareCode    string    `json:"mainShareCode"`
	DisplayName      string    `json:"displayName"`
	ShareNotes       string    `json:"shareNotes,omitempty"`
	ExpiresAt        time.Time `json:"expiresAt"`
	CreatedAt        time.Time `json:"createdAt"`
	CreatedByAddress string    `json:"createdByAddress"`
	AccessCount      int64     `json:"accessCount"`
	LastAccessedAt   time.Time `json:"lastAccessedAt"`
}

// aliasIndex enumerates the aliases of one primary share, in creation order.
// It is a plain last-write-wins document; concurrent alias creation against
// the same primary can lose an entry (accepted, see interfaces.KVStore).
type aliasIndex struct {
	Aliases []aliasIndexEntry `json:"aliases"`
}

type aliasIndexEntry struct {
	ShareCode string    `json:"shareCode"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Resolved is the client-facing view of a share lookup, either a primary
// record served directly or a primary seen through an alias with the alias's
// display metadata and expiry.
type Resolved struct {
	SnapshotData string    `json:"snapshotData"`
	PublicKey    string    `json:"publicKey"`
	DisplayName  string    `json:"displayName,omitempty"`
	ShareNotes   string    `json:"shareNotes,omitempty"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// AliasStore manages expiring shares and the per-primary alias index.
type AliasStore struct {
	kv     interfaces.KVStore
	shares *Store
	codes  *CodeGenerator
	log    *slog.Logger
	now    func() time.Time
}

// NewAliasStore creates an alias store. It uses the share store for primary
// existence checks and resolution only.
func NewAliasStore(kv interfaces.KVStore, shares *Store, codes *CodeGenerator, log *slog.Logger) *AliasStore {
	return &AliasStore{
		kv:     kv,
		shares: shares,
		codes:  codes,
		log:    log,
		now:    time.Now,
	}
}

func aliasKey(code interfaces.ShareCode) string {
	return "alias:" + code.String()
}

func aliasIndexKey(mainCode interfaces.ShareCode) string {
	return "alsidx:" + mainCode.String()
}

// Create mints a fresh expiring share pointing at an existing primary.
func (s *AliasStore) Create(ctx context.Context, mainCode interfaces.ShareCode, displayName, shareNotes string, duration time.Duration, requesterAddress string) (*AliasRecord, error) {
	if err := mainCode.Validate(); err != nil {
		return nil, err
	}
	if displayName == "" {
		return nil, fmt.Errorf("%w: displayName is required", interfaces.ErrValidation)
	}
	if duration < minAliasDuration || duration > maxAliasDuration {
		return nil, fmt.Errorf("%w: expiration duration must be between 1 hour and 30 days 23 hours", interfaces.ErrValidation)
	}

	exists, err := s.shares.Exists(ctx, mainCode)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("share %s: %w", mainCode, interfaces.ErrNotFound)
	}

	code, err := s.freshCode(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	record := &AliasRecord{
		ShareCode:        code.String(),
		MainShareCode:    mainCode.String(),
		DisplayName:      displayName,
		ShareNotes:       shareNotes,
		ExpiresAt:        now.Add(duration),
		CreatedAt:        now,
		CreatedByAddress: requesterAddress,
	}

	value, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding alias record: %v", interfaces.ErrInternal, err)
	}
	if err := s.kv.Put(ctx, aliasKey(code), value, duration); err != nil {
		return nil, fmt.Errorf("%w: storing alias record: %v", interfaces.ErrInternal, err)
	}

	if err := s.appendToIndex(ctx, mainCode, code, record.ExpiresAt); err != nil {
		return nil, err
	}

	s.log.Info("Expiring share created",
		slog.String("shareCode", code.String()),
		slog.String("mainShareCode", mainCode.String()),
		slog.Time("expiresAt", record.ExpiresAt))

	return record, nil
}

// Resolve looks up a code in the joint namespace. A primary record at the
// code wins and is served directly; otherwise the code is treated as an
// alias, and the referenced primary's payload is served under the alias's
// display metadata and expiry. Access counters are bumped on whichever record
// the client actually named.
func (s *AliasStore) Resolve(ctx context.Context, code interfaces.ShareCode) (*Resolved, error) {
	primary, err := s.shares.Get(ctx, code)
	if err == nil {
		return &Resolved{
			SnapshotData: primary.SnapshotData,
			PublicKey:    primary.PublicKey,
			ExpiresAt:    primary.ExpiresAt,
		}, nil
	}
	if !errors.Is(err, interfaces.ErrNotFound) {
		return nil, err
	}

	alias, err := s.loadAlias(ctx, code)
	if err != nil {
		return nil, err
	}

	// The store's TTL granularity may let an expired alias linger; the
	// recorded expiry is authoritative.
	if !alias.ExpiresAt.After(s.now()) {
		return nil, fmt.Errorf("share %s: %w", code, interfaces.ErrExpired)
	}

	mainCode, err := interfaces.NewShareCode(alias.MainShareCode)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInternal, err)
	}

	// The primary may have been deleted or expired out from under the
	// alias; referential integrity is not maintained after creation, so
	// this resolves to not-found rather than failing loudly.
	primary, err = s.shares.load(ctx, mainCode)
	if err != nil {
		return nil, err
	}

	alias.AccessCount++
	alias.LastAccessedAt = s.now()
	s.persistAlias(ctx, alias)

	return &Resolved{
		SnapshotData: primary.SnapshotData,
		PublicKey:    primary.PublicKey,
		DisplayName:  alias.DisplayName,
		ShareNotes:   alias.ShareNotes,
		ExpiresAt:    alias.ExpiresAt,
	}, nil
}

// List returns all non-expired aliases of a primary, soonest expiry first.
func (s *AliasStore) List(ctx context.Context, mainCode interfaces.ShareCode) ([]AliasRecord, error) {
	if err := mainCode.Validate(); err != nil {
		return nil, err
	}

	index, err := s.loadIndex(ctx, mainCode)
	if err != nil {
		return nil, err
	}

	now := s.now()
	records := make([]AliasRecord, 0, len(index.Aliases))
	for _, entry := range index.Aliases {
		code, err := interfaces.NewShareCode(entry.ShareCode)
		if err != nil {
			continue
		}
		alias, err := s.loadAlias(ctx, code)
		if errors.Is(err, interfaces.ErrNotFound) {
			// Evicted by the store but still listed in the index; the index
			// is not proactively cleaned.
			continue
		}
		if err != nil {
			return nil, err
		}
		if !alias.ExpiresAt.After(now) {
			continue
		}
		records = append(records, *alias)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].ExpiresAt.Before(records[j].ExpiresAt)
	})

	return records, nil
}

// Delete removes an alias and its index entry, dropping the index entirely
// when it becomes empty. No signature is required: knowing the alias code is
// sufficient, unlike primary deletion. Hardening this would change the
// client protocol, so the asymmetry is kept.
func (s *AliasStore) Delete(ctx context.Context, code interfaces.ShareCode) error {
	alias, err := s.loadAlias(ctx, code)
	if err != nil {
		return err
	}

	if err := s.kv.Delete(ctx, aliasKey(code)); err != nil {
		return fmt.Errorf("%w: deleting alias: %v", interfaces.ErrInternal, err)
	}

	mainCode, err := interfaces.NewShareCode(alias.MainShareCode)
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrInternal, err)
	}

	if err := s.removeFromIndex(ctx, mainCode, code); err != nil {
		return err
	}

	s.log.Info("Expiring share deleted",
		slog.String("shareCode", code.String()),
		slog.String("mainShareCode", mainCode.String()))

	return nil
}

// freshCode generates a code unique across both the share and alias
// namespaces, within a bounded number of attempts.
func (s *AliasStore) freshCode(ctx context.Context) (interfaces.ShareCode, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		candidate := s.codes.Generate()

		if _, err := s.kv.Get(ctx, shareKey(candidate)); !errors.Is(err, interfaces.ErrKeyNotFound) {
			if err == nil {
				continue
			}
			return "", fmt.Errorf("%w: checking share namespace: %v", interfaces.ErrInternal, err)
		}
		if _, err := s.kv.Get(ctx, aliasKey(candidate)); !errors.Is(err, interfaces.ErrKeyNotFound) {
			if err == nil {
				continue
			}
			return "", fmt.Errorf("%w: checking alias namespace: %v", interfaces.ErrInternal, err)
		}

		return candidate, nil
	}

	return "", fmt.Errorf("%w: could not generate a unique share code", interfaces.ErrInternal)
}

func (s *AliasStore) loadAlias(ctx context.Context, code interfaces.ShareCode) (*AliasRecord, error) {
	if err := code.Validate(); err != nil {
		return nil, err
	}

	value, err := s.kv.Get(ctx, aliasKey(code))
	if errors.Is(err, interfaces.ErrKeyNotFound) {
		return nil, fmt.Errorf("share %s: %w", code, interfaces.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: fetching alias: %v", interfaces.ErrInternal, err)
	}

	var record AliasRecord
	if err := json.Unmarshal(value, &record); err != nil {
		return nil, fmt.Errorf("%w: decoding alias record: %v", interfaces.ErrInternal, err)
	}
	return &record, nil
}

// persistAlias rewrites an alias with its remaining TTL. Best effort: used
// only for access counter bumps.
func (s *AliasStore) persistAlias(ctx context.Context, record *AliasRecord) {
	value, err := json.Marshal(record)
	if err != nil {
		s.log.Warn("Failed to encode alias record", slog.String("shareCode", record.ShareCode), "err", err)
		return
	}

	ttl := record.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return
	}

	code := interfaces.ShareCode(record.ShareCode)
	if err := s.kv.Put(ctx, aliasKey(code), value, ttl); err != nil {
		s.log.Warn("Failed to persist alias access counters", slog.String("shareCode", record.ShareCode), "err", err)
	}
}

func (s *AliasStore) loadIndex(ctx context.Context, mainCode interfaces.ShareCode) (*aliasIndex, error) {
	value, err := s.kv.Get(ctx, aliasIndexKey(mainCode))
	if errors.Is(err, interfaces.ErrKeyNotFound) {
		return &aliasIndex{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: fetching alias index: %v", interfaces.ErrInternal, err)
	}

	var index aliasIndex
	if err := json.Unmarshal(value, &index); err != nil {
		return nil, fmt.Errorf("%w: decoding alias index: %v", interfaces.ErrInternal, err)
	}
	return &index, nil
}

// appendToIndex records a new alias under its primary. The index TTL tracks
// the longest-lived alias it currently contains, which keeps the index alive
// at least as long as anything it can enumerate.
func (s *AliasStore) appendToIndex(ctx context.Context, mainCode, code interfaces.ShareCode, expiresAt time.Time) error {
	index, err := s.loadIndex(ctx, mainCode)
	if err != nil {
		return err
	}

	index.Aliases = append(index.Aliases, aliasIndexEntry{
		ShareCode: code.String(),
		ExpiresAt: expiresAt,
	})

	return s.persistIndex(ctx, mainCode, index)
}

// removeFromIndex drops an alias entry, deleting the index when empty.
func (s *AliasStore) removeFromIndex(ctx context.Context, mainCode, code interfaces.ShareCode) error {
	index, err := s.loadIndex(ctx, mainCode)
	if err != nil {
		return err
	}

	entries := index.Aliases[:0]
	for _, entry := range index.Aliases {
		if entry.ShareCode != code.String() {
			entries = append(entries, entry)
		}
	}
	index.Aliases = entries

	if len(index.Aliases) == 0 {
		if err := s.kv.Delete(ctx, aliasIndexKey(mainCode)); err != nil {
			return fmt.Errorf("%w: deleting alias index: %v", interfaces.ErrInternal, err)
		}
		return nil
	}

	return s.persistIndex(ctx, mainCode, index)
}

func (s *AliasStore) persistIndex(ctx context.Context, mainCode interfaces.ShareCode, index *aliasIndex) error {
	value, err := json.Marshal(index)
	if err != nil {
		return fmt.Errorf("%w: encoding alias index: %v", interfaces.ErrInternal, err)
	}

	var latest time.Time
	for _, entry := range index.Aliases {
		if entry.ExpiresAt.After(latest) {
			latest = entry.ExpiresAt
		}
	}

	ttl := latest.Sub(s.now())
	if ttl < minTTL {
		ttl = minTTL
	}

	if err := s.kv.Put(ctx, aliasIndexKey(mainCode), value, ttl); err != nil {
		return fmt.Errorf("%w: storing alias index: %v", interfaces.ErrInternal, err)
	}
	return nil
}
