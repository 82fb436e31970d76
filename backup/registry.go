package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shelfmate/sharing-backend/interfaces"
)

// Registration is the permanent binding of a backup key to the public key
// that authorizes uploads under it. Registrations are first come, first
// served, and never reassigned.
type Registration struct {
	BackupKey           string    `json:"backupKey"`
	PublicKey           string    `json:"publicKey"`
	RegisteredAt        time.Time `json:"registeredAt"`
	RegisteredByAddress string    `json:"registeredByAddress"`
}

// KeyRegistry manages backup key registrations in the key-value store.
type KeyRegistry struct {
	kv  interfaces.KVStore
	log *slog.Logger
	now func() time.Time
}

// NewKeyRegistry creates a registry on the given key-value store.
func NewKeyRegistry(kv interfaces.KVStore, log *slog.Logger) *KeyRegistry {
	return &KeyRegistry{
		kv:  kv,
		log: log,
		now: time.Now,
	}
}

func registrationKey(key interfaces.BackupKey) string {
	return "bkreg:" + key.String()
}

// Register claims a backup key for the given public key. The binding is
// stored without a TTL: a registered key stays registered for the lifetime of
// the service, even after every backup under it has expired.
func (r *KeyRegistry) Register(ctx context.Context, key interfaces.BackupKey, publicKey, requesterAddress string) (*Registration, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if publicKey == "" {
		return nil, fmt.Errorf("%w: publicKey is required", interfaces.ErrValidation)
	}

	if _, err := r.kv.Get(ctx, registrationKey(key)); err == nil {
		return nil, fmt.Errorf("backup key %s: %w", key, interfaces.ErrConflict)
	} else if !errors.Is(err, interfaces.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: checking backup key: %v", interfaces.ErrInternal, err)
	}

	registration := &Registration{
		BackupKey:           key.String(),
		PublicKey:           publicKey,
		RegisteredAt:        r.now(),
		RegisteredByAddress: requesterAddress,
	}

	value, err := json.Marshal(registration)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding registration: %v", interfaces.ErrInternal, err)
	}
	if err := r.kv.Put(ctx, registrationKey(key), value, 0); err != nil {
		return nil, fmt.Errorf("%w: storing registration: %v", interfaces.ErrInternal, err)
	}

	r.log.Info("Backup key registered", slog.String("backupKey", key.String()))
	return registration, nil
}

// Lookup returns the registration for a backup key.
func (r *KeyRegistry) Lookup(ctx context.Context, key interfaces.BackupKey) (*Registration, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	value, err := r.kv.Get(ctx, registrationKey(key))
	if errors.Is(err, interfaces.ErrKeyNotFound) {
		return nil, fmt.Errorf("backup key %s: %w", key, interfaces.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: fetching registration: %v", interfaces.ErrInternal, err)
	}

	var registration Registration
	if err := json.Unmarshal(value, &registration); err != nil {
		return nil, fmt.Errorf("%w: decoding registration: %v", interfaces.ErrInternal, err)
	}
	return &registration, nil
}
