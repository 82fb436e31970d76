package interfaces

import (
	"errors"
	"fmt"
	"regexp"
)

// ShareCodeAlphabet is the character set share and alias codes are drawn from.
// The two code spaces overlap and must be checked jointly when generating codes.
const ShareCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// ShareCodeLength is the fixed length of share and alias codes.
const ShareCodeLength = 6

// BackupKeyAlphabet is the character set backup keys are drawn from. Easily
// confused characters (0, O, 1, I, L) are excluded because users type these
// keys by hand.
const BackupKeyAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

var (
	shareCodeRegex = regexp.MustCompile(`^[A-Z0-9]{6}$`)
	backupKeyRegex = regexp.MustCompile(`^[A-HJKMNP-Z2-9]{3}-[A-HJKMNP-Z2-9]{3}-[A-HJKMNP-Z2-9]{3}$`)
)

// ShareCode identifies a primary share record or an expiring alias. Both kinds
// of record live in the same 6-character uppercase-alphanumeric code space.
type ShareCode string

// NewShareCode validates a raw code string and returns it as a ShareCode.
func NewShareCode(raw string) (ShareCode, error) {
	if !shareCodeRegex.MatchString(raw) {
		return "", fmt.Errorf("%w: share code must be %d uppercase alphanumeric characters", ErrValidation, ShareCodeLength)
	}
	return ShareCode(raw), nil
}

// String returns the code as a plain string.
func (c ShareCode) String() string {
	return string(c)
}

// Validate checks the code format.
func (c ShareCode) Validate() error {
	_, err := NewShareCode(string(c))
	return err
}

// BackupKey identifies a registered backup stream. Format: three groups of
// three characters from BackupKeyAlphabet, e.g. "H4X-PQ7-M2N".
type BackupKey string

// NewBackupKey validates a raw key string and returns it as a BackupKey.
func NewBackupKey(raw string) (BackupKey, error) {
	if !backupKeyRegex.MatchString(raw) {
		return "", fmt.Errorf("%w: backup key must be three dash-separated groups of three characters", ErrValidation)
	}
	return BackupKey(raw), nil
}

// String returns the key as a plain string.
func (k BackupKey) String() string {
	return string(k)
}

// Validate checks the key format.
func (k BackupKey) Validate() error {
	_, err := NewBackupKey(string(k))
	return err
}

// BackupType names one of the app's backup streams. Each (key, type) pair
// keeps its own version history.
type BackupType string

const (
	// BackupTypeInventory is the main item database of the app.
	BackupTypeInventory BackupType = "inventory"

	// BackupTypeHistory is the consumption/restock history log.
	BackupTypeHistory BackupType = "history"

	// BackupTypeSettings is the device-local app configuration.
	BackupTypeSettings BackupType = "settings"
)

// NewBackupType validates a raw type string.
func NewBackupType(raw string) (BackupType, error) {
	switch BackupType(raw) {
	case BackupTypeInventory, BackupTypeHistory, BackupTypeSettings:
		return BackupType(raw), nil
	default:
		return "", fmt.Errorf("%w: unknown backup type %q", ErrValidation, raw)
	}
}

// String returns the type as a plain string.
func (t BackupType) String() string {
	return string(t)
}

// Validate checks that the type names a known backup stream.
func (t BackupType) Validate() error {
	_, err := NewBackupType(string(t))
	return err
}

// Error taxonomy shared by all stores. Handlers map these onto HTTP statuses
// at the request boundary; stores only ever wrap them.
var (
	// ErrValidation indicates malformed caller input.
	ErrValidation = errors.New("invalid input")

	// ErrNotFound indicates an unknown share code or backup key.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates the code or key is already taken.
	ErrConflict = errors.New("already exists")

	// ErrUnauthorized indicates a missing or invalid ownership signature.
	ErrUnauthorized = errors.New("ownership signature invalid")

	// ErrAttestationRejected indicates the device assertion was not accepted.
	ErrAttestationRejected = errors.New("device attestation rejected")

	// ErrExpired indicates the record's expiry has passed even though the
	// store may not have physically evicted it yet.
	ErrExpired = errors.New("expired")

	// ErrInternal indicates a storage failure or unexpected condition.
	ErrInternal = errors.New("internal error")
)
