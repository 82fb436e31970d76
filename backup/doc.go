// Package backup implements periodic device backups: a permanent registry
// binding human-readable backup keys to Ed25519 public keys, and per
// (backupKey, type) version histories that are checksum-deduplicated and
// bounded to the most recent versions.
package backup
