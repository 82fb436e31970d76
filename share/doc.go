// Package share implements the ephemeral sharing namespace: primary share
// records claimed under 6-character codes, and expiring shares (aliases) that
// indirect to a primary with their own display metadata and lifetime.
//
// Mutation of a primary record is authorized exclusively by an Ed25519
// signature over the share code, verified against the public key stored on
// the record. There are no accounts; possession of the private key is
// ownership. Retention is anchored to the timestamp embedded in the snapshot
// payload, never to access recency.
package share
