// Package cryptoutils implements the cryptographic primitives of the sharing
// backend: detached Ed25519 ownership-signature verification, snapshot payload
// timestamp extraction, and the pluggable device attestation verifier stub.
//
// Ownership model: records are created by anonymous clients identified only by
// a public key generated on the device. Mutating or deleting a record requires
// a detached signature over the record's identifier, verified against the
// public key stored on the record. There is no account system and no other
// owner identity.
package cryptoutils
