// Package interfaces defines the contracts between the components of the
// sharing backend: the key-value store every record lives in, the device
// attestation verifier, the shared identifier types (share codes, backup keys,
// backup types) and the error taxonomy the HTTP layer maps onto status codes.
//
// Components depend on these interfaces rather than on each other, so any
// implementation (in-memory, Redis, S3, a future managed store) can be wired
// in without touching the stores or handlers.
package interfaces
