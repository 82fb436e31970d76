// Package kvstore implements the interfaces.KVStore contract on several
// backends, created from location URIs by a common factory:
//
//   - memory:// keeps entries in a process-local map with lazy TTL eviction
//   - file://   keeps one JSON envelope file per key
//   - redis://  maps TTLs onto native Redis key expiration
//   - s3://     records the expiry in object metadata and enforces it on read
//
// All backends share the same weak-consistency contract: single-key
// operations only, no transactions, no compare-and-swap. Callers that build
// indices or counters on top accept last-write-wins semantics.
package kvstore
