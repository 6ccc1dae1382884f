// Package storage defines the key-value persistence contract for game services.
//
// The contract is deliberately small: flat string-field records with
// compare-and-swap, member maps (unique sets with payloads) with add-if-absent,
// write-once blobs, and per-key TTLs. Every cross-request coordination in the
// game service goes through these atomic primitives, so any backend that
// honours them can be shared by several service processes.
//
// Implementations live in subpackages (memory, sqlite) and are verified by the
// shared conformance suite in storagetest.
//
// Common error types:
//   - ErrNotFound: requested key is missing or expired
package storage
