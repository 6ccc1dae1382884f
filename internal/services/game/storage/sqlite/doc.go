// Package sqlite implements the game storage contract on a SQLite file.
//
// Several service processes may share one database file. Transactions take the
// write lock when they begin (_txlock=immediate), so every contract primitive
// (compare-and-swap, add-if-absent, create-if-absent) is atomic across
// processes, and busy_timeout serializes writers instead of failing them.
//
// Schema: flat records are JSON objects in kv_records, member maps are rows in
// kv_members, blobs live in kv_blobs, and per-key expiry lives in kv_ttl.
// Expired keys are invisible to reads and reclaimed by PurgeExpired.
package sqlite
