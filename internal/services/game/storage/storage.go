package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates a requested key is missing or has expired.
var ErrNotFound = errors.New("record not found")

// Fields is a flat string-field record.
type Fields map[string]string

// Clone returns a copy that callers may mutate freely.
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Matches reports whether every expected field has the given value in f.
// An expected empty string also matches an absent field.
func (f Fields) Matches(expect Fields) bool {
	for k, want := range expect {
		if f[k] != want {
			return false
		}
	}
	return true
}

// RecordStore persists flat records.
type RecordStore interface {
	// PutRecord replaces the record at key. A zero ttl keeps the key forever.
	PutRecord(ctx context.Context, key string, fields Fields, ttl time.Duration) error
	// CreateRecord writes the record only if key is absent.
	CreateRecord(ctx context.Context, key string, fields Fields, ttl time.Duration) (bool, error)
	// GetRecord returns the record at key or ErrNotFound.
	GetRecord(ctx context.Context, key string) (Fields, error)
	// IncrementField atomically adds delta to an integer field and returns the new value.
	// A missing record or field starts at zero.
	IncrementField(ctx context.Context, key, field string, delta int64) (int64, error)
	// CompareAndSwap merges update into the record when every expected field
	// matches. It returns ErrNotFound when key is absent and false when the
	// expectation does not hold. The key's TTL is preserved.
	CompareAndSwap(ctx context.Context, key string, expect, update Fields) (bool, error)
}

// MemberStore persists member maps: unique members with opaque payloads.
type MemberStore interface {
	// AddMember adds member with payload if absent and returns whether it was
	// added together with the cardinality observed by the same atomic step.
	// The ttl applies to the whole map when the member is added.
	AddMember(ctx context.Context, key, member string, payload []byte, ttl time.Duration) (bool, int, error)
	// RemoveMember deletes member, reporting whether it existed.
	RemoveMember(ctx context.Context, key, member string) (bool, error)
	// Members returns every member and payload; an absent map is empty.
	Members(ctx context.Context, key string) (map[string][]byte, error)
	// Cardinality returns the number of members; an absent map has zero.
	Cardinality(ctx context.Context, key string) (int, error)
}

// BlobStore persists opaque values.
type BlobStore interface {
	PutBlob(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// CreateBlob writes value only if key is absent.
	CreateBlob(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	// GetBlob returns the value at key or ErrNotFound.
	GetBlob(ctx context.Context, key string) ([]byte, error)
}

// Store is the full persistence contract used by the game service.
type Store interface {
	RecordStore
	MemberStore
	BlobStore

	// Expire sets a TTL on key. It returns false when key does not exist.
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Keys lists live keys starting with prefix in lexical order.
	Keys(ctx context.Context, prefix string) ([]string, error)
	// Delete removes keys of any kind; missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error
	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error
	// Close releases backend resources.
	Close() error
}

// Purger is implemented by stores that reclaim expired keys lazily.
type Purger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int, error)
}
