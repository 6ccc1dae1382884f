// Package memory implements the storage contract with in-process maps.
//
// It is the default backend for tests and single-instance development. All
// operations take one mutex, which makes every contract primitive atomic.
// Expired keys are invisible immediately and reclaimed by PurgeExpired.
package memory

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/louisbranch/robotbattle/internal/services/game/storage"
)

var errClosed = errors.New("memory store is closed")

// Store is a mutex-guarded in-memory storage.Store.
type Store struct {
	mu      sync.Mutex
	now     func() time.Time
	closed  bool
	records map[string]storage.Fields
	members map[string]map[string][]byte
	blobs   map[string][]byte
	expires map[string]time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for TTL decisions.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		now:     time.Now,
		records: map[string]storage.Fields{},
		members: map[string]map[string][]byte{},
		blobs:   map[string][]byte{},
		expires: map[string]time.Time{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var (
	_ storage.Store  = (*Store)(nil)
	_ storage.Purger = (*Store)(nil)
)

// lock acquires the mutex and evicts any of keys whose TTL elapsed.
func (s *Store) lock(keys ...string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errClosed
	}
	now := s.now()
	for _, key := range keys {
		s.evictIfExpired(key, now)
	}
	return nil
}

func (s *Store) evictIfExpired(key string, now time.Time) {
	if at, ok := s.expires[key]; ok && !now.Before(at) {
		s.drop(key)
	}
}

func (s *Store) drop(key string) {
	delete(s.records, key)
	delete(s.members, key)
	delete(s.blobs, key)
	delete(s.expires, key)
}

func (s *Store) exists(key string) bool {
	if _, ok := s.records[key]; ok {
		return true
	}
	if _, ok := s.members[key]; ok {
		return true
	}
	_, ok := s.blobs[key]
	return ok
}

func (s *Store) setTTL(key string, ttl time.Duration) {
	if ttl > 0 {
		s.expires[key] = s.now().Add(ttl)
		return
	}
	delete(s.expires, key)
}

// PutRecord replaces the record at key.
func (s *Store) PutRecord(ctx context.Context, key string, fields storage.Fields, ttl time.Duration) error {
	if err := s.lock(key); err != nil {
		return err
	}
	defer s.mu.Unlock()
	s.drop(key)
	s.records[key] = fields.Clone()
	s.setTTL(key, ttl)
	return nil
}

// CreateRecord writes the record only if key is absent.
func (s *Store) CreateRecord(ctx context.Context, key string, fields storage.Fields, ttl time.Duration) (bool, error) {
	if err := s.lock(key); err != nil {
		return false, err
	}
	defer s.mu.Unlock()
	if s.exists(key) {
		return false, nil
	}
	s.records[key] = fields.Clone()
	s.setTTL(key, ttl)
	return true, nil
}

// GetRecord returns a copy of the record at key.
func (s *Store) GetRecord(ctx context.Context, key string) (storage.Fields, error) {
	if err := s.lock(key); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	fields, ok := s.records[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return fields.Clone(), nil
}

// IncrementField adds delta to an integer field.
func (s *Store) IncrementField(ctx context.Context, key, field string, delta int64) (int64, error) {
	if err := s.lock(key); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()
	fields, ok := s.records[key]
	if !ok {
		fields = storage.Fields{}
		s.records[key] = fields
	}
	var current int64
	if raw := fields[field]; raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0, err
		}
		current = parsed
	}
	current += delta
	fields[field] = strconv.FormatInt(current, 10)
	return current, nil
}

// CompareAndSwap merges update into the record when expect holds.
func (s *Store) CompareAndSwap(ctx context.Context, key string, expect, update storage.Fields) (bool, error) {
	if err := s.lock(key); err != nil {
		return false, err
	}
	defer s.mu.Unlock()
	fields, ok := s.records[key]
	if !ok {
		return false, storage.ErrNotFound
	}
	if !fields.Matches(expect) {
		return false, nil
	}
	for k, v := range update {
		fields[k] = v
	}
	return true, nil
}

// AddMember adds member if absent and reports the resulting cardinality.
func (s *Store) AddMember(ctx context.Context, key, member string, payload []byte, ttl time.Duration) (bool, int, error) {
	if err := s.lock(key); err != nil {
		return false, 0, err
	}
	defer s.mu.Unlock()
	set, ok := s.members[key]
	if !ok {
		set = map[string][]byte{}
		s.members[key] = set
	}
	if _, exists := set[member]; exists {
		return false, len(set), nil
	}
	set[member] = append([]byte(nil), payload...)
	if ttl > 0 {
		s.setTTL(key, ttl)
	}
	return true, len(set), nil
}

// RemoveMember deletes member from the map at key.
func (s *Store) RemoveMember(ctx context.Context, key, member string) (bool, error) {
	if err := s.lock(key); err != nil {
		return false, err
	}
	defer s.mu.Unlock()
	set, ok := s.members[key]
	if !ok {
		return false, nil
	}
	if _, exists := set[member]; !exists {
		return false, nil
	}
	delete(set, member)
	if len(set) == 0 {
		s.drop(key)
	}
	return true, nil
}

// Members returns a copy of the member map at key.
func (s *Store) Members(ctx context.Context, key string) (map[string][]byte, error) {
	if err := s.lock(key); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	out := make(map[string][]byte, len(s.members[key]))
	for member, payload := range s.members[key] {
		out[member] = append([]byte(nil), payload...)
	}
	return out, nil
}

// Cardinality returns the number of members at key.
func (s *Store) Cardinality(ctx context.Context, key string) (int, error) {
	if err := s.lock(key); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()
	return len(s.members[key]), nil
}

// PutBlob replaces the blob at key.
func (s *Store) PutBlob(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.lock(key); err != nil {
		return err
	}
	defer s.mu.Unlock()
	s.drop(key)
	s.blobs[key] = append([]byte(nil), value...)
	s.setTTL(key, ttl)
	return nil
}

// CreateBlob writes value only if key is absent.
func (s *Store) CreateBlob(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if err := s.lock(key); err != nil {
		return false, err
	}
	defer s.mu.Unlock()
	if s.exists(key) {
		return false, nil
	}
	s.blobs[key] = append([]byte(nil), value...)
	s.setTTL(key, ttl)
	return true, nil
}

// GetBlob returns a copy of the blob at key.
func (s *Store) GetBlob(ctx context.Context, key string) ([]byte, error) {
	if err := s.lock(key); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	value, ok := s.blobs[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), value...), nil
}

// Expire sets a TTL on an existing key.
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if err := s.lock(key); err != nil {
		return false, err
	}
	defer s.mu.Unlock()
	if !s.exists(key) {
		return false, nil
	}
	s.setTTL(key, ttl)
	return true, nil
}

// Keys lists live keys with prefix in lexical order.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	now := s.now()
	seen := map[string]struct{}{}
	collect := func(key string) {
		if !strings.HasPrefix(key, prefix) {
			return
		}
		if at, ok := s.expires[key]; ok && !now.Before(at) {
			return
		}
		seen[key] = struct{}{}
	}
	for key := range s.records {
		collect(key)
	}
	for key := range s.members {
		collect(key)
	}
	for key := range s.blobs {
		collect(key)
	}
	keys := make([]string, 0, len(seen))
	for key := range seen {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

// Delete removes keys.
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	for _, key := range keys {
		s.drop(key)
	}
	return nil
}

// PurgeExpired reclaims every key whose TTL elapsed at or before now.
func (s *Store) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	if err := s.lock(); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()
	purged := 0
	for key, at := range s.expires {
		if !now.Before(at) {
			s.drop(key)
			purged++
		}
	}
	return purged, nil
}

// Ping reports whether the store is open.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.lock(); err != nil {
		return err
	}
	s.mu.Unlock()
	return ctx.Err()
}

// Close marks the store closed; later calls fail.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
