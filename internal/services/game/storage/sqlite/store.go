package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/louisbranch/robotbattle/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/robotbattle/internal/services/game/storage"
	"github.com/louisbranch/robotbattle/internal/services/game/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// Store provides a SQLite-backed storage.Store.
type Store struct {
	sqlDB *sql.DB
	now   func() time.Time
}

var (
	_ storage.Store  = (*Store)(nil)
	_ storage.Purger = (*Store)(nil)
)

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

// Open opens (creating if needed) the SQLite store at path and applies
// embedded migrations before handing it to callers.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	if dir := filepath.Dir(cleanPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}

	dsn := cleanPath + "?_txlock=immediate&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.ApplyMigrations(ctx, sqlDB, migrations.KVFS, "kv"); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	store := &Store{sqlDB: sqlDB, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store, nil
}

// Close closes the underlying SQLite database.
//
// Close is nil-safe so callers can defer it in all startup paths.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Ping verifies the database answers.
func (s *Store) Ping(ctx context.Context) error {
	return s.sqlDB.PingContext(ctx)
}

// inTx runs fn in a write transaction after evicting any expired keys.
func (s *Store) inTx(ctx context.Context, keys []string, fn func(tx *sql.Tx, now int64) error) (err error) {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := toMillis(s.now())
	for _, key := range keys {
		if err = evictIfExpired(ctx, tx, key, now); err != nil {
			return err
		}
	}
	if err = fn(tx, now); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func evictIfExpired(ctx context.Context, tx *sql.Tx, key string, now int64) error {
	var expiresAt int64
	err := tx.QueryRowContext(ctx, `SELECT expires_at FROM kv_ttl WHERE key = ?`, key).Scan(&expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read ttl %s: %w", key, err)
	}
	if expiresAt > now {
		return nil
	}
	return dropKey(ctx, tx, key)
}

func dropKey(ctx context.Context, tx *sql.Tx, key string) error {
	for _, stmt := range []string{
		`DELETE FROM kv_records WHERE key = ?`,
		`DELETE FROM kv_members WHERE key = ?`,
		`DELETE FROM kv_blobs WHERE key = ?`,
		`DELETE FROM kv_ttl WHERE key = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, key); err != nil {
			return fmt.Errorf("drop %s: %w", key, err)
		}
	}
	return nil
}

func keyExists(ctx context.Context, tx *sql.Tx, key string) (bool, error) {
	var found bool
	err := tx.QueryRowContext(ctx, `SELECT
    EXISTS (SELECT 1 FROM kv_records WHERE key = ?1)
    OR EXISTS (SELECT 1 FROM kv_members WHERE key = ?1)
    OR EXISTS (SELECT 1 FROM kv_blobs WHERE key = ?1)`, key).Scan(&found)
	if err != nil {
		return false, fmt.Errorf("check key %s: %w", key, err)
	}
	return found, nil
}

func setTTL(ctx context.Context, tx *sql.Tx, key string, ttl time.Duration, now int64) error {
	if ttl <= 0 {
		_, err := tx.ExecContext(ctx, `DELETE FROM kv_ttl WHERE key = ?`, key)
		return err
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO kv_ttl (key, expires_at) VALUES (?, ?)
ON CONFLICT(key) DO UPDATE SET expires_at = excluded.expires_at`, key, now+ttl.Milliseconds())
	return err
}

func encodeFields(fields storage.Fields) (string, error) {
	if fields == nil {
		fields = storage.Fields{}
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("encode fields: %w", err)
	}
	return string(data), nil
}

func decodeFields(raw string) (storage.Fields, error) {
	fields := storage.Fields{}
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}
	return fields, nil
}

func loadRecord(ctx context.Context, tx *sql.Tx, key string) (storage.Fields, error) {
	var raw string
	err := tx.QueryRowContext(ctx, `SELECT fields FROM kv_records WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load record %s: %w", key, err)
	}
	return decodeFields(raw)
}

func saveRecord(ctx context.Context, tx *sql.Tx, key string, fields storage.Fields) error {
	raw, err := encodeFields(fields)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO kv_records (key, fields) VALUES (?, ?)
ON CONFLICT(key) DO UPDATE SET fields = excluded.fields`, key, raw)
	if err != nil {
		return fmt.Errorf("save record %s: %w", key, err)
	}
	return nil
}

// PutRecord replaces the record at key.
func (s *Store) PutRecord(ctx context.Context, key string, fields storage.Fields, ttl time.Duration) error {
	return s.inTx(ctx, nil, func(tx *sql.Tx, now int64) error {
		if err := dropKey(ctx, tx, key); err != nil {
			return err
		}
		if err := saveRecord(ctx, tx, key, fields); err != nil {
			return err
		}
		return setTTL(ctx, tx, key, ttl, now)
	})
}

// CreateRecord writes the record only if key is absent.
func (s *Store) CreateRecord(ctx context.Context, key string, fields storage.Fields, ttl time.Duration) (bool, error) {
	created := false
	err := s.inTx(ctx, []string{key}, func(tx *sql.Tx, now int64) error {
		exists, err := keyExists(ctx, tx, key)
		if err != nil || exists {
			return err
		}
		if err := saveRecord(ctx, tx, key, fields); err != nil {
			return err
		}
		created = true
		return setTTL(ctx, tx, key, ttl, now)
	})
	return created, err
}

// GetRecord returns the record at key.
func (s *Store) GetRecord(ctx context.Context, key string) (storage.Fields, error) {
	var raw string
	err := s.sqlDB.QueryRowContext(ctx, `SELECT r.fields FROM kv_records r
WHERE r.key = ?1 AND NOT EXISTS (SELECT 1 FROM kv_ttl t WHERE t.key = ?1 AND t.expires_at <= ?2)`,
		key, toMillis(s.now())).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get record %s: %w", key, err)
	}
	return decodeFields(raw)
}

// IncrementField adds delta to an integer field.
func (s *Store) IncrementField(ctx context.Context, key, field string, delta int64) (int64, error) {
	var value int64
	err := s.inTx(ctx, []string{key}, func(tx *sql.Tx, now int64) error {
		fields, err := loadRecord(ctx, tx, key)
		if errors.Is(err, storage.ErrNotFound) {
			fields = storage.Fields{}
		} else if err != nil {
			return err
		}
		if raw := fields[field]; raw != "" {
			current, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return fmt.Errorf("field %s is not an integer: %w", field, err)
			}
			value = current
		}
		value += delta
		fields[field] = strconv.FormatInt(value, 10)
		return saveRecord(ctx, tx, key, fields)
	})
	return value, err
}

// CompareAndSwap merges update into the record when expect holds.
func (s *Store) CompareAndSwap(ctx context.Context, key string, expect, update storage.Fields) (bool, error) {
	swapped := false
	err := s.inTx(ctx, []string{key}, func(tx *sql.Tx, now int64) error {
		fields, err := loadRecord(ctx, tx, key)
		if err != nil {
			return err
		}
		if !fields.Matches(expect) {
			return nil
		}
		for k, v := range update {
			fields[k] = v
		}
		if err := saveRecord(ctx, tx, key, fields); err != nil {
			return err
		}
		swapped = true
		return nil
	})
	return swapped, err
}

// AddMember adds member if absent and reports the resulting cardinality.
func (s *Store) AddMember(ctx context.Context, key, member string, payload []byte, ttl time.Duration) (bool, int, error) {
	added := false
	count := 0
	err := s.inTx(ctx, []string{key}, func(tx *sql.Tx, now int64) error {
		if payload == nil {
			payload = []byte{}
		}
		res, err := tx.ExecContext(ctx, `INSERT INTO kv_members (key, member, payload, added_at) VALUES (?, ?, ?, ?)
ON CONFLICT(key, member) DO NOTHING`, key, member, payload, now)
		if err != nil {
			return fmt.Errorf("add member %s: %w", key, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("add member %s: %w", key, err)
		}
		added = affected == 1
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM kv_members WHERE key = ?`, key).Scan(&count); err != nil {
			return fmt.Errorf("count members %s: %w", key, err)
		}
		if added && ttl > 0 {
			return setTTL(ctx, tx, key, ttl, now)
		}
		return nil
	})
	if err != nil {
		return false, 0, err
	}
	return added, count, nil
}

// RemoveMember deletes member from the map at key.
func (s *Store) RemoveMember(ctx context.Context, key, member string) (bool, error) {
	removed := false
	err := s.inTx(ctx, []string{key}, func(tx *sql.Tx, now int64) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM kv_members WHERE key = ? AND member = ?`, key, member)
		if err != nil {
			return fmt.Errorf("remove member %s: %w", key, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		removed = affected == 1
		exists, err := keyExists(ctx, tx, key)
		if err != nil || exists {
			return err
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM kv_ttl WHERE key = ?`, key)
		return err
	})
	return removed, err
}

// Members returns every member of the map at key.
func (s *Store) Members(ctx context.Context, key string) (map[string][]byte, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT m.member, m.payload FROM kv_members m
WHERE m.key = ?1 AND NOT EXISTS (SELECT 1 FROM kv_ttl t WHERE t.key = ?1 AND t.expires_at <= ?2)`,
		key, toMillis(s.now()))
	if err != nil {
		return nil, fmt.Errorf("list members %s: %w", key, err)
	}
	defer rows.Close()

	out := map[string][]byte{}
	for rows.Next() {
		var member string
		var payload []byte
		if err := rows.Scan(&member, &payload); err != nil {
			return nil, fmt.Errorf("scan member %s: %w", key, err)
		}
		out[member] = payload
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list members %s: %w", key, err)
	}
	return out, nil
}

// Cardinality returns the number of members at key.
func (s *Store) Cardinality(ctx context.Context, key string) (int, error) {
	var count int
	err := s.sqlDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM kv_members m
WHERE m.key = ?1 AND NOT EXISTS (SELECT 1 FROM kv_ttl t WHERE t.key = ?1 AND t.expires_at <= ?2)`,
		key, toMillis(s.now())).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count members %s: %w", key, err)
	}
	return count, nil
}

// PutBlob replaces the blob at key.
func (s *Store) PutBlob(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.inTx(ctx, nil, func(tx *sql.Tx, now int64) error {
		if err := dropKey(ctx, tx, key); err != nil {
			return err
		}
		if err := insertBlob(ctx, tx, key, value); err != nil {
			return err
		}
		return setTTL(ctx, tx, key, ttl, now)
	})
}

// CreateBlob writes value only if key is absent.
func (s *Store) CreateBlob(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	created := false
	err := s.inTx(ctx, []string{key}, func(tx *sql.Tx, now int64) error {
		exists, err := keyExists(ctx, tx, key)
		if err != nil || exists {
			return err
		}
		if err := insertBlob(ctx, tx, key, value); err != nil {
			return err
		}
		created = true
		return setTTL(ctx, tx, key, ttl, now)
	})
	return created, err
}

func insertBlob(ctx context.Context, tx *sql.Tx, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO kv_blobs (key, value) VALUES (?, ?)`, key, value); err != nil {
		return fmt.Errorf("insert blob %s: %w", key, err)
	}
	return nil
}

// GetBlob returns the blob at key.
func (s *Store) GetBlob(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.sqlDB.QueryRowContext(ctx, `SELECT b.value FROM kv_blobs b
WHERE b.key = ?1 AND NOT EXISTS (SELECT 1 FROM kv_ttl t WHERE t.key = ?1 AND t.expires_at <= ?2)`,
		key, toMillis(s.now())).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get blob %s: %w", key, err)
	}
	return value, nil
}

// Expire sets a TTL on an existing key.
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	found := false
	err := s.inTx(ctx, []string{key}, func(tx *sql.Tx, now int64) error {
		exists, err := keyExists(ctx, tx, key)
		if err != nil || !exists {
			return err
		}
		found = true
		return setTTL(ctx, tx, key, ttl, now)
	})
	return found, err
}

// Keys lists live keys with prefix in lexical order.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT k.key FROM (
    SELECT key FROM kv_records
    UNION SELECT key FROM kv_members
    UNION SELECT key FROM kv_blobs
) k
WHERE substr(k.key, 1, ?1) = ?2
  AND NOT EXISTS (SELECT 1 FROM kv_ttl t WHERE t.key = k.key AND t.expires_at <= ?3)
ORDER BY k.key`, utf8.RuneCountInString(prefix), prefix, toMillis(s.now()))
	if err != nil {
		return nil, fmt.Errorf("list keys %s: %w", prefix, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list keys %s: %w", prefix, err)
	}
	return keys, nil
}

// Delete removes keys.
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.inTx(ctx, nil, func(tx *sql.Tx, now int64) error {
		for _, key := range keys {
			if err := dropKey(ctx, tx, key); err != nil {
				return err
			}
		}
		return nil
	})
}

// PurgeExpired reclaims every key whose TTL elapsed at or before now.
func (s *Store) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	purged := 0
	err := s.inTx(ctx, nil, func(tx *sql.Tx, _ int64) error {
		rows, err := tx.QueryContext(ctx, `SELECT key FROM kv_ttl WHERE expires_at <= ?`, toMillis(now))
		if err != nil {
			return fmt.Errorf("list expired keys: %w", err)
		}
		var expired []string
		for rows.Next() {
			var key string
			if err := rows.Scan(&key); err != nil {
				rows.Close()
				return fmt.Errorf("scan expired key: %w", err)
			}
			expired = append(expired, key)
		}
		if err := rows.Close(); err != nil {
			return err
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("list expired keys: %w", err)
		}
		for _, key := range expired {
			if err := dropKey(ctx, tx, key); err != nil {
				return err
			}
		}
		purged = len(expired)
		return nil
	})
	return purged, err
}
