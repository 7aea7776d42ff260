package cache

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

const listSeparator = "\n"

type SQLiteCache struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

// NewSQLiteCache creates a new cache with the given filename as the db.
// If file name is empty, a new in-memory db is opened.
func NewSQLiteCache(filename string) (SQLiteCache, error) {
	if filename == "" {
		filename = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return SQLiteCache{}, err
	}
	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS cache (
			key TEXT PRIMARY KEY,
			contexts TEXT,
			tags TEXT,
			expires INTEGER,
			stored_at INTEGER,
			bytes BLOB
		)`,
		"CREATE INDEX IF NOT EXISTS expires_idx ON cache (expires)",
		`CREATE TABLE IF NOT EXISTS cache_tags (
			tag TEXT,
			key TEXT,
			PRIMARY KEY (tag, key)
		)`,
		"PRAGMA journal_mode=WAL",
	} {
		if _, err := db.Exec(stmt); err != nil {
			return SQLiteCache{}, err
		}
	}
	return SQLiteCache{
		db:         db,
		writeMutex: &sync.Mutex{},
	}, nil
}

func (s SQLiteCache) All(ctx context.Context, prefix string) ([]CacheEntry, error) {
	entries := make([]CacheEntry, 0)
	// instr instead of LIKE: keys contain wildcards and LIKE ignores case
	rows, err := s.db.QueryContext(ctx, `SELECT
		key, contexts, tags, expires, stored_at, bytes
		FROM cache WHERE instr(key, ?) = 1 AND (expires = 0 OR expires > ?)`,
		prefix, time.Now().UnixMilli())
	if err != nil {
		return entries, err
	}
	defer rows.Close()
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return entries, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s SQLiteCache) Get(ctx context.Context, key string) (CacheEntry, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT
		key, contexts, tags, expires, stored_at, bytes
		FROM cache WHERE key = ?`, key)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return CacheEntry{}, false, nil
	}
	if err != nil {
		return CacheEntry{}, false, err
	}
	if entry.Expired(time.Now()) {
		return CacheEntry{}, false, s.Purge(ctx, key)
	}
	return entry, true, nil
}

func (s SQLiteCache) Put(ctx context.Context, ce CacheEntry) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, "DELETE FROM cache_tags WHERE key = ?", ce.Key); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT OR REPLACE INTO cache
		(key, contexts, tags, expires, stored_at, bytes) VALUES (?, ?, ?, ?, ?, ?)`,
		ce.Key,
		strings.Join(ce.Contexts, listSeparator),
		strings.Join(ce.Tags, listSeparator),
		unixMilli(ce.Expires),
		unixMilli(ce.StoredAt),
		ce.Bytes)
	if err != nil {
		return err
	}
	for _, tag := range ce.Tags {
		if _, err := tx.ExecContext(ctx, "INSERT OR IGNORE INTO cache_tags (tag, key) VALUES (?, ?)", tag, ce.Key); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s SQLiteCache) InvalidateTags(ctx context.Context, tags ...string) (int, error) {
	if len(tags) == 0 {
		return 0, nil
	}
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(tags)), ",")
	args := make([]any, len(tags))
	for i, tag := range tags {
		args[i] = tag
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	result, err := tx.ExecContext(ctx,
		"DELETE FROM cache WHERE key IN (SELECT key FROM cache_tags WHERE tag IN ("+placeholders+"))", args...)
	if err != nil {
		return 0, err
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM cache_tags WHERE key NOT IN (SELECT key FROM cache)"); err != nil {
		return 0, err
	}
	return int(removed), tx.Commit()
}

func (s SQLiteCache) Purge(ctx context.Context, key string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	if _, err := s.db.ExecContext(ctx, "DELETE FROM cache WHERE key = ?", key); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, "DELETE FROM cache_tags WHERE key = ?", key)
	return err
}

func (s SQLiteCache) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (CacheEntry, error) {
	var entry CacheEntry
	var contexts, tags string
	var exp, stored int64
	if err := row.Scan(&entry.Key, &contexts, &tags, &exp, &stored, &entry.Bytes); err != nil {
		return entry, err
	}
	entry.Contexts = splitList(contexts)
	entry.Tags = splitList(tags)
	entry.Expires = fromUnixMilli(exp)
	entry.StoredAt = fromUnixMilli(stored)
	return entry, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, listSeparator)
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromUnixMilli(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

var _ CacheProvider = SQLiteCache{}
