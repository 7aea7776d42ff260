package registry

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"

	"github.com/always-cache/apq/pkg/fingerprint"
)

// SQLiteRegistry persists documents in a sqlite database.
type SQLiteRegistry struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

// NewSQLiteRegistry opens (and migrates) the registry database with the given filename.
// If file name is empty, a new in-memory db is opened.
func NewSQLiteRegistry(filename string) (*SQLiteRegistry, error) {
	if filename == "" {
		filename = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return nil, err
	}
	return NewSQLiteRegistryFromDB(db)
}

// NewSQLiteRegistryFromDB uses an already opened database.
func NewSQLiteRegistryFromDB(db *sql.DB) (*SQLiteRegistry, error) {
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, err
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS persisted_queries (
		hash TEXT PRIMARY KEY,
		document TEXT NOT NULL,
		created_at INTEGER
	)`); err != nil {
		return nil, err
	}
	return &SQLiteRegistry{
		db:         db,
		writeMutex: &sync.Mutex{},
	}, nil
}

func (s *SQLiteRegistry) Register(ctx context.Context, hash fingerprint.Hash, document string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO persisted_queries (hash, document, created_at) VALUES (?, ?, ?) ON CONFLICT(hash) DO NOTHING",
		hash.String(), document, time.Now().Unix())
	if err != nil {
		return unavailable(err, "insert")
	}
	// compare against the stored value, which may be another writer's
	var stored string
	if err := s.db.QueryRowContext(ctx, "SELECT document FROM persisted_queries WHERE hash = ?", hash.String()).Scan(&stored); err != nil {
		return unavailable(err, "read back")
	}
	if stored != document {
		return mismatch(hash)
	}
	return nil
}

func (s *SQLiteRegistry) Lookup(ctx context.Context, hash fingerprint.Hash) (string, error) {
	var document string
	err := s.db.QueryRowContext(ctx, "SELECT document FROM persisted_queries WHERE hash = ?", hash.String()).Scan(&document)
	if errors.Is(err, sql.ErrNoRows) {
		return "", notFound(hash)
	}
	if err != nil {
		return "", unavailable(err, "lookup")
	}
	return document, nil
}

func (s *SQLiteRegistry) Close() error {
	return s.db.Close()
}

var _ Registry = (*SQLiteRegistry)(nil)
