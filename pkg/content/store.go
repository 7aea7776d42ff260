// Package content is the node storage behind the example schema.
package content

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"sync"

	_ "github.com/glebarez/go-sqlite"
)

// Cache tags and contexts of node data.
const (
	ListTag = "node_list"
	// Node lists depend on the node access grants of the user.
	ListContext = "user.node_grants:view"
)

// NodeTag returns the cache tag of a single node.
func NodeTag(id int64) string {
	return "node:" + strconv.FormatInt(id, 10)
}

type Node struct {
	ID        int64
	Type      string
	Title     string
	Published bool
}

type Store interface {
	// Load returns the node with the given id, and whether it exists.
	Load(ctx context.Context, id int64) (Node, bool, error)
	// Query returns a range of published nodes of a bundle ordered by id,
	// and the total count of published nodes of the bundle.
	Query(ctx context.Context, bundle string, offset, limit int) ([]Node, int, error)
	// Save creates or replaces a node.
	Save(ctx context.Context, node Node) error
}

type SQLiteStore struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

// NewSQLiteStore opens the node database with the given filename.
// If file name is empty, a new in-memory db is opened.
func NewSQLiteStore(filename string) (*SQLiteStore, error) {
	if filename == "" {
		filename = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return nil, err
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS nodes (
		id INTEGER PRIMARY KEY,
		type TEXT NOT NULL,
		title TEXT NOT NULL,
		status INTEGER NOT NULL DEFAULT 1
	)`)
	if err != nil {
		return nil, err
	}
	if _, err = db.Exec("CREATE INDEX IF NOT EXISTS type_status_idx ON nodes (type, status)"); err != nil {
		return nil, err
	}
	return &SQLiteStore{
		db:         db,
		writeMutex: &sync.Mutex{},
	}, nil
}

func (s *SQLiteStore) Load(ctx context.Context, id int64) (Node, bool, error) {
	var n Node
	err := s.db.QueryRowContext(ctx, "SELECT id, type, title, status FROM nodes WHERE id = ?", id).
		Scan(&n.ID, &n.Type, &n.Title, &n.Published)
	if errors.Is(err, sql.ErrNoRows) {
		return n, false, nil
	}
	if err != nil {
		return n, false, err
	}
	return n, true, nil
}

func (s *SQLiteStore) Query(ctx context.Context, bundle string, offset, limit int) ([]Node, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM nodes WHERE type = ? AND status = 1", bundle).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, type, title, status FROM nodes WHERE type = ? AND status = 1 ORDER BY id LIMIT ? OFFSET ?",
		bundle, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	nodes := make([]Node, 0)
	for rows.Next() {
		var n Node
		if err := rows.Scan(&n.ID, &n.Type, &n.Title, &n.Published); err != nil {
			return nil, 0, err
		}
		nodes = append(nodes, n)
	}
	return nodes, total, rows.Err()
}

func (s *SQLiteStore) Save(ctx context.Context, n Node) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO nodes (id, type, title, status) VALUES (?, ?, ?, ?)",
		n.ID, n.Type, n.Title, n.Published)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)
