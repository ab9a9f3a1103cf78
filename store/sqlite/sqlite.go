/*
Package sqlite provides a SQLite-backed implementation of the ledger store
and the offline journal.

PURPOSE:
  Local durable store for a reception terminal: the same path tree the
  hosted database holds, kept in one SQLite file, plus the queue of writes
  waiting to be replayed upstream.

INTERFACES IMPLEMENTED:
  ledger.Store:    Get / Set / Update / Remove on the path tree
  offline.Journal: Append / Pending / Ack / Retry / Reject

TREE LAYOUT:
  Only leaves are stored, one row per scalar, keyed by full path:

    bookings/B1/occ1/checkInDate   "2024-01-03"
    bookings/B1/occ1/checkOutDate  "2024-01-05"

  A read selects the path and every row below it and rebuilds the map.
  Empty maps therefore never exist: removing the last leaf under a node
  removes the node.

ATOMICITY:
  Update runs in one SQL transaction. For every written path it deletes
  the old subtree, deletes any leaf sitting on an ancestor path (a scalar
  replaced by a map) and inserts the new leaves.

KEY TABLES:
  nodes:         path tree leaves
  offline_queue: journaled writes (see journal.go)

CONCURRENCY:
  Uses sync.RWMutex for thread-safety on top of SQLite's own locking.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/reception.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := reception.NewService(store)

SEE ALSO:
  - ledger/store.go: Interface definition
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/reception-ledger/ledger"
)

// Store implements ledger.Store and offline.Journal using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ ledger.Store = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// ":memory:" gives each connection its own database.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Path tree leaves
	CREATE TABLE IF NOT EXISTS nodes (
		path TEXT PRIMARY KEY,
		value_json TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Offline write journal (FIFO by seq)
	CREATE TABLE IF NOT EXISTS offline_queue (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		domain TEXT NOT NULL,
		op TEXT NOT NULL,
		payload_json TEXT NOT NULL,
		actor_json TEXT NOT NULL,
		enqueued_at TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		status TEXT NOT NULL DEFAULT 'pending'
	);

	CREATE INDEX IF NOT EXISTS idx_offline_queue_status
		ON offline_queue(status, seq);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// PATH TREE (ledger.Store interface)
// =============================================================================

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Get rebuilds the subtree at path and decodes it into dest.
func (s *Store) Get(ctx context.Context, path string, dest any) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	path = strings.Trim(path, "/")
	var (
		rows *sql.Rows
		err  error
	)
	if path == "" {
		rows, err = s.db.QueryContext(ctx, `SELECT path, value_json FROM nodes`)
	} else {
		prefix := path + "/"
		rows, err = s.db.QueryContext(ctx,
			`SELECT path, value_json FROM nodes WHERE path = ? OR substr(path, 1, ?) = ?`,
			path, utf8.RuneCountInString(prefix), prefix)
	}
	if err != nil {
		return false, fmt.Errorf("get %s: %w: %v", path, ledger.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var (
		node  any
		found bool
	)
	for rows.Next() {
		var p, raw string
		if err := rows.Scan(&p, &raw); err != nil {
			return false, fmt.Errorf("get %s: %w", path, err)
		}
		leaf, err := decodeLeaf(raw)
		if err != nil {
			return false, fmt.Errorf("get %s: %w", p, err)
		}
		found = true
		rel := strings.TrimPrefix(strings.TrimPrefix(p, path), "/")
		if rel == "" {
			node = leaf
			continue
		}
		node = insertLeaf(node, ledger.Split(rel), leaf)
	}
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("get %s: %w", path, err)
	}
	if !found {
		return false, nil
	}
	if err := ledger.Decode(node, dest); err != nil {
		return true, fmt.Errorf("get %s: %w", path, err)
	}
	return true, nil
}

// Set replaces the node at path. The root cannot be replaced.
func (s *Store) Set(ctx context.Context, path string, value any) error {
	return s.Update(ctx, ledger.Writes{path: value})
}

// Remove deletes the node at path and everything below it.
func (s *Store) Remove(ctx context.Context, path string) error {
	return s.Update(ctx, ledger.Writes{path: nil})
}

// Update applies every write in one SQL transaction.
func (s *Store) Update(ctx context.Context, writes ledger.Writes) error {
	if err := ledger.ValidateWrites(writes); err != nil {
		return err
	}
	normalized := make(map[string]any, len(writes))
	for p, v := range writes {
		n, err := ledger.Normalize(v)
		if err != nil {
			return fmt.Errorf("update %s: %w", p, err)
		}
		normalized[strings.Trim(p, "/")] = n
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update: %w: %v", ledger.ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	paths := make([]string, 0, len(normalized))
	for p := range normalized {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, p := range paths {
		if err := replaceSubtree(ctx, tx, p, normalized[p], now); err != nil {
			return fmt.Errorf("update %s: %w", p, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit update: %w", err)
	}
	return nil
}

func replaceSubtree(ctx context.Context, db execer, path string, value any, now string) error {
	prefix := path + "/"
	if _, err := db.ExecContext(ctx,
		`DELETE FROM nodes WHERE path = ? OR substr(path, 1, ?) = ?`,
		path, utf8.RuneCountInString(prefix), prefix); err != nil {
		return err
	}
	if value == nil {
		return nil
	}
	// A leaf on an ancestor path is replaced by the map being written.
	for parent := ledger.Parent(path); parent != ""; parent = ledger.Parent(parent) {
		if _, err := db.ExecContext(ctx, `DELETE FROM nodes WHERE path = ?`, parent); err != nil {
			return err
		}
	}
	return insertTree(ctx, db, path, value, now)
}

func insertTree(ctx context.Context, db execer, path string, value any, now string) error {
	if m, ok := value.(map[string]any); ok {
		for k, child := range m {
			if err := insertTree(ctx, db, ledger.Join(path, k), child, now); err != nil {
				return err
			}
		}
		return nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO nodes (path, value_json, updated_at) VALUES (?, ?, ?)`,
		path, string(raw), now)
	return err
}

func decodeLeaf(raw string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %v", ledger.ErrDecode, err)
	}
	return v, nil
}

// insertLeaf places leaf at segs below node, creating maps on the way.
func insertLeaf(node any, segs []string, leaf any) any {
	m, ok := node.(map[string]any)
	if !ok {
		m = make(map[string]any)
	}
	if len(segs) == 1 {
		m[segs[0]] = leaf
		return m
	}
	m[segs[0]] = insertLeaf(m[segs[0]], segs[1:], leaf)
	return m
}

// Reset deletes every node and journal entry (for tests and demos).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `DELETE FROM nodes; DELETE FROM offline_queue;`)
	return err
}
