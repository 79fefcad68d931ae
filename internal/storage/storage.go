// Package storage provides the SQLite storage layer for the decision graph.
//
// It owns persistence of decision nodes, participant stances, and weighted
// similarity edges. Foreign-key enforcement is always on, writes are
// serialized behind a single mutex (single-writer model), and the schema
// plus its indexes are created on first open.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// Store wraps a SQLite database holding the decision graph.
type Store struct {
	db     *sql.DB
	path   string
	logger *slog.Logger

	// Serializes writes. SQLite allows many readers but a single writer;
	// the request path and the background worker both write.
	writeMu sync.Mutex
}

// Open opens (or creates) the decision graph database at path. The
// containing directory is created if it does not exist. The schema and
// all indexes are created idempotently.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("storage: empty database path")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("storage: create directory %s: %w", dir, err)
		}
	}

	dsn := "file:" + path +
		"?_pragma=foreign_keys(1)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=synchronous(NORMAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}

	// A single connection keeps the single-writer model honest and avoids
	// SQLITE_BUSY between the request path and the worker.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: path, logger: logger}
	if err := s.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Ping checks connectivity to the database.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) initSchema(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS decision_nodes (
	id                 TEXT PRIMARY KEY,
	question           TEXT NOT NULL CHECK (question <> ''),
	timestamp          INTEGER NOT NULL,
	consensus          TEXT NOT NULL DEFAULT '',
	winning_option     TEXT,
	convergence_status TEXT NOT NULL CHECK (convergence_status <> ''),
	participants       TEXT NOT NULL,
	transcript_path    TEXT NOT NULL DEFAULT '',
	metadata           TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS participant_stances (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	decision_id    TEXT NOT NULL REFERENCES decision_nodes(id),
	participant    TEXT NOT NULL CHECK (participant <> ''),
	vote_option    TEXT,
	confidence     REAL CHECK (confidence IS NULL OR (confidence >= 0.0 AND confidence <= 1.0)),
	rationale      TEXT,
	final_position TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS decision_similarities (
	source_id        TEXT NOT NULL REFERENCES decision_nodes(id),
	target_id        TEXT NOT NULL REFERENCES decision_nodes(id),
	similarity_score REAL NOT NULL CHECK (similarity_score >= 0.0 AND similarity_score <= 1.0),
	computed_at      INTEGER NOT NULL,
	PRIMARY KEY (source_id, target_id)
);

CREATE INDEX IF NOT EXISTS idx_nodes_timestamp ON decision_nodes(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_nodes_question ON decision_nodes(question);
CREATE INDEX IF NOT EXISTS idx_stances_decision ON participant_stances(decision_id);
CREATE INDEX IF NOT EXISTS idx_similarities_source ON decision_similarities(source_id);
CREATE INDEX IF NOT EXISTS idx_similarities_score ON decision_similarities(similarity_score DESC);
`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("storage: init schema: %w", err)
	}
	return nil
}

// WithTx runs fn inside a transaction, committing on nil and rolling back
// on error. Writes inside fn share the store's write lock.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit tx: %w", err)
	}
	return nil
}

// CountNodes returns the number of decision nodes.
func (s *Store) CountNodes(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM decision_nodes`).Scan(&n); err != nil {
		return 0, fmt.Errorf("storage: count nodes: %w", err)
	}
	return n, nil
}

// CountStances returns the number of participant stances.
func (s *Store) CountStances(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM participant_stances`).Scan(&n); err != nil {
		return 0, fmt.Errorf("storage: count stances: %w", err)
	}
	return n, nil
}

// CountEdges returns the number of similarity edges.
func (s *Store) CountEdges(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM decision_similarities`).Scan(&n); err != nil {
		return 0, fmt.Errorf("storage: count edges: %w", err)
	}
	return n, nil
}

// DBSizeBytes returns the on-disk size of the database file, or 0 when it
// cannot be determined.
func (s *Store) DBSizeBytes() int64 {
	info, err := os.Stat(s.path)
	if err != nil {
		return 0
	}
	return info.Size()
}
