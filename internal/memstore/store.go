// Package memstore is the durable memory store: an embedded SQLite
// database (pure Go driver, no cgo) holding sessions, requests, tool
// calls/results, thinking blocks, user prompts, assistant responses, todo
// snapshots, context events, and embeddings, with FTS5 full-text indexes
// over the free-text tables.
// Grounded on the teacher's audit/index.go sqlite wiring (WAL mode,
// busy_timeout, glebarez/go-sqlite), extended from one flat entries table
// into the full schema SPEC_FULL.md's data model calls for.
package memstore

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// Store wraps the SQLite connection. A single *sql.DB is shared by the
// memwriter's dedicated write goroutine and the retrieval package's
// read-only connections — SQLite's WAL mode allows concurrent readers
// alongside the one writer.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path, applies pragmas suited to a
// single-writer/many-reader workload, and runs any pending migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("opening memory store %s: %w", path, err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating memory store: %w", err)
	}
	return s, nil
}

// DB exposes the underlying *sql.DB for the retrieval package's read-only
// query construction — memstore owns schema and writes, retrieval owns
// query shapes.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

// migrate runs every migration not yet reflected in metadata's schema_version
// key, advancing it one step at a time so a crash mid-migration leaves the
// version pointing at the last migration that actually completed — the next
// Open resumes from there rather than assuming all-or-nothing.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS metadata (key TEXT PRIMARY KEY, value TEXT NOT NULL)`); err != nil {
		return fmt.Errorf("creating metadata table: %w", err)
	}

	applied := 0
	var raw string
	switch err := s.db.QueryRow(`SELECT value FROM metadata WHERE key = 'schema_version'`).Scan(&raw); {
	case err == nil:
		applied, err = strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("parsing schema_version %q: %w", raw, err)
		}
	case errors.Is(err, sql.ErrNoRows):
		applied = 0
	default:
		return fmt.Errorf("reading schema_version: %w", err)
	}

	for i := applied; i < len(migrations); i++ {
		if _, err := s.db.Exec(migrations[i]); err != nil {
			return fmt.Errorf("applying migration %d: %w", i+1, err)
		}
		_, err := s.db.Exec(`
			INSERT INTO metadata (key, value) VALUES ('schema_version', ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value`, strconv.Itoa(i+1))
		if err != nil {
			return fmt.Errorf("recording schema_version %d: %w", i+1, err)
		}
	}
	return nil
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
