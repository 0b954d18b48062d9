// Package retrieval is the read side of the memory subsystem: lexical
// search over the FTS5 indexes, structural aggregation over the relational
// tables, and hybrid search fusing both via Reciprocal Rank Fusion. Writes
// go exclusively through internal/memwriter's dedicated thread; retrieval
// only ever opens read-only connections, grounded on the teacher's
// audit/index.go pragma sequence applied to a small connection pool instead
// of the teacher's single shared handle.
package retrieval

import (
	"database/sql"
	"fmt"

	_ "github.com/glebarez/go-sqlite"
)

// Engine is the retrieval layer's entry point: a small pool of read-only
// connections against the memory database. The writer owns schema and
// migrations; Engine assumes the database already exists and is migrated.
type Engine struct {
	pool *sql.DB
}

// Open builds the read-only connection pool. poolSize <= 0 defaults to 4,
// matching the documented default.
func Open(path string, poolSize int) (*Engine, error) {
	pool, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000&mode=ro")
	if err != nil {
		return nil, fmt.Errorf("opening retrieval pool: %w", err)
	}
	if poolSize <= 0 {
		poolSize = 4
	}
	pool.SetMaxOpenConns(poolSize)
	return &Engine{pool: pool}, nil
}

func (e *Engine) Close() error { return e.pool.Close() }
