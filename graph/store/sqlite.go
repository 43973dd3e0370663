package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a single-file SQLite checkpoint store.
//
// Designed for:
//   - Development and testing with zero setup
//   - Single-process deployments that still need checkpoints to survive restarts
//
// The schema is created on open. WAL mode is enabled so readers do not block
// the writer.
type SQLiteStore struct {
	*sqlStore
	path string
}

// NewSQLiteStore opens (or creates) the database at path. ":memory:" gives a
// private in-memory database that is lost on Close.
//
// Example:
//
//	st, err := store.NewSQLiteStore("./checkpoints.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer st.Close()
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	// SQLite supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	core, err := newSQLStore(ctx, db, dialect{
		name: "sqlite",
		schema: []string{`
			CREATE TABLE IF NOT EXISTS graph_checkpoints (
				thread_id TEXT NOT NULL,
				version INTEGER NOT NULL,
				parent_version INTEGER NOT NULL DEFAULT 0,
				node TEXT NOT NULL,
				state TEXT NOT NULL,
				next_node TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL,
				interrupts TEXT NOT NULL DEFAULT '[]',
				resumes TEXT NOT NULL DEFAULT '[]',
				created_at TEXT NOT NULL,
				PRIMARY KEY (thread_id, version)
			)`,
		},
		isDuplicate: func(err error) bool {
			return errorContains(err, "UNIQUE constraint failed")
		},
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLiteStore{sqlStore: core, path: path}, nil
}

// Path returns the database location the store was opened with.
func (s *SQLiteStore) Path() string {
	return s.path
}
