package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// dialect captures what differs between the SQL backends.
type dialect struct {
	name string

	// schema is executed statement by statement on open.
	schema []string

	// bind rewrites "?" placeholders for drivers that number them.
	bind func(query string) string

	// isDuplicate reports a primary-key violation.
	isDuplicate func(err error) bool
}

// sqlStore implements Store on database/sql. The concrete backends wrap it
// with their driver, pool settings and dialect.
type sqlStore struct {
	db      *sql.DB
	dialect dialect

	mu     sync.RWMutex
	closed bool
}

func newSQLStore(ctx context.Context, db *sql.DB, d dialect) (*sqlStore, error) {
	if d.bind == nil {
		d.bind = func(q string) string { return q }
	}
	s := &sqlStore{db: db, dialect: d}
	for _, stmt := range d.schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to create %s schema: %w", d.name, err)
		}
	}
	return s, nil
}

func (s *sqlStore) Put(ctx context.Context, cp Checkpoint) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	row, err := encodeCheckpoint(cp)
	if err != nil {
		return err
	}

	createdAt := cp.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := s.dialect.bind(`
		INSERT INTO graph_checkpoints
			(thread_id, version, parent_version, node, state, next_node, status, interrupts, resumes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err = s.db.ExecContext(ctx, query,
		cp.ThreadID,
		cp.Version,
		cp.ParentVersion,
		cp.Node,
		row.state,
		cp.Cursor.Next,
		string(cp.Cursor.Status),
		row.interrupts,
		row.resumes,
		createdAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if s.dialect.isDuplicate != nil && s.dialect.isDuplicate(err) {
			return ErrVersionConflict
		}
		return fmt.Errorf("failed to insert checkpoint: %w", err)
	}
	return nil
}

func (s *sqlStore) Latest(ctx context.Context, threadID string) (Checkpoint, error) {
	cps, err := s.query(ctx, threadID, 1)
	if err != nil {
		return Checkpoint{}, err
	}
	if len(cps) == 0 {
		return Checkpoint{}, ErrNotFound
	}
	return cps[0], nil
}

func (s *sqlStore) List(ctx context.Context, threadID string, limit int) ([]Checkpoint, error) {
	return s.query(ctx, threadID, limit)
}

func (s *sqlStore) query(ctx context.Context, threadID string, limit int) ([]Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	query := `
		SELECT thread_id, version, parent_version, node, state, next_node, status, interrupts, resumes, created_at
		FROM graph_checkpoints
		WHERE thread_id = ?
		ORDER BY version DESC`
	args := []any{threadID}
	if limit > 0 {
		query += " LIMIT " + strconv.Itoa(limit)
	}

	rows, err := s.db.QueryContext(ctx, s.dialect.bind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query checkpoints: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Checkpoint
	for rows.Next() {
		var (
			cp        Checkpoint
			row       checkpointRow
			status    string
			createdAt string
		)
		if err := rows.Scan(
			&cp.ThreadID,
			&cp.Version,
			&cp.ParentVersion,
			&cp.Node,
			&row.state,
			&cp.Cursor.Next,
			&status,
			&row.interrupts,
			&row.resumes,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
		}
		cp.Cursor.Status = Status(status)
		if err := decodeCheckpoint(&cp, row); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			cp.CreatedAt = t
		}
		out = append(out, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate checkpoints: %w", err)
	}
	return out, nil
}

// Ping verifies the database connection is alive.
func (s *sqlStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return s.db.PingContext(ctx)
}

// Close closes the database connection. Safe to call more than once.
func (s *sqlStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// numberedPlaceholders rewrites "?" into "$1", "$2", ... for Postgres.
func numberedPlaceholders(query string) string {
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func errorContains(err error, substr string) bool {
	for e := err; e != nil; e = errors.Unwrap(e) {
		if strings.Contains(e.Error(), substr) {
			return true
		}
	}
	return false
}
