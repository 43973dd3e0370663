package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Store reads and writes records through database/sql. MySQL is the
// production backend; SQLite serves development and tests.
type Store struct {
	db     *sql.DB
	driver string
	now    func() time.Time

	mu     sync.RWMutex
	closed bool
}

// Option configures a Store.
type Option func(*Store)

// WithClock injects the time source for created_at/updated_at.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open connects with driver ("mysql" or "sqlite"), verifies the connection
// and creates the tables if needed.
func Open(ctx context.Context, driver, dsn string, opts ...Option) (*Store, error) {
	switch driver {
	case "mysql", "sqlite":
	default:
		return nil, fmt.Errorf("unsupported records driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", driver, err)
	}
	if driver == "sqlite" {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	s, err := New(ctx, db, driver, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing handle. The caller keeps ownership of db only if New
// fails.
func New(ctx context.Context, db *sql.DB, driver string, opts ...Option) (*Store, error) {
	s := &Store{db: db, driver: driver, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping %s: %w", driver, err)
	}
	for _, stmt := range schema(driver) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to create records schema: %w", err)
		}
	}
	return s, nil
}

func schema(driver string) []string {
	text, key, suffix := "TEXT", "TEXT", ""
	if driver == "mysql" {
		key = "VARCHAR(64)"
		suffix = " ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci"
	}
	base := fmt.Sprintf(`id %[1]s NOT NULL PRIMARY KEY,
				created_at %[2]s NOT NULL,
				updated_at %[2]s NOT NULL,
				created_by %[2]s,
				updated_by %[2]s`, key, text)

	return []string{
		`CREATE TABLE IF NOT EXISTS lg_approve (
				` + base + `,
				status ` + text + `,
				remarks ` + text + `,
				result_content ` + text + `
			)` + suffix,
		`CREATE TABLE IF NOT EXISTS lg_message (
				` + base + `,
				title ` + text + `,
				status ` + text + `,
				content ` + text + `,
				render_configs ` + text + `
			)` + suffix,
	}
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return s.db.PingContext(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// withTx runs fn in a transaction, committing on success.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *Store) stamp(b *Base) {
	now := s.now().UTC()
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
	if b.UpdatedBy == "" {
		b.UpdatedBy = b.CreatedBy
	}
}

// CreateApproval inserts a, assigning id and timestamps when unset, and
// returns the stored row.
func (s *Store) CreateApproval(ctx context.Context, a Approval) (Approval, error) {
	s.stamp(&a.Base)
	var out Approval
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO lg_approve (id, created_at, updated_at, created_by, updated_by, status, remarks, result_content)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ID, formatTime(a.CreatedAt), formatTime(a.UpdatedAt), a.CreatedBy, a.UpdatedBy,
			a.Status, a.Remarks, a.ResultContent,
		)
		if err != nil {
			if s.isDuplicate(err) {
				return fmt.Errorf("approval %s: %w", a.ID, ErrDuplicate)
			}
			return fmt.Errorf("insert approval: %w", err)
		}
		out, err = getApproval(ctx, tx, a.ID)
		return err
	})
	return out, err
}

// UpdateApprovalStatus sets status and result content of approval id. The
// row is read back in the same transaction, so a missing id reports
// ErrNotFound whatever the driver counts as affected rows.
func (s *Store) UpdateApprovalStatus(ctx context.Context, id, status, resultContent, actor string) (Approval, error) {
	var out Approval
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE lg_approve SET status = ?, result_content = ?, updated_at = ?, updated_by = ?
			WHERE id = ?`,
			status, resultContent, formatTime(s.now().UTC()), actor, id,
		)
		if err != nil {
			return fmt.Errorf("update approval: %w", err)
		}
		out, err = getApproval(ctx, tx, id)
		return err
	})
	return out, err
}

// GetApproval loads approval id.
func (s *Store) GetApproval(ctx context.Context, id string) (Approval, error) {
	var out Approval
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		out, err = getApproval(ctx, tx, id)
		return err
	})
	return out, err
}

// CreateMessage inserts m, assigning id and timestamps when unset, and
// returns the stored row.
func (s *Store) CreateMessage(ctx context.Context, m Message) (Message, error) {
	s.stamp(&m.Base)
	var out Message
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO lg_message (id, created_at, updated_at, created_by, updated_by, title, status, content, render_configs)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			m.ID, formatTime(m.CreatedAt), formatTime(m.UpdatedAt), m.CreatedBy, m.UpdatedBy,
			m.Title, m.Status, m.Content, m.RenderConfigs,
		)
		if err != nil {
			if s.isDuplicate(err) {
				return fmt.Errorf("message %s: %w", m.ID, ErrDuplicate)
			}
			return fmt.Errorf("insert message: %w", err)
		}
		out, err = getMessage(ctx, tx, m.ID)
		return err
	})
	return out, err
}

// UpdateMessageStatus sets the status of message id.
func (s *Store) UpdateMessageStatus(ctx context.Context, id, status, actor string) (Message, error) {
	var out Message
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE lg_message SET status = ?, updated_at = ?, updated_by = ?
			WHERE id = ?`,
			status, formatTime(s.now().UTC()), actor, id,
		)
		if err != nil {
			return fmt.Errorf("update message: %w", err)
		}
		out, err = getMessage(ctx, tx, id)
		return err
	})
	return out, err
}

// GetMessage loads message id.
func (s *Store) GetMessage(ctx context.Context, id string) (Message, error) {
	var out Message
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		out, err = getMessage(ctx, tx, id)
		return err
	})
	return out, err
}

func getApproval(ctx context.Context, tx *sql.Tx, id string) (Approval, error) {
	var (
		a                    Approval
		created, updated     string
		createdBy, updatedBy sql.NullString
		status, remarks, res sql.NullString
	)
	err := tx.QueryRowContext(ctx, `
		SELECT id, created_at, updated_at, created_by, updated_by, status, remarks, result_content
		FROM lg_approve WHERE id = ?`, id,
	).Scan(&a.ID, &created, &updated, &createdBy, &updatedBy, &status, &remarks, &res)
	if errors.Is(err, sql.ErrNoRows) {
		return Approval{}, fmt.Errorf("approval %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Approval{}, fmt.Errorf("query approval: %w", err)
	}
	if err := parseBase(&a.Base, created, updated, createdBy, updatedBy); err != nil {
		return Approval{}, err
	}
	a.Status, a.Remarks, a.ResultContent = status.String, remarks.String, res.String
	return a, nil
}

func getMessage(ctx context.Context, tx *sql.Tx, id string) (Message, error) {
	var (
		m                              Message
		created, updated               string
		createdBy, updatedBy           sql.NullString
		title, status, content, render sql.NullString
	)
	err := tx.QueryRowContext(ctx, `
		SELECT id, created_at, updated_at, created_by, updated_by, title, status, content, render_configs
		FROM lg_message WHERE id = ?`, id,
	).Scan(&m.ID, &created, &updated, &createdBy, &updatedBy, &title, &status, &content, &render)
	if errors.Is(err, sql.ErrNoRows) {
		return Message{}, fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Message{}, fmt.Errorf("query message: %w", err)
	}
	if err := parseBase(&m.Base, created, updated, createdBy, updatedBy); err != nil {
		return Message{}, err
	}
	m.Title, m.Status, m.Content, m.RenderConfigs = title.String, status.String, content.String, render.String
	return m, nil
}

func parseBase(b *Base, created, updated string, createdBy, updatedBy sql.NullString) error {
	var err error
	if b.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return fmt.Errorf("parse created_at: %w", err)
	}
	if b.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated); err != nil {
		return fmt.Errorf("parse updated_at: %w", err)
	}
	b.CreatedBy, b.UpdatedBy = createdBy.String, updatedBy.String
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func (s *Store) isDuplicate(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
