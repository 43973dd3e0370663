package store

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/stdlib"
)

// KeepAlive configures TCP keepalive probing on checkpoint connections.
type KeepAlive struct {
	Idle     time.Duration
	Interval time.Duration
	Count    int
}

// DefaultKeepAlive probes an idle connection after 30s, every 10s, giving up
// after 3 missed probes.
var DefaultKeepAlive = KeepAlive{Idle: 30 * time.Second, Interval: 10 * time.Second, Count: 3}

// PostgresConfig addresses a Postgres checkpoint database.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string

	// ConnectTimeout bounds connection establishment. Defaults to 60s.
	ConnectTimeout time.Duration

	// KeepAlive defaults to DefaultKeepAlive.
	KeepAlive KeepAlive
}

// DSN renders the connection string. The keepalive settings are applied on
// the dialer rather than in the DSN because pgx forwards unknown parameters
// to the server as runtime settings.
func (c PostgresConfig) DSN() string {
	timeout := c.ConnectTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:   "/" + c.Database,
	}
	q := url.Values{}
	q.Set("connect_timeout", fmt.Sprintf("%d", int(timeout.Seconds())))
	u.RawQuery = q.Encode()
	return u.String()
}

// PostgresStore is a Postgres checkpoint store using the pgx driver through
// database/sql.
type PostgresStore struct {
	*sqlStore
}

// NewPostgresStore connects using cfg and creates the schema.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	connCfg, err := pgx.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse Postgres config: %w", err)
	}

	ka := cfg.KeepAlive
	if ka == (KeepAlive{}) {
		ka = DefaultKeepAlive
	}
	dialer := &net.Dialer{
		Timeout: connCfg.ConnectTimeout,
		KeepAliveConfig: net.KeepAliveConfig{
			Enable:   true,
			Idle:     ka.Idle,
			Interval: ka.Interval,
			Count:    ka.Count,
		},
	}
	connCfg.DialFunc = dialer.DialContext

	return openPostgres(ctx, *connCfg)
}

// NewPostgresStoreDSN connects using a raw DSN, for tests and callers that
// manage their own connection strings.
func NewPostgresStoreDSN(ctx context.Context, dsn string) (*PostgresStore, error) {
	connCfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Postgres DSN: %w", err)
	}
	return openPostgres(ctx, *connCfg)
}

func openPostgres(ctx context.Context, connCfg pgx.ConnConfig) (*PostgresStore, error) {
	db := stdlib.OpenDB(connCfg)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping Postgres: %w", err)
	}

	core, err := newSQLStore(ctx, db, dialect{
		name: "postgres",
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
		bind: numberedPlaceholders,
		isDuplicate: func(err error) bool {
			var pgErr *pgconn.PgError
			return errors.As(err, &pgErr) && pgErr.Code == "23505"
		},
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &PostgresStore{sqlStore: core}, nil
}
