package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
)

// MySQLStore is a MySQL/MariaDB checkpoint store.
//
// Designed for production deployments that already run MySQL for business
// data. Uses connection pooling; the schema is created on open.
type MySQLStore struct {
	*sqlStore
}

// NewMySQLStore opens a pooled connection using dsn and creates the schema.
//
// DSN format:
//
//	user:password@tcp(localhost:3306)/workflows?charset=utf8mb4
//
// Never hardcode credentials; build the DSN from configuration.
func NewMySQLStore(ctx context.Context, dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	core, err := newSQLStore(ctx, db, dialect{
		name: "mysql",
		schema: []string{`
			CREATE TABLE IF NOT EXISTS graph_checkpoints (
				thread_id VARCHAR(255) NOT NULL,
				version INT NOT NULL,
				parent_version INT NOT NULL DEFAULT 0,
				node VARCHAR(255) NOT NULL,
				state JSON NOT NULL,
				next_node VARCHAR(255) NOT NULL DEFAULT '',
				status VARCHAR(32) NOT NULL,
				interrupts JSON NOT NULL,
				resumes JSON NOT NULL,
				created_at VARCHAR(40) NOT NULL,
				PRIMARY KEY (thread_id, version)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
		},
		isDuplicate: func(err error) bool {
			var myErr *mysql.MySQLError
			return errors.As(err, &myErr) && myErr.Number == 1062
		},
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &MySQLStore{sqlStore: core}, nil
}

// MySQLDSN builds a DSN from discrete settings using the driver's own config
// type so that passwords with special characters are escaped correctly.
func MySQLDSN(host string, port int, user, password, database string) string {
	cfg := mysql.NewConfig()
	cfg.User = user
	cfg.Passwd = password
	cfg.Net = "tcp"
	cfg.Addr = fmt.Sprintf("%s:%d", host, port)
	cfg.DBName = database
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	cfg.ParseTime = true
	return cfg.FormatDSN()
}
