package sql

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresConfig configures NewPostgres's connection pool, mirroring the
// knobs exposed by typical database/sql-backed stores.
type PostgresConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

var postgresDialect = dialect{
	driverName: "postgres",
	createTableSQL: `
		CREATE TABLE IF NOT EXISTS sessions (
			current_id TEXT PRIMARY KEY,
			data BYTEA,
			expires_at TIMESTAMPTZ
		)
	`,
	createSessionSQL: `INSERT INTO sessions (current_id, data, expires_at) VALUES ($1, $2, $3) ON CONFLICT (current_id) DO NOTHING`,
	readSessionSQL:   `SELECT data, expires_at FROM sessions WHERE current_id = $1`,
	updateSessionSQL: `UPDATE sessions SET current_id = $1, data = $2, expires_at = $3 WHERE current_id = $4`,
	deleteSessionSQL: `DELETE FROM sessions WHERE current_id = $1`,
	clearSQL:         `DELETE FROM sessions`,
	isUniqueViolation: func(err error) bool {
		var pqErr *pq.Error
		return errors.As(err, &pqErr) && pqErr.Code == "23505"
	},
}

// NewPostgres returns a Connector[D] backed by PostgreSQL, using default
// connection-pool settings.
func NewPostgres[D any](dsn string) (*Connector[D], error) {
	return NewPostgresWithConfig[D](dsn, PostgresConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: time.Minute,
	})
}

// NewPostgresWithConfig returns a Connector[D] backed by PostgreSQL with a
// caller-supplied connection-pool configuration.
func NewPostgresWithConfig[D any](dsn string, cfg PostgresConfig) (*Connector[D], error) {
	db, err := sql.Open(postgresDialect.driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("sql: failed to open postgres database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sql: failed to ping postgres database: %w", err)
	}
	c, err := newConnector[D](db, postgresDialect)
	if err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}
