package sql

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteConfig configures NewSQLite's connection pool.
type SQLiteConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

var sqliteDialect = dialect{
	driverName: "sqlite",
	createTableSQL: `
		CREATE TABLE IF NOT EXISTS sessions (
			current_id TEXT PRIMARY KEY,
			data BLOB,
			expires_at DATETIME
		)
	`,
	createSessionSQL: `INSERT INTO sessions (current_id, data, expires_at) VALUES (?, ?, ?) ON CONFLICT (current_id) DO NOTHING`,
	readSessionSQL:   `SELECT data, expires_at FROM sessions WHERE current_id = ?`,
	updateSessionSQL: `UPDATE sessions SET current_id = ?, data = ?, expires_at = ? WHERE current_id = ?`,
	deleteSessionSQL: `DELETE FROM sessions WHERE current_id = ?`,
	clearSQL:         `DELETE FROM sessions`,
	isUniqueViolation: func(err error) bool {
		return strings.Contains(err.Error(), "UNIQUE constraint failed")
	},
	serializeWrites: true,
}

// injectPragmas adds synchronous and busy_timeout pragmas to dsn if not
// already present, so that they apply to every pooled connection rather than
// just the first one opened.
func injectPragmas(dsn string) string {
	add := func(dsn, pragma string) string {
		if strings.Contains(dsn, strings.SplitN(pragma, "=", 2)[0]) {
			return dsn
		}
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		return fmt.Sprintf("%s%s_pragma=%s", dsn, sep, pragma)
	}
	dsn = add(dsn, "synchronous=NORMAL")
	dsn = add(dsn, "busy_timeout=5000")
	return dsn
}

// NewSQLite returns a Connector[D] backed by SQLite, using default
// connection-pool settings. Writes are serialized in-process to avoid
// SQLITE_BUSY churn under our own load; reads may proceed concurrently.
func NewSQLite[D any](dsn string) (*Connector[D], error) {
	return NewSQLiteWithConfig[D](dsn, SQLiteConfig{
		MaxOpenConns: 16,
		MaxIdleConns: 16,
	})
}

// NewSQLiteWithConfig returns a Connector[D] backed by SQLite with a
// caller-supplied connection-pool configuration.
func NewSQLiteWithConfig[D any](dsn string, cfg SQLiteConfig) (*Connector[D], error) {
	db, err := sql.Open(sqliteDialect.driverName, injectPragmas(dsn))
	if err != nil {
		return nil, fmt.Errorf("sql: failed to open sqlite database: %w", err)
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
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sql: failed to enable WAL mode: %w", err)
	}
	c, err := newConnector[D](db, sqliteDialect)
	if err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}
