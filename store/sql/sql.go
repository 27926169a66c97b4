// Package sql provides store.Connector implementations backed by
// database/sql, sharing a single generic core across two dialects
// (PostgreSQL and SQLite, see NewPostgres and NewSQLite). Atomic id rotation
// relies on a unique index on the current-id column plus the driver's
// rows-affected and unique-violation reporting: UPDATE ... WHERE
// current_id = ? fails with ErrIDExists on a duplicate-key error, and with
// ErrSessionNotFound when it affects zero rows.
package sql

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/gob"
	"fmt"
	"sync"
	"time"

	"github.com/ISibboI/typed-session-go/store"
)

var bufferPool = sync.Pool{New: func() any { return new(bytes.Buffer) }}
var readerPool = sync.Pool{New: func() any { return bytes.NewReader(nil) }}

// dialect isolates the handful of things that differ between supported
// database/sql drivers: placeholder syntax, schema, and how a unique-key
// violation is reported.
type dialect struct {
	driverName        string
	createTableSQL    string
	createSessionSQL  string
	readSessionSQL    string
	updateSessionSQL  string
	deleteSessionSQL  string
	clearSQL          string
	isUniqueViolation func(error) bool
	// serializeWrites, when true, guards every write statement with a
	// mutex. SQLite connections serialize writes at the file level anyway;
	// doing it in-process avoids SQLITE_BUSY churn under our own load
	// rather than relying purely on busy_timeout.
	serializeWrites bool
}

// Connector is a database/sql-backed store.Connector[D]. D is encoded with
// encoding/gob.
type Connector[D any] struct {
	db      *sql.DB
	dialect dialect
	mu      sync.Mutex

	createStmt *sql.Stmt
	readStmt   *sql.Stmt
	updateStmt *sql.Stmt
	deleteStmt *sql.Stmt
	clearStmt  *sql.Stmt
}

func newConnector[D any](db *sql.DB, d dialect) (*Connector[D], error) {
	if _, err := db.Exec(d.createTableSQL); err != nil {
		return nil, fmt.Errorf("sql: failed to create sessions table: %w", err)
	}
	c := &Connector[D]{db: db, dialect: d}
	var err error
	if c.createStmt, err = db.Prepare(d.createSessionSQL); err != nil {
		return nil, fmt.Errorf("sql: failed to prepare create statement: %w", err)
	}
	if c.readStmt, err = db.Prepare(d.readSessionSQL); err != nil {
		return nil, fmt.Errorf("sql: failed to prepare read statement: %w", err)
	}
	if c.updateStmt, err = db.Prepare(d.updateSessionSQL); err != nil {
		return nil, fmt.Errorf("sql: failed to prepare update statement: %w", err)
	}
	if c.deleteStmt, err = db.Prepare(d.deleteSessionSQL); err != nil {
		return nil, fmt.Errorf("sql: failed to prepare delete statement: %w", err)
	}
	if c.clearStmt, err = db.Prepare(d.clearSQL); err != nil {
		return nil, fmt.Errorf("sql: failed to prepare clear statement: %w", err)
	}
	return c, nil
}

// Close releases the prepared statements and the underlying *sql.DB.
func (c *Connector[D]) Close() error {
	for _, stmt := range []*sql.Stmt{c.createStmt, c.readStmt, c.updateStmt, c.deleteStmt, c.clearStmt} {
		if stmt != nil {
			stmt.Close()
		}
	}
	return c.db.Close()
}

// MaxRetriesOnIDCollision implements store.Connector.
func (c *Connector[D]) MaxRetriesOnIDCollision() (int, bool) {
	return 0, false
}

func encode[D any](data D) ([]byte, error) {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufferPool.Put(buf)
	if err := gob.NewEncoder(buf).Encode(data); err != nil {
		return nil, fmt.Errorf("sql: failed to encode session data: %w", err)
	}
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

func decode[D any](blob []byte) (D, error) {
	var data D
	reader := readerPool.Get().(*bytes.Reader)
	reader.Reset(blob)
	defer readerPool.Put(reader)
	if err := gob.NewDecoder(reader).Decode(&data); err != nil {
		return data, fmt.Errorf("sql: failed to decode session data: %w", err)
	}
	return data, nil
}

func toNullTime(expiry *time.Time) sql.NullTime {
	if expiry == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *expiry, Valid: true}
}

func fromNullTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func (c *Connector[D]) withWriteLock(fn func() error) error {
	if !c.dialect.serializeWrites {
		return fn()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return fn()
}

// CreateSession implements store.Connector.
func (c *Connector[D]) CreateSession(ctx context.Context, id store.ID, expiry *time.Time, data D) error {
	blob, err := encode(data)
	if err != nil {
		return err
	}
	return c.withWriteLock(func() error {
		res, err := c.createStmt.ExecContext(ctx, id.String(), blob, toNullTime(expiry))
		if err != nil {
			if c.dialect.isUniqueViolation(err) {
				return store.ErrIDExists
			}
			return fmt.Errorf("sql: failed to create session: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("sql: failed to read rows affected: %w", err)
		}
		if n == 0 {
			return store.ErrIDExists
		}
		return nil
	})
}

// ReadSession implements store.Connector.
func (c *Connector[D]) ReadSession(ctx context.Context, id store.ID) (*time.Time, D, error) {
	var blob []byte
	var expiresAt sql.NullTime
	var zero D
	err := c.readStmt.QueryRowContext(ctx, id.String()).Scan(&blob, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, zero, store.ErrSessionNotFound
	}
	if err != nil {
		return nil, zero, fmt.Errorf("sql: failed to read session: %w", err)
	}
	data, err := decode[D](blob)
	if err != nil {
		return nil, zero, err
	}
	return fromNullTime(expiresAt), data, nil
}

// UpdateSession implements store.Connector.
func (c *Connector[D]) UpdateSession(ctx context.Context, newID, previousID store.ID, expiry *time.Time, data D) error {
	blob, err := encode(data)
	if err != nil {
		return err
	}
	return c.withWriteLock(func() error {
		res, err := c.updateStmt.ExecContext(ctx, newID.String(), blob, toNullTime(expiry), previousID.String())
		if err != nil {
			if c.dialect.isUniqueViolation(err) {
				return store.ErrIDExists
			}
			return fmt.Errorf("sql: failed to rotate session: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("sql: failed to read rows affected: %w", err)
		}
		if n == 0 {
			return store.ErrSessionNotFound
		}
		return nil
	})
}

// DeleteSession implements store.Connector. Deleting an absent row is not an
// error.
func (c *Connector[D]) DeleteSession(ctx context.Context, id store.ID) error {
	return c.withWriteLock(func() error {
		if _, err := c.deleteStmt.ExecContext(ctx, id.String()); err != nil {
			return fmt.Errorf("sql: failed to delete session: %w", err)
		}
		return nil
	})
}

// Clear implements store.Connector.
func (c *Connector[D]) Clear(ctx context.Context) error {
	return c.withWriteLock(func() error {
		if _, err := c.clearStmt.ExecContext(ctx); err != nil {
			return fmt.Errorf("sql: failed to clear sessions: %w", err)
		}
		return nil
	})
}
