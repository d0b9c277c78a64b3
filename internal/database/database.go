package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

var (
	// ErrNotInitialized is returned when the handle has been closed or was never opened.
	ErrNotInitialized = errors.New("database not initialized")

	// ErrMultipleRows is returned when a lookup by primary key matches more than one row.
	ErrMultipleRows = errors.New("multiple rows matched")
)

const (
	defaultBusyTimeout  = 5 * time.Second
	defaultMaxOpenConns = 10
)

// DB wraps the SQLite database connections. Writes go through a pool whose
// transactions take the write lock up front; reads use a separate read-only
// pool so they run concurrently under WAL.
type DB struct {
	writer *sql.DB
	reader *sql.DB
	path   string
	mu     sync.RWMutex
}

type options struct {
	busyTimeout  time.Duration
	maxOpenConns int
}

// Option configures how the database is opened.
type Option func(*options)

// WithBusyTimeout sets how long SQLite waits on a locked database.
func WithBusyTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.busyTimeout = d
		}
	}
}

// WithMaxOpenConns sizes the connection pool.
func WithMaxOpenConns(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxOpenConns = n
		}
	}
}

// New creates a new database connection
func New(path string, opts ...Option) (*DB, error) {
	if path == "" {
		return nil, fmt.Errorf("failed to open database: empty path")
	}

	o := options{busyTimeout: defaultBusyTimeout, maxOpenConns: defaultMaxOpenConns}
	for _, opt := range opts {
		opt(&o)
	}

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	writer, err := openPool(writerDSN(path, o.busyTimeout), o.maxOpenConns)
	if err != nil {
		return nil, err
	}

	reader, err := openPool(readerDSN(path, o.busyTimeout), o.maxOpenConns)
	if err != nil {
		_ = writer.Close()
		return nil, err
	}

	log.Debug().Str("path", path).Int("max_open_conns", o.maxOpenConns).Msg("Database connection established")

	return &DB{
		writer: writer,
		reader: reader,
		path:   path,
	}, nil
}

func openPool(dsn string, maxOpenConns int) (*sql.DB, error) {
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(maxOpenConns)
	conn.SetMaxIdleConns(max(1, maxOpenConns/2))
	return conn, nil
}

// writerDSN makes write transactions take the lock up front
// (_txlock=immediate) so concurrent writers wait on busy_timeout instead of
// failing on lock upgrade. It is opened first and switches the file to WAL.
func writerDSN(path string, busyTimeout time.Duration) string {
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_txlock=immediate",
		path, busyTimeout.Milliseconds())
}

// readerDSN uses deferred transactions on query-only connections; WAL is
// already persisted in the file by the writer.
func readerDSN(path string, busyTimeout time.Duration) string {
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=query_only(1)&_txlock=deferred",
		path, busyTimeout.Milliseconds())
}

// Path returns the database file path
func (db *DB) Path() string {
	return db.path
}

// EnsureSchema creates the books table when it does not exist yet.
func (db *DB) EnsureSchema() error {
	return db.Transaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(schemaBooks); err != nil {
			return fmt.Errorf("failed to create books table: %w", err)
		}
		return nil
	})
}

// Transaction runs fn in a write transaction. It commits when fn returns
// nil and rolls back on error or panic; a panic is re-raised after rollback.
// Transactions run concurrently with each other; maintenance excludes them.
func (db *DB) Transaction(fn func(*sql.Tx) error) error {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if db.writer == nil {
		return ErrNotInitialized
	}
	return runTx(db.writer, fn)
}

// ReadTransaction runs fn in a read-only transaction on the reader pool.
func (db *DB) ReadTransaction(fn func(*sql.Tx) error) error {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if db.reader == nil {
		return ErrNotInitialized
	}
	return runTx(db.reader, fn)
}

// Close releases both connection pools. Closing twice is a no-op.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.writer == nil {
		return nil
	}
	readErr := db.reader.Close()
	writeErr := db.writer.Close()
	db.reader, db.writer = nil, nil
	if err := errors.Join(writeErr, readErr); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	log.Debug().Str("path", db.path).Msg("Database connection closed")
	return nil
}
