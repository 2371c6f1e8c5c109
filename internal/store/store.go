package store

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	_ "modernc.org/sqlite"

	"multitalk/internal/config"
)

// Dialect selects placeholder style, migrations, and error classification.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// Store persists accounts, jobs, billing events, and checkouts.
type Store struct {
	db      *sql.DB
	dialect Dialect
	path    string
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// Open connects to the configured database and applies pending migrations.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	var (
		dialect Dialect
		dsn     string
		path    string
	)
	switch cfg.Database.Driver {
	case "postgres":
		dialect = DialectPostgres
		dsn = cfg.Database.DSN
	default:
		dialect = DialectSQLite
		path = cfg.DatabasePath()
		if cfg.Database.DSN != "" {
			path = cfg.Database.DSN
		}
		dsn = sqliteDSN(path)
	}

	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s db: %w", dialect, err)
	}
	if dialect == DialectSQLite {
		// WAL allows concurrent readers; writers still serialize on the file lock.
		db.SetMaxOpenConns(8)
	}

	store := New(db, dialect)
	store.path = path
	if err := store.applyMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// New wraps an existing connection pool without running migrations.
func New(db *sql.DB, dialect Dialect) *Store {
	if dialect == "" {
		dialect = DialectSQLite
	}
	return &Store{db: db, dialect: dialect}
}

// sqliteDSN applies pragmas through the DSN so every pooled connection gets
// them, and starts write transactions with BEGIN IMMEDIATE.
func sqliteDSN(path string) string {
	params := url.Values{}
	params.Add("_pragma", "busy_timeout(5000)")
	params.Add("_pragma", "journal_mode(WAL)")
	params.Add("_pragma", "foreign_keys(1)")
	params.Set("_txlock", "immediate")
	return "file:" + path + "?" + params.Encode()
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ensureContext(ctx)); err != nil {
		return classify("ping", err)
	}
	return nil
}

// Dialect reports the SQL dialect in use.
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// Path returns the SQLite database file, or "" for postgres.
func (s *Store) Path() string {
	return s.path
}
