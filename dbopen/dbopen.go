// Package dbopen opens the cablesync SQLite databases with production-safe
// pragmas applied via EXEC, so the behaviour does not depend on DSN parsing
// of a particular driver.
//
// busy_timeout and foreign_keys are per-connection settings. For the
// modernc driver they are also passed as _pragma DSN parameters so every
// pooled connection gets them, not only the one the EXEC ran on.
//
// Default pragmas:
//
//	foreign_keys = ON
//	journal_mode = WAL
//	busy_timeout = 10000
//	synchronous  = NORMAL
//
// Usage:
//
//	import _ "modernc.org/sqlite"
//	db, err := dbopen.Open("cablesync.db", dbopen.WithSchema(store.Schema))
//
// In tests:
//
//	db := dbopen.OpenMemory(t, dbopen.WithSchema(store.Schema))
package dbopen

import (
	"database/sql"
	"database/sql/driver"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// driverName is the modernc.org/sqlite registration name.
const driverName = "sqlite"

type config struct {
	busyTimeout int
	foreignKeys bool
	mkdirAll    bool
	schemas     []string
	connector   func(dsn string) driver.Connector
}

func defaults() config {
	return config{
		busyTimeout: 10_000,
		foreignKeys: true,
	}
}

// Option customises Open behaviour.
type Option func(*config)

// WithBusyTimeout sets PRAGMA busy_timeout in milliseconds. Default: 10000.
func WithBusyTimeout(ms int) Option { return func(c *config) { c.busyTimeout = ms } }

// WithMkdirAll creates parent directories of the database path before opening.
func WithMkdirAll() Option { return func(c *config) { c.mkdirAll = true } }

// WithSchema queues inline SQL to execute after pragmas are applied.
// Schemas run in the order they were given.
func WithSchema(s string) Option { return func(c *config) { c.schemas = append(c.schemas, s) } }

// WithConnector opens the database through the connector newConn builds
// from the DSN instead of by driver name. The connector is expected to wrap
// the modernc driver.
func WithConnector(newConn func(dsn string) driver.Connector) Option {
	return func(c *config) { c.connector = newConn }
}

// Open opens an SQLite database at path with the default pragmas and any
// queued schemas. The caller must blank-import modernc.org/sqlite.
func Open(path string, opts ...Option) (*sql.DB, error) {
	cfg := defaults()
	for _, o := range opts {
		o(&cfg)
	}

	if cfg.mkdirAll && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("dbopen: mkdir: %w", err)
		}
	}

	var db *sql.DB
	if cfg.connector != nil {
		db = sql.OpenDB(cfg.connector(dsn(path, &cfg)))
	} else {
		var err error
		if db, err = sql.Open(driverName, dsn(path, &cfg)); err != nil {
			return nil, fmt.Errorf("dbopen: open: %w", err)
		}
	}

	if err := applyPragmas(db, &cfg); err != nil {
		db.Close()
		return nil, err
	}

	for _, s := range cfg.schemas {
		if _, err := db.Exec(s); err != nil {
			db.Close()
			return nil, fmt.Errorf("dbopen: exec schema: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("dbopen: ping: %w", err)
	}

	return db, nil
}

// OpenMemory opens an in-memory SQLite database for testing.
// MaxOpenConns is pinned to 1 because every connection to ":memory:" is a
// separate database. The database is closed through t.Cleanup.
func OpenMemory(t testing.TB, opts ...Option) *sql.DB {
	t.Helper()
	db, err := Open(":memory:", opts...)
	if err != nil {
		t.Fatalf("dbopen.OpenMemory: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

// dsn appends per-connection _pragma parameters. A path that already
// carries a query string is used as given.
func dsn(path string, cfg *config) string {
	if strings.Contains(path, "?") {
		return path
	}
	fk := 1
	if !cfg.foreignKeys {
		fk = 0
	}
	return fmt.Sprintf("%s?_pragma=busy_timeout(%d)&_pragma=foreign_keys(%d)", path, cfg.busyTimeout, fk)
}

func applyPragmas(db *sql.DB, cfg *config) error {
	fk := "ON"
	if !cfg.foreignKeys {
		fk = "OFF"
	}

	pragmas := []string{
		fmt.Sprintf("PRAGMA foreign_keys = %s", fk),
		"PRAGMA journal_mode = WAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.busyTimeout),
		"PRAGMA synchronous = NORMAL",
	}

	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("dbopen: %s: %w", p, err)
		}
	}
	return nil
}
