// Package dbopen opens the SQLite database that holds tasks, triage history,
// route queues and business events. It registers the pure-Go
// modernc.org/sqlite driver.
//
// Pragmas travel in the DSN as _pragma parameters, so every connection the
// pool opens gets them, not only the first:
//
//	foreign_keys = ON
//	journal_mode = WAL
//	busy_timeout = 10000
//	synchronous  = NORMAL
//
// Usage:
//
//	db, err := dbopen.Open("docroute.db", dbopen.WithMkdirAll(), dbopen.WithSchema(store.Schema))
//
// In tests:
//
//	db := dbopen.OpenMemory(t)
package dbopen

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	_ "modernc.org/sqlite"
)

const memory = ":memory:"

type settings struct {
	busyTimeout int
	synchronous string
	mkdirAll    bool
	schemas     []string
}

// Option customises Open.
type Option func(*settings)

// WithBusyTimeout sets busy_timeout in milliseconds. Default: 10000.
func WithBusyTimeout(ms int) Option { return func(s *settings) { s.busyTimeout = ms } }

// WithSynchronous sets the synchronous mode (OFF, NORMAL, FULL). Default: NORMAL.
func WithSynchronous(mode string) Option { return func(s *settings) { s.synchronous = mode } }

// WithMkdirAll creates the parent directories of the database file.
func WithMkdirAll() Option { return func(s *settings) { s.mkdirAll = true } }

// WithSchema queues DDL to run once the database is open. Schemas run in
// the order given.
func WithSchema(ddl string) Option { return func(s *settings) { s.schemas = append(s.schemas, ddl) } }

// dsn appends the pragmas to path. The driver strips the query before
// opening a plain path, so it never becomes part of the file name.
func (s *settings) dsn(path string) string {
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "busy_timeout("+strconv.Itoa(s.busyTimeout)+")")
	q.Add("_pragma", "synchronous("+s.synchronous+")")
	return path + "?" + q.Encode()
}

// Open opens the database at path and runs the queued schemas.
func Open(path string, opts ...Option) (*sql.DB, error) {
	s := settings{busyTimeout: 10_000, synchronous: "NORMAL"}
	for _, o := range opts {
		o(&s)
	}

	if s.mkdirAll && path != memory {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("dbopen: mkdir: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", s.dsn(path))
	if err != nil {
		return nil, fmt.Errorf("dbopen: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("dbopen: ping %s: %w", path, err)
	}
	for i, ddl := range s.schemas {
		if _, err := db.Exec(ddl); err != nil {
			db.Close()
			return nil, fmt.Errorf("dbopen: schema %d: %w", i, err)
		}
	}
	return db, nil
}

// OpenMemory opens an in-memory database for tests. Each ":memory:"
// connection is its own database, so the pool is pinned to one.
// The database is closed by t.Cleanup.
func OpenMemory(t testing.TB, opts ...Option) *sql.DB {
	t.Helper()
	db, err := Open(memory, opts...)
	if err != nil {
		t.Fatalf("dbopen.OpenMemory: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}
