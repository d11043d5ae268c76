// Package sqlite provides the SQLite implementation of store.Store.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	// Register the pure-Go sqlite driver.
	_ "modernc.org/sqlite"
)

// Open opens (creating if necessary) the database at path, applies pragmas
// and runs pending migrations. Use ":memory:" for an ephemeral database.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// modernc sqlite serializes access; a single connection avoids
	// SQLITE_BUSY on concurrent writers.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Store implements store.Store on a SQLite database.
type Store struct {
	db *sql.DB
}

// DB exposes the underlying handle for tests.
func (s *Store) DB() *sql.DB { return s.db }

// HealthCheck pings the database.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// rollback rolls back tx, ignoring errors (tx may already be committed).
func rollback(tx *sql.Tx) { _ = tx.Rollback() }
