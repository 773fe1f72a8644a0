// Package store is the coordinator's durable substrate: a single SQLite
// database playing the role spec.md §3/§6 assigns to a key/value + list +
// sorted-set store (agents hash, per-agent inbox/notify lists, rate-limit
// sorted sets, api_keys hash, audit ring). Every other coordinator package
// takes a *store.DB and issues its own queries against it — there is no
// code-generated query layer (the teacher's sqlc-generated package isn't
// reproducible without running sqlc), so query methods live next to the
// component that owns the table, built on jmoiron/sqlx the way
// r3e-network-service_layer's repository layer does.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// DB wraps a *sqlx.DB with the coordinator's connection policy.
type DB struct {
	*sqlx.DB
}

// Open opens a SQLite database at the given path and configures it for
// concurrent use (WAL mode, foreign keys enabled). Use ":memory:" for an
// in-memory database (useful for testing).
func Open(path string) (*DB, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_busy_timeout=5000"
	}
	sqlDB, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	// SQLite only supports a single writer at a time.
	sqlDB.SetMaxOpenConns(1)

	return &DB{DB: sqlDB}, nil
}

// RetryBusy retries fn with exponential backoff while SQLite reports the
// database as locked/busy, capping total retry time at 2s. Write paths that
// race the TTL scavenger (registry cleanup, inbox TTL sweep) call through
// this instead of failing the caller's request on a transient lock.
func RetryBusy(ctx context.Context, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 200 * time.Millisecond

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := fn()
		if err != nil && isBusy(err) {
			return struct{}{}, err
		}
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(b), backoff.WithMaxElapsedTime(2*time.Second))
	return err
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "locked") || strings.Contains(msg, "busy")
}

// Checkpoint truncates the WAL file into the main database file. Called on
// graceful shutdown.
func (db *DB) Checkpoint() error {
	_, err := db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return err
}
