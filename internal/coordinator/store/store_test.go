package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c3po-dev/c3po/internal/coordinator/store"
)

func TestOpen_InMemory(t *testing.T) {
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	require.NoError(t, db.Ping())

	var fkEnabled int
	err = db.QueryRow("PRAGMA foreign_keys").Scan(&fkEnabled)
	require.NoError(t, err)
	assert.Equal(t, 1, fkEnabled)
}

func TestMigrate(t *testing.T) {
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	require.NoError(t, store.Migrate(db))

	tables := []string{"agents", "inbox_messages", "notify_tokens", "api_keys", "rate_limit_hits", "audit_log"}
	for _, table := range tables {
		var count int64
		err := db.QueryRow("SELECT count(*) FROM " + table).Scan(&count)
		assert.NoError(t, err, "table %q does not exist or is not queryable", table)
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	require.NoError(t, store.Migrate(db))
	require.NoError(t, store.Migrate(db))
}

func TestRetryBusy_SucceedsOnFirstTry(t *testing.T) {
	calls := 0
	err := store.RetryBusy(context.Background(), func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryBusy_RetriesOnBusyThenSucceeds(t *testing.T) {
	calls := 0
	err := store.RetryBusy(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("database is locked")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryBusy_NonBusyErrorFailsImmediately(t *testing.T) {
	calls := 0
	err := store.RetryBusy(context.Background(), func() error {
		calls++
		return errors.New("constraint violation")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestCheckpoint(t *testing.T) {
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	require.NoError(t, store.Migrate(db))
	assert.NoError(t, db.Checkpoint())
}
