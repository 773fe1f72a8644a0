package coordinator

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c3po-dev/c3po/internal/coordinator/messaging"
	"github.com/c3po-dev/c3po/internal/coordinator/registry"
	"github.com/c3po-dev/c3po/internal/coordinator/store"
	"github.com/c3po-dev/c3po/internal/util/testutil"
)

func TestSweepStale_ThenRunScavengerExitsOnCancel(t *testing.T) {
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, store.Migrate(db))
	t.Cleanup(func() { _ = db.Close() })

	notifier := store.NewNotifier()
	reg := registry.New(db, notifier, time.Millisecond)
	msg := messaging.New(db, notifier, time.Hour, reg.Exists, reg.RegisterOffline)

	ctx := context.Background()
	_, _, err = reg.Register(ctx, "lab/stale", "s1")
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	require.NoError(t, reg.SweepStale(ctx, time.Millisecond))

	rec, err := reg.Get(ctx, "lab/stale")
	require.NoError(t, err)
	assert.Nil(t, rec)

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		runScavenger(runCtx, reg, msg, time.Hour, slog.Default())
		close(done)
	}()
	cancel()
	testutil.RequireEventually(t, func() bool {
		select {
		case <-done:
			return true
		default:
			return false
		}
	}, "scavenger loop should exit promptly on context cancellation")
}
