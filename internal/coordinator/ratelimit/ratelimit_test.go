package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c3po-dev/c3po/internal/coordinator/ratelimit"
	"github.com/c3po-dev/c3po/internal/coordinator/store"
)

func newTestDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, store.Migrate(db))
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestLimiter_AllowsUpToLimit(t *testing.T) {
	db := newTestDB(t)
	policies := map[string]ratelimit.Policy{"send_message": {Limit: 3, Window: time.Minute}}
	limiter := ratelimit.New(db, policies, nil)

	for i := 0; i < 3; i++ {
		assert.True(t, limiter.Check(context.Background(), "send_message", "lab/A"))
	}
	assert.False(t, limiter.Check(context.Background(), "send_message", "lab/A"))
}

func TestLimiter_IdentitiesAreIndependent(t *testing.T) {
	db := newTestDB(t)
	policies := map[string]ratelimit.Policy{"send_message": {Limit: 1, Window: time.Minute}}
	limiter := ratelimit.New(db, policies, nil)

	assert.True(t, limiter.Check(context.Background(), "send_message", "lab/A"))
	assert.False(t, limiter.Check(context.Background(), "send_message", "lab/A"))
	assert.True(t, limiter.Check(context.Background(), "send_message", "lab/B"))
}

func TestLimiter_OperationsAreIndependent(t *testing.T) {
	db := newTestDB(t)
	policies := map[string]ratelimit.Policy{
		"send_message": {Limit: 1, Window: time.Minute},
		"list_agents":  {Limit: 1, Window: time.Minute},
	}
	limiter := ratelimit.New(db, policies, nil)

	assert.True(t, limiter.Check(context.Background(), "send_message", "lab/A"))
	assert.True(t, limiter.Check(context.Background(), "list_agents", "lab/A"))
}

func TestLimiter_UnknownOperationUsesDefaultPolicy(t *testing.T) {
	db := newTestDB(t)
	limiter := ratelimit.New(db, map[string]ratelimit.Policy{}, nil)

	for i := 0; i < ratelimit.DefaultPolicy.Limit; i++ {
		assert.True(t, limiter.Check(context.Background(), "ping", "lab/A"))
	}
	assert.False(t, limiter.Check(context.Background(), "ping", "lab/A"))
}
