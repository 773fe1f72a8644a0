package registry_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c3po-dev/c3po/internal/coordinator/apierr"
	"github.com/c3po-dev/c3po/internal/coordinator/registry"
	"github.com/c3po-dev/c3po/internal/coordinator/store"
)

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, store.Migrate(db))
	t.Cleanup(func() { _ = db.Close() })
	return registry.New(db, store.NewNotifier(), time.Minute)
}

func TestRegister_Created(t *testing.T) {
	reg := newTestRegistry(t)
	rec, outcome, err := reg.Register(context.Background(), "lab/A", "s1")
	require.NoError(t, err)
	assert.Equal(t, registry.Created, outcome)
	assert.Equal(t, "lab/A", rec.ID)
}

func TestRegister_RejectsBareID(t *testing.T) {
	reg := newTestRegistry(t)
	_, _, err := reg.Register(context.Background(), "noSlash", "s1")
	require.Error(t, err)
	assert.Equal(t, apierr.InvalidRequest, apierr.As(err).Kind)
}

func TestRegister_SameSessionReconnects(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()
	first, _, err := reg.Register(ctx, "lab/A", "s1")
	require.NoError(t, err)

	second, outcome, err := reg.Register(ctx, "lab/A", "s1")
	require.NoError(t, err)
	assert.Equal(t, registry.Reconnected, outcome)
	assert.Equal(t, first.ID, second.ID)
}

func TestRegister_LiveCollisionSuffixes(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()
	_, _, err := reg.Register(ctx, "host/proj", "s1")
	require.NoError(t, err)

	rec, outcome, err := reg.Register(ctx, "host/proj", "s2")
	require.NoError(t, err)
	assert.Equal(t, registry.Suffixed, outcome)
	assert.Equal(t, "host/proj-2", rec.ID)
}

func TestRegister_OfflineCollisionTakesOver(t *testing.T) {
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, store.Migrate(db))
	defer func() { _ = db.Close() }()

	reg := registry.New(db, store.NewNotifier(), time.Millisecond)
	ctx := context.Background()

	_, _, err = reg.Register(ctx, "host/proj", "s1")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	rec, outcome, err := reg.Register(ctx, "host/proj", "s2")
	require.NoError(t, err)
	assert.Equal(t, registry.TookOver, outcome)
	assert.Equal(t, "host/proj", rec.ID)
}

func TestRegister_CollisionExhausted(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	for i := 0; i < registry.MaxCollisionSuffix; i++ {
		sessionID := "s" + string(rune('a'+i%26)) + string(rune('0'+i/26))
		_, _, err := reg.Register(ctx, "host/proj", sessionID)
		require.NoError(t, err)
	}

	_, _, err := reg.Register(ctx, "host/proj", "overflow")
	require.Error(t, err)
	assert.Equal(t, apierr.RegistrationExhausted, apierr.As(err).Kind)
}

func TestHeartbeat_UpdatesLastSeen(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()
	first, _, err := reg.Register(ctx, "lab/A", "s1")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, reg.Heartbeat(ctx, "lab/A"))

	rec, err := reg.Get(ctx, "lab/A")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Greater(t, rec.LastSeen, first.LastSeen)
}

func TestUnregister_EmptyInboxDeletes(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()
	_, _, err := reg.Register(ctx, "lab/A", "s1")
	require.NoError(t, err)

	require.NoError(t, reg.Unregister(ctx, "lab/A", false))

	rec, err := reg.Get(ctx, "lab/A")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestUnregister_KeepIfPendingRetainsRecord(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()
	_, _, err := reg.Register(ctx, "lab/A", "s1")
	require.NoError(t, err)

	require.NoError(t, reg.Unregister(ctx, "lab/A", true))

	rec, err := reg.Get(ctx, "lab/A")
	require.NoError(t, err)
	require.NotNil(t, rec)
}

func TestList_ReturnsDerivedStatus(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()
	_, _, err := reg.Register(ctx, "lab/A", "s1")
	require.NoError(t, err)

	records, err := reg.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, registry.Online, records[0].Status)
}

func TestUpdateProfile_SetsNameAndCapabilities(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()
	_, _, err := reg.Register(ctx, "lab/A", "s1")
	require.NoError(t, err)

	require.NoError(t, reg.UpdateProfile(ctx, "lab/A", "Assistant A", []string{"code", "search"}))

	rec, err := reg.Get(ctx, "lab/A")
	require.NoError(t, err)
	assert.Equal(t, "Assistant A", rec.DisplayName)
	assert.ElementsMatch(t, []string{"code", "search"}, rec.Capabilities)
}

func TestSweepStale_DeletesOnlyPastCutoffWithEmptyInbox(t *testing.T) {
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, store.Migrate(db))
	defer func() { _ = db.Close() }()

	reg := registry.New(db, store.NewNotifier(), time.Minute)
	ctx := context.Background()

	_, _, err = reg.Register(ctx, "lab/stale", "s1")
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	_, _, err = reg.Register(ctx, "lab/fresh", "s2")
	require.NoError(t, err)

	require.NoError(t, reg.SweepStale(ctx, 10*time.Millisecond))

	rec, err := reg.Get(ctx, "lab/stale")
	require.NoError(t, err)
	assert.Nil(t, rec, "stale record with no pending messages should be swept")

	rec, err = reg.Get(ctx, "lab/fresh")
	require.NoError(t, err)
	require.NotNil(t, rec, "record swept before it crossed staleAfter")
}

func TestSetDescription_SanitizesMarkup(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()
	_, _, err := reg.Register(ctx, "lab/A", "s1")
	require.NoError(t, err)

	require.NoError(t, reg.SetDescription(ctx, "lab/A", "<script>alert(1)</script>hello"))

	rec, err := reg.Get(ctx, "lab/A")
	require.NoError(t, err)
	assert.Equal(t, "hello", rec.Description)
}
