package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestStore spins up a miniredis server and returns a store plus the
// underlying miniredis for TTL manipulation.
func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewWithClient(client), mr
}

func TestStore_ReadySnapshot(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	// Absent before the first write
	_, present, err := store.ReadySnapshot(ctx, 1)
	require.NoError(t, err)
	assert.False(t, present)

	require.NoError(t, store.PutReadySnapshot(ctx, 1, 3))

	count, present, err := store.ReadySnapshot(ctx, 1)
	require.NoError(t, err)
	assert.True(t, present)
	assert.Equal(t, 3, count)

	// TTL is armed
	ttl := mr.TTL("room:1:readysnapshot")
	assert.Equal(t, ReadySnapshotTTL, ttl)

	// Expiry reads as absence, not error
	mr.FastForward(ReadySnapshotTTL + time.Second)
	_, present, err = store.ReadySnapshot(ctx, 1)
	require.NoError(t, err)
	assert.False(t, present)
}

func TestStore_DeleteReadySnapshotIdempotent(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.PutReadySnapshot(ctx, 7, 2))
	require.NoError(t, store.DeleteReadySnapshot(ctx, 7))
	// Deleting an already-missing key is fine
	require.NoError(t, store.DeleteReadySnapshot(ctx, 7))

	_, present, err := store.ReadySnapshot(ctx, 7)
	require.NoError(t, err)
	assert.False(t, present)
}

func TestStore_ActiveStatus(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	active, err := store.IsActive(ctx, 1, 10)
	require.NoError(t, err)
	assert.False(t, active)

	require.NoError(t, store.MarkActive(ctx, 1, 10))

	active, err = store.IsActive(ctx, 1, 10)
	require.NoError(t, err)
	assert.True(t, active)

	assert.Equal(t, ActiveStatusTTL, mr.TTL("room:1:active:10"))

	// Explicit clear beats the TTL
	require.NoError(t, store.ClearActive(ctx, 1, 10))
	active, err = store.IsActive(ctx, 1, 10)
	require.NoError(t, err)
	assert.False(t, active)
}

func TestStore_ActiveStatusExpires(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.MarkActive(ctx, 2, 20))
	mr.FastForward(ActiveStatusTTL + time.Second)

	active, err := store.IsActive(ctx, 2, 20)
	require.NoError(t, err)
	assert.False(t, active)
}

func TestStore_MarkActiveRefreshesWindow(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.MarkActive(ctx, 3, 30))
	mr.FastForward(4 * time.Minute)
	require.NoError(t, store.MarkActive(ctx, 3, 30))
	mr.FastForward(4 * time.Minute)

	active, err := store.IsActive(ctx, 3, 30)
	require.NoError(t, err)
	assert.True(t, active)
}

func TestAcquireAndReleaseLock(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	token, ok, err := store.AcquireLock(ctx, "room:1:reconcile", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, token)

	// Second acquisition fails while held
	_, ok, err = store.AcquireLock(ctx, "room:1:reconcile", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	released, err := store.ReleaseLock(ctx, "room:1:reconcile", token)
	require.NoError(t, err)
	assert.True(t, released)

	// Lock is free again
	_, ok, err = store.AcquireLock(ctx, "room:1:reconcile", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReleaseLockWrongToken(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	token, ok, err := store.AcquireLock(ctx, "room:2:reconcile", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	released, err := store.ReleaseLock(ctx, "room:2:reconcile", "stale-token")
	require.NoError(t, err)
	assert.False(t, released)

	// The real owner can still release
	released, err = store.ReleaseLock(ctx, "room:2:reconcile", token)
	require.NoError(t, err)
	assert.True(t, released)
}

func TestReleaseLockAfterExpiryAndReacquire(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	oldToken, ok, err := store.AcquireLock(ctx, "room:3:reconcile", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	newToken, ok, err := store.AcquireLock(ctx, "room:3:reconcile", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	// The expired holder must not be able to release the new holder's lock
	released, err := store.ReleaseLock(ctx, "room:3:reconcile", oldToken)
	require.NoError(t, err)
	assert.False(t, released)

	released, err = store.ReleaseLock(ctx, "room:3:reconcile", newToken)
	require.NoError(t, err)
	assert.True(t, released)
}

func TestNewUnreachable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:1"
	cfg.DialTimeout = 100 * time.Millisecond

	_, err := New(cfg)
	assert.Error(t, err)
}
