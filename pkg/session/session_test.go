package session

import (
	"context"
	"testing"
	"time"

	"github.com/codeready-toolchain/mcpcore/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, signed bool) *Store {
	t.Helper()
	adapter := storage.NewMemory(time.Hour)
	t.Cleanup(func() { _ = adapter.Close() })

	opts := Options{RateLimitCapacity: 1000, RateLimitWindow: time.Second}
	if signed {
		opts.SigningSecret = []byte("test-signing-secret")
	}
	return NewStore(adapter, opts)
}

func TestStoreCreateAndGet(t *testing.T) {
	for _, signed := range []bool{false, true} {
		store := newTestStore(t, signed)
		ctx := context.Background()

		id := store.AllocID()
		require.NotEmpty(t, id)

		rec := &Record{ID: id, ExpiresAt: time.Now().Add(time.Hour)}
		require.NoError(t, store.Create(ctx, rec, time.Hour))

		got, err := store.Get(ctx, id, GetOptions{})
		require.NoError(t, err)
		assert.Equal(t, id, got.ID)
	}
}

func TestStoreGetEmptyID(t *testing.T) {
	store := newTestStore(t, false)
	_, err := store.Get(context.Background(), "   ", GetOptions{})
	assert.ErrorIs(t, err, ErrSessionIDEmpty)
}

func TestStoreGetMissing(t *testing.T) {
	store := newTestStore(t, false)
	_, err := store.Get(context.Background(), "nope", GetOptions{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreGetExpiredRecord(t *testing.T) {
	store := newTestStore(t, false)
	ctx := context.Background()

	id := store.AllocID()
	rec := &Record{ID: id, ExpiresAt: time.Now().Add(-time.Minute)}
	require.NoError(t, store.Create(ctx, rec, time.Hour))

	_, err := store.Get(ctx, id, GetOptions{})
	assert.ErrorIs(t, err, ErrNotFound)

	exists, err := store.Exists(ctx, id)
	require.NoError(t, err)
	assert.False(t, exists, "expired record should have been deleted on Get")
}

func TestStoreTamperedSignatureRejected(t *testing.T) {
	store := newTestStore(t, true)
	ctx := context.Background()

	id := store.AllocID()
	rec := &Record{ID: id, ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, store.Create(ctx, rec, time.Hour))

	// Corrupt the stored blob directly through the adapter.
	adapter := store.adapter
	blob, ok, err := adapter.Get(ctx, store.key(id))
	require.NoError(t, err)
	require.True(t, ok)
	tampered := append([]byte{}, blob...)
	tampered[0] ^= 0xFF
	require.NoError(t, adapter.Set(ctx, store.key(id), tampered, storage.SetOptions{}))

	_, err = store.Get(ctx, id, GetOptions{})
	assert.ErrorIs(t, err, ErrNotFound)

	exists, _ := store.Exists(ctx, id)
	assert.False(t, exists)
}

func TestStoreDeleteIdempotent(t *testing.T) {
	store := newTestStore(t, false)
	ctx := context.Background()

	id := store.AllocID()
	require.NoError(t, store.Delete(ctx, id))

	rec := &Record{ID: id, ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, store.Create(ctx, rec, time.Hour))
	require.NoError(t, store.Delete(ctx, id))
	require.NoError(t, store.Delete(ctx, id))

	exists, err := store.Exists(ctx, id)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestStoreRateLimited(t *testing.T) {
	adapter := storage.NewMemory(time.Hour)
	t.Cleanup(func() { _ = adapter.Close() })
	store := NewStore(adapter, Options{RateLimitCapacity: 1, RateLimitWindow: time.Minute})
	ctx := context.Background()

	id := store.AllocID()
	rec := &Record{ID: id, ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, store.Create(ctx, rec, time.Hour))

	_, err := store.Get(ctx, id, GetOptions{ClientIdentifier: "client-a"})
	require.NoError(t, err)

	_, err = store.Get(ctx, id, GetOptions{ClientIdentifier: "client-a"})
	assert.ErrorIs(t, err, ErrRateLimited)

	// A different client identifier gets its own bucket.
	_, err = store.Get(ctx, id, GetOptions{ClientIdentifier: "client-b"})
	assert.NoError(t, err)
}
