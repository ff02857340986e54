package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySetGetDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Hour)
	defer m.Close()

	_, ok, err := m.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Set(ctx, "k", []byte("v"), SetOptions{}))
	v, ok, err := m.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v"), v)

	existed, err := m.Delete(ctx, "k")
	require.NoError(t, err)
	assert.True(t, existed)

	_, ok, err = m.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemorySetConditional(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Hour)
	defer m.Close()

	require.NoError(t, m.Set(ctx, "k", []byte("v1"), SetOptions{IfNotExists: true}))
	err := m.Set(ctx, "k", []byte("v2"), SetOptions{IfNotExists: true})
	assert.ErrorIs(t, err, ErrConditionFailed)

	require.NoError(t, m.Set(ctx, "k", []byte("v3"), SetOptions{IfExists: true}))
	v, _, _ := m.Get(ctx, "k")
	assert.Equal(t, []byte("v3"), v)

	err = m.Set(ctx, "other", []byte("v"), SetOptions{IfExists: true})
	assert.ErrorIs(t, err, ErrConditionFailed)
}

func TestMemoryTTLExpiry(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Hour)
	defer m.Close()

	require.NoError(t, m.Set(ctx, "k", []byte("v"), SetOptions{TTL: 10 * time.Millisecond}))
	time.Sleep(30 * time.Millisecond)

	_, ok, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryGetAndExtend(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Hour)
	defer m.Close()

	require.NoError(t, m.Set(ctx, "k", []byte("v"), SetOptions{TTL: 20 * time.Millisecond}))
	v, ok, err := m.GetAndExtend(ctx, "k", time.Hour)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v"), v)

	time.Sleep(40 * time.Millisecond)
	_, ok, err = m.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok, "TTL should have been extended past the original expiry")
}

func TestMemoryIncrDecr(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Hour)
	defer m.Close()

	n, err := m.Incr(ctx, "counter")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = m.IncrBy(ctx, "counter", 5)
	require.NoError(t, err)
	assert.EqualValues(t, 6, n)

	n, err = m.Decr(ctx, "counter")
	require.NoError(t, err)
	assert.EqualValues(t, 5, n)
}

func TestMemoryMGetMDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Hour)
	defer m.Close()

	require.NoError(t, m.Set(ctx, "a", []byte("1"), SetOptions{}))
	require.NoError(t, m.Set(ctx, "b", []byte("2"), SetOptions{}))

	vals, err := m.MGet(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vals, 3)
	assert.True(t, vals[0].OK)
	assert.True(t, vals[1].OK)
	assert.False(t, vals[2].OK)

	n, err := m.MDelete(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestMemoryScan(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Hour)
	defer m.Close()

	require.NoError(t, m.Set(ctx, "session:1", []byte("x"), SetOptions{}))
	require.NoError(t, m.Set(ctx, "session:2", []byte("x"), SetOptions{}))
	require.NoError(t, m.Set(ctx, "token:1", []byte("x"), SetOptions{}))

	iter, err := m.Scan(ctx, "session:*")
	require.NoError(t, err)

	var found []string
	for {
		k, ok := iter()
		if !ok {
			break
		}
		found = append(found, k)
	}
	assert.ElementsMatch(t, []string{"session:1", "session:2"}, found)
}

func TestMemoryExpireAndTTL(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Hour)
	defer m.Close()

	require.NoError(t, m.Set(ctx, "k", []byte("v"), SetOptions{}))
	_, ok, err := m.TTL(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = m.Expire(ctx, "k", 50*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, ok)

	d, ok, err := m.TTL(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, d > 0 && d <= 50*time.Millisecond)
}
