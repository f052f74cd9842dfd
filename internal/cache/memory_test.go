package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryStoreSetGetDelete(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, ok, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.Set(ctx, "k", []byte("v"), time.Minute))
	value, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v"), value)

	require.NoError(t, store.Delete(ctx, "k"))
	_, ok, err = store.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemoryStoreExpiry(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", []byte("v"), time.Minute))
	store.mu.Lock()
	entry := store.entries["k"]
	entry.expiresAt = time.Now().Add(-time.Second)
	store.entries["k"] = entry
	store.mu.Unlock()

	_, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemoryStoreIncrement(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	count, _, err := store.IncrementWithTTL(ctx, "counter", time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)

	count, _, err = store.IncrementWithTTL(ctx, "counter", time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 2, count)
}

func TestMemoryStoreIncrementKeepsWindowExpiry(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, _, err := store.IncrementWithTTL(ctx, "counter", time.Minute)
	require.NoError(t, err)

	store.mu.Lock()
	opened := store.entries["counter"].expiresAt
	store.mu.Unlock()

	count, ttl, err := store.IncrementWithTTL(ctx, "counter", time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 2, count)
	require.LessOrEqual(t, ttl, time.Minute)

	store.mu.Lock()
	after := store.entries["counter"].expiresAt
	store.mu.Unlock()
	require.Equal(t, opened, after, "increments inside the window must not extend it")
}

func TestMemoryStoreIncrementResetsExpiredWindow(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, _, err := store.IncrementWithTTL(ctx, "counter", time.Minute)
	require.NoError(t, err)
	_, _, err = store.IncrementWithTTL(ctx, "counter", time.Minute)
	require.NoError(t, err)

	store.mu.Lock()
	entry := store.entries["counter"]
	entry.expiresAt = time.Now().Add(-time.Second)
	store.entries["counter"] = entry
	store.mu.Unlock()

	count, _, err := store.IncrementWithTTL(ctx, "counter", time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 1, count, "expired window starts over")
}
