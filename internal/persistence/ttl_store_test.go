package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClockedStore() (*MemoryTTLStore, *time.Time) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	store := NewMemoryTTLStore()
	store.now = func() time.Time { return now }
	return store, &now
}

func TestMemorySetNX(t *testing.T) {
	store, _ := newClockedStore()
	ctx := context.Background()

	ok, err := store.SetNX(ctx, "lock", "a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.SetNX(ctx, "lock", "b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "a held key cannot be re-acquired")

	value, found, err := store.Get(ctx, "lock")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "a", value)
}

func TestMemoryExpiry(t *testing.T) {
	store, now := newClockedStore()
	ctx := context.Background()

	_, err := store.SetNX(ctx, "lock", "a", time.Minute)
	require.NoError(t, err)

	*now = now.Add(2 * time.Minute)

	_, found, err := store.Get(ctx, "lock")
	require.NoError(t, err)
	assert.False(t, found)

	// An expired key is free for the taking again.
	ok, err := store.SetNX(ctx, "lock", "b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryGetDelIsSingleUse(t *testing.T) {
	store, _ := newClockedStore()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "form", "payload", time.Minute))

	value, found, err := store.GetDel(ctx, "form")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "payload", value)

	_, found, err = store.GetDel(ctx, "form")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryDeleteAbsentKey(t *testing.T) {
	store, _ := newClockedStore()
	assert.NoError(t, store.Delete(context.Background(), "missing"))
}
