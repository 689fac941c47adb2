package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMemorySetGet(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	assert.NoError(t, store.Set(ctx, "k", "v", 0))

	value, ok, err := store.Get(ctx, "k")
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", value)
}

func TestMemoryGetMiss(t *testing.T) {
	_, ok, err := NewMemory().Get(context.Background(), "absent")
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestMemorySetNXGuardsUntilExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	store := NewMemoryWithClock(func() time.Time { return now })

	set, err := store.SetNX(ctx, "marker", "1", 5*time.Minute)
	assert.NoError(t, err)
	assert.True(t, set)

	set, err = store.SetNX(ctx, "marker", "1", 5*time.Minute)
	assert.NoError(t, err)
	assert.False(t, set)

	now = now.Add(5*time.Minute + time.Second)

	set, err = store.SetNX(ctx, "marker", "1", 5*time.Minute)
	assert.NoError(t, err)
	assert.True(t, set)
}

func TestMemoryExpiryOnGet(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	store := NewMemoryWithClock(func() time.Time { return now })

	assert.NoError(t, store.Set(ctx, "k", "v", time.Hour))

	now = now.Add(2 * time.Hour)

	_, ok, err := store.Get(ctx, "k")
	assert.NoError(t, err)
	assert.False(t, ok)
}
