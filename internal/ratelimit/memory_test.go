package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreBoundary(t *testing.T) {
	store := NewMemoryStore(60, 2)
	ctx := context.Background()

	first := store.Check(ctx, "/v1/chat/answer", "t1")
	require.True(t, first.Allowed)
	assert.Equal(t, 1, first.Remaining)

	second := store.Check(ctx, "/v1/chat/answer", "t1")
	require.True(t, second.Allowed)
	assert.Equal(t, 0, second.Remaining)

	third := store.Check(ctx, "/v1/chat/answer", "t1")
	require.False(t, third.Allowed)
	assert.GreaterOrEqual(t, third.RetryAfter, 1)
}

func TestMemoryStoreRemainingStrictlyDecreasing(t *testing.T) {
	store := NewMemoryStore(60, 5)
	ctx := context.Background()
	previous := 5
	for i := 0; i < 5; i++ {
		result := store.Check(ctx, "/v1/retrieval/search", "t1")
		require.True(t, result.Allowed, "call %d", i)
		assert.Less(t, result.Remaining, previous)
		previous = result.Remaining
	}
	assert.Equal(t, 0, previous)
}

func TestMemoryStoreWindowElapses(t *testing.T) {
	store := NewMemoryStore(60, 1)
	base := time.Now()
	store.now = func() time.Time { return base }
	ctx := context.Background()

	require.True(t, store.Check(ctx, "/r", "t1").Allowed)
	require.False(t, store.Check(ctx, "/r", "t1").Allowed)

	store.now = func() time.Time { return base.Add(61 * time.Second) }
	assert.True(t, store.Check(ctx, "/r", "t1").Allowed, "window fully elapsed resets the limiter")
}

func TestMemoryStoreBlockedCallDoesNotRecord(t *testing.T) {
	store := NewMemoryStore(60, 1)
	ctx := context.Background()

	require.True(t, store.Check(ctx, "/r", "t1").Allowed)
	for i := 0; i < 3; i++ {
		store.Check(ctx, "/r", "t1")
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Len(t, store.windows[Key("/r", "t1")], 1, "blocked checks must not append timestamps")
}

func TestMemoryStoreTenantsIsolated(t *testing.T) {
	store := NewMemoryStore(60, 1)
	ctx := context.Background()

	require.True(t, store.Check(ctx, "/r", "t1").Allowed)
	assert.True(t, store.Check(ctx, "/r", "t2").Allowed)
	assert.True(t, store.Check(ctx, "/other", "t1").Allowed)
}

func TestLimitCoercion(t *testing.T) {
	store := NewMemoryStore(0, -5)
	assert.Equal(t, 1, store.limit)
	assert.Equal(t, time.Second, store.window)
}

func TestKeyHashesTenant(t *testing.T) {
	key := Key("/v1/chat/answer", "acme")
	assert.Contains(t, key, "rl:/v1/chat/answer:")
	assert.NotContains(t, key, "acme")
	assert.Equal(t, key, Key("/v1/chat/answer", "acme"))
	assert.NotEqual(t, key, Key("/v1/chat/answer", "other"))
}
