package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_Contract(t *testing.T) {
	clock := newFakeClock()
	store, err := NewMemoryStore(Config{Clock: clock.Now})
	require.NoError(t, err)
	defer store.Close()

	runStoreContract(t, store, clock)
}

func TestMemoryStore_ExpiredReadDeletesEntry(t *testing.T) {
	clock := newFakeClock()
	store, err := NewMemoryStore(Config{Clock: clock.Now})
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "gone", "v", time.Second))
	assert.Equal(t, 1, store.Len())

	clock.Advance(2 * time.Second)
	_, found, err := store.Get(ctx, "gone")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, 0, store.Len(), "expired read should delete the entry")
}

func TestMemoryStore_Cleanup(t *testing.T) {
	store, err := NewMemoryStore(Config{CleanupInterval: 20 * time.Millisecond})
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "ephemeral", "v", 10*time.Millisecond))
	require.NoError(t, store.Set(ctx, "durable", "v", time.Hour))

	assert.Eventually(t, func() bool {
		return store.Len() == 1
	}, time.Second, 10*time.Millisecond, "expired entry should be swept without a read")

	_, found, err := store.Get(ctx, "durable")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestMemoryStore_Close(t *testing.T) {
	store, err := NewMemoryStore(Config{CleanupInterval: 10 * time.Millisecond})
	require.NoError(t, err)
	assert.NoError(t, store.Close())
	// Should not panic on double close
	assert.NoError(t, store.Close())
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	store, err := NewMemoryStore(Config{})
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			key := fmt.Sprintf("client-%d", id%5)
			for j := 0; j < 20; j++ {
				_ = store.Set(ctx, key, "v", time.Minute)
				_, _, _ = store.Get(ctx, key)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 5, store.Len())
}

func TestNoopStore(t *testing.T) {
	store := NewNoopStore()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", "v", time.Minute))
	value, found, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, value)
	assert.NoError(t, store.Ping(ctx))
	assert.NoError(t, store.Close())
}
