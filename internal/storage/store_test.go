package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced clock shared by store tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// runStoreContract exercises the behavior every expiring Store must share.
func runStoreContract(t *testing.T, store Store, clock *fakeClock) {
	t.Helper()
	ctx := context.Background()

	t.Run("missing key is absent", func(t *testing.T) {
		value, found, err := store.Get(ctx, "missing")
		require.NoError(t, err)
		assert.False(t, found)
		assert.Empty(t, value)
	})

	t.Run("set then get", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "k1", `{"tokens":4,"updatedAt":1}`, 10*time.Second))

		value, found, err := store.Get(ctx, "k1")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, `{"tokens":4,"updatedAt":1}`, value)
	})

	t.Run("overwrite replaces value and ttl", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "k2", "first", time.Second))
		require.NoError(t, store.Set(ctx, "k2", "second", 5*time.Second))

		clock.Advance(2 * time.Second)
		value, found, err := store.Get(ctx, "k2")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "second", value)
	})

	t.Run("expired key is absent", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "k3", "short", time.Second))

		clock.Advance(999 * time.Millisecond)
		_, found, err := store.Get(ctx, "k3")
		require.NoError(t, err)
		assert.True(t, found, "value should survive until the ttl elapses")

		clock.Advance(time.Millisecond)
		_, found, err = store.Get(ctx, "k3")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("empty value is distinct from absent", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "k4", "", time.Minute))

		value, found, err := store.Get(ctx, "k4")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Empty(t, value)
	})

	t.Run("ping", func(t *testing.T) {
		assert.NoError(t, store.Ping(ctx))
	})
}
