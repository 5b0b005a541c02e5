package storage

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisTestStore(t *testing.T) *RedisStore {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set, skipping Redis tests")
	}
	client := NewRedisClient(addr, os.Getenv("REDIS_TEST_PASSWORD"), 0, 0)
	s, err := NewRedisStore(client, Config{KeyPrefix: fmt.Sprintf("rltest:%d:", time.Now().UnixNano())})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Ping(context.Background()))
	return s
}

func TestNewRedisStore_NilClient(t *testing.T) {
	_, err := NewRedisStore(nil, Config{})
	assert.Error(t, err)
}

func TestRedisStore_PrefixesKeys(t *testing.T) {
	client := NewRedisClient("localhost:0", "", 0, 0)
	s, err := NewRedisStore(client, Config{KeyPrefix: "rl:"})
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, "rl:client-a:7", s.prefixedKey("client-a:7"))
}

func TestRedisStore_GetSet(t *testing.T) {
	s := newRedisTestStore(t)
	ctx := context.Background()

	_, found, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.Set(ctx, "donor:9", "v", time.Minute))
	value, found, err := s.Get(ctx, "donor:9")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v", value)

	ttl, err := s.client.TTL(ctx, s.prefixedKey("donor:9")).Result()
	require.NoError(t, err)
	assert.True(t, ttl > 0 && ttl <= time.Minute, "native ttl should be set, got %v", ttl)
}

func TestRedisStore_Expiry(t *testing.T) {
	s := newRedisTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "short", "v", time.Second))
	assert.Eventually(t, func() bool {
		_, found, err := s.Get(ctx, "short")
		return err == nil && !found
	}, 3*time.Second, 100*time.Millisecond)
}

func TestRedisStore_UnreachableServerErrors(t *testing.T) {
	client := NewRedisClient("127.0.0.1:1", "", 0, 1)
	s, err := NewRedisStore(client, Config{})
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, found, err := s.Get(ctx, "k")
	assert.Error(t, err, "connection failures must surface, not read as absent")
	assert.False(t, found)
}
