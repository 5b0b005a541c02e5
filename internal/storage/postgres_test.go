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

func getPostgresDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set, skipping PostgreSQL tests")
	}
	return dsn
}

func newPostgresTestStore(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := getPostgresDSN(t)
	table := fmt.Sprintf("rl_test_%d", time.Now().UnixNano())
	s, err := NewPostgresStore(Config{ConnectionString: dsn, Table: table})
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = s.pool.Exec(context.Background(), "DROP TABLE IF EXISTS "+table)
		s.Close()
	})
	return s
}

func TestPostgresStoreConnectionError(t *testing.T) {
	_, err := NewPostgresStore(Config{ConnectionString: ""})
	assert.Error(t, err, "expected error for empty connection string")
}

func TestPostgresStoreInvalidTable(t *testing.T) {
	_, err := NewPostgresStore(Config{ConnectionString: "postgres://localhost/x", Table: "1bad"})
	assert.Error(t, err)
}

func TestPostgresStoreGetSet(t *testing.T) {
	s := newPostgresTestStore(t)
	ctx := context.Background()

	_, found, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.Set(ctx, "campaign:7", `{"tokens":3,"updatedAt":5}`, time.Minute))
	value, found, err := s.Get(ctx, "campaign:7")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, `{"tokens":3,"updatedAt":5}`, value)

	require.NoError(t, s.Set(ctx, "campaign:7", "replaced", time.Minute))
	value, _, err = s.Get(ctx, "campaign:7")
	require.NoError(t, err)
	assert.Equal(t, "replaced", value)
}

func TestPostgresStoreExpiry(t *testing.T) {
	s := newPostgresTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "short", "v", time.Second))
	time.Sleep(1100 * time.Millisecond)

	_, found, err := s.Get(ctx, "short")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.Set(ctx, "swept", "v", time.Second))
	time.Sleep(1100 * time.Millisecond)
	removed, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
}
