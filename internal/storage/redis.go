package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on top of Redis using plain GET and SET EX.
// Expiry is delegated to Redis' native TTL.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore wraps an existing client. The store owns the client and closes
// it on Close.
func NewRedisStore(client *redis.Client, config Config) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	return &RedisStore{
		client: client,
		prefix: config.KeyPrefix,
	}, nil
}

// NewRedisClient builds a go-redis client from connection settings.
func NewRedisClient(addr, password string, db, poolSize int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
		PoolSize: poolSize,
	})
}

// Get returns the value under key; redis.Nil is reported as absent.
func (rs *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := rs.client.Get(ctx, rs.prefixedKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return value, true, nil
}

// Set writes value with a native TTL.
func (rs *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := rs.client.Set(ctx, rs.prefixedKey(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Ping checks the connection.
func (rs *RedisStore) Ping(ctx context.Context) error {
	if err := rs.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (rs *RedisStore) Close() error {
	return rs.client.Close()
}

func (rs *RedisStore) prefixedKey(key string) string {
	return rs.prefix + key
}
