// Package storage provides the key-value adapters that hold rate limit buckets.
// Every backend satisfies the same small Store contract so the limiter can run
// against a process-local map, a managed store such as Redis, a SQL table, or
// nothing at all.
package storage

import (
	"context"
	"time"
)

// Store is the capability interface consumed by the rate limiter.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the value stored under key. A missing or expired key is
	// reported with found == false and a nil error, never as an empty value.
	Get(ctx context.Context, key string) (value string, found bool, err error)

	// Set stores value under key. The value must stop being readable roughly
	// ttl after the call; exact expiry timing is backend-defined.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases connections and background goroutines.
	Close() error
}

// Config holds configuration for storage backends
type Config struct {
	// Type specifies the storage backend type (memory, redis, etc.)
	Type string `json:"type" yaml:"type"`

	// KeyPrefix is prepended to every key by the redis backend; SQL backends
	// namespace by table instead.
	KeyPrefix string `json:"key_prefix,omitempty" yaml:"key_prefix,omitempty"`

	// ConnectionString is used for database backends
	ConnectionString string `json:"connection_string,omitempty" yaml:"connection_string,omitempty"`

	// MaxConns caps the database connection pool (0 keeps the driver default)
	MaxConns int `json:"max_conns,omitempty" yaml:"max_conns,omitempty"`

	// Table is the bucket table used by database backends
	Table string `json:"table,omitempty" yaml:"table,omitempty"`

	// CleanupInterval drives the memory backend's expiry sweeper (0 disables it)
	CleanupInterval time.Duration `json:"cleanup_interval,omitempty" yaml:"cleanup_interval,omitempty"`

	// Clock overrides time.Now for backends that compute expiry locally
	Clock func() time.Time `json:"-" yaml:"-"`
}

func (c Config) now() time.Time {
	if c.Clock != nil {
		return c.Clock()
	}
	return time.Now()
}
