package storage

import (
	"context"
	"time"
)

// NoopStore never remembers anything: Get always reports absent and Set
// discards the value. A limiter backed by it runs in memoryless mode.
type NoopStore struct{}

// NewNoopStore creates a store that holds no state.
func NewNoopStore() *NoopStore {
	return &NoopStore{}
}

// Get always reports the key as absent.
func (NoopStore) Get(context.Context, string) (string, bool, error) {
	return "", false, nil
}

// Set discards the value.
func (NoopStore) Set(context.Context, string, string, time.Duration) error {
	return nil
}

// Ping always succeeds.
func (NoopStore) Ping(context.Context) error {
	return nil
}

// Close is a no-op.
func (NoopStore) Close() error {
	return nil
}
