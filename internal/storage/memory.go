package storage

import (
	"context"
	"sync"
	"time"
)

// memoryEntry holds a stored value and its absolute expiry.
type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// MemoryStore is an in-process Store backed by a map. Expiry is checked lazily
// on read: reading an expired key deletes it and reports it absent. When a
// cleanup interval is configured, a background goroutine also evicts expired
// entries that are never read again.
type MemoryStore struct {
	clock           func() time.Time
	cleanupInterval time.Duration

	mu      sync.Mutex
	entries map[string]memoryEntry
	done    chan struct{}
	closed  bool
}

// NewMemoryStore creates a memory-based store. It never returns an error; the
// signature matches the other constructors so the factory can treat all
// backends alike.
func NewMemoryStore(config Config) (*MemoryStore, error) {
	m := &MemoryStore{
		clock:           config.now,
		cleanupInterval: config.CleanupInterval,
		entries:         make(map[string]memoryEntry),
		done:            make(chan struct{}),
	}
	if m.cleanupInterval > 0 {
		go m.cleanup()
	}
	return m, nil
}

// Get returns the live value for key.
func (m *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return "", false, nil
	}
	if !m.clock().Before(e.expiresAt) {
		delete(m.entries, key)
		return "", false, nil
	}
	return e.value, true, nil
}

// Set stores value until ttl has elapsed on the store's clock.
func (m *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[key] = memoryEntry{
		value:     value,
		expiresAt: m.clock().Add(ttl),
	}
	return nil
}

// Ping always succeeds.
func (m *MemoryStore) Ping(context.Context) error {
	return nil
}

// Len reports the number of entries currently held, expired or not.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Close stops the background cleanup goroutine.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.done)
	}
	return nil
}

// cleanup periodically evicts expired entries until Close is called.
func (m *MemoryStore) cleanup() {
	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.evictExpired()
		}
	}
}

// evictExpired removes every entry whose expiry has passed.
func (m *MemoryStore) evictExpired() {
	now := m.clock()
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, e := range m.entries {
		if !now.Before(e.expiresAt) {
			delete(m.entries, key)
		}
	}
}
