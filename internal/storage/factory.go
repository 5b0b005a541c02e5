package storage

import (
	"fmt"

	"edgelimit/internal/models"
)

// Factory provides a centralized way to create stores based on configuration.
type Factory struct{}

// NewFactory creates a new storage factory
func NewFactory() *Factory {
	return &Factory{}
}

// Create instantiates a store based on the provided configuration.
// Supported providers:
//   - memory: process-local map with lazy expiry
//   - noop: remembers nothing (memoryless limiting)
//   - redis: managed KV store with native TTL
//   - postgres: shared SQL table
//   - sqlite: embedded SQL table
//
// Remote stores (redis, postgres) are wrapped in a circuit breaker when
// config.Breaker.Enabled is set.
func (f *Factory) Create(config models.StoreConfig) (Store, error) {
	storeConfig := Config{
		Type:             config.Type,
		KeyPrefix:        config.KeyPrefix,
		ConnectionString: config.Database.DSN,
		Table:            config.Database.Table,
		MaxConns:         config.Database.MaxOpenConns,
		CleanupInterval:  config.Memory.CleanupInterval,
	}

	var (
		store Store
		err   error
	)
	switch config.Type {
	case models.StoreTypeMemory:
		store, err = NewMemoryStore(storeConfig)
	case models.StoreTypeNoop:
		store = NewNoopStore()
	case models.StoreTypeRedis:
		client := NewRedisClient(config.Redis.Addr, config.Redis.Password, config.Redis.DB, config.Redis.PoolSize)
		store, err = NewRedisStore(client, storeConfig)
	case models.StoreTypePostgres:
		store, err = NewPostgresStore(storeConfig)
	case models.StoreTypeSQLite:
		store, err = NewSQLiteStore(storeConfig)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, config.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s store: %w", config.Type, err)
	}

	if config.Breaker.Enabled && isRemote(config.Type) {
		store = NewBreakerStore(store, BreakerSettings{
			Name:             config.Type,
			MaxRequests:      config.Breaker.MaxRequests,
			Interval:         config.Breaker.Interval,
			Timeout:          config.Breaker.Timeout,
			FailureThreshold: config.Breaker.FailureThreshold,
		})
	}
	return store, nil
}

// GetSupportedProviders returns a list of all supported store types
func (f *Factory) GetSupportedProviders() []string {
	return []string{models.StoreTypeMemory, models.StoreTypeNoop, models.StoreTypeRedis, models.StoreTypePostgres, models.StoreTypeSQLite}
}

func isRemote(storeType string) bool {
	return storeType == models.StoreTypeRedis || storeType == models.StoreTypePostgres
}
