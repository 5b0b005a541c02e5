package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps buckets in a PostgreSQL table shared by every instance.
// Expiry uses the database clock so instances with skewed clocks agree.
type PostgresStore struct {
	pool  *pgxpool.Pool
	table string
}

// NewPostgresStore connects, pings, and creates the bucket table if needed.
func NewPostgresStore(config Config) (*PostgresStore, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required for PostgreSQL storage")
	}

	table, err := tableName(config.Table)
	if err != nil {
		return nil, err
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("invalid connection string: %w", err)
	}
	if config.MaxConns > 0 {
		poolConfig.MaxConns = int32(config.MaxConns)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	ps := &PostgresStore{pool: pool, table: table}
	if err := ps.migrate(context.Background()); err != nil {
		pool.Close()
		return nil, err
	}
	return ps, nil
}

func (ps *PostgresStore) migrate(ctx context.Context) error {
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
)`, ps.table)
	if _, err := ps.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create table %s: %w", ps.table, err)
	}
	return nil
}

// Get returns the live value for key, deleting the row if it has expired.
func (ps *PostgresStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	var live bool
	query := fmt.Sprintf(`SELECT value, expires_at > now() FROM %s WHERE key = $1`, ps.table)
	err := ps.pool.QueryRow(ctx, query, key).Scan(&value, &live)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get %s: %w", key, err)
	}

	if !live {
		del := fmt.Sprintf(`DELETE FROM %s WHERE key = $1 AND expires_at <= now()`, ps.table)
		if _, err := ps.pool.Exec(ctx, del, key); err != nil {
			return "", false, fmt.Errorf("failed to delete expired %s: %w", key, err)
		}
		return "", false, nil
	}
	return value, true, nil
}

// Set upserts value with an expiry ttl from the database's now().
func (ps *PostgresStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	query := fmt.Sprintf(`INSERT INTO %s (key, value, expires_at)
VALUES ($1, $2, now() + make_interval(secs => $3))
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at`, ps.table)
	if _, err := ps.pool.Exec(ctx, query, key, value, ttl.Seconds()); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

// Sweep deletes every expired row and returns how many were removed.
func (ps *PostgresStore) Sweep(ctx context.Context) (int64, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE expires_at <= now()`, ps.table)
	tag, err := ps.pool.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep %s: %w", ps.table, err)
	}
	return tag.RowsAffected(), nil
}

// Ping checks the pool.
func (ps *PostgresStore) Ping(ctx context.Context) error {
	return ps.pool.Ping(ctx)
}

// Close closes the pool.
func (ps *PostgresStore) Close() error {
	ps.pool.Close()
	return nil
}
