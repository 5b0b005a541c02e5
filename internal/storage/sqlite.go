package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps buckets in a SQLite table. Expiry timestamps are unix
// milliseconds on the store's clock; expired rows are deleted when read and
// by Sweep.
type SQLiteStore struct {
	db    *sql.DB
	table string
	clock func() time.Time
}

// NewSQLiteStore opens the database named by config.ConnectionString and
// creates the bucket table if needed. ":memory:" works for local runs and tests.
func NewSQLiteStore(config Config) (*SQLiteStore, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required for SQLite storage")
	}

	table, err := tableName(config.Table)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	ss := &SQLiteStore{db: db, table: table, clock: config.now}
	if err := ss.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return ss, nil
}

func (ss *SQLiteStore) migrate(ctx context.Context) error {
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	expires_at INTEGER NOT NULL
)`, ss.table)
	if _, err := ss.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create table %s: %w", ss.table, err)
	}
	return nil
}

// Get returns the live value for key.
func (ss *SQLiteStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	var expiresAt int64
	query := fmt.Sprintf(`SELECT value, expires_at FROM %s WHERE key = ?`, ss.table)
	err := ss.db.QueryRowContext(ctx, query, key).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get %s: %w", key, err)
	}

	if expiresAt <= ss.clock().UnixMilli() {
		del := fmt.Sprintf(`DELETE FROM %s WHERE key = ? AND expires_at <= ?`, ss.table)
		if _, err := ss.db.ExecContext(ctx, del, key, expiresAt); err != nil {
			return "", false, fmt.Errorf("failed to delete expired %s: %w", key, err)
		}
		return "", false, nil
	}
	return value, true, nil
}

// Set upserts value with an expiry ttl from now.
func (ss *SQLiteStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	query := fmt.Sprintf(`INSERT INTO %s (key, value, expires_at) VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`, ss.table)
	expiresAt := ss.clock().Add(ttl).UnixMilli()
	if _, err := ss.db.ExecContext(ctx, query, key, value, expiresAt); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

// Sweep deletes every expired row and returns how many were removed.
func (ss *SQLiteStore) Sweep(ctx context.Context) (int64, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE expires_at <= ?`, ss.table)
	res, err := ss.db.ExecContext(ctx, query, ss.clock().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to sweep %s: %w", ss.table, err)
	}
	return res.RowsAffected()
}

// Ping checks the database handle.
func (ss *SQLiteStore) Ping(ctx context.Context) error {
	return ss.db.PingContext(ctx)
}

// Close closes the database.
func (ss *SQLiteStore) Close() error {
	return ss.db.Close()
}
