// Package db opens the PostgreSQL pool behind the watch_incidents store and
// applies its schema.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/lib/pq"
	"github.com/sethvargo/go-retry"
)

const SchemaFile = "schema.sql"

// schemaLockKey serializes schema application across replicas starting at
// the same time.
const schemaLockKey int64 = 0x6e78_7761_7463_68

// requiredTables must exist once the schema is applied.
var requiredTables = []string{"watch_incidents"}

type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	// ConnectRetries is the number of pings retried after the first one
	// while the database is still starting.
	ConnectRetries uint64
	ConnectDelay   time.Duration
}

func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    20,
		MaxIdleConns:    5,
		ConnMaxIdleTime: 5 * time.Minute,
		ConnectRetries:  5,
		ConnectDelay:    200 * time.Millisecond,
	}
}

func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	return OpenWithConfig(ctx, dsn, DefaultPoolConfig())
}

func OpenWithConfig(ctx context.Context, dsn string, cfg PoolConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	delay := cfg.ConnectDelay
	if delay <= 0 {
		delay = DefaultPoolConfig().ConnectDelay
	}
	backoff := retry.WithMaxRetries(cfg.ConnectRetries, retry.NewExponential(delay))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// RunMigrations applies schemaDir/schema.sql under an advisory lock and
// checks that the incident tables exist. The schema is idempotent.
func RunMigrations(ctx context.Context, db *sql.DB, schemaDir string) error {
	path := filepath.Join(schemaDir, SchemaFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read schema: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", schemaLockKey); err != nil {
		return fmt.Errorf("lock schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, string(data)); err != nil {
		return fmt.Errorf("apply schema %s: %w", path, err)
	}
	for _, table := range requiredTables {
		var ok bool
		if err := tx.QueryRowContext(ctx, "SELECT to_regclass($1) IS NOT NULL", table).Scan(&ok); err != nil {
			return fmt.Errorf("check table %s: %w", table, err)
		}
		if !ok {
			return fmt.Errorf("schema %s did not create table %s", path, table)
		}
	}
	return tx.Commit()
}
