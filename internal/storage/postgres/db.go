// Package postgres provides PostgreSQL storage for traffic samples, managed
// services and alerts.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/willibrandon/tollgate/internal/logger"
)

const uniqueViolation = "23505"

// Options tunes the connection pool.
type Options struct {
	MaxConns       int32
	MinConns       int32
	ConnectRetries int
}

// DB wraps a pgx connection pool with the tollgate schema applied.
type DB struct {
	pool *pgxpool.Pool
}

// Open connects to dsn, retrying with exponential backoff, and applies the
// schema.
func Open(ctx context.Context, dsn string, opts Options) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if opts.MaxConns > 0 {
		poolConfig.MaxConns = opts.MaxConns
	}
	if opts.MinConns > 0 {
		poolConfig.MinConns = opts.MinConns
	}
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "tollgate"

	pool, err := connectWithRetry(ctx, poolConfig, opts.ConnectRetries)
	if err != nil {
		return nil, err
	}

	db := &DB{pool: pool}
	if err := db.initSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("postgres storage ready",
		"host", poolConfig.ConnConfig.Host,
		"database", poolConfig.ConnConfig.Database)
	return db, nil
}

// backoff returns 1s, 2s, 4s ... capped at 30s.
func backoff(attempt int) time.Duration {
	delay := time.Duration(1<<uint(attempt)) * time.Second
	if delay > 30*time.Second {
		delay = 30 * time.Second
	}
	return delay
}

func connectWithRetry(ctx context.Context, cfg *pgxpool.Config, retries int) (*pgxpool.Pool, error) {
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			delay := backoff(attempt - 1)
			logger.Warn("retrying postgres connection", "attempt", attempt, "delay", delay, "error", lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		pool, err := pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			lastErr = err
			continue
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			lastErr = err
			continue
		}
		return pool, nil
	}
	return nil, fmt.Errorf("connection refused: ensure PostgreSQL is running on %s:%d (error: %w)",
		cfg.ConnConfig.Host, cfg.ConnConfig.Port, lastErr)
}

// Close closes the pool.
func (db *DB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}

// Pool returns the underlying pool.
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// Ping checks the connection, for readiness probes.
func (db *DB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
