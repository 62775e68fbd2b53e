// Package cache implements the service metrics report cache in Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sony/gobreaker"

	"github.com/willibrandon/tollgate/internal/logger"
	"github.com/willibrandon/tollgate/internal/report"
)

// DefaultTTL is how long a built report stays cached.
const DefaultTTL = 30 * time.Second

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
	Timeout  time.Duration
}

// ReportCache caches reports in Redis. Every call goes through a circuit
// breaker; while it is open, reads miss and writes are dropped.
type ReportCache struct {
	client  *redis.Client
	breaker *gobreaker.CircuitBreaker
	ttl     time.Duration
}

// NewReportCache creates the cache. It does not contact Redis; use Ping.
func NewReportCache(opts Options) *ReportCache {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 500 * time.Millisecond
	}

	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     20,
		MinIdleConns: 2,
		MaxRetries:   1,
		DialTimeout:  opts.Timeout,
		ReadTimeout:  opts.Timeout,
		WriteTimeout: opts.Timeout,
	})

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "redis-report-cache",
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("cache circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return &ReportCache{client: client, breaker: breaker, ttl: opts.TTL}
}

// Get returns the cached report for key. Any failure is a miss.
func (c *ReportCache) Get(ctx context.Context, key string) (*report.Report, bool) {
	v, err := c.breaker.Execute(func() (interface{}, error) {
		data, err := c.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return data, nil
	})
	if err != nil {
		if !errors.Is(err, gobreaker.ErrOpenState) && !errors.Is(err, gobreaker.ErrTooManyRequests) {
			logger.Debug("cache read failed", "key", key, "error", err)
		}
		return nil, false
	}

	data, ok := v.([]byte)
	if !ok || data == nil {
		return nil, false
	}

	var r report.Report
	if err := json.Unmarshal(data, &r); err != nil {
		logger.Debug("discarding undecodable cache entry", "key", key, "error", err)
		return nil, false
	}
	return &r, true
}

// Set stores r under key with the configured TTL. Failures are logged and
// otherwise ignored.
func (c *ReportCache) Set(ctx context.Context, key string, r *report.Report) {
	data, err := json.Marshal(r)
	if err != nil {
		logger.Warn("failed to marshal report for cache", "key", key, "error", err)
		return
	}

	_, err = c.breaker.Execute(func() (interface{}, error) {
		return nil, c.client.Set(ctx, key, data, c.ttl).Err()
	})
	if err != nil && !errors.Is(err, gobreaker.ErrOpenState) && !errors.Is(err, gobreaker.ErrTooManyRequests) {
		logger.Debug("cache write failed", "key", key, "error", err)
	}
}

// Ping checks the Redis connection.
func (c *ReportCache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return nil
}

// State reports the circuit breaker state ("closed", "half-open", "open").
func (c *ReportCache) State() string {
	return c.breaker.State().String()
}

// Close closes the connection pool.
func (c *ReportCache) Close() error {
	return c.client.Close()
}
