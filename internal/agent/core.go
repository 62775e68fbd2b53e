package agent

import (
	"context"
	"time"

	"github.com/willibrandon/tollgate/internal/alerts"
	"github.com/willibrandon/tollgate/internal/cache"
	"github.com/willibrandon/tollgate/internal/config"
	"github.com/willibrandon/tollgate/internal/logger"
	"github.com/willibrandon/tollgate/internal/report"
)

// Core holds the domain components shared by the daemon and the one-shot
// CLI commands.
type Core struct {
	Stores    *Stores
	Cache     *cache.ReportCache // nil when disabled
	Evaluator *alerts.Evaluator
	Lifecycle *alerts.Lifecycle
	Reports   *report.Builder
}

// OpenCore opens storage, registers configured services and builds the
// engines.
func OpenCore(ctx context.Context, cfg *config.Config) (*Core, error) {
	stores, err := OpenStorage(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}

	if err := stores.RegisterServices(ctx, cfg.Services); err != nil {
		stores.Close()
		return nil, err
	}

	c := &Core{Stores: stores}

	var reportCache report.Cache
	if cfg.Cache.Enabled {
		c.Cache = cache.NewReportCache(cache.Options{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
			TTL:      cfg.Cache.TTL,
		})

		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := c.Cache.Ping(pingCtx); err != nil {
			logger.Warn("report cache unreachable, serving uncached until it recovers",
				"addr", cfg.Cache.RedisAddr, "error", err)
		}
		cancel()
		reportCache = c.Cache
	}

	c.Evaluator = alerts.NewEvaluator(stores.Alerts, stores.Samples, stores.Services)
	c.Evaluator.SetConcurrency(cfg.Evaluation.Concurrency)
	c.Lifecycle = alerts.NewLifecycle(stores.Alerts)
	c.Reports = report.NewBuilder(stores.Samples, alerts.SystemClock{}, reportCache)

	return c, nil
}

// Close releases the cache and storage.
func (c *Core) Close() {
	if c.Cache != nil {
		_ = c.Cache.Close()
	}
	c.Stores.Close()
}
