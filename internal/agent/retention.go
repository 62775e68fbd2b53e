package agent

import (
	"context"
	"sync"
	"time"

	"github.com/willibrandon/tollgate/internal/alerts"
	"github.com/willibrandon/tollgate/internal/config"
	"github.com/willibrandon/tollgate/internal/logger"
	"github.com/willibrandon/tollgate/internal/metrics"
)

// Pruner deletes old samples in bounded batches.
type Pruner interface {
	PruneSamples(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

// RetentionManager periodically removes samples older than the retention
// period. Deletes run in batches so readers are never blocked for long.
type RetentionManager struct {
	pruner    Pruner
	retention time.Duration
	interval  time.Duration
	batchSize int
	clock     alerts.Clock

	// pause between batches
	batchPause time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRetentionManager creates a stopped manager.
func NewRetentionManager(pruner Pruner, cfg config.RetentionConfig) *RetentionManager {
	return &RetentionManager{
		pruner:     pruner,
		retention:  cfg.Samples,
		interval:   cfg.PruneInterval,
		batchSize:  cfg.BatchSize,
		clock:      alerts.SystemClock{},
		batchPause: 10 * time.Millisecond,
	}
}

// SetClock replaces the clock used to compute the cutoff.
func (rm *RetentionManager) SetClock(c alerts.Clock) {
	rm.clock = c
}

// Start prunes once, then on every interval until Stop.
func (rm *RetentionManager) Start(ctx context.Context) {
	ctx, rm.cancel = context.WithCancel(ctx)

	logger.Info("retention manager started",
		"retention", rm.retention.String(),
		"interval", rm.interval.String())

	rm.wg.Add(1)
	go func() {
		defer rm.wg.Done()

		rm.pruneAndLog(ctx)

		ticker := time.NewTicker(rm.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rm.pruneAndLog(ctx)
			}
		}
	}()
}

// Stop halts the loop.
func (rm *RetentionManager) Stop() {
	if rm.cancel == nil {
		return
	}
	rm.cancel()
	rm.wg.Wait()
	logger.Info("retention manager stopped")
}

func (rm *RetentionManager) pruneAndLog(ctx context.Context) {
	n, err := rm.PruneNow(ctx)
	if err != nil && ctx.Err() == nil {
		logger.Error("sample retention prune failed", "pruned", n, "error", err)
		return
	}
	if n > 0 {
		logger.Info("pruned expired samples", "count", n)
	}
}

// PruneNow deletes every expired sample, batch by batch, and returns the
// total removed.
func (rm *RetentionManager) PruneNow(ctx context.Context) (int64, error) {
	cutoff := rm.clock.Now().Add(-rm.retention)
	var total int64

	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		n, err := rm.pruner.PruneSamples(ctx, cutoff, rm.batchSize)
		if err != nil {
			return total, err
		}
		total += n
		metrics.SamplesPruned.Add(float64(n))

		if n < int64(rm.batchSize) {
			return total, nil
		}

		select {
		case <-ctx.Done():
			return total, ctx.Err()
		case <-time.After(rm.batchPause):
		}
	}
}
