package agent

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/VividCortex/ewma"

	"github.com/willibrandon/tollgate/internal/alerts"
	"github.com/willibrandon/tollgate/internal/logger"
	"github.com/willibrandon/tollgate/internal/metrics"
)

// ErrSchedulerRunning is returned by Start on a running scheduler.
var ErrSchedulerRunning = errors.New("scheduler already running")

// slowCycleRatio is the share of the interval a smoothed cycle may use
// before it is reported as slow.
const slowCycleRatio = 0.8

// Runner evaluates one cycle as of a point in time.
type Runner interface {
	EvaluateAt(ctx context.Context, asOf time.Time) (alerts.CycleReport, error)
}

// Scheduler runs evaluation cycles on a fixed interval. At most one cycle
// runs at a time: a tick that finds a cycle in flight is dropped, and
// RunOnce waits for its turn.
type Scheduler struct {
	runner   Runner
	clock    alerts.Clock
	interval time.Duration
	history  *metrics.CycleHistory

	running sync.Mutex // held for the duration of a cycle

	avgMu sync.Mutex
	avg   ewma.MovingAverage

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(runner Runner, interval time.Duration, clock alerts.Clock) *Scheduler {
	if clock == nil {
		clock = alerts.SystemClock{}
	}
	return &Scheduler{
		runner:   runner,
		clock:    clock,
		interval: interval,
		history:  metrics.NewCycleHistory(metrics.DefaultHistoryCapacity),
		avg:      ewma.NewMovingAverage(),
	}
}

// History returns the recent cycle records.
func (s *Scheduler) History() *metrics.CycleHistory {
	return s.history
}

// Interval returns the tick interval.
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

// AverageCycle returns the smoothed cycle duration.
func (s *Scheduler) AverageCycle() time.Duration {
	s.avgMu.Lock()
	defer s.avgMu.Unlock()
	return time.Duration(s.avg.Value() * float64(time.Second))
}

// Start launches the tick loop. It returns immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return ErrSchedulerRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.loop(ctx, s.done)

	logger.Info("evaluation scheduler started", "interval", s.interval.String())
	return nil
}

// Stop halts the loop and waits for an in-flight cycle to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done

	logger.Info("evaluation scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs a cycle unless one is already in flight. It reports whether a
// cycle ran.
func (s *Scheduler) tick(ctx context.Context) bool {
	if !s.running.TryLock() {
		metrics.CyclesSkipped.Inc()
		logger.Warn("evaluation tick skipped: previous cycle still running")
		return false
	}
	defer s.running.Unlock()

	_, _ = s.run(ctx, s.clock.Now())
	return true
}

// RunOnce evaluates synchronously as of asOf, or now when asOf is zero.
// It waits for a running cycle to finish first.
func (s *Scheduler) RunOnce(ctx context.Context, asOf time.Time) (alerts.CycleReport, error) {
	s.running.Lock()
	defer s.running.Unlock()

	if asOf.IsZero() {
		asOf = s.clock.Now()
	}
	return s.run(ctx, asOf)
}

func (s *Scheduler) run(ctx context.Context, asOf time.Time) (alerts.CycleReport, error) {
	started := s.clock.Now()
	report, err := s.runner.EvaluateAt(ctx, asOf)

	metrics.ObserveCycle(report, err)
	s.history.Push(metrics.NewCycleRecord(started, report, err))

	if err != nil {
		logger.Error("evaluation cycle failed", "as_of", asOf, "error", err)
	}

	s.avgMu.Lock()
	s.avg.Add(report.Duration.Seconds())
	avg := time.Duration(s.avg.Value() * float64(time.Second))
	s.avgMu.Unlock()

	if s.interval > 0 && float64(avg) > slowCycleRatio*float64(s.interval) {
		logger.Warn("evaluation cycles approaching interval",
			"average", avg.String(),
			"interval", s.interval.String())
	}

	return report, err
}
