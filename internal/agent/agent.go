// Package agent runs tollgate as a long-lived process: the evaluation
// scheduler, sample retention and the HTTP API.
package agent

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/willibrandon/tollgate/internal/api"
	"github.com/willibrandon/tollgate/internal/config"
	"github.com/willibrandon/tollgate/internal/logger"
)

// Version is set by ldflags during build.
var Version = "dev"

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 10 * time.Second

// Agent is the tollgate daemon.
type Agent struct {
	cfg     *config.Config
	pidFile string

	mu        sync.Mutex
	started   bool
	startedAt time.Time
	cancel    context.CancelFunc

	core      *Core
	scheduler *Scheduler
	retention *RetentionManager
	server    *api.Server
}

// New creates an agent for cfg.
func New(cfg *config.Config) *Agent {
	return &Agent{cfg: cfg, pidFile: DefaultPIDFilePath()}
}

// SetPIDFile overrides the PID file path. Empty disables it.
func (a *Agent) SetPIDFile(path string) {
	a.pidFile = path
}

// Start opens storage and launches the scheduler, retention and HTTP
// server. On failure everything already started is torn down.
func (a *Agent) Start(ctx context.Context) (err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.started {
		return fmt.Errorf("agent already started")
	}

	logger.Info("starting tollgate", "version", Version, "pid", os.Getpid(), "storage", a.cfg.Storage.Driver)

	if a.pidFile != "" {
		if err := WritePIDFile(a.pidFile); err != nil {
			return err
		}
	}

	ctx, a.cancel = context.WithCancel(ctx)
	defer func() {
		if err != nil {
			a.teardown()
		}
	}()

	a.core, err = OpenCore(ctx, a.cfg)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}

	a.startedAt = time.Now()
	a.scheduler = NewScheduler(a.core.Evaluator, a.cfg.Evaluation.Interval, nil)
	if a.cfg.Evaluation.Enabled {
		if err = a.scheduler.Start(ctx); err != nil {
			return err
		}
	} else {
		logger.Info("scheduled evaluation disabled; cycles run only on demand")
	}

	a.retention = NewRetentionManager(a.core.Stores.Samples, a.cfg.Retention)
	a.retention.Start(ctx)

	if a.cfg.Server.Enabled {
		a.server = api.NewServer(a.apiDeps())
		err = a.server.Start(api.Config{
			Addr:         a.cfg.Server.Addr(),
			ReadTimeout:  a.cfg.Server.ReadTimeout,
			WriteTimeout: a.cfg.Server.WriteTimeout,
		})
		if err != nil {
			a.server = nil
			return err
		}
	}

	a.started = true
	logger.Info("tollgate started", "services", len(a.cfg.Services))
	return nil
}

func (a *Agent) apiDeps() api.Deps {
	probes := []api.Probe{
		{Name: "storage", Critical: true, Check: a.core.Stores.Ping},
	}
	if a.core.Cache != nil {
		probes = append(probes, api.Probe{Name: "cache", Check: a.core.Cache.Ping})
	}

	return api.Deps{
		Samples:   a.core.Stores.Samples,
		Services:  a.core.Stores.Services,
		Metrics:   a.core.Reports,
		Alerts:    a.core.Lifecycle,
		Evaluator: a.scheduler,
		History:   a.scheduler.History(),
		Probes:    probes,
		Version:   Version,
		StartedAt: a.startedAt,
	}
}

// Stop shuts the agent down gracefully. It is safe to call more than once.
func (a *Agent) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.started {
		return nil
	}
	logger.Info("stopping tollgate")
	a.teardown()
	a.started = false
	logger.Info("tollgate stopped")
	return nil
}

// teardown releases components in reverse start order. Callers hold mu.
func (a *Agent) teardown() {
	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := a.server.Shutdown(ctx); err != nil {
			logger.Warn("HTTP shutdown incomplete", "error", err)
		}
		cancel()
		a.server = nil
	}
	if a.retention != nil {
		a.retention.Stop()
		a.retention = nil
	}
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	if a.cancel != nil {
		a.cancel()
	}
	if a.core != nil {
		a.core.Close()
		a.core = nil
	}
	if a.pidFile != "" {
		if err := RemovePIDFile(a.pidFile); err != nil {
			logger.Warn("failed to remove PID file", "error", err)
		}
	}
}

// Addr returns the HTTP listen address, or "" when the server is off.
func (a *Agent) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server == nil {
		return ""
	}
	return a.server.Addr()
}

// Scheduler returns the evaluation scheduler of a started agent.
func (a *Agent) Scheduler() *Scheduler {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.scheduler
}
