package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/kardianos/service"

	"github.com/willibrandon/tollgate/internal/config"
	"github.com/willibrandon/tollgate/internal/logger"
)

// Exit codes of the service management commands.
const (
	ExitSuccess          = 0
	ExitPermissionDenied = 1
	ExitServiceExists    = 2
	ExitConfigError      = 3
	ExitNotInstalled     = 4
	ExitStartFailed      = 5
)

const serviceName = "tollgate"

var (
	// ErrNotInstalled is returned when no service is registered.
	ErrNotInstalled = errors.New("service not installed")
	// ErrInstalled is returned by Install when the service exists.
	ErrInstalled = errors.New("service already installed")
)

// ServiceOptions configures the system service definition.
type ServiceOptions struct {
	ConfigPath string
	UserMode   bool
	Debug      bool
}

// program adapts Agent to service.Interface.
type program struct {
	cfg   *config.Config
	agent *Agent
}

// Start must not block; the agent starts in the background.
func (p *program) Start(s service.Service) error {
	p.agent = New(p.cfg)
	go func() {
		if err := p.agent.Start(context.Background()); err != nil {
			logger.Error("tollgate failed to start", "error", err)
			logger.Close()
			os.Exit(ExitStartFailed)
		}
	}()
	return nil
}

func (p *program) Stop(s service.Service) error {
	if p.agent == nil {
		return nil
	}
	return p.agent.Stop()
}

// NewService builds the service definition. cfg may be nil for management
// commands that never run the agent.
func NewService(opts ServiceOptions, cfg *config.Config) (service.Service, error) {
	svcConfig := &service.Config{
		Name:        serviceName,
		DisplayName: "Tollgate Gateway Metrics",
		Description: "Aggregates API gateway traffic samples and evaluates threshold alerts.",
		Arguments:   []string{"run"},
	}
	if opts.ConfigPath != "" {
		abs, err := filepath.Abs(opts.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve config path: %w", err)
		}
		svcConfig.Arguments = append(svcConfig.Arguments, "--config", abs)
	}
	if opts.Debug {
		svcConfig.Arguments = append(svcConfig.Arguments, "--debug")
	}

	options := service.KeyValue{}
	if opts.UserMode || userServiceInstalled() {
		options["UserService"] = true
	}
	switch runtime.GOOS {
	case "darwin":
		options["KeepAlive"] = true
		options["RunAtLoad"] = true
	case "linux":
		options["Restart"] = "on-failure"
	case "windows":
		options["OnFailure"] = "restart"
		options["OnFailureDelayDuration"] = "5s"
	}
	svcConfig.Option = options

	return service.New(&program{cfg: cfg}, svcConfig)
}

// Run runs the agent under the service manager, or in the foreground
// until interrupted when started from a terminal.
func Run(cfg *config.Config) error {
	svc, err := NewService(ServiceOptions{}, cfg)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}
	return svc.Run()
}

// Interactive reports whether the process runs from a terminal rather than
// a service manager.
func Interactive() bool {
	return service.Interactive()
}

// Install registers the system service.
func Install(opts ServiceOptions) error {
	svc, err := NewService(opts, nil)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	if status, err := svc.Status(); err == nil && status != service.StatusUnknown {
		return ErrInstalled
	}

	if err := svc.Install(); err != nil {
		if os.IsPermission(err) {
			return &PermissionError{Err: err}
		}
		return fmt.Errorf("failed to install service: %w", err)
	}
	return nil
}

// Uninstall stops and removes the system service.
func Uninstall() error {
	svc, err := NewService(ServiceOptions{}, nil)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	status, err := svc.Status()
	if err != nil || status == service.StatusUnknown {
		return ErrNotInstalled
	}
	if status == service.StatusRunning {
		_ = svc.Stop()
	}

	if err := svc.Uninstall(); err != nil {
		if os.IsPermission(err) {
			return &PermissionError{Err: err}
		}
		return fmt.Errorf("failed to uninstall service: %w", err)
	}
	return nil
}

// Control sends start, stop or restart to the installed service.
func Control(action string) error {
	svc, err := NewService(ServiceOptions{}, nil)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	status, err := svc.Status()
	if err != nil {
		return ErrNotInstalled
	}

	switch action {
	case "start":
		if status == service.StatusRunning {
			return fmt.Errorf("service already running")
		}
	case "stop":
		if status != service.StatusRunning {
			return fmt.Errorf("service not running")
		}
	case "restart":
	default:
		return fmt.Errorf("unknown service action %q", action)
	}

	if err := service.Control(svc, action); err != nil {
		if os.IsPermission(err) {
			return &PermissionError{Err: err}
		}
		return fmt.Errorf("failed to %s service: %w", action, err)
	}
	return nil
}

// Status is the service state as seen from the CLI.
type Status struct {
	State string `json:"state" yaml:"state"`
	PID   int    `json:"pid,omitempty" yaml:"pid,omitempty"`
}

// QueryStatus combines the service manager state with the PID file. A
// foreground agent shows up as running without an installed service.
func QueryStatus(pidFile string) (*Status, error) {
	st := &Status{State: "not_installed"}

	if svc, err := NewService(ServiceOptions{}, nil); err == nil {
		if s, err := svc.Status(); err == nil {
			switch s {
			case service.StatusRunning:
				st.State = "running"
			case service.StatusStopped:
				st.State = "stopped"
			default:
				st.State = "unknown"
			}
		}
	}

	pid, err := RunningPID(pidFile)
	if err != nil {
		return st, err
	}
	if pid > 0 {
		st.PID = pid
		st.State = "running"
	}
	return st, nil
}

// PermissionError indicates an operation requires elevated privileges.
type PermissionError struct {
	Err error
}

func (e *PermissionError) Error() string {
	if runtime.GOOS == "windows" {
		return "administrator privileges required"
	}
	return "permission denied (try with sudo)"
}

func (e *PermissionError) Unwrap() error {
	return e.Err
}

// userServiceInstalled reports whether a per-user launchd agent exists.
func userServiceInstalled() bool {
	if runtime.GOOS != "darwin" {
		return false
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return false
	}
	_, err = os.Stat(filepath.Join(home, "Library", "LaunchAgents", serviceName+".plist"))
	return err == nil
}
