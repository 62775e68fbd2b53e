package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/willibrandon/tollgate/internal/agent"
	"github.com/willibrandon/tollgate/internal/logger"
)

var userMode bool

// newRunCmd creates the run subcommand. Started by a service manager it
// hands control to kardianos/service; from a terminal it runs in the
// foreground until interrupted.
func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the agent (foreground or under the service manager)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := mustLoadConfig()
			agent.Version = version

			if !agent.Interactive() {
				initLogging(cfg, false)
				defer logger.Close()
				return agent.Run(cfg)
			}

			initLogging(cfg, true)
			defer logger.Close()
			return runForeground(cmd.Context(), agent.New(cfg))
		},
	}
}

// runForeground starts a and blocks until SIGINT or SIGTERM.
func runForeground(ctx context.Context, a *agent.Agent) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error starting agent: %v\n", err)
		logger.Close()
		os.Exit(agent.ExitStartFailed)
	}
	if addr := a.Addr(); addr != "" {
		fmt.Printf("tollgate listening on http://%s\n", addr)
	}

	<-ctx.Done()
	fmt.Println("\nShutting down...")

	if err := a.Stop(); err != nil {
		return fmt.Errorf("failed to stop agent: %w", err)
	}
	return nil
}

// newInstallCmd creates the install subcommand
func newInstallCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install tollgate as a system service",
		Long: `Install tollgate as a system service that starts on boot.

Use --user to install as a user service (no elevated privileges required).
System service installation requires administrator/root privileges.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath != "" {
				// Fail now rather than at every service start.
				mustLoadConfig()
			}

			opts := agent.ServiceOptions{
				ConfigPath: configPath,
				UserMode:   userMode,
				Debug:      debug,
			}
			if err := agent.Install(opts); err != nil {
				var permErr *agent.PermissionError
				switch {
				case errors.As(err, &permErr):
					fmt.Fprintf(os.Stderr, "Error: %v\n", permErr)
					os.Exit(agent.ExitPermissionDenied)
				case errors.Is(err, agent.ErrInstalled):
					fmt.Fprintf(os.Stderr, "Error: service already installed\n")
					fmt.Fprintf(os.Stderr, "Use 'tollgate uninstall' first to reinstall\n")
					os.Exit(agent.ExitServiceExists)
				}
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(agent.ExitConfigError)
			}

			fmt.Println("tollgate installed successfully")
			if userMode {
				fmt.Println("Installed as user service")
			} else {
				fmt.Println("Installed as system service")
			}
			fmt.Println("\nTo start the service:")
			fmt.Println("  tollgate start")
			return nil
		},
	}
	cmd.Flags().BoolVar(&userMode, "user", false, "install as user service instead of system")
	return cmd
}

// newUninstallCmd creates the uninstall subcommand
func newUninstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the tollgate service",
		Long:  `Remove the tollgate service. The service is stopped first if running.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := agent.Uninstall(); err != nil {
				exitServiceError(err)
			}
			fmt.Println("tollgate uninstalled successfully")
			return nil
		},
	}
}

// newControlCmd creates start, stop and restart.
func newControlCmd(action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := agent.Control(action); err != nil {
				exitServiceError(err)
			}
			fmt.Printf("tollgate %s: ok\n", action)
			return nil
		},
	}
}

// exitServiceError maps a service management error to its exit code.
func exitServiceError(err error) {
	var permErr *agent.PermissionError
	switch {
	case errors.As(err, &permErr):
		fmt.Fprintf(os.Stderr, "Error: %v\n", permErr)
		os.Exit(agent.ExitPermissionDenied)
	case errors.Is(err, agent.ErrNotInstalled):
		fmt.Fprintf(os.Stderr, "Error: service not installed\n")
		fmt.Fprintf(os.Stderr, "Use 'tollgate install' first\n")
		os.Exit(agent.ExitNotInstalled)
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(agent.ExitStartFailed)
}
