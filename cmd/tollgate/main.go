package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/willibrandon/tollgate/internal/agent"
	"github.com/willibrandon/tollgate/internal/config"
	"github.com/willibrandon/tollgate/internal/logger"
	"github.com/willibrandon/tollgate/internal/ui"
	"github.com/willibrandon/tollgate/internal/ui/styles"
)

var (
	// Version info (set by ldflags)
	version = "dev"

	// Flags
	configPath string
	debug      bool
	outputFlag string
	noColor    bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tollgate",
		Short: "API gateway traffic metrics and threshold alerting",
		Long: `tollgate aggregates per-minute API gateway traffic samples and raises
threshold alerts for managed services.

Daemon:
  tollgate run [--debug]          Run the agent in the foreground
  tollgate install [--user]       Install as system/user service
  tollgate uninstall              Remove the service
  tollgate start|stop|restart     Control the installed service
  tollgate status                 Show service status and evaluation cycles

Data:
  tollgate ingest -f samples.yaml Ingest traffic samples
  tollgate evaluate [--as-of]     Run one evaluation cycle
  tollgate alerts list|ack        Query and acknowledge alerts
  tollgate metrics <service>      Show service metrics for a window
  tollgate services list|register Manage monitored services`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor || !ui.IsTerminal(os.Stdout) {
				styles.SetEnabled(false)
			}
		},
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default ~/.config/tollgate/tollgate.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&outputFlag, "output", "o", "", "output format: table, json or yaml (default table on a terminal, json otherwise)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(
		newRunCmd(),
		newInstallCmd(),
		newUninstallCmd(),
		newControlCmd("start", "Start the installed service"),
		newControlCmd("stop", "Stop the running service"),
		newControlCmd("restart", "Restart the service"),
		newStatusCmd(),
		newIngestCmd(),
		newEvaluateCmd(),
		newAlertsCmd(),
		newMetricsCmd(),
		newServicesCmd(),
	)

	return rootCmd
}

// loadConfig reads the explicit --config file or searches the default
// locations.
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadConfigFromPath(configPath)
	}
	return config.LoadConfig()
}

// mustLoadConfig exits with the config error code on failure.
func mustLoadConfig() *config.Config {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(agent.ExitConfigError)
	}
	return cfg
}

// initLogging sets up the rotated log file. console mirrors records to
// stderr and is only used by the foreground daemon.
func initLogging(cfg *config.Config, console bool) {
	level := cfg.Log.Level
	if debug || cfg.Debug {
		level = "debug"
	}
	if err := logger.Init(logger.Options{Level: level, Path: cfg.Log.File, Console: console}); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(agent.ExitConfigError)
	}
}

// outputFormat resolves --output.
func outputFormat() (ui.Format, error) {
	return ui.ParseFormat(outputFlag)
}
