package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/willibrandon/tollgate/internal/agent"
	"github.com/willibrandon/tollgate/internal/api"
	"github.com/willibrandon/tollgate/internal/config"
	"github.com/willibrandon/tollgate/internal/metrics"
	"github.com/willibrandon/tollgate/internal/ui"
	"github.com/willibrandon/tollgate/internal/ui/components"
	"github.com/willibrandon/tollgate/internal/ui/styles"
)

const statusTimeout = 3 * time.Second

// statusReport is the output of the status command.
type statusReport struct {
	agent.Status `yaml:",inline"`
	Addr         string                `json:"addr,omitempty" yaml:"addr,omitempty"`
	Health       *api.HealthResponse   `json:"health,omitempty" yaml:"health,omitempty"`
	Cycles       []metrics.CycleRecord `json:"cycles,omitempty" yaml:"cycles,omitempty"`
	Error        string                `json:"error,omitempty" yaml:"error,omitempty"`
}

func newStatusCmd() *cobra.Command {
	var cycles int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show service status, health and recent evaluation cycles",
		Long: `Show service status including:
  - Service state (running/stopped/not installed)
  - Process ID and uptime
  - Component health and logged problems
  - Recent evaluation cycles and their durations`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				cfg = config.Default()
			}

			st, err := agent.QueryStatus(agent.DefaultPIDFilePath())
			if err != nil && st == nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}

			rep := statusReport{Status: *st}
			if st.State == "running" && cfg.Server.Enabled {
				rep.Addr = cfg.Server.Addr()
				ctx, cancel := context.WithTimeout(context.Background(), statusTimeout)
				rep.Health, rep.Cycles, err = fetchAgentState(ctx, "http://"+rep.Addr, cycles)
				cancel()
				if err != nil {
					rep.Error = err.Error()
				}
			}

			if err := render(cmd.OutOrStdout(), rep, func() (string, error) {
				return formatStatus(rep, ui.Width(os.Stdout))
			}); err != nil {
				return err
			}

			switch {
			case rep.State == "not_installed":
				os.Exit(agent.ExitNotInstalled)
			case rep.Health != nil && rep.Health.Status == api.StatusUnhealthy:
				os.Exit(1)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&cycles, "cycles", 60, "number of recent evaluation cycles to show")
	return cmd
}

// fetchAgentState reads /health and /v1/cycles from a running agent.
func fetchAgentState(ctx context.Context, baseURL string, limit int) (*api.HealthResponse, []metrics.CycleRecord, error) {
	var health api.HealthResponse
	if err := getJSON(ctx, baseURL+"/health", &health); err != nil {
		return nil, nil, err
	}
	if limit <= 0 {
		return &health, nil, nil
	}

	var records []metrics.CycleRecord
	if err := getJSON(ctx, fmt.Sprintf("%s/v1/cycles?limit=%d", baseURL, limit), &records); err != nil {
		return &health, nil, err
	}
	return &health, records, nil
}

// getJSON decodes the body of a GET. /health answers 503 with a body when
// unhealthy, so only statuses without a JSON body are errors.
func getJSON(ctx context.Context, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("agent unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("GET %s: %s: %s", url, resp.Status, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("GET %s: invalid response: %w", url, err)
	}
	return nil
}

// formatStatus renders the human-readable status.
func formatStatus(rep statusReport, width int) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "tollgate status: %s\n", styles.Health(rep.State))

	switch rep.State {
	case "not_installed":
		b.WriteString("\nTo install the service:\n  tollgate install\n")
		return strings.TrimRight(b.String(), "\n"), nil
	case "stopped":
		b.WriteString("\nTo start the service:\n  tollgate start\n")
		return strings.TrimRight(b.String(), "\n"), nil
	}

	if rep.PID > 0 {
		fmt.Fprintf(&b, "  %-12s %d\n", "PID:", rep.PID)
	}
	if rep.Addr != "" {
		fmt.Fprintf(&b, "  %-12s http://%s\n", "Address:", rep.Addr)
	}
	if rep.Error != "" {
		fmt.Fprintf(&b, "  %-12s %s\n", "Error:", styles.Critical(rep.Error))
	}

	if h := rep.Health; h != nil {
		fmt.Fprintf(&b, "  %-12s %s\n", "Health:", styles.Health(h.Status))
		if h.Version != "" {
			fmt.Fprintf(&b, "  %-12s %s\n", "Version:", h.Version)
		}
		fmt.Fprintf(&b, "  %-12s %s\n", "Uptime:", h.Uptime)
		fmt.Fprintf(&b, "  %-12s %d warnings, %d errors\n", "Problems:", h.Problems.Warnings, h.Problems.Errors)

		if len(h.Components) > 0 {
			b.WriteString("\nComponents:\n")
			for _, name := range sortedComponentNames(h.Components) {
				c := h.Components[name]
				line := fmt.Sprintf("  %-12s %s", name+":", styles.Health(c.Status))
				if c.Message != "" {
					line += "  " + styles.Muted(c.Message)
				}
				b.WriteString(line + "\n")
			}
		}
	}

	if len(rep.Cycles) > 0 {
		durations := make([]float64, len(rep.Cycles))
		for i, c := range rep.Cycles {
			durations[i] = float64(c.Duration) / float64(time.Millisecond)
		}
		chart := components.DefaultChartConfig()
		chart.Width = width - 12
		chart.Height = 6
		chart.Caption = fmt.Sprintf("cycle duration (ms), last %d cycles", len(rep.Cycles))

		b.WriteString("\n")
		b.WriteString(components.RenderSeries(durations, chart))
		b.WriteString("\n\n")

		recent := rep.Cycles
		if len(recent) > 5 {
			recent = recent[len(recent)-5:]
		}
		table, err := components.CyclesTable(recent)
		if err != nil {
			return "", err
		}
		b.WriteString(table)
	}

	return strings.TrimRight(b.String(), "\n"), nil
}

func sortedComponentNames(m map[string]api.ComponentHealth) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
