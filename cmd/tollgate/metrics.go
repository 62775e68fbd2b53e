package main

import (
	"context"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/willibrandon/tollgate/internal/agent"
	"github.com/willibrandon/tollgate/internal/report"
	"github.com/willibrandon/tollgate/internal/traffic"
	"github.com/willibrandon/tollgate/internal/ui"
	"github.com/willibrandon/tollgate/internal/ui/components"
	"github.com/willibrandon/tollgate/internal/ui/styles"
)

func newMetricsCmd() *cobra.Command {
	var window string

	cmd := &cobra.Command{
		Use:   "metrics <service-id>",
		Short: "Show aggregated service metrics for a window",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(cmd, func(ctx context.Context, core *agent.Core) error {
				r, err := core.Reports.QueryServiceMetrics(ctx, args[0], window)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), r, func() (string, error) {
					return renderReport(r, ui.Width(os.Stdout))
				})
			})
		},
	}
	cmd.Flags().StringVarP(&window, "window", "w", traffic.Window5m.String(), "window: 5m, 1h or 24h")
	return cmd
}

// renderReport lays out the report tree, the request rate timeline and the
// top routes chart.
func renderReport(r *report.Report, width int) (string, error) {
	var b strings.Builder
	b.WriteString(components.RenderReport(r))

	chart := components.DefaultChartConfig()
	chart.Width = width - 12
	b.WriteString("\n")
	b.WriteString(styles.Accent("Request rate"))
	b.WriteString("\n")
	b.WriteString(components.RenderTimeline(r.Timeline, chart))
	b.WriteString("\n")

	if len(r.TopRoutes) > 0 {
		bars, err := components.RenderTopRoutes(r.TopRoutes, width)
		if err != nil {
			return "", err
		}
		b.WriteString("\n")
		b.WriteString(styles.Accent("Top routes"))
		b.WriteString("\n")
		b.WriteString(bars)
	}

	return strings.TrimRight(b.String(), "\n"), nil
}
