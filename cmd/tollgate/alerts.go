package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/willibrandon/tollgate/internal/agent"
	"github.com/willibrandon/tollgate/internal/alerts"
	"github.com/willibrandon/tollgate/internal/ui/components"
	"github.com/willibrandon/tollgate/internal/ui/styles"
)

func newAlertsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "Query and acknowledge alerts",
	}
	cmd.AddCommand(newAlertsListCmd(), newAlertsAckCmd())
	return cmd
}

func newAlertsListCmd() *cobra.Command {
	var (
		state, target, alertType string
		limit                    int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent alerts, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := alerts.Query{TargetID: target}
			if state != "" {
				s, err := alerts.ParseState(state)
				if err != nil {
					return err
				}
				q.State = s
			}
			if alertType != "" {
				t, err := alerts.ParseType(alertType)
				if err != nil {
					return err
				}
				q.Type = t
			}
			if cmd.Flags().Changed("limit") {
				q.Limit = &limit
			}

			return withCore(cmd, func(ctx context.Context, core *agent.Core) error {
				list, err := core.Lifecycle.Query(ctx, q)
				if err != nil {
					return err
				}
				if list == nil {
					list = []alerts.Summary{}
				}
				return render(cmd.OutOrStdout(), list, func() (string, error) {
					return components.AlertsTable(list, time.Now())
				})
			})
		},
	}
	cmd.Flags().StringVar(&state, "state", "", "filter by state (OPEN, ACKED, RESOLVED)")
	cmd.Flags().StringVar(&target, "target", "", "filter by service id")
	cmd.Flags().StringVar(&alertType, "type", "", "filter by alert type")
	cmd.Flags().IntVar(&limit, "limit", alerts.DefaultQueryLimit, "maximum number of alerts")
	return cmd
}

func newAlertsAckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ack <alert-id>",
		Short: "Acknowledge an open alert",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(cmd, func(ctx context.Context, core *agent.Core) error {
				res, err := core.Lifecycle.Acknowledge(ctx, args[0])
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), res, func() (string, error) {
					return fmt.Sprintf("alert %s is now %s", res.AlertID, styles.AlertState(res.State)), nil
				})
			})
		},
	}
}
