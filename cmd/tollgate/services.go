package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/willibrandon/tollgate/internal/agent"
	"github.com/willibrandon/tollgate/internal/traffic"
	"github.com/willibrandon/tollgate/internal/ui/components"
)

func newServicesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "services",
		Short: "Manage the services evaluated each cycle",
	}
	cmd.AddCommand(newServicesListCmd(), newServicesRegisterCmd())
	return cmd
}

func newServicesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List managed services",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(cmd, func(ctx context.Context, core *agent.Core) error {
				list, err := core.Stores.Services.ListServices(ctx)
				if err != nil {
					return err
				}
				if list == nil {
					list = []traffic.Service{}
				}
				return render(cmd.OutOrStdout(), list, func() (string, error) {
					return components.ServicesTable(list, time.Now())
				})
			})
		},
	}
}

func newServicesRegisterCmd() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "register <service-id>",
		Short: "Register or rename a managed service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			if name == "" {
				name = id
			}
			return withCore(cmd, func(ctx context.Context, core *agent.Core) error {
				if err := core.Stores.Services.RegisterService(ctx, id, name); err != nil {
					return err
				}
				svc := traffic.Service{ID: id, Name: name}
				return render(cmd.OutOrStdout(), svc, func() (string, error) {
					return fmt.Sprintf("service %s registered", id), nil
				})
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name (default the id)")
	return cmd
}
