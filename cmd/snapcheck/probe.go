package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/efebarandurmaz/snapcheck/internal/app"
	"github.com/efebarandurmaz/snapcheck/internal/config"
)

func newProbeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Wait until the service is ready",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			logger, err := app.NewLogger(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			clients, err := app.NewClients(cfg, logger)
			if err != nil {
				return err
			}
			defer clients.Close()

			ctx := cmd.Context()
			if err := clients.Probe.WaitUntilReady(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is ready\n", cfg.Service.URL)

			if clients.Inspector != nil {
				info, err := clients.Inspector.Health(ctx)
				if err != nil {
					return fmt.Errorf("grpc health: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "grpc: %s %s\n", info.Title, info.Version)
			}
			return nil
		},
	}
}
