package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	temporalclient "go.temporal.io/sdk/client"

	"github.com/efebarandurmaz/snapcheck/internal/config"
	"github.com/efebarandurmaz/snapcheck/internal/orchestrator"
	temporalmod "github.com/efebarandurmaz/snapcheck/internal/temporal"
)

func newSubmitCmd(configPath *string) *cobra.Command {
	var f runFlags
	var wait bool

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a round trip to the Temporal worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			applyRunFlags(cmd, cfg, f)
			plan, err := orchestrator.PlanFromConfig(cfg)
			if err != nil {
				return err
			}

			c, err := temporalclient.Dial(temporalclient.Options{
				HostPort:  cfg.Temporal.Host,
				Namespace: cfg.Temporal.Namespace,
			})
			if err != nil {
				return fmt.Errorf("temporal client: %w", err)
			}
			defer c.Close()

			ctx := cmd.Context()
			run, err := temporalmod.StartRoundTrip(ctx, c, cfg.Temporal.TaskQueue, plan)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "submitted %s (run %s)\n", run.GetID(), run.GetRunID())
			if !wait {
				return nil
			}

			var out temporalmod.RoundTripOutput
			if err := run.Get(ctx, &out); err != nil {
				return fmt.Errorf("round trip %s: %w", run.GetID(), err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}

	cmd.Flags().StringVar(&f.collection, "collection", "", "Source collection name (default: generated)")
	cmd.Flags().StringVar(&f.pointsFile, "points", "", "JSON file with the points to upsert")
	cmd.Flags().BoolVar(&f.strict, "strict", false, "Also require restored point counts to match")
	cmd.Flags().BoolVar(&f.cleanup, "cleanup", false, "Delete created collections and the snapshot afterwards")
	cmd.Flags().BoolVar(&f.sequential, "sequential", false, "Run the two recoveries one after the other")
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait for the workflow and print its result")
	return cmd
}
