package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/efebarandurmaz/snapcheck/internal/app"
	"github.com/efebarandurmaz/snapcheck/internal/config"
	"github.com/efebarandurmaz/snapcheck/internal/lifecycle"
	"github.com/efebarandurmaz/snapcheck/internal/metrics"
	"github.com/efebarandurmaz/snapcheck/internal/orchestrator"
)

type runFlags struct {
	collection string
	pointsFile string
	strict     bool
	cleanup    bool
	sequential bool
	report     string
	jsonOut    bool
}

func newRunCmd(configPath *string) *cobra.Command {
	var f runFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one snapshot round trip against the service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			applyRunFlags(cmd, cfg, f)
			return runRoundTrip(cmd, cfg, f.jsonOut)
		},
	}

	cmd.Flags().StringVar(&f.collection, "collection", "", "Source collection name (default: generated)")
	cmd.Flags().StringVar(&f.pointsFile, "points", "", "JSON file with the points to upsert")
	cmd.Flags().BoolVar(&f.strict, "strict", false, "Also require restored point counts to match")
	cmd.Flags().BoolVar(&f.cleanup, "cleanup", false, "Delete created collections and the snapshot afterwards")
	cmd.Flags().BoolVar(&f.sequential, "sequential", false, "Run the two recoveries one after the other")
	cmd.Flags().StringVar(&f.report, "report", "", "Write the run report to this file (.json or .yaml)")
	cmd.Flags().BoolVar(&f.jsonOut, "json", false, "Print the report as JSON instead of a summary")
	return cmd
}

// applyRunFlags lets explicitly set flags override the loaded config.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config, f runFlags) {
	flags := cmd.Flags()
	if flags.Changed("collection") {
		cfg.Collection.Name = f.collection
	}
	if flags.Changed("points") {
		cfg.Collection.PointsFile = f.pointsFile
	}
	if flags.Changed("strict") {
		cfg.Verify.Strict = f.strict
	}
	if flags.Changed("cleanup") {
		cfg.Cleanup.Collections = f.cleanup
		cfg.Cleanup.Snapshots = f.cleanup
	}
	if flags.Changed("sequential") {
		cfg.Recovery.Concurrent = !f.sequential
	}
	if flags.Changed("report") {
		cfg.Report.Path = f.report
	}
}

func runRoundTrip(cmd *cobra.Command, cfg *config.Config, jsonOut bool) (err error) {
	logger, err := app.NewLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	scope := lifecycle.NewScope(lifecycle.DefaultConfig(), logger)
	ctx := scope.WatchSignals(cmd.Context())
	defer func() {
		if cerr := scope.Close(ctx); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()

	if err := app.StartTracing(ctx, cfg, scope); err != nil {
		return err
	}
	if err := app.Provision(ctx, cfg, scope, logger); err != nil {
		return err
	}

	clients, err := app.NewClients(cfg, logger)
	if err != nil {
		return err
	}
	scope.Acquire("service clients", lifecycle.PriorityHTTP, func(ctx context.Context) error { return clients.Close() })

	plan, err := orchestrator.PlanFromConfig(cfg)
	if err != nil {
		return err
	}

	report, runErr := clients.Orchestrator(cfg, nil, logger).Run(ctx, plan)
	if report != nil {
		if err := writeReport(cmd.OutOrStdout(), cfg, report, jsonOut, logger); err != nil {
			return errors.Join(runErr, err)
		}
	}
	if runErr != nil {
		var stepErr *orchestrator.StepError
		if errors.As(runErr, &stepErr) {
			return fmt.Errorf("round trip failed at %s: %w", stepErr.Step, stepErr.Err)
		}
		return runErr
	}
	return nil
}

func writeReport(out io.Writer, cfg *config.Config, report *metrics.RunMetrics, jsonOut bool, logger *slog.Logger) error {
	if jsonOut {
		data, err := report.JSON()
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
	} else {
		report.PrintSummary(out)
	}

	if cfg.Report.Path != "" {
		if err := report.WriteFile(cfg.Report.Path); err != nil {
			return err
		}
		logger.Info("report written", "path", cfg.Report.Path)
	}
	return nil
}
