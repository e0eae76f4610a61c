package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	temporalclient "go.temporal.io/sdk/client"
	temporallog "go.temporal.io/sdk/log"

	"github.com/efebarandurmaz/snapcheck/internal/app"
	"github.com/efebarandurmaz/snapcheck/internal/config"
	"github.com/efebarandurmaz/snapcheck/internal/lifecycle"
	"github.com/efebarandurmaz/snapcheck/internal/observability"
	"github.com/efebarandurmaz/snapcheck/internal/server"
	"github.com/efebarandurmaz/snapcheck/internal/snapshot"
	temporalmod "github.com/efebarandurmaz/snapcheck/internal/temporal"
)

func main() {
	configPath := ""
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}
	if err := run(context.Background(), configPath); err != nil {
		fmt.Fprintf(os.Stderr, "worker: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) (err error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logger, err := app.NewLogger(cfg, os.Stderr)
	if err != nil {
		return err
	}

	scope := lifecycle.NewScope(lifecycle.DefaultConfig(), logger)
	ctx = scope.WatchSignals(ctx)
	defer func() {
		if cerr := scope.Close(ctx); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()

	if err := app.StartTracing(ctx, cfg, scope); err != nil {
		return err
	}

	clients, err := app.NewClients(cfg, logger)
	if err != nil {
		return err
	}
	scope.Acquire("service clients", lifecycle.PriorityHTTP, func(context.Context) error { return clients.Close() })

	archiveDir := cfg.Archive.Dir
	if archiveDir == "" {
		archiveDir = filepath.Join(os.TempDir(), "snapcheck-archive")
	}
	archive := clients.Archive
	if archive == nil {
		if archive, err = snapshot.NewStore(archiveDir); err != nil {
			return err
		}
	}

	counters := observability.NewRunCounters()
	activities, err := temporalmod.NewActivities(temporalmod.Dependencies{
		Gate:        clients.Probe,
		Collections: clients.Collections,
		Snapshots:   clients.Snapshots,
		Verifier:    clients.Verifier,
		Archive:     archive,
		Counters:    counters,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	c, err := temporalclient.Dial(temporalclient.Options{
		HostPort:  cfg.Temporal.Host,
		Namespace: cfg.Temporal.Namespace,
		Logger:    temporallog.NewStructuredLogger(logger),
	})
	if err != nil {
		return fmt.Errorf("temporal client: %w", err)
	}
	scope.Acquire("temporal client", lifecycle.PriorityWorker, func(context.Context) error {
		c.Close()
		return nil
	})

	w, err := temporalmod.StartWorker(c, cfg.Temporal.TaskQueue, activities)
	if err != nil {
		return err
	}
	scope.Acquire("temporal worker", lifecycle.PriorityWorker, func(context.Context) error {
		w.Stop()
		return nil
	})

	health := server.NewHealthServer(&server.HealthConfig{Version: app.Version})
	health.RegisterCheck("temporal", server.TemporalHealthChecker(func(ctx context.Context) error {
		_, err := c.CheckHealth(ctx, &temporalclient.CheckHealthRequest{})
		return err
	}))
	health.RegisterCheck("service", server.ServiceHealthChecker(cfg.Service.URL, clients.Probe.Check))
	if clients.Inspector != nil {
		health.RegisterCheck("grpc", server.InspectorHealthChecker(clients.Inspector))
	}
	health.RegisterCheck("archive", server.ArchiveHealthChecker(archiveDir))
	health.Mount("/metrics", counters.Handler())

	serveErr := make(chan error, 1)
	go func() { serveErr <- health.Serve(ctx, cfg.Worker.HealthAddr) }()
	health.SetReady(true)

	logger.Info("worker started",
		"task_queue", cfg.Temporal.TaskQueue,
		"health_addr", cfg.Worker.HealthAddr,
		"archive", archiveDir)

	select {
	case <-ctx.Done():
		health.SetReady(false)
		logger.Info("worker stopping")
		return <-serveErr
	case err := <-serveErr:
		return err
	}
}
