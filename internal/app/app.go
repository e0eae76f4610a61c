// Package app wires configuration into the clients, resources and
// orchestrator shared by the snapcheck CLI and worker.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/efebarandurmaz/snapcheck/internal/collection"
	"github.com/efebarandurmaz/snapcheck/internal/config"
	"github.com/efebarandurmaz/snapcheck/internal/lifecycle"
	"github.com/efebarandurmaz/snapcheck/internal/logging"
	"github.com/efebarandurmaz/snapcheck/internal/observability"
	"github.com/efebarandurmaz/snapcheck/internal/orchestrator"
	"github.com/efebarandurmaz/snapcheck/internal/probe"
	"github.com/efebarandurmaz/snapcheck/internal/provision"
	"github.com/efebarandurmaz/snapcheck/internal/rest"
	"github.com/efebarandurmaz/snapcheck/internal/snapshot"
	"github.com/efebarandurmaz/snapcheck/internal/vector"
	"github.com/efebarandurmaz/snapcheck/internal/vector/qdrant"
	"github.com/efebarandurmaz/snapcheck/internal/verify"
)

// Version is stamped at build time with -ldflags.
var Version = "dev"

// Clients are the service clients built from one configuration.
type Clients struct {
	REST        *rest.Client
	Probe       *probe.Probe
	Collections *collection.Client
	Snapshots   *snapshot.Manager
	Verifier    *verify.Runner
	// Inspector is nil unless service.grpc_port is set.
	Inspector vector.Inspector
	// Archive is nil unless archive.dir is set.
	Archive *snapshot.Store
}

// NewLogger builds the process logger from cfg.
func NewLogger(cfg *config.Config, out io.Writer) (*slog.Logger, error) {
	return logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: out})
}

// NewClients builds every client cfg describes.
func NewClients(cfg *config.Config, logger *slog.Logger) (*Clients, error) {
	rc, err := rest.New(rest.Options{
		BaseURL:          cfg.Service.URL,
		APIKey:           cfg.Service.APIKey,
		Timeout:          cfg.Service.RequestTimeout,
		MaxResponseBytes: cfg.Service.MaxResponseBytes,
		UserAgent:        "snapcheck/" + Version,
	})
	if err != nil {
		return nil, fmt.Errorf("service client for %q: %w", cfg.Service.URL, err)
	}

	c := &Clients{
		REST:        rc,
		Probe:       probe.New(rc, probe.Config{MaxAttempts: cfg.Probe.MaxAttempts, Interval: cfg.Probe.Interval}, logger),
		Collections: collection.NewClient(rc),
		Snapshots:   snapshot.NewManager(rc),
	}

	var counter verify.PointCounter = verify.RESTCounter{Client: c.Collections}
	if cfg.Service.GRPCPort > 0 {
		host := cfg.Service.GRPCHost
		if host == "" {
			host = rc.BaseURL().Hostname()
		}
		inspector, err := qdrant.New(host, cfg.Service.GRPCPort, cfg.Service.APIKey)
		if err != nil {
			return nil, fmt.Errorf("grpc inspector: %w", err)
		}
		c.Inspector = inspector
		counter = inspector
	}
	c.Verifier = verify.NewRunner(c.Collections, counter, logger)

	if cfg.Archive.Dir != "" {
		store, err := snapshot.NewStore(cfg.Archive.Dir)
		if err != nil {
			c.Close()
			return nil, err
		}
		c.Archive = store
	}
	return c, nil
}

// Close releases the gRPC connection, if any.
func (c *Clients) Close() error {
	if c.Inspector != nil {
		return c.Inspector.Close()
	}
	return nil
}

// Orchestrator builds an orchestrator over c. counters may be nil.
func (c *Clients) Orchestrator(cfg *config.Config, counters *observability.RunCounters, logger *slog.Logger) *orchestrator.Orchestrator {
	opts := orchestrator.Options{
		Endpoint: cfg.Service.URL,
		Counters: counters,
		Logger:   logger,
	}
	if c.Archive != nil {
		opts.Archive = c.Archive
	}
	return orchestrator.New(c.Probe, c.Collections, c.Snapshots, c.Verifier, opts)
}

// StartTracing initializes tracing and registers its shutdown with scope.
func StartTracing(ctx context.Context, cfg *config.Config, scope *lifecycle.Scope) error {
	shutdown, err := observability.StartTracing(ctx, observability.Tracing{
		ServiceVersion: Version,
		Environment:    cfg.Tracing.Environment,
		Endpoint:       cfg.Tracing.Endpoint,
		SampleRate:     cfg.Tracing.SampleRate,
	})
	if err != nil {
		return err
	}
	scope.Acquire("tracing", lifecycle.PriorityTracing, shutdown)
	return nil
}

// Provision launches the service under test when cfg enables it. The
// process and its storage are released through scope.
func Provision(ctx context.Context, cfg *config.Config, scope *lifecycle.Scope, logger *slog.Logger) error {
	if !cfg.Provision.Enabled {
		return nil
	}

	storage, err := provision.NewTempStorage(cfg.Service.TempPath)
	if err != nil {
		return err
	}
	scope.Acquire("storage "+storage.Root, lifecycle.PriorityStorage, storage.Release)

	var output io.Writer
	if cfg.Provision.LogFile != "" {
		f, err := os.Create(cfg.Provision.LogFile)
		if err != nil {
			return fmt.Errorf("service log file: %w", err)
		}
		output = f
		scope.Acquire("service log", lifecycle.PriorityStorage, func(context.Context) error { return f.Close() })
	}

	proc := provision.NewProcess(provision.ProcessConfig{
		Executable:  cfg.Provision.Executable,
		Args:        cfg.Provision.Args,
		HTTPPort:    cfg.Provision.HTTPPort,
		GRPCPort:    cfg.Provision.GRPCPort,
		APIKey:      cfg.Service.APIKey,
		StopTimeout: cfg.Provision.StopTimeout,
		Output:      output,
	}, storage, logger)
	if err := proc.Start(ctx); err != nil {
		return err
	}
	scope.Acquire("service process", lifecycle.PriorityProcess, func(ctx context.Context) error {
		if !proc.Running() {
			logger.Warn("service process exited before teardown", "error", proc.ExitErr())
		}
		if err := proc.Stop(ctx); err != nil && !errors.Is(err, provision.ErrNotStarted) {
			return err
		}
		return nil
	})
	logger.Info("service provisioned", "storage", storage.Root, "temp_path", storage.TempPath)
	return nil
}
