// Package orchestrator sequences one snapshot round trip: readiness gate,
// source collection, snapshot, download, both recoveries and verification.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel/trace"

	"github.com/efebarandurmaz/snapcheck/internal/collection"
	"github.com/efebarandurmaz/snapcheck/internal/lifecycle"
	"github.com/efebarandurmaz/snapcheck/internal/metrics"
	"github.com/efebarandurmaz/snapcheck/internal/observability"
	"github.com/efebarandurmaz/snapcheck/internal/rest"
	"github.com/efebarandurmaz/snapcheck/internal/snapshot"
)

// Step names as they appear in reports, spans and logs.
const (
	StepWaitReady     = "wait_ready"
	StepPrepareSource = "prepare_source"
	StepCreate        = "create_snapshot"
	StepDownload      = "download_snapshot"
	StepRecover       = "recover"
	StepVerify        = "verify"
)

// ReadinessGate blocks until the service answers.
type ReadinessGate interface {
	WaitUntilReady(ctx context.Context) error
}

// Collections is the subset of the collection client the run needs.
type Collections interface {
	Create(ctx context.Context, name string, cfg collection.VectorConfig) error
	UpsertPoints(ctx context.Context, name string, points []collection.Point, wait bool) (*collection.Ack, error)
	Delete(ctx context.Context, name string) error
}

// Snapshots is the subset of the snapshot manager the run needs.
type Snapshots interface {
	Create(ctx context.Context, collection string) (*snapshot.Descriptor, error)
	Download(ctx context.Context, desc *snapshot.Descriptor) (snapshot.Blob, error)
	Delete(ctx context.Context, desc *snapshot.Descriptor) error
	Recover(ctx context.Context, req snapshot.RecoveryRequest) error
}

// Verifier checks recovered collections.
type Verifier interface {
	AssertCollectionExists(ctx context.Context, name string) (*collection.Info, error)
	AssertPointCount(ctx context.Context, name string, want uint64) error
}

// Archive keeps downloaded snapshots.
type Archive interface {
	Save(desc *snapshot.Descriptor, runID string, blob snapshot.Blob) (snapshot.ArchiveEntry, error)
}

// Options configures an Orchestrator. Every field is optional.
type Options struct {
	// Endpoint is recorded in the report.
	Endpoint        string
	TeardownTimeout time.Duration
	Archive         Archive
	Counters        *observability.RunCounters
	Logger          *slog.Logger
}

// Orchestrator runs round trips. It is safe to call Run concurrently with
// different plans.
type Orchestrator struct {
	gate        ReadinessGate
	collections Collections
	snapshots   Snapshots
	verifier    Verifier
	opts        Options
	logger      *slog.Logger
}

// New creates an Orchestrator.
func New(gate ReadinessGate, collections Collections, snapshots Snapshots, verifier Verifier, opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.TeardownTimeout <= 0 {
		opts.TeardownTimeout = 30 * time.Second
	}
	return &Orchestrator{
		gate:        gate,
		collections: collections,
		snapshots:   snapshots,
		verifier:    verifier,
		opts:        opts,
		logger:      logger,
	}
}

// RunContext carries the state of one run between steps.
type RunContext struct {
	ID       string
	Plan     Plan
	State    State
	Targets  []Target
	Snapshot *snapshot.Descriptor
	Blob     snapshot.Blob
	Location string
	Report   *metrics.RunMetrics

	scope *lifecycle.Scope
}

type stepFunc func(ctx context.Context, run *RunContext) error

// Run executes plan and returns its report. The report is never nil once
// the plan is valid, even when the run fails. Resources acquired during the
// run are released before Run returns.
func (o *Orchestrator) Run(ctx context.Context, plan Plan) (report *metrics.RunMetrics, err error) {
	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", rest.ErrInvalidArgument, err)
	}

	run := &RunContext{
		ID:      uuid.NewString(),
		Plan:    plan,
		State:   StateIdle,
		Targets: plan.Targets(),
		scope:   lifecycle.NewScope(&lifecycle.Config{Timeout: o.opts.TeardownTimeout}, o.logger),
	}
	run.Report = metrics.New(run.ID, o.opts.Endpoint)
	run.Report.Source = metrics.CollectionStats{
		Name:       plan.Source,
		VectorSize: plan.Vectors.Size,
		Distance:   string(plan.Vectors.Distance),
	}

	ctx, span := observability.StartRunSpan(ctx, run.ID, plan.Source)
	if o.opts.Counters != nil {
		o.opts.Counters.RunStarted()
	}
	logger := o.logger.With("run_id", run.ID, "source", plan.Source)
	logger.Info("run started", "points", len(plan.Points), "concurrent", plan.Concurrent, "strict", plan.Strict)

	defer func() {
		logger.Debug("teardown", "hooks", run.scope.Len())
		if cerr := run.scope.Close(ctx); cerr != nil {
			logger.Warn("teardown incomplete", "error", cerr)
		}
		var failedStep string
		var stepErr *StepError
		if errors.As(err, &stepErr) {
			failedStep = stepErr.Step
		}
		run.Report.Finish(failedStep, err)
		observability.RecordError(span, err)
		span.End()
		if o.opts.Counters != nil {
			o.opts.Counters.RunFinished(run.Report.Duration, err)
		}
		if err != nil {
			logger.Error("run failed", "state", run.State, "error", err)
		} else {
			logger.Info("run passed", "duration", run.Report.Duration)
		}
		report = run.Report
	}()

	steps := []struct {
		name string
		to   State
		fn   stepFunc
	}{
		{StepWaitReady, StateWaitingReady, o.waitReady},
		{StepPrepareSource, StateSourcePrepared, o.prepareSource},
		{StepCreate, StateSnapshotCreated, o.createSnapshot},
		{StepDownload, StateSnapshotDownloaded, o.downloadSnapshot},
		{StepRecover, StateRecoveringBoth, o.recoverBoth},
		{StepVerify, StateVerified, o.verifyTargets},
	}
	for _, s := range steps {
		if err := o.step(ctx, run, logger, s.name, s.to, s.fn); err != nil {
			return nil, err
		}
	}
	run.State = StateDone
	return nil, nil
}

func (o *Orchestrator) step(ctx context.Context, run *RunContext, logger *slog.Logger, name string, to State, fn stepFunc) error {
	if !run.State.CanTransition(to) {
		run.State = StateFailed
		return &StepError{Step: name, State: to, Err: fmt.Errorf("invalid transition from %s", run.State)}
	}

	ctx, span := observability.StartStepSpan(ctx, name, string(to))
	defer span.End()

	start := time.Now()
	err := ctx.Err()
	if err == nil {
		err = fn(ctx, run)
	}
	elapsed := time.Since(start)

	observability.RecordStepResult(span, elapsed, err)
	run.Report.AddStep(name, string(to), elapsed, err)
	if o.opts.Counters != nil {
		o.opts.Counters.ObserveStep(name, elapsed, err)
	}

	if err != nil {
		logger.Error("step failed", "step", name, "state", to, "error", err)
		run.State = StateFailed
		return &StepError{Step: name, State: to, Err: err}
	}
	logger.Info("step completed", "step", name, "state", to, "duration", elapsed)
	run.State = to
	return nil
}

func (o *Orchestrator) waitReady(ctx context.Context, _ *RunContext) error {
	return o.gate.WaitUntilReady(ctx)
}

func (o *Orchestrator) prepareSource(ctx context.Context, run *RunContext) error {
	plan := run.Plan
	if err := o.collections.Create(ctx, plan.Source, plan.Vectors); err != nil {
		return err
	}
	if plan.CleanupCollections {
		o.acquireCollection(run, plan.Source)
	}

	ack, err := o.collections.UpsertPoints(ctx, plan.Source, plan.Points, true)
	if err != nil {
		return err
	}
	run.Report.Source.Points = ack.Count
	return nil
}

func (o *Orchestrator) createSnapshot(ctx context.Context, run *RunContext) error {
	desc, err := o.snapshots.Create(ctx, run.Plan.Source)
	if err != nil {
		return err
	}
	run.Snapshot = desc
	if run.Plan.CleanupSnapshot {
		run.scope.Acquire("snapshot "+desc.Name, lifecycle.PriorityCollection, func(ctx context.Context) error {
			return ignoreNotFound(o.snapshots.Delete(ctx, desc))
		})
	}
	run.Report.Snapshot.Name = desc.Name
	run.Report.Snapshot.Checksum = desc.Checksum
	return nil
}

func (o *Orchestrator) downloadSnapshot(ctx context.Context, run *RunContext) error {
	blob, err := o.snapshots.Download(ctx, run.Snapshot)
	if err != nil {
		return err
	}
	location, err := snapshot.LocationURL(run.Plan.LocationBase, run.Plan.Source, run.Snapshot.Name)
	if err != nil {
		return err
	}
	run.Blob = blob
	run.Location = location

	size := int64(len(blob))
	run.Report.Snapshot.Bytes = size
	if run.Report.Snapshot.Checksum == "" {
		run.Report.Snapshot.Checksum = blob.Checksum()
	}
	observability.RecordSnapshot(trace.SpanFromContext(ctx), run.Snapshot.Name, size)
	if o.opts.Counters != nil {
		o.opts.Counters.ObserveSnapshot(size)
	}

	if o.opts.Archive != nil {
		entry, err := o.opts.Archive.Save(run.Snapshot, run.ID, blob)
		if err != nil {
			return fmt.Errorf("archive snapshot: %w", err)
		}
		run.Report.Snapshot.Archived = entry.ContentHash
	}
	return nil
}

// recoverBoth runs both recoveries and reports every failure.
func (o *Orchestrator) recoverBoth(ctx context.Context, run *RunContext) error {
	if run.Plan.CleanupCollections {
		for _, t := range run.Targets {
			o.acquireCollection(run, t.Name)
		}
	}

	if run.Plan.Concurrent {
		p := pool.New().WithErrors().WithContext(ctx)
		for _, t := range run.Targets {
			p.Go(func(ctx context.Context) error {
				return o.recoverTarget(ctx, run, t)
			})
		}
		return p.Wait()
	}

	var errs []error
	for _, t := range run.Targets {
		errs = append(errs, o.recoverTarget(ctx, run, t))
	}
	return errors.Join(errs...)
}

func (o *Orchestrator) recoverTarget(ctx context.Context, run *RunContext, t Target) error {
	ctx, span := observability.StartRecoverySpan(ctx, t.Name, t.Method)
	defer span.End()

	req := snapshot.RecoveryRequest{Target: t.Name, Priority: run.Plan.Priority}
	switch t.Method {
	case MethodLocation:
		req.Location = run.Location
	case MethodUpload:
		req.Blob = run.Blob
		req.BlobName = run.Snapshot.Name
	default:
		return fmt.Errorf("%w: unknown recovery method %q", rest.ErrInvalidArgument, t.Method)
	}

	err := o.snapshots.Recover(ctx, req)
	observability.RecordError(span, err)
	run.Report.SetTarget(metrics.TargetStats{Name: t.Name, Method: t.Method})
	if o.opts.Counters != nil {
		o.opts.Counters.ObserveRecovery(t.Method, err)
	}
	if err != nil {
		return err
	}
	o.logger.Info("collection recovered", "run_id", run.ID, "target", t.Name, "method", t.Method)
	return nil
}

func (o *Orchestrator) verifyTargets(ctx context.Context, run *RunContext) error {
	want := uint64(len(run.Plan.Points))
	var errs []error
	for _, t := range run.Targets {
		info, err := o.verifier.AssertCollectionExists(ctx, t.Name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if run.Plan.Strict {
			if err := o.verifier.AssertPointCount(ctx, t.Name, want); err != nil {
				errs = append(errs, err)
				continue
			}
		}
		run.Report.SetTarget(metrics.TargetStats{
			Name:     t.Name,
			Method:   t.Method,
			Verified: true,
			Points:   info.PointsCount,
		})
	}
	return errors.Join(errs...)
}

func (o *Orchestrator) acquireCollection(run *RunContext, name string) {
	run.scope.Acquire("collection "+name, lifecycle.PriorityCollection, func(ctx context.Context) error {
		return ignoreNotFound(o.collections.Delete(ctx, name))
	})
}

func ignoreNotFound(err error) error {
	if errors.Is(err, rest.ErrNotFound) {
		return nil
	}
	return err
}
