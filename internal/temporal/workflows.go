package temporal

import (
	"errors"
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/efebarandurmaz/snapcheck/internal/metrics"
	"github.com/efebarandurmaz/snapcheck/internal/orchestrator"
	"github.com/efebarandurmaz/snapcheck/internal/snapshot"
)

// RoundTripInput holds the workflow parameters.
type RoundTripInput struct {
	Plan orchestrator.Plan
}

// RoundTripOutput holds the workflow result.
type RoundTripOutput struct {
	RunID    string
	Source   string
	Points   int
	Snapshot *snapshot.Descriptor
	Archive  snapshot.ArchiveEntry
	Targets  []metrics.TargetStats
}

// RoundTripWorkflow runs one snapshot round trip as activities. Service
// calls are not retried; the readiness activity does its own polling.
func RoundTripWorkflow(ctx workflow.Context, input RoundTripInput) (*RoundTripOutput, error) {
	plan := input.Plan
	if err := plan.Validate(); err != nil {
		return nil, temporal.NewNonRetryableApplicationError("invalid plan", "InvalidPlan", err)
	}

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Minute,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)
	logger := workflow.GetLogger(ctx)

	var a *Activities
	out := &RoundTripOutput{
		RunID:  workflow.GetInfo(ctx).WorkflowExecution.RunID,
		Source: plan.Source,
	}

	var cleanup CleanupInput
	defer func() {
		if len(cleanup.Collections) == 0 && cleanup.Snapshot == nil {
			return
		}
		dctx, cancel := workflow.NewDisconnectedContext(ctx)
		defer cancel()
		if err := workflow.ExecuteActivity(dctx, a.Cleanup, cleanup).Get(dctx, nil); err != nil {
			logger.Warn("cleanup failed", "error", err)
		}
	}()
	track := func(name string) {
		if plan.CleanupCollections {
			cleanup.Collections = append(cleanup.Collections, name)
		}
	}

	// Step 1: readiness gate
	if err := workflow.ExecuteActivity(ctx, a.WaitReady).Get(ctx, nil); err != nil {
		return nil, fmt.Errorf("%s: %w", orchestrator.StepWaitReady, err)
	}

	// Step 2: source collection
	if err := workflow.ExecuteActivity(ctx, a.CreateSource, plan.Source, plan.Vectors).Get(ctx, nil); err != nil {
		return nil, fmt.Errorf("%s: %w", orchestrator.StepPrepareSource, err)
	}
	track(plan.Source)
	if err := workflow.ExecuteActivity(ctx, a.UpsertPoints, plan.Source, plan.Points).Get(ctx, &out.Points); err != nil {
		return nil, fmt.Errorf("%s: %w", orchestrator.StepPrepareSource, err)
	}

	// Step 3: snapshot
	if err := workflow.ExecuteActivity(ctx, a.CreateSnapshot, plan.Source).Get(ctx, &out.Snapshot); err != nil {
		return nil, fmt.Errorf("%s: %w", orchestrator.StepCreate, err)
	}
	if plan.CleanupSnapshot {
		cleanup.Snapshot = out.Snapshot
	}

	// Step 4: download into the archive
	if err := workflow.ExecuteActivity(ctx, a.ArchiveSnapshot, out.Snapshot, out.RunID).Get(ctx, &out.Archive); err != nil {
		return nil, fmt.Errorf("%s: %w", orchestrator.StepDownload, err)
	}
	location, err := snapshot.LocationURL(plan.LocationBase, plan.Source, out.Snapshot.Name)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", orchestrator.StepDownload, err)
	}

	// Step 5: both recoveries in parallel, every failure kept
	targets := plan.Targets()
	futures := make([]workflow.Future, len(targets))
	for i, t := range targets {
		track(t.Name)
		futures[i] = workflow.ExecuteActivity(ctx, a.Recover, RecoverInput{
			Target:   t.Name,
			Method:   t.Method,
			Location: location,
			Entry:    out.Archive,
			Priority: plan.Priority,
		})
	}
	var errs []error
	for i, f := range futures {
		if err := f.Get(ctx, nil); err != nil {
			errs = append(errs, fmt.Errorf("recover %s by %s: %w", targets[i].Name, targets[i].Method, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("%s: %w", orchestrator.StepRecover, err)
	}

	// Step 6: verification
	want := uint64(len(plan.Points))
	for _, t := range targets {
		var stats metrics.TargetStats
		in := VerifyInput{Target: t.Name, Method: t.Method, Strict: plan.Strict, Want: want}
		if err := workflow.ExecuteActivity(ctx, a.Verify, in).Get(ctx, &stats); err != nil {
			errs = append(errs, err)
			continue
		}
		out.Targets = append(out.Targets, stats)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("%s: %w", orchestrator.StepVerify, err)
	}

	logger.Info("round trip passed", "source", plan.Source, "snapshot", out.Snapshot.Name)
	return out, nil
}
