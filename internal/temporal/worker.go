package temporal

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/efebarandurmaz/snapcheck/internal/orchestrator"
)

// StartWorker creates and starts a Temporal worker for round-trip runs.
func StartWorker(c client.Client, taskQueue string, activities *Activities) (worker.Worker, error) {
	w := worker.New(c, taskQueue, worker.Options{})

	w.RegisterWorkflow(RoundTripWorkflow)
	w.RegisterActivity(activities)

	if err := w.Start(); err != nil {
		return nil, fmt.Errorf("starting worker: %w", err)
	}
	return w, nil
}

// StartRoundTrip submits a round-trip workflow for plan. The workflow ID is
// derived from the source collection so two runs cannot share one source.
func StartRoundTrip(ctx context.Context, c client.Client, taskQueue string, plan orchestrator.Plan) (client.WorkflowRun, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	opts := client.StartWorkflowOptions{
		ID:        WorkflowID(plan.Source),
		TaskQueue: taskQueue,
	}
	run, err := c.ExecuteWorkflow(ctx, opts, RoundTripWorkflow, RoundTripInput{Plan: plan})
	if err != nil {
		return nil, fmt.Errorf("starting round trip for %s: %w", plan.Source, err)
	}
	return run, nil
}

// WorkflowID names the round-trip workflow for a source collection.
func WorkflowID(source string) string {
	return "snapcheck-" + source
}
