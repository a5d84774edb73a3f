package trigger

import (
	"context"
	"errors"
	"fmt"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
)

// Register adds the workflow and activity to w under their public names.
func Register(w worker.Registry, acts *Activities) {
	w.RegisterWorkflowWithOptions(RunWorkflow, workflow.RegisterOptions{Name: RunWorkflowName})
	w.RegisterActivityWithOptions(acts.RunLakehouse, activity.RegisterOptions{Name: RunActivityName})
}

// NewWorker creates a worker on taskQueue with the trigger registered.
func NewWorker(c client.Client, taskQueue string, acts *Activities) worker.Worker {
	w := worker.New(c, taskQueue, worker.Options{
		// one run at a time per worker; runs share the staging dir and catalog objects
		MaxConcurrentActivityExecutionSize: 1,
	})
	Register(w, acts)
	return w
}

// WorkflowID is the Temporal workflow id used for a run.
func WorkflowID(runID string) string {
	return "lakehouse-run-" + runID
}

// Start submits req and returns the workflow handle.
func Start(ctx context.Context, c client.Client, taskQueue string, req Request) (client.WorkflowRun, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.RunID == "" {
		return nil, errors.New("run id is required to start a workflow")
	}
	opts := client.StartWorkflowOptions{
		ID:        WorkflowID(req.RunID),
		TaskQueue: taskQueue,
	}
	run, err := c.ExecuteWorkflow(ctx, opts, RunWorkflowName, req)
	if err != nil {
		return nil, fmt.Errorf("start workflow: %w", err)
	}
	return run, nil
}

// Await blocks until run completes. For a failed run it returns the Response
// carried in the error details alongside the error.
func Await(ctx context.Context, run client.WorkflowRun) (*Response, error) {
	var resp Response
	err := run.Get(ctx, &resp)
	if err == nil {
		return &resp, nil
	}
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) && appErr.Type() == ErrTypeRunFailed && appErr.HasDetails() {
		if derr := appErr.Details(&resp); derr == nil {
			return &resp, err
		}
	}
	return nil, err
}
