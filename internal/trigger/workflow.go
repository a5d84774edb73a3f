// Package trigger exposes a lakehouse run as a Temporal workflow so an external
// scheduler can start it by name with a retry policy.
package trigger

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/thiagogfgf/lakehouse-platform/internal/partition"
)

// =============================================================================
// NAMES
// =============================================================================

const (
	RunWorkflowName = "lakehouseRunWorkflow"
	RunActivityName = "RunLakehouse"

	ErrTypeInvalidInput = "INVALID_INPUT"
	ErrTypeRunFailed    = "RUN_FAILED"
)

// One attempt only. Task retries happen inside the run.
var runActivityOptions = workflow.ActivityOptions{
	StartToCloseTimeout: 6 * time.Hour,
	RetryPolicy: &temporal.RetryPolicy{
		MaximumAttempts: 1,
	},
}

// =============================================================================
// INPUTS/OUTPUTS
// =============================================================================

// Request starts one run for one partition.
type Request struct {
	RunID    string `json:"runId,omitempty"`
	Year     int    `json:"year"`
	Month    int    `json:"month"`
	Category string `json:"category"`
	// Retries and RetryDelaySeconds override the configured task retry policy when set.
	Retries           *int `json:"retries,omitempty"`
	RetryDelaySeconds *int `json:"retryDelaySeconds,omitempty"`
}

// Key returns the request's partition key.
func (r Request) Key() partition.Key {
	return partition.Key{Category: r.Category, Year: r.Year, Month: r.Month}
}

// Validate rejects a request before any task runs.
func (r Request) Validate() error {
	if err := r.Key().Validate(); err != nil {
		return err
	}
	if r.Retries != nil && *r.Retries < 0 {
		return fmt.Errorf("retries must be >= 0, got %d", *r.Retries)
	}
	if r.RetryDelaySeconds != nil && *r.RetryDelaySeconds < 0 {
		return fmt.Errorf("retry_delay_seconds must be >= 0, got %d", *r.RetryDelaySeconds)
	}
	return nil
}

// TaskStatus is one row of the run's status table.
type TaskStatus struct {
	Name     string `json:"name"`
	Status   string `json:"status"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error,omitempty"`
}

// Response reports the run outcome.
type Response struct {
	RunID      string       `json:"runId"`
	Succeeded  bool         `json:"succeeded"`
	FailedTask string       `json:"failedTask,omitempty"`
	Error      string       `json:"error,omitempty"`
	Tasks      []TaskStatus `json:"tasks"`
}

// =============================================================================
// WORKFLOW
// =============================================================================

// RunWorkflow runs the lakehouse graph once. A failed run completes the workflow
// with a non-retryable RUN_FAILED error whose details carry the Response.
func RunWorkflow(ctx workflow.Context, req Request) (*Response, error) {
	logger := workflow.GetLogger(ctx)

	if err := req.Validate(); err != nil {
		return nil, temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeInvalidInput, err)
	}
	if req.RunID == "" {
		req.RunID = workflow.GetInfo(ctx).WorkflowExecution.RunID
	}

	logger.Info("lakehouse run requested", "runId", req.RunID, "partition", req.Key().String())
	actCtx := workflow.WithActivityOptions(ctx, runActivityOptions)

	var resp Response
	if err := workflow.ExecuteActivity(actCtx, RunActivityName, req).Get(ctx, &resp); err != nil {
		return nil, err
	}
	if !resp.Succeeded {
		msg := fmt.Sprintf("run %s failed at task %s: %s", resp.RunID, resp.FailedTask, resp.Error)
		return nil, temporal.NewNonRetryableApplicationError(msg, ErrTypeRunFailed, nil, resp)
	}
	return &resp, nil
}
