package trigger

import (
	"context"
	"errors"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/thiagogfgf/lakehouse-platform/internal/orchestration"
	"github.com/thiagogfgf/lakehouse-platform/internal/partition"
)

// Runner executes one lakehouse run. *pipeline.Runner satisfies it.
type Runner interface {
	Run(ctx context.Context, runID string, key partition.Key, policy orchestration.RetryPolicy, only ...string) (*orchestration.Result, error)
}

// Activities holds the trigger's Temporal activities.
type Activities struct {
	runner   Runner
	defaults orchestration.RetryPolicy
}

func NewActivities(runner Runner, defaults orchestration.RetryPolicy) *Activities {
	return &Activities{runner: runner, defaults: defaults}
}

// RunLakehouse executes the full task graph for the requested partition. A
// failed run is reported in the Response rather than as an activity error.
func (a *Activities) RunLakehouse(ctx context.Context, req Request) (*Response, error) {
	logger := activity.GetLogger(ctx)
	if err := req.Validate(); err != nil {
		return nil, temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeInvalidInput, err)
	}

	policy := a.defaults
	if req.Retries != nil {
		policy.Retries = *req.Retries
	}
	if req.RetryDelaySeconds != nil {
		policy.Delay = time.Duration(*req.RetryDelaySeconds) * time.Second
	}
	logger.Info("running lakehouse graph", "runId", req.RunID, "retries", policy.Retries, "retryDelay", policy.Delay)

	res, err := a.runner.Run(ctx, req.RunID, req.Key(), policy)
	if res == nil {
		if err == nil {
			err = errors.New("runner returned no result")
		}
		return nil, temporal.NewNonRetryableApplicationError("build run: "+err.Error(), ErrTypeInvalidInput, err)
	}
	return toResponse(res), nil
}

func toResponse(res *orchestration.Result) *Response {
	resp := &Response{
		RunID:      res.RunID,
		Succeeded:  res.Succeeded(),
		FailedTask: res.FailedTask,
		Tasks:      make([]TaskStatus, 0, len(res.Tasks)),
	}
	if res.Err != nil {
		resp.Error = res.Err.Error()
	}
	for _, ts := range res.Tasks {
		row := TaskStatus{Name: ts.Name, Status: string(ts.Status), Attempts: ts.Attempts}
		if ts.Err != nil {
			row.Error = ts.Err.Error()
		}
		resp.Tasks = append(resp.Tasks, row)
	}
	return resp
}
