package orchestration

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/thiagogfgf/lakehouse-platform/internal/logging"
)

// RetryPolicy bounds how often a failing task is re-attempted.
type RetryPolicy struct {
	// Retries is the number of additional attempts after the first.
	Retries int
	// Delay is the fixed wait between attempts.
	Delay time.Duration
	// FailFast stops retrying errors whose RetryableStatus reports false.
	// By default every failure is retried up to Retries.
	FailFast bool
}

// Executor walks a Graph honouring dependency order.
type Executor struct {
	policy      RetryPolicy
	maxParallel int
	logger      *slog.Logger
}

func NewExecutor(policy RetryPolicy, maxParallel int, logger *slog.Logger) *Executor {
	if maxParallel < 1 {
		maxParallel = 1
	}
	if policy.Retries < 0 {
		policy.Retries = 0
	}
	return &Executor{
		policy:      policy,
		maxParallel: maxParallel,
		logger:      logging.Or(logger).With("component", "orchestration"),
	}
}

// Run executes every task of g at most once to success. A task starts only after
// all its predecessors succeeded; a task that fails terminally causes all of its
// transitive dependents to be skipped while unrelated branches continue.
//
// Cancelling ctx stops scheduling; pending tasks are skipped and in-flight tasks
// observe the cancelled context. An empty runID is replaced by a random one.
func (e *Executor) Run(ctx context.Context, runID string, g *Graph) *Result {
	if runID == "" {
		runID = uuid.NewString()
	}
	logger := e.logger.With("run_id", runID)
	st := newRunState(g)
	res := &Result{RunID: runID, StartedAt: time.Now()}

	finished := make(chan string, g.Len())
	var eg errgroup.Group
	eg.SetLimit(e.maxParallel)
	running := 0

	logger.Info("run.start", "tasks", g.Len(), "max_parallel", e.maxParallel)
	for {
		st.mu.Lock()
		if ctx.Err() != nil {
			st.skipPendingLocked(fmt.Errorf("%w: run cancelled: %w", ErrDependencyNotSatisfied, ctx.Err()))
		}
		var launch []string
		for _, name := range st.readyLocked() {
			if running+len(launch) >= e.maxParallel {
				break
			}
			if err := st.transitionLocked(name, StatusRunning, nil); err != nil {
				logger.Error("task state invariant violated", "task", name, "error", err)
				continue
			}
			launch = append(launch, name)
		}
		st.mu.Unlock()

		for _, name := range launch {
			running++
			task, _ := g.Task(name)
			eg.Go(func() error {
				e.runTask(ctx, logger, st, task)
				finished <- task.Name
				return nil
			})
		}
		if running == 0 {
			break
		}
		<-finished
		running--
	}
	eg.Wait()

	res.FinishedAt = time.Now()
	res.Tasks = st.snapshot()
	for _, ts := range res.Tasks {
		if ts.Status == StatusFailed {
			res.FailedTask = ts.Name
			res.Err = &TaskError{Task: ts.Name, Attempts: ts.Attempts, Err: ts.Err}
			break
		}
	}
	if res.Err == nil && ctx.Err() != nil && !res.Succeeded() {
		res.Err = ctx.Err()
	}

	if res.Err != nil {
		logger.Error("run.end", "status", "failed", "failed_task", res.FailedTask, "error", res.Err, "duration", res.Duration())
	} else {
		logger.Info("run.end", "status", "succeeded", "duration", res.Duration())
	}
	return res
}

// runTask attempts task until it succeeds or retries are exhausted, then records
// the terminal status. Cancelling ctx ends the attempts early, as does a
// non-retryable error under FailFast.
func (e *Executor) runTask(ctx context.Context, logger *slog.Logger, st *runState, task Task) {
	var err error
	attempt := 0
	for {
		attempt++
		st.setAttempts(task.Name, attempt)
		logger.Info("task.start", "task", task.Name, "attempt", attempt)

		start := time.Now()
		err = safeRun(ctx, task)
		if err == nil {
			logger.Info("task.end",
				"task", task.Name,
				"attempt", attempt,
				"status", StatusSucceeded,
				"duration", time.Since(start),
			)
			break
		}

		retryable := IsRetryable(err)
		retry := attempt <= e.policy.Retries && ctx.Err() == nil && (retryable || !e.policy.FailFast)
		logger.Warn("task.end",
			"task", task.Name,
			"attempt", attempt,
			"status", StatusFailed,
			"duration", time.Since(start),
			"error", err,
			"error_code", ErrorCode(err),
			"retryable", retryable,
			"will_retry", retry,
		)
		if !retry || !sleep(ctx, e.policy.Delay) {
			break
		}
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if err == nil {
		if terr := st.transitionLocked(task.Name, StatusSucceeded, nil); terr != nil {
			logger.Error("task state invariant violated", "task", task.Name, "error", terr)
		}
		return
	}
	skipped, perr := st.failAndPropagateLocked(task.Name, err)
	if perr != nil {
		logger.Error("task state invariant violated", "task", task.Name, "error", perr)
	}
	for _, dep := range skipped {
		logger.Info("task.end", "task", dep, "status", StatusSkipped, "error", st.tasks[dep].Err)
	}
}

func safeRun(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", task.Name, r)
		}
	}()
	return task.Run(ctx)
}

// sleep waits d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
