package orchestration

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidGraph = errors.New("invalid task graph")
	ErrCycleFound   = errors.New("cycle detected")

	// ErrDependencyNotSatisfied is the error recorded on a skipped task.
	ErrDependencyNotSatisfied = errors.New("dependency not satisfied")
)

// GraphError reports a graph that failed validation.
type GraphError struct {
	Kind error
	Msg  string
}

func (e *GraphError) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Msg)
}

func (e *GraphError) Unwrap() error { return e.Kind }

func invalidf(format string, args ...any) error {
	return &GraphError{Kind: ErrInvalidGraph, Msg: fmt.Sprintf(format, args...)}
}

func cycleError(path []string) error {
	return &GraphError{Kind: ErrCycleFound, Msg: strings.Join(path, " -> ")}
}

// TaskError is a task's terminal failure.
type TaskError struct {
	Task     string
	Attempts int
	Err      error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %s failed after %d attempt(s): %v", e.Task, e.Attempts, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

type retryableError interface {
	RetryableStatus() bool
}

// IsRetryable reports whether another attempt may help. Errors that do not say
// otherwise are treated as transient.
func IsRetryable(err error) bool {
	var re retryableError
	if errors.As(err, &re) {
		return re.RetryableStatus()
	}
	return true
}

// ErrorCode returns the stable code of err, or "" when it carries none.
func ErrorCode(err error) string {
	var ce interface{ CodeValue() string }
	if errors.As(err, &ce) {
		return ce.CodeValue()
	}
	return ""
}

func skippedError(failed string) error {
	return fmt.Errorf("%w: upstream task %s did not succeed", ErrDependencyNotSatisfied, failed)
}
