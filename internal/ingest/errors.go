package ingest

import (
	"errors"
	"fmt"

	"github.com/thiagogfgf/lakehouse-platform/internal/partition"
)

const (
	CodeFetchFailed  = "E_FETCH_FAILED"
	CodeSampleFailed = "E_SAMPLE_FAILED"
	CodeUploadFailed = "E_UPLOAD_FAILED"
)

// Error is a stage failure for one partition.
type Error struct {
	Code      string
	Stage     Stage
	Partition partition.Key
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s [%s] %s: %v", e.Code, e.Partition, e.Stage, e.Err)
}

func (e *Error) Unwrap() error         { return e.Err }
func (e *Error) CodeValue() string     { return e.Code }
func (e *Error) RetryableStatus() bool { return e.Retryable }

// StatusError is returned by Fetch for a non-2xx response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.StatusCode)
}

func stageError(stage Stage, key partition.Key, err error) *Error {
	code := CodeUploadFailed
	switch stage {
	case StageFetching:
		code = CodeFetchFailed
	case StageSampling:
		code = CodeSampleFailed
	}
	return &Error{
		Code:      code,
		Stage:     stage,
		Partition: key,
		Retryable: retryable(stage, err),
		Err:       err,
	}
}

type retryableError interface {
	RetryableStatus() bool
}

// retryable decides whether a task-level retry can help. Sampling is a pure
// function of its input, so repeating it cannot.
func retryable(stage Stage, err error) bool {
	if stage == StageSampling {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= 500 || se.StatusCode == 429
	}
	var re retryableError
	if errors.As(err, &re) {
		return re.RetryableStatus()
	}
	return true
}
