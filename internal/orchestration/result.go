package orchestration

import (
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
)

// Result is the outcome of one run.
type Result struct {
	RunID      string
	Tasks      []TaskState
	FailedTask string
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// Succeeded reports whether every task succeeded.
func (r *Result) Succeeded() bool {
	if r == nil || len(r.Tasks) == 0 {
		return false
	}
	for _, ts := range r.Tasks {
		if ts.Status != StatusSucceeded {
			return false
		}
	}
	return true
}

func (r *Result) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// State returns the named task's final state.
func (r *Result) State(name string) (TaskState, bool) {
	for _, ts := range r.Tasks {
		if ts.Name == name {
			return ts, true
		}
	}
	return TaskState{}, false
}

// WriteTable renders the status table.
func (r *Result) WriteTable(w io.Writer) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetTitle("run " + r.RunID)
	tw.AppendHeader(table.Row{"Task", "Status", "Attempts", "Duration", "Error"})
	for _, ts := range r.Tasks {
		errText := ""
		if ts.Err != nil {
			errText = ts.Err.Error()
		}
		tw.AppendRow(table.Row{ts.Name, ts.Status, ts.Attempts, ts.Duration().Round(time.Millisecond), errText})
	}
	tw.Render()
}
