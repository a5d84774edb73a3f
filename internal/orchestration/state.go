package orchestration

import (
	"fmt"
	"sync"
	"time"
)

// Status is a task's position in its lifecycle.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

func allowedTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusRunning || to == StatusSkipped
	case StatusRunning:
		return to == StatusSucceeded || to == StatusFailed
	default:
		return false
	}
}

// TaskState is one row of the run's status table.
type TaskState struct {
	Name       string
	Status     Status
	Attempts   int
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration is zero until the task has finished.
func (s TaskState) Duration() time.Duration {
	if s.StartedAt.IsZero() || s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// runState is the mutex-guarded status table for one run.
type runState struct {
	mu    sync.Mutex
	g     *Graph
	tasks map[string]*TaskState
}

func newRunState(g *Graph) *runState {
	st := &runState{g: g, tasks: make(map[string]*TaskState, g.Len())}
	for _, name := range g.Names() {
		st.tasks[name] = &TaskState{Name: name, Status: StatusPending}
	}
	return st
}

func (st *runState) transitionLocked(name string, to Status, err error) error {
	ts, ok := st.tasks[name]
	if !ok {
		return fmt.Errorf("unknown task %q", name)
	}
	if !allowedTransition(ts.Status, to) {
		return fmt.Errorf("disallowed transition for %q: %s -> %s", name, ts.Status, to)
	}
	now := time.Now()
	switch to {
	case StatusRunning:
		ts.StartedAt = now
	default:
		ts.FinishedAt = now
	}
	ts.Status = to
	ts.Err = err
	return nil
}

func (st *runState) setAttempts(name string, n int) {
	st.mu.Lock()
	st.tasks[name].Attempts = n
	st.mu.Unlock()
}

// readyLocked returns pending tasks whose predecessors all succeeded, in topological order.
func (st *runState) readyLocked() []string {
	var out []string
	for _, name := range st.g.Names() {
		if st.tasks[name].Status != StatusPending {
			continue
		}
		t, _ := st.g.Task(name)
		ok := true
		for _, dep := range t.DependsOn {
			if st.tasks[dep].Status != StatusSucceeded {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, name)
		}
	}
	return out
}

// failAndPropagateLocked marks name failed and every pending transitive
// dependent skipped. A running dependent would mean a scheduling bug.
// It returns the names it skipped.
func (st *runState) failAndPropagateLocked(name string, err error) ([]string, error) {
	if err := st.transitionLocked(name, StatusFailed, err); err != nil {
		return nil, err
	}
	var skipped []string
	for _, dep := range st.g.Descendants(name) {
		switch st.tasks[dep].Status {
		case StatusPending:
			if err := st.transitionLocked(dep, StatusSkipped, skippedError(name)); err != nil {
				return skipped, err
			}
			skipped = append(skipped, dep)
		case StatusRunning:
			return skipped, fmt.Errorf("invariant violation: dependent %q of failed task %q is running", dep, name)
		}
	}
	return skipped, nil
}

// skipPendingLocked marks every still-pending task skipped with err.
func (st *runState) skipPendingLocked(err error) {
	for _, name := range st.g.Names() {
		if st.tasks[name].Status == StatusPending {
			st.transitionLocked(name, StatusSkipped, err)
		}
	}
}

func (st *runState) snapshot() []TaskState {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]TaskState, 0, len(st.tasks))
	for _, name := range st.g.Names() {
		out = append(out, *st.tasks[name])
	}
	return out
}
