// Package transform invokes the external SQL transformation engine (dbt) as a
// black-box subprocess.
package transform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/thiagogfgf/lakehouse-platform/internal/logging"
)

const (
	CodeTransformFailed = "E_TRANSFORM_FAILED"
	CodeEngineMissing   = "E_ENGINE_NOT_FOUND"

	outputTailLines = 20
)

// Command is a dbt subcommand.
type Command string

const (
	CommandRun  Command = "run"
	CommandTest Command = "test"
)

// Error reports a failed engine invocation with the tail of its output.
type Error struct {
	Code     string
	Command  Command
	ExitCode int
	Output   string
	Err      error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("%s: dbt %s exited with code %d", e.Code, e.Command, e.ExitCode)
	if e.Output != "" {
		msg += ":\n" + e.Output
	}
	return msg
}

func (e *Error) Unwrap() error     { return e.Err }
func (e *Error) CodeValue() string { return e.Code }

// RetryableStatus: a failing model or test fails the same way on a re-run, but
// a killed or crashed process may not.
func (e *Error) RetryableStatus() bool { return e.Code == CodeTransformFailed && e.ExitCode != 1 }

// Runner runs dbt in a project directory.
type Runner struct {
	bin        string
	projectDir string
	logger     *slog.Logger
}

func NewRunner(bin, projectDir string, logger *slog.Logger) *Runner {
	if bin == "" {
		bin = "dbt"
	}
	return &Runner{
		bin:        bin,
		projectDir: projectDir,
		logger:     logging.Or(logger).With("component", "transform"),
	}
}

// Run executes `dbt run`.
func (r *Runner) Run(ctx context.Context) error { return r.invoke(ctx, CommandRun) }

// Test executes `dbt test`.
func (r *Runner) Test(ctx context.Context) error { return r.invoke(ctx, CommandTest) }

func (r *Runner) invoke(ctx context.Context, cmd Command) error {
	args := []string{string(cmd), "--profiles-dir", "."}
	c := exec.CommandContext(ctx, r.bin, args...)
	c.Dir = r.projectDir
	var out bytes.Buffer
	c.Stdout = &out
	c.Stderr = &out

	r.logger.Info("starting dbt", "command", cmd, "dir", r.projectDir)
	start := time.Now()
	err := c.Run()
	if err == nil {
		r.logger.Info("dbt finished", "command", cmd, "duration", time.Since(start))
		return nil
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &Error{
			Code:     CodeTransformFailed,
			Command:  cmd,
			ExitCode: exitErr.ExitCode(),
			Output:   tail(out.String(), outputTailLines),
			Err:      err,
		}
	}
	return &Error{Code: CodeEngineMissing, Command: cmd, ExitCode: -1, Err: err}
}

func tail(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
