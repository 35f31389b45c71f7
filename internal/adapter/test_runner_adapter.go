package adapter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	m "gooze.dev/pkg/schemata/internal/model"
)

// waitDelay bounds how long Run waits for output pipes after the process has
// been killed, since grandchildren may keep them open.
const waitDelay = 2 * time.Second

// ProcessSpec describes one test-runner invocation.
type ProcessSpec struct {
	Dir        m.Path
	Executable string
	Args       []string
	Env        []string // complete environment of the process
	Timeout    time.Duration
}

// ProcessResult is what a finished (or killed) test process left behind.
type ProcessResult struct {
	ExitCode int
	Log      string // combined stdout and stderr
	TimedOut bool
	Signaled bool // terminated by a signal rather than exiting
	Duration time.Duration
}

// TestRunnerAdapter abstracts test execution for mutation testing.
type TestRunnerAdapter interface {
	// Run executes the process and blocks until it exits, the timeout expires
	// or ctx is cancelled. Processes still running are killed. A non-nil error
	// means the process could not be run at all or ctx was cancelled.
	Run(ctx context.Context, spec ProcessSpec) (ProcessResult, error)
}

// LocalTestRunnerAdapter provides a concrete implementation using os/exec.
type LocalTestRunnerAdapter struct{}

// NewLocalTestRunnerAdapter constructs a LocalTestRunnerAdapter.
func NewLocalTestRunnerAdapter() *LocalTestRunnerAdapter {
	return &LocalTestRunnerAdapter{}
}

// Run implements TestRunnerAdapter.
func (a *LocalTestRunnerAdapter) Run(ctx context.Context, spec ProcessSpec) (ProcessResult, error) {
	var (
		runCtx context.Context
		cancel context.CancelFunc
	)

	if spec.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}

	defer cancel()

	cmd := exec.CommandContext(runCtx, spec.Executable, spec.Args...)
	cmd.Dir = string(spec.Dir)
	cmd.Env = spec.Env
	cmd.WaitDelay = waitDelay

	var output bytes.Buffer

	cmd.Stdout = &output
	cmd.Stderr = &output

	configureProcessGroup(cmd)

	start := time.Now()
	err := cmd.Run()

	result := ProcessResult{Duration: time.Since(start)}
	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}

	result.Log = output.String()

	if ctxErr := ctx.Err(); ctxErr != nil {
		slog.Debug("test process cancelled", "executable", spec.Executable, "dir", spec.Dir)
		return result, ctxErr
	}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		slog.Debug("test process timed out", "executable", spec.Executable, "timeout", spec.Timeout)

		result.TimedOut = true

		return result, nil
	}

	if err == nil || errors.Is(err, exec.ErrWaitDelay) {
		return result, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.Signaled = !exitErr.Exited()
		return result, nil
	}

	slog.Error("Failed to run test process", "executable", spec.Executable, "dir", spec.Dir, "error", err)

	return result, fmt.Errorf("failed to run %s: %w", spec.Executable, err)
}
