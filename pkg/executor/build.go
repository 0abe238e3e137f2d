package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"clearci/pkg/joblog"
	"clearci/pkg/metrics"
	"clearci/pkg/models"
	"clearci/pkg/scm/clearcase"
)

// defaultMaxLogBytes caps a build's console log when the job sets no limit.
const defaultMaxLogBytes = 4 << 20

type buildOutcome struct {
	status   models.ExecutionStatus
	exitCode int
	errMsg   string
	duration time.Duration
	console  []byte
}

// runBuild executes one popped execution end to end: timeout from the job's
// limits, console log bounded by them, SCM view preparation when configured,
// then the build command itself in the prepared directory.
func (e *Executor) runBuild(ctx context.Context, exec *models.Execution) buildOutcome {
	start := time.Now()

	var buf bytes.Buffer
	limit := exec.Limits.MaxLogBytes
	if limit <= 0 {
		limit = defaultMaxLogBytes
	}
	console := joblog.NewWithLimit(&buf, limit)

	timeout := e.defaultTimeout
	if d, err := time.ParseDuration(exec.Limits.Timeout); err == nil && d > 0 {
		timeout = d
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	workDir := e.workspace
	if exec.SCM.Enabled() {
		viewPath, err := e.prepareView(runCtx, exec, console)
		if err != nil {
			// The launcher already wrote the tool output and fatal line
			// into the console log.
			return buildOutcome{
				status:   models.ExecutionFailed,
				exitCode: scmExitCode(err),
				errMsg:   err.Error(),
				duration: time.Since(start),
				console:  buf.Bytes(),
			}
		}
		workDir = viewPath
	}

	console.WriteLine("$ " + exec.JobCommand)
	res := e.builds.Run(runCtx, exec.JobCommand, workDir, console)

	outcome := buildOutcome{exitCode: res.ExitCode, duration: time.Since(start)}
	switch {
	case errors.Is(res.Err, context.DeadlineExceeded):
		outcome.status = models.ExecutionFailed
		outcome.errMsg = fmt.Sprintf("build timed out after %s", timeout)
		console.Fatalf("%s", outcome.errMsg)
	case errors.Is(res.Err, context.Canceled):
		outcome.status = models.ExecutionCancelled
		outcome.errMsg = "build interrupted"
		console.Fatalf("%s", outcome.errMsg)
	case res.Err != nil:
		outcome.status = models.ExecutionFailed
		outcome.errMsg = res.Err.Error()
		console.Fatalf("%s", outcome.errMsg)
	case res.ExitCode != 0:
		outcome.status = models.ExecutionFailed
		outcome.errMsg = fmt.Sprintf("build failed. exit code=%d", res.ExitCode)
		console.Fatalf("build failed. exit code=%d", res.ExitCode)
	default:
		outcome.status = models.ExecutionSuccess
	}

	outcome.console = buf.Bytes()
	return outcome
}

// prepareView brings the job's snapshot view up to date and returns the
// directory the build should run in.
func (e *Executor) prepareView(ctx context.Context, exec *models.Execution, console joblog.Listener) (string, error) {
	tools := clearcase.NewToolLauncher(e.cleartoolPath, "ClearCase", console, e.workspace, e.launcher)
	clearTool := clearcase.NewClearTool(meteredRunner{tools}, exec.SCM.Verbose)

	return clearTool.PrepareView(ctx, clearcase.ViewSpec{
		Tag:        exec.SCM.ViewTag,
		ConfigSpec: exec.SCM.ConfigSpec,
		Verbose:    exec.SCM.Verbose,
	})
}

// scmExitCode maps a view preparation failure to the exit code recorded on
// the execution.
func scmExitCode(err error) int {
	var exitErr *clearcase.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return -1
}

// meteredRunner records per-subcommand metrics around cleartool invocations.
type meteredRunner struct {
	clearcase.Runner
}

func (m meteredRunner) Run(ctx context.Context, cmd clearcase.Command) error {
	op := "unknown"
	if len(cmd.Args) > 0 {
		op = strings.TrimPrefix(cmd.Args[0], "-")
	}

	start := time.Now()
	err := m.Runner.Run(ctx, cmd)

	status := "success"
	if err != nil {
		status = "failure"
	}
	metrics.RecordCleartool(op, status, time.Since(start).Seconds())
	return err
}
