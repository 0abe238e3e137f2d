package runner

import (
	"context"
	"io"
	"time"

	"clearci/pkg/proc"
)

// ShellRunner runs build commands through `sh -c` in their own process
// group, so killing a timed-out build takes its whole tree with it.
type ShellRunner struct {
	launcher proc.Launcher
}

func NewShellRunner(launcher proc.Launcher) *ShellRunner {
	return &ShellRunner{launcher: launcher}
}

func (s *ShellRunner) Run(ctx context.Context, command, dir string, output io.Writer) Result {
	start := time.Now()

	handle, err := s.launcher.Launch(ctx, proc.Spec{
		Args: []string{"sh", "-c", command},
		// Env stays nil: builds inherit the executor's environment, unlike
		// SCM tool runs which get a scrubbed one.
		Dir:             dir,
		Stdout:          output,
		NewProcessGroup: true,
	})
	if err != nil {
		return Result{ExitCode: -1, Duration: time.Since(start), Err: err}
	}

	code, err := handle.Join()
	return Result{ExitCode: code, Duration: time.Since(start), Err: err}
}
