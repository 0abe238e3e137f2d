// Package runner executes build commands for the executor. Output streams
// into the job's console log as it is produced instead of being buffered,
// so a hung build is diagnosable while it hangs.
package runner

import (
	"context"
	"io"
	"time"
)

// Result captures the outcome of a build command.
type Result struct {
	// ExitCode is the command's exit status. -1 when the command never ran
	// or was cut short by cancellation.
	ExitCode int
	Duration time.Duration
	// Err reports launch and plumbing failures, including context
	// cancellation. A non-zero exit is not an Err.
	Err error
}

// BuildRunner runs one build command in a working directory, streaming
// combined output to the given writer.
type BuildRunner interface {
	Run(ctx context.Context, command, dir string, output io.Writer) Result
}
