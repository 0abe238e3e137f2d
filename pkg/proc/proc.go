// Package proc abstracts starting OS processes so the executor and SCM
// tooling can run against a scripted launcher in tests.
package proc

import (
	"context"
	"io"
)

// Spec describes one process to start.
type Spec struct {
	// Args is the full argument vector. Args[0] is the executable.
	Args []string

	// Env holds KEY=VALUE pairs passed to the process verbatim. nil inherits
	// the parent environment; an empty non-nil slice yields an empty one.
	Env []string

	// Dir is the working directory. Empty means the caller's current directory.
	Dir string

	// Stdin is optional input for the process.
	Stdin io.Reader

	// Stdout receives the combined stdout and stderr of the process.
	Stdout io.Writer

	// NewProcessGroup starts the process in its own process group so the
	// whole tree can be signalled together.
	NewProcessGroup bool
}

// Handle is a started process.
type Handle interface {
	// Join blocks until the process exits and returns its exit code. A
	// non-zero exit is a result, not an error. Join returns an error when
	// the wait itself fails or the launch context is cancelled; cleanup of
	// the process is handled by the launcher in that case.
	Join() (int, error)
}

// Launcher starts processes.
type Launcher interface {
	Launch(ctx context.Context, spec Spec) (Handle, error)
}
