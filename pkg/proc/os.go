package proc

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"syscall"
)

// OSLauncher runs processes through os/exec.
type OSLauncher struct{}

// NewOSLauncher returns the default process launcher.
func NewOSLauncher() OSLauncher {
	return OSLauncher{}
}

// Launch starts the process described by spec. The process is killed when
// ctx is cancelled.
func (OSLauncher) Launch(ctx context.Context, spec Spec) (Handle, error) {
	if len(spec.Args) == 0 {
		return nil, errors.New("proc: empty argument vector")
	}

	cmd := exec.CommandContext(ctx, spec.Args[0], spec.Args[1:]...)
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env
	cmd.Stdin = spec.Stdin
	cmd.Stdout = spec.Stdout
	cmd.Stderr = spec.Stdout
	if spec.NewProcessGroup {
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", spec.Args[0], err)
	}
	return &osHandle{cmd: cmd, ctx: ctx}, nil
}

type osHandle struct {
	cmd *exec.Cmd
	ctx context.Context
}

func (h *osHandle) Join() (int, error) {
	err := h.cmd.Wait()
	if err == nil {
		return 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// A cancelled context kills the process; report the cancellation
		// rather than the synthetic signal exit.
		if h.ctx.Err() != nil {
			return -1, h.ctx.Err()
		}
		return exitErr.ExitCode(), nil
	}
	return -1, err
}
