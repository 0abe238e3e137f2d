// Package clearcase runs the ClearCase cleartool CLI on behalf of job
// executions. Every invocation goes through ToolLauncher, which owns the
// quiet/verbose log routing, exit-code checking, and temp-buffer lifecycle;
// ClearTool layers the individual subcommands on top of it.
package clearcase

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"clearci/pkg/joblog"
	"clearci/pkg/proc"
)

// VerboseEnv forces verbose tool logging for every invocation when set to
// "1". The variable name is kept from the Hudson plugin this runner replaces
// so existing operator setups keep working.
const VerboseEnv = "HUDSON_CLEARCASE_VERBOSE"

// DefaultExecutable is the cleartool binary resolved from PATH.
const DefaultExecutable = "cleartool"

// Command describes one cleartool invocation.
type Command struct {
	// Args is the subcommand and its arguments. The executable itself is
	// prepended by the launcher and must not be included.
	Args []string

	// Stdin is optional input for the tool.
	Stdin io.Reader

	// Stdout, when set, receives a copy of everything the tool writes, in
	// addition to the active log route.
	Stdout io.Writer

	// Dir overrides the working directory. Empty runs in the workspace root.
	Dir string

	// Verbose streams tool output into the job log as it happens. When
	// false, output is buffered to a temporary file and replayed into the
	// job log only if the tool fails.
	Verbose bool
}

// ExitError reports a tool invocation that completed with a non-zero exit
// code. No distinction is made between a signalled process and an ordinary
// non-zero exit.
type ExitError struct {
	Cmd  string // space-joined arguments, diagnostic only
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("cleartool did not return the expected exit code. Command line=%q, actual exit code=%d", e.Cmd, e.Code)
}

// Runner is the launcher surface the subcommand wrappers build on.
type Runner interface {
	Run(ctx context.Context, cmd Command) error
	Workspace() string
}

// ToolLauncher executes cleartool for one job execution. It borrows the
// job's console log and never closes it; temporary quiet-mode buffers are
// exclusively owned per invocation and removed on every exit path.
type ToolLauncher struct {
	executable string
	scmName    string
	listener   joblog.Listener
	workspace  string
	launcher   proc.Launcher
	getenv     func(string) string
	tempDir    string
}

// Option adjusts a ToolLauncher.
type Option func(*ToolLauncher)

// WithGetenv substitutes the environment lookup used for VerboseEnv.
func WithGetenv(fn func(string) string) Option {
	return func(l *ToolLauncher) { l.getenv = fn }
}

// WithTempDir places quiet-mode buffers under dir instead of the system
// temp directory.
func WithTempDir(dir string) Option {
	return func(l *ToolLauncher) { l.tempDir = dir }
}

// NewToolLauncher returns a launcher for one job execution. scmName appears
// in the fatal line written when the tool fails; workspace is the default
// working directory for invocations.
func NewToolLauncher(executable, scmName string, listener joblog.Listener, workspace string, launcher proc.Launcher, opts ...Option) *ToolLauncher {
	if executable == "" {
		executable = DefaultExecutable
	}
	l := &ToolLauncher{
		executable: executable,
		scmName:    scmName,
		listener:   listener,
		workspace:  workspace,
		launcher:   launcher,
		getenv:     os.Getenv,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Listener returns the job console log this launcher writes to.
func (l *ToolLauncher) Listener() joblog.Listener { return l.listener }

// Workspace returns the job workspace root.
func (l *ToolLauncher) Workspace() string { return l.workspace }

// Run executes cleartool with the given command and blocks until it exits.
//
// In verbose mode (or when VerboseEnv is "1") the tool's combined output
// streams straight into the job log, followed by one blank separator line.
// In quiet mode the output goes to a private temporary file; if the tool
// fails, the buffered output is replayed into the job log line by line so
// the failure is fully diagnosable without rerunning verbose.
//
// A non-zero exit returns *ExitError after the fatal line has been written
// to the job log. The temporary buffer is removed on every exit path,
// including cancellation; a failed removal is reported to the job log and
// otherwise ignored.
func (l *ToolLauncher) Run(ctx context.Context, cmd Command) error {
	if len(cmd.Args) == 0 {
		return errors.New("clearcase: empty command")
	}

	logCommand := cmd.Verbose || l.getenv(VerboseEnv) == "1"

	var (
		logRoute io.Writer
		tempFile *os.File
	)
	if logCommand {
		logRoute = l.listener
	} else {
		f, err := os.CreateTemp(l.tempDir, "cleartool*.log")
		if err != nil {
			return fmt.Errorf("creating tool log buffer: %w", err)
		}
		tempFile = f
		logRoute = f
	}
	defer l.cleanup(tempFile)

	output := logRoute
	if cmd.Stdout != nil {
		output = NewForkWriter(cmd.Stdout, logRoute)
	}

	dir := cmd.Dir
	if dir == "" {
		dir = l.workspace
	}

	handle, err := l.launcher.Launch(ctx, proc.Spec{
		Args: append([]string{l.executable}, cmd.Args...),
		// Empty, not nil: tool runs never inherit the executor's environment.
		Env:    []string{},
		Dir:    dir,
		Stdin:  cmd.Stdin,
		Stdout: output,
	})
	if err != nil {
		return fmt.Errorf("launching %s: %w", l.executable, err)
	}

	code, err := handle.Join()
	if err != nil {
		return fmt.Errorf("waiting for %s: %w", l.executable, err)
	}

	if logCommand {
		l.listener.WriteLine("")
	}

	if code != 0 {
		if !logCommand {
			if err := l.replay(tempFile); err != nil {
				return fmt.Errorf("reading tool log buffer: %w", err)
			}
		}
		l.listener.Fatalf("%s failed. exit code=%d", l.scmName, code)
		return &ExitError{Cmd: CmdString(cmd.Args), Code: code}
	}
	return nil
}

// replay copies the buffered tool output into the job log, line by line,
// with a trailing blank separator.
func (l *ToolLauncher) replay(f *os.File) error {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		l.listener.WriteLine(sc.Text())
	}
	if err := sc.Err(); err != nil {
		return err
	}
	l.listener.WriteLine("")
	return nil
}

// cleanup releases the quiet-mode buffer. Close errors are ignored; a
// deletion failure is reported to the job log but never surfaced, so it can
// not mask the invocation's real outcome.
func (l *ToolLauncher) cleanup(f *os.File) {
	if f == nil {
		return
	}
	_ = f.Close()
	if err := os.Remove(f.Name()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		l.listener.Errorf("Unable to delete %s", f.Name())
	}
}

// CmdString joins arguments with single spaces for diagnostics. No quoting
// is applied; the result is not shell-safe.
func CmdString(args []string) string {
	return strings.Join(args, " ")
}
