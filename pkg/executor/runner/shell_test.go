package runner

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clearci/pkg/proc"
)

func TestShellRunnerStreamsCombinedOutput(t *testing.T) {
	r := NewShellRunner(proc.NewOSLauncher())

	var out bytes.Buffer
	res := r.Run(context.Background(), "echo out; echo err 1>&2", "", &out)

	require.NoError(t, res.Err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "out\nerr\n", out.String())
}

func TestShellRunnerReportsExitCode(t *testing.T) {
	r := NewShellRunner(proc.NewOSLauncher())

	var out bytes.Buffer
	res := r.Run(context.Background(), "exit 3", "", &out)

	require.NoError(t, res.Err, "a non-zero exit is a result, not an error")
	assert.Equal(t, 3, res.ExitCode)
}

func TestShellRunnerHonorsDir(t *testing.T) {
	r := NewShellRunner(proc.NewOSLauncher())
	dir := t.TempDir()

	var out bytes.Buffer
	res := r.Run(context.Background(), "pwd", dir, &out)

	require.NoError(t, res.Err)
	assert.Contains(t, out.String(), dir)
}

func TestShellRunnerTimeout(t *testing.T) {
	r := NewShellRunner(proc.NewOSLauncher())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	var out bytes.Buffer
	start := time.Now()
	res := r.Run(ctx, "sleep 30", "", &out)

	assert.True(t, errors.Is(res.Err, context.DeadlineExceeded), "got %v", res.Err)
	assert.Equal(t, -1, res.ExitCode)
	assert.Less(t, time.Since(start), 5*time.Second)
}
