package proc_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clearci/pkg/proc"
)

func TestOSLauncher_CapturesCombinedOutput(t *testing.T) {
	var out bytes.Buffer
	launcher := proc.NewOSLauncher()

	handle, err := launcher.Launch(context.Background(), proc.Spec{
		Args:   []string{"sh", "-c", "echo to-stdout; echo to-stderr 1>&2"},
		Stdout: &out,
	})
	require.NoError(t, err)

	code, err := handle.Join()
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Contains(t, out.String(), "to-stdout")
	assert.Contains(t, out.String(), "to-stderr")
}

func TestOSLauncher_NonZeroExitIsNotAnError(t *testing.T) {
	launcher := proc.NewOSLauncher()

	handle, err := launcher.Launch(context.Background(), proc.Spec{
		Args: []string{"sh", "-c", "exit 3"},
	})
	require.NoError(t, err)

	code, err := handle.Join()
	require.NoError(t, err)
	assert.Equal(t, 3, code)
}

func TestOSLauncher_MissingExecutable(t *testing.T) {
	launcher := proc.NewOSLauncher()

	_, err := launcher.Launch(context.Background(), proc.Spec{
		Args: []string{"/nonexistent/definitely-not-a-binary"},
	})
	assert.Error(t, err)
}

func TestOSLauncher_EmptyArgs(t *testing.T) {
	launcher := proc.NewOSLauncher()

	_, err := launcher.Launch(context.Background(), proc.Spec{})
	assert.Error(t, err)
}

func TestOSLauncher_EmptyEnvIsDeterministic(t *testing.T) {
	var out bytes.Buffer
	launcher := proc.NewOSLauncher()

	handle, err := launcher.Launch(context.Background(), proc.Spec{
		Args:   []string{"sh", "-c", "env"},
		Env:    []string{},
		Stdout: &out,
	})
	require.NoError(t, err)

	code, err := handle.Join()
	require.NoError(t, err)
	require.Equal(t, 0, code)

	// Only variables the shell itself synthesizes (PWD, SHLVL, _) may appear.
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		if line == "" {
			continue
		}
		key, _, _ := strings.Cut(line, "=")
		switch key {
		case "PWD", "SHLVL", "_", "OLDPWD":
		default:
			t.Errorf("unexpected inherited variable %q", line)
		}
	}
}

func TestOSLauncher_StdinIsForwarded(t *testing.T) {
	var out bytes.Buffer
	launcher := proc.NewOSLauncher()

	handle, err := launcher.Launch(context.Background(), proc.Spec{
		Args:   []string{"sh", "-c", "cat"},
		Stdin:  strings.NewReader("element * /main/LATEST\n"),
		Stdout: &out,
	})
	require.NoError(t, err)

	code, err := handle.Join()
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, "element * /main/LATEST\n", out.String())
}

func TestOSLauncher_CancellationKillsProcess(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	launcher := proc.NewOSLauncher()

	handle, err := launcher.Launch(ctx, proc.Spec{
		Args: []string{"sh", "-c", "sleep 30"},
	})
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	code, err := handle.Join()
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.Equal(t, -1, code)
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
}

func TestFake_RecordsCallsAndPlaysBackResults(t *testing.T) {
	fake := proc.NewFake()
	fake.SetResult("cleartool update", proc.FakeResult{Output: "Updating view\n"})
	fake.SetResult("cleartool rmview", proc.FakeResult{ExitCode: 1})

	var out bytes.Buffer
	handle, err := fake.Launch(context.Background(), proc.Spec{
		Args:   []string{"cleartool", "update", "-force", "/views/build"},
		Stdout: &out,
	})
	require.NoError(t, err)
	code, err := handle.Join()
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, "Updating view\n", out.String())

	handle, err = fake.Launch(context.Background(), proc.Spec{
		Args: []string{"cleartool", "rmview", "-force", "/views/build"},
	})
	require.NoError(t, err)
	code, _ = handle.Join()
	assert.Equal(t, 1, code)

	assert.True(t, fake.Called("cleartool update"))
	assert.Equal(t, 1, fake.CallCount("cleartool rmview"))
	assert.Len(t, fake.Calls(), 2)
}

func TestFake_FallbackAndLaunchError(t *testing.T) {
	fake := proc.NewFake()
	fake.SetFallback(proc.FakeResult{ExitCode: 7})

	handle, err := fake.Launch(context.Background(), proc.Spec{Args: []string{"anything"}})
	require.NoError(t, err)
	code, _ := handle.Join()
	assert.Equal(t, 7, code)

	boom := errors.New("no such tool")
	fake.SetResult("cleartool", proc.FakeResult{LaunchErr: boom})
	_, err = fake.Launch(context.Background(), proc.Spec{Args: []string{"cleartool", "-version"}})
	assert.ErrorIs(t, err, boom)
}

func TestFake_BlockWaitsForCancellation(t *testing.T) {
	fake := proc.NewFake()
	fake.SetResult("cleartool", proc.FakeResult{Block: true})

	ctx, cancel := context.WithCancel(context.Background())
	handle, err := fake.Launch(ctx, proc.Spec{Args: []string{"cleartool", "update"}})
	require.NoError(t, err)

	go cancel()
	code, err := handle.Join()
	assert.Equal(t, -1, code)
	assert.ErrorIs(t, err, context.Canceled)
}
