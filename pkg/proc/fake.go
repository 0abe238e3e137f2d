package proc

import (
	"context"
	"io"
	"strings"
	"sync"
)

// FakeResult scripts the outcome of one launched command.
type FakeResult struct {
	// Output is written to the spec's Stdout when the process is launched.
	Output string
	// ExitCode is returned by Join.
	ExitCode int
	// LaunchErr, when set, is returned by Launch itself.
	LaunchErr error
	// JoinErr, when set, is returned by Join with code -1.
	JoinErr error
	// Block makes Join wait until the launch context is cancelled and then
	// return the context error.
	Block bool
}

// Fake is an in-memory Launcher for tests. Results are keyed by the joined
// argument vector; lookups fall back to prefix matching so tests can script
// "cleartool update" without spelling out every flag.
type Fake struct {
	mu       sync.Mutex
	calls    []Spec
	results  map[string]FakeResult
	fallback FakeResult
}

// NewFake returns a Fake whose unscripted commands succeed with exit code 0
// and no output.
func NewFake() *Fake {
	return &Fake{results: make(map[string]FakeResult)}
}

// SetResult scripts the outcome for commands whose joined argv equals or
// starts with key.
func (f *Fake) SetResult(key string, res FakeResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[key] = res
}

// SetFallback scripts the outcome for commands with no matching result.
func (f *Fake) SetFallback(res FakeResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fallback = res
}

// Launch records the spec and plays back the scripted result.
func (f *Fake) Launch(ctx context.Context, spec Spec) (Handle, error) {
	f.mu.Lock()
	f.calls = append(f.calls, spec)
	res := f.lookup(strings.Join(spec.Args, " "))
	f.mu.Unlock()

	if res.LaunchErr != nil {
		return nil, res.LaunchErr
	}
	if spec.Stdout != nil && res.Output != "" {
		_, _ = io.WriteString(spec.Stdout, res.Output)
	}
	return &fakeHandle{ctx: ctx, res: res}, nil
}

func (f *Fake) lookup(cmd string) FakeResult {
	if res, ok := f.results[cmd]; ok {
		return res
	}
	for key, res := range f.results {
		if strings.HasPrefix(cmd, key) {
			return res
		}
	}
	return f.fallback
}

// Calls returns a copy of every recorded spec in launch order.
func (f *Fake) Calls() []Spec {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Spec, len(f.calls))
	copy(out, f.calls)
	return out
}

// Called reports whether any recorded command starts with prefix.
func (f *Fake) Called(prefix string) bool {
	return f.CallCount(prefix) > 0
}

// CallCount returns how many recorded commands start with prefix.
func (f *Fake) CallCount(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, spec := range f.calls {
		if strings.HasPrefix(strings.Join(spec.Args, " "), prefix) {
			n++
		}
	}
	return n
}

// Reset clears recorded calls and scripted results.
func (f *Fake) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
	f.results = make(map[string]FakeResult)
	f.fallback = FakeResult{}
}

type fakeHandle struct {
	ctx context.Context
	res FakeResult
}

func (h *fakeHandle) Join() (int, error) {
	if h.res.Block {
		<-h.ctx.Done()
		return -1, h.ctx.Err()
	}
	if h.res.JoinErr != nil {
		return -1, h.res.JoinErr
	}
	return h.res.ExitCode, nil
}
