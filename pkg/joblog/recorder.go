package joblog

import (
	"bytes"
	"fmt"
	"sync"
)

// EntryKind classifies a recorded line-level write.
type EntryKind string

const (
	EntryLine  EntryKind = "line"
	EntryError EntryKind = "error"
	EntryFatal EntryKind = "fatal"
)

// Entry is one recorded line-level write.
type Entry struct {
	Kind EntryKind
	Text string
}

// Recorder is a Listener for tests. It captures raw output and line-level
// entries separately so tests can assert on exact content and ordering.
type Recorder struct {
	mu      sync.Mutex
	raw     bytes.Buffer
	entries []Entry
	failed  bool
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.raw.Write(p)
}

func (r *Recorder) WriteLine(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, Entry{Kind: EntryLine, Text: line})
}

func (r *Recorder) Errorf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, Entry{Kind: EntryError, Text: fmt.Sprintf(format, args...)})
}

func (r *Recorder) Fatalf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = true
	r.entries = append(r.entries, Entry{Kind: EntryFatal, Text: fmt.Sprintf(format, args...)})
}

// Raw returns everything written through the io.Writer side.
func (r *Recorder) Raw() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.raw.String()
}

// Entries returns a copy of the recorded line-level writes in order.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Lines returns just the text of recorded entries, in order.
func (r *Recorder) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.Text
	}
	return out
}

// Failed reports whether a fatal entry was recorded.
func (r *Recorder) Failed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failed
}
