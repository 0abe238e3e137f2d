// Package joblog provides the console log for a single job execution: the
// ordered, operator-visible stream that captures build output, SCM tool
// output, and lifecycle messages. It is distinct from the service logger;
// everything written here belongs to one execution and is archived with it.
package joblog

import (
	"fmt"
	"io"
	"sync"
)

// Listener is the sink handed to anything that produces console output for
// an execution. Raw process output goes through io.Writer; lifecycle
// messages go through the line-level methods. Implementations must be safe
// for concurrent appends and must keep writes ordered.
type Listener interface {
	io.Writer

	// WriteLine appends one line of text followed by a newline.
	WriteLine(line string)

	// Errorf appends a non-fatal error line.
	Errorf(format string, args ...any)

	// Fatalf appends a fatal error line and marks the log failed.
	Fatalf(format string, args ...any)
}

// Log is the standard Listener implementation. It writes to an underlying
// writer (file or buffer) with an optional cap on raw output bytes. Line-level
// writes bypass the cap so failure diagnostics survive output floods.
type Log struct {
	mu        sync.Mutex
	w         io.Writer
	limit     int64
	written   int64
	truncated bool
	failed    bool
}

// New creates a Log writing to w with no size cap.
func New(w io.Writer) *Log {
	return NewWithLimit(w, 0)
}

// NewWithLimit creates a Log writing to w. Raw output beyond limit bytes is
// discarded (the write still reports success to keep the producing process
// running); a marker line records the truncation. limit <= 0 means no cap.
func NewWithLimit(w io.Writer, limit int64) *Log {
	return &Log{w: w, limit: limit}
}

// Write appends raw process output, honoring the size cap.
func (l *Log) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.limit > 0 {
		remaining := l.limit - l.written
		if remaining <= 0 {
			l.markTruncated()
			return len(p), nil
		}
		if int64(len(p)) > remaining {
			n, err := l.w.Write(p[:remaining])
			l.written += int64(n)
			if err != nil {
				return n, err
			}
			l.markTruncated()
			return len(p), nil
		}
	}

	n, err := l.w.Write(p)
	l.written += int64(n)
	if err != nil {
		return n, err
	}
	return len(p), nil
}

// WriteLine appends one line followed by a newline.
func (l *Log) WriteLine(line string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.line(line)
}

// Errorf appends a non-fatal error line.
func (l *Log) Errorf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.line("ERROR: " + fmt.Sprintf(format, args...))
}

// Fatalf appends a fatal error line and marks the log failed.
func (l *Log) Fatalf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failed = true
	l.line("FATAL: " + fmt.Sprintf(format, args...))
}

// Failed reports whether a fatal line has been written.
func (l *Log) Failed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.failed
}

// Truncated reports whether raw output was dropped due to the size cap.
func (l *Log) Truncated() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.truncated
}

// line writes a control line directly, outside the cap. Control lines are
// best-effort: a failing underlying writer must not turn a log append into
// an execution failure.
func (l *Log) line(s string) {
	_, _ = io.WriteString(l.w, s+"\n")
}

func (l *Log) markTruncated() {
	if l.truncated {
		return
	}
	l.truncated = true
	l.line("[output truncated: log size limit reached]")
}
