package joblog_test

import (
	"bytes"
	"strings"
	"testing"

	"clearci/pkg/joblog"
)

func TestLog_WriteLine_AppendsNewline(t *testing.T) {
	var buf bytes.Buffer
	log := joblog.New(&buf)

	log.WriteLine("checking out view")
	log.WriteLine("")

	if got, want := buf.String(), "checking out view\n\n"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestLog_Write_PassesRawBytes(t *testing.T) {
	var buf bytes.Buffer
	log := joblog.New(&buf)

	n, err := log.Write([]byte("partial"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != len("partial") {
		t.Errorf("short write reported: %d", n)
	}
	if buf.String() != "partial" {
		t.Errorf("buffer = %q", buf.String())
	}
}

func TestLog_Errorf_Prefix(t *testing.T) {
	var buf bytes.Buffer
	log := joblog.New(&buf)

	log.Errorf("Unable to delete %s", "/tmp/cleartool123.log")

	want := "ERROR: Unable to delete /tmp/cleartool123.log\n"
	if buf.String() != want {
		t.Errorf("got %q, want %q", buf.String(), want)
	}
	if log.Failed() {
		t.Error("Errorf must not mark the log failed")
	}
}

func TestLog_Fatalf_MarksFailed(t *testing.T) {
	var buf bytes.Buffer
	log := joblog.New(&buf)

	log.Fatalf("ClearCase failed. exit code=%d", 1)

	if !log.Failed() {
		t.Error("expected Failed() after Fatalf")
	}
	if got, want := buf.String(), "FATAL: ClearCase failed. exit code=1\n"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestLog_Limit_TruncatesRawOutput(t *testing.T) {
	var buf bytes.Buffer
	log := joblog.NewWithLimit(&buf, 10)

	n, err := log.Write([]byte("0123456789abcdef"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 16 {
		t.Errorf("capped write must still report full length, got %d", n)
	}
	if !log.Truncated() {
		t.Error("expected Truncated()")
	}
	if !strings.HasPrefix(buf.String(), "0123456789") {
		t.Errorf("kept prefix wrong: %q", buf.String())
	}
	if !strings.Contains(buf.String(), "[output truncated") {
		t.Errorf("missing truncation marker: %q", buf.String())
	}
}

func TestLog_Limit_ControlLinesBypassCap(t *testing.T) {
	var buf bytes.Buffer
	log := joblog.NewWithLimit(&buf, 4)

	if _, err := log.Write([]byte("aaaaaaaa")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	log.Fatalf("build failed. exit code=%d", 2)

	if !strings.Contains(buf.String(), "FATAL: build failed. exit code=2") {
		t.Errorf("fatal line must survive truncation: %q", buf.String())
	}
}

func TestLog_Limit_MarkerWrittenOnce(t *testing.T) {
	var buf bytes.Buffer
	log := joblog.NewWithLimit(&buf, 2)

	_, _ = log.Write([]byte("abcdef"))
	_, _ = log.Write([]byte("ghijkl"))

	if got := strings.Count(buf.String(), "[output truncated"); got != 1 {
		t.Errorf("marker written %d times, want 1", got)
	}
}

func TestRecorder_CapturesEntriesInOrder(t *testing.T) {
	rec := joblog.NewRecorder()

	rec.WriteLine("err: bad")
	rec.WriteLine("")
	rec.Fatalf("%s failed. exit code=%d", "SCM", 1)

	entries := rec.Entries()
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	if entries[0].Kind != joblog.EntryLine || entries[0].Text != "err: bad" {
		t.Errorf("entry 0 = %+v", entries[0])
	}
	if entries[1].Text != "" {
		t.Errorf("entry 1 should be blank, got %+v", entries[1])
	}
	if entries[2].Kind != joblog.EntryFatal || entries[2].Text != "SCM failed. exit code=1" {
		t.Errorf("entry 2 = %+v", entries[2])
	}
	if !rec.Failed() {
		t.Error("expected Failed() after Fatalf")
	}
}
