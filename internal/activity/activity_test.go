package activity

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestLogger(t *testing.T) (*Logger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "activity.log")
	l := New(path)
	l.now = func() time.Time { return time.Date(2026, 8, 24, 10, 30, 0, 0, time.UTC) }
	return l, path
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

func TestRecordFormatsEntry(t *testing.T) {
	l, path := newTestLogger(t)
	l.Record("STORE code-patterns", "use context.WithTimeout\nfor all RPCs")

	lines := readLines(t, path)
	want := "[2026-08-24 10:30:00] STORE code-patterns: use context.WithTimeout for all RPCs"
	if len(lines) != 1 || lines[0] != want {
		t.Fatalf("log = %q, want %q", lines, want)
	}
}

func TestRecordTruncatesPreview(t *testing.T) {
	l, path := newTestLogger(t)
	l.Record("STORE", strings.Repeat("a", 200))

	lines := readLines(t, path)
	if !strings.HasSuffix(lines[0], strings.Repeat("a", previewChars)+"...") {
		t.Fatalf("preview not truncated: %q", lines[0])
	}
}

func TestRecordFullKeepsContent(t *testing.T) {
	l, path := newTestLogger(t)
	long := strings.Repeat("b", 300)
	l.RecordFull("RETRIEVE", long)

	lines := readLines(t, path)
	if !strings.Contains(lines[0], FullContentMarker+long) {
		t.Fatalf("full content lost: %q", lines[0])
	}
}

func TestTrimKeepsNewestEntries(t *testing.T) {
	l, path := newTestLogger(t)
	l.maxEntries = 5

	for i := 0; i < 8; i++ {
		l.Record("STORE", string(rune('a'+i)))
	}

	lines := readLines(t, path)
	if len(lines) != 5 {
		t.Fatalf("lines = %d, want 5", len(lines))
	}
	if !strings.HasSuffix(lines[0], ": d") || !strings.HasSuffix(lines[4], ": h") {
		t.Fatalf("wrong window kept: %q", lines)
	}
}

func TestUnwritablePathDoesNotPanic(t *testing.T) {
	l := New(filepath.Join(string(os.PathSeparator), "dev", "null", "impossible", "activity.log"))
	l.Record("STORE", "ignored")
}
