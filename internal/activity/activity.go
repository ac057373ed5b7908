// Package activity maintains the human-readable activity log that users
// tail to see what the memory layer is doing. It is strictly best-effort:
// no method returns an error and no I/O failure propagates to callers.
package activity

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// MaxLogEntries bounds the log; the oldest entries are trimmed on append.
const MaxLogEntries = 500

// FullContentMarker prefixes entries carrying untruncated content, so
// readers (and the trimmer) can tell them apart from preview lines.
const FullContentMarker = "FULL_CONTENT: "

const previewChars = 120

// Logger appends timestamped entries to a single activity log file.
type Logger struct {
	path       string
	maxEntries int

	mu  sync.Mutex
	now func() time.Time
}

// New builds a logger for the given file path.
func New(path string) *Logger {
	return &Logger{path: path, maxEntries: MaxLogEntries, now: time.Now}
}

// Record appends one entry. Content beyond a short preview is elided;
// newlines are flattened so the log stays one entry per line.
func (l *Logger) Record(action, detail string) {
	l.append(fmt.Sprintf("[%s] %s: %s",
		l.now().UTC().Format("2006-01-02 15:04:05"), action, preview(detail)))
}

// RecordFull appends an entry keeping the complete content, flagged with
// the full-content marker.
func (l *Logger) RecordFull(action, content string) {
	l.append(fmt.Sprintf("[%s] %s: %s%s",
		l.now().UTC().Format("2006-01-02 15:04:05"), action, FullContentMarker, flatten(content)))
}

func preview(s string) string {
	s = flatten(s)
	if runes := []rune(s); len(runes) > previewChars {
		return string(runes[:previewChars]) + "..."
	}
	return s
}

func flatten(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func (l *Logger) append(line string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o700); err != nil {
		slog.Debug("activity log directory unavailable", "error", err)
		return
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		slog.Debug("activity log unavailable", "error", err)
		return
	}
	_, werr := f.WriteString(line + "\n")
	cerr := f.Close()
	if werr != nil || cerr != nil {
		slog.Debug("activity log write failed", "write_error", werr, "close_error", cerr)
		return
	}
	l.trim()
}

// trim rewrites the log keeping the newest maxEntries lines. Runs under
// the logger mutex; concurrent processes may interleave appends between
// read and rename, losing at most a handful of lines, which is an
// accepted trade for a plain-text log.
func (l *Logger) trim() {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return
	}
	lines := bytes.Split(bytes.TrimRight(data, "\n"), []byte("\n"))
	if len(lines) <= l.maxEntries {
		return
	}
	keep := lines[len(lines)-l.maxEntries:]

	tmp := l.path + ".tmp"
	out := append(bytes.Join(keep, []byte("\n")), '\n')
	if err := os.WriteFile(tmp, out, 0o600); err != nil {
		slog.Debug("activity log trim failed", "error", err)
		return
	}
	if err := os.Rename(tmp, l.path); err != nil {
		slog.Debug("activity log trim rename failed", "error", err)
		_ = os.Remove(tmp)
	}
}
