package telemetry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestTraceBufferWrite(t *testing.T) {
	dir := t.TempDir()
	b, err := OpenTraceBuffer(dir)
	if err != nil {
		t.Fatalf("OpenTraceBuffer: %v", err)
	}

	if err := b.Write(map[string]any{"event": "hook_start", "hook": "Stop"}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var files []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".json") {
			files = append(files, e.Name())
		}
	}
	if len(files) != 1 {
		t.Fatalf("got %d event files, want 1", len(files))
	}

	data, err := os.ReadFile(filepath.Join(dir, files[0]))
	if err != nil {
		t.Fatal(err)
	}
	var event map[string]any
	if err := json.Unmarshal(data, &event); err != nil {
		t.Fatalf("event file is not valid JSON: %v", err)
	}
	if event["event"] != "hook_start" {
		t.Fatalf("event = %v", event["event"])
	}
	if event["timestamp"] == nil {
		t.Fatal("timestamp not stamped")
	}
	if b.Bytes() != int64(len(data)) {
		t.Fatalf("byte counter = %d, want %d", b.Bytes(), len(data))
	}
}

func TestTraceBufferKillSwitch(t *testing.T) {
	dir := t.TempDir()
	b, err := OpenTraceBuffer(dir)
	if err != nil {
		t.Fatal(err)
	}

	t.Setenv(TraceDisabledEnv, "true")
	if err := b.Write(map[string]any{"event": "dropped"}); err != nil {
		t.Fatalf("Write with kill switch: %v", err)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("kill switch still wrote %d files", len(entries))
	}
}

func TestTraceBufferCapDropsEvents(t *testing.T) {
	dir := t.TempDir()
	b, err := OpenTraceBuffer(dir)
	if err != nil {
		t.Fatal(err)
	}
	b.maxBytes = 10

	if err := b.Write(map[string]any{"event": "too-big-for-the-cap"}); err != nil {
		t.Fatalf("Write over cap: %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("over-cap write produced %d files", len(entries))
	}
}

func TestTraceBufferSeedsCounterFromDisk(t *testing.T) {
	dir := t.TempDir()
	seed := []byte(`{"event":"existing"}`)
	if err := os.WriteFile(filepath.Join(dir, "existing.json"), seed, 0o600); err != nil {
		t.Fatal(err)
	}

	b, err := OpenTraceBuffer(dir)
	if err != nil {
		t.Fatal(err)
	}
	if b.Bytes() != int64(len(seed)) {
		t.Fatalf("seeded counter = %d, want %d", b.Bytes(), len(seed))
	}
}

func TestValidateLabelCoercion(t *testing.T) {
	if got := validateLabel(hookLabels, "Stop"); got != "Stop" {
		t.Fatalf("known label coerced to %q", got)
	}
	if got := validateLabel(hookLabels, "NotAHook"); got != "unknown" {
		t.Fatalf("unknown label = %q, want unknown", got)
	}
}
