package freshness

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/aimemory/aimemory/internal/memory"
	"github.com/aimemory/aimemory/internal/vectorstore"
)

// fakeStore answers scrolls by inspecting the filter conditions, which
// is how the scanner distinguishes its three query shapes.
type fakeStore struct {
	blobs    []vectorstore.Point // ground truth points
	patterns []vectorstore.Point // code-patterns points
	commits  map[string]int      // file_path -> commits after stored_at

	payloadCalls map[string][]string // status -> ids
	scrollErr    error
}

func (f *fakeStore) Scroll(ctx context.Context, collection string, filter *vectorstore.Filter, limit int, offset any) ([]vectorstore.Point, any, error) {
	if f.scrollErr != nil {
		return nil, nil, f.scrollErr
	}
	var typeVal, filePath string
	if filter != nil {
		for _, c := range filter.Must {
			if c.Key == "type" && c.Match != nil {
				typeVal, _ = c.Match.Value.(string)
			}
			if c.Key == "file_path" && c.Match != nil {
				filePath, _ = c.Match.Value.(string)
			}
		}
	}
	switch typeVal {
	case string(memory.TypeGitHubCodeBlob):
		return f.blobs, nil, nil
	case string(memory.TypeGitHubCommit):
		n := f.commits[filePath]
		points := make([]vectorstore.Point, n)
		return points, nil, nil
	default:
		return f.patterns, nil, nil
	}
}

func (f *fakeStore) SetPayload(ctx context.Context, collection string, ids []string, payload map[string]any) error {
	if f.payloadCalls == nil {
		f.payloadCalls = map[string][]string{}
	}
	status := payload["freshness_status"].(string)
	f.payloadCalls[status] = append(f.payloadCalls[status], ids...)
	return nil
}

func pattern(id, path, blobHash string) vectorstore.Point {
	return vectorstore.Point{ID: id, Payload: map[string]any{
		"file_path": path,
		"blob_hash": blobHash,
		"stored_at": "2026-08-01T00:00:00Z",
	}}
}

func blob(path, hash string) vectorstore.Point {
	return vectorstore.Point{ID: "blob-" + path, Payload: map[string]any{
		"file_path":  path,
		"blob_hash":  hash,
		"is_current": true,
	}}
}

func TestScanClassifiesByPriority(t *testing.T) {
	store := &fakeStore{
		blobs: []vectorstore.Point{
			blob("a.go", "hash-a"),
			blob("b.go", "hash-b"),
			blob("c.go", "hash-c"),
			blob("d.go", "hash-d"),
		},
		patterns: []vectorstore.Point{
			pattern("p-mismatch", "a.go", "old-hash"), // expired by hash
			pattern("p-expired", "b.go", "hash-b"),    // expired by commits
			pattern("p-stale", "c.go", "hash-c"),
			pattern("p-fresh", "d.go", "hash-d"),
			pattern("p-unknown", "e.go", ""),
		},
		commits: map[string]int{"a.go": 0, "b.go": 12, "c.go": 6, "d.go": 1},
	}

	s := New(store, t.TempDir())
	report := s.Scan(context.Background(), "")

	if report.Scanned != 5 {
		t.Fatalf("scanned = %d", report.Scanned)
	}
	want := map[string]memory.FreshnessStatus{
		"p-mismatch": memory.FreshnessExpired,
		"p-expired":  memory.FreshnessExpired,
		"p-stale":    memory.FreshnessStale,
		"p-fresh":    memory.FreshnessFresh,
		"p-unknown":  memory.FreshnessUnknown,
	}
	for _, r := range report.Results {
		if r.Status != want[r.PointID] {
			t.Fatalf("%s classified %s, want %s (reason %q)", r.PointID, r.Status, want[r.PointID], r.Reason)
		}
	}

	if got := len(store.payloadCalls["expired"]); got != 2 {
		t.Fatalf("expired payload updates = %d, want 2", got)
	}
	if got := len(store.payloadCalls["fresh"]); got != 1 {
		t.Fatalf("fresh payload updates = %d, want 1", got)
	}
}

func TestScanAgingThreshold(t *testing.T) {
	store := &fakeStore{
		blobs:    []vectorstore.Point{blob("a.go", "hash-a")},
		patterns: []vectorstore.Point{pattern("p1", "a.go", "hash-a")},
		commits:  map[string]int{"a.go": 3},
	}
	s := New(store, t.TempDir())

	report := s.Scan(context.Background(), "")
	if report.ByStatus[memory.FreshnessAging] != 1 {
		t.Fatalf("byStatus = %v", report.ByStatus)
	}
}

func TestScanUnavailableStoreReturnsEmptyReport(t *testing.T) {
	store := &fakeStore{scrollErr: errors.New("connection refused")}
	s := New(store, t.TempDir())

	report := s.Scan(context.Background(), "")
	if report.Scanned != 0 || len(report.Results) != 0 {
		t.Fatalf("report = %+v, want empty", report)
	}
}

func TestScanWritesAuditLog(t *testing.T) {
	auditDir := t.TempDir()
	store := &fakeStore{
		blobs:    []vectorstore.Point{blob("a.go", "hash-a")},
		patterns: []vectorstore.Point{pattern("p1", "a.go", "hash-a")},
		commits:  map[string]int{"a.go": 0},
	}
	s := New(store, auditDir)
	s.Scan(context.Background(), "")

	f, err := os.Open(filepath.Join(auditDir, "logs", "freshness-log.jsonl"))
	if err != nil {
		t.Fatalf("audit log missing: %v", err)
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	lines := 0
	for scanner.Scan() {
		lines++
		var r Result
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			t.Fatalf("audit line not JSON: %v", err)
		}
		if r.PointID != "p1" || r.Status != memory.FreshnessFresh {
			t.Fatalf("audit entry = %+v", r)
		}
	}
	if lines != 1 {
		t.Fatalf("audit lines = %d, want 1", lines)
	}
}
