// Package freshness classifies how stale stored code-pattern memories
// are relative to the repository state mirrored into the discussions
// collection (github_code_blob and github_commit points).
package freshness

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/aimemory/aimemory/internal/memory"
	"github.com/aimemory/aimemory/internal/vectorstore"
)

// Thresholds are commit counts since a memory was stored. Blob-hash
// mismatch expires a memory regardless of count.
type Thresholds struct {
	Aging   int
	Stale   int
	Expired int
}

// DefaultThresholds classify after 3/5/10 commits touching the file.
var DefaultThresholds = Thresholds{Aging: 3, Stale: 5, Expired: 10}

const scrollPage = 256

// GroundTruth is the current repository state for one file, taken from
// the newest synced github_code_blob point.
type GroundTruth struct {
	BlobHash      string
	LastCommitSHA string
	LastSynced    string
}

// Result is the classification of one scanned point.
type Result struct {
	PointID       string                 `json:"point_id"`
	FilePath      string                 `json:"file_path"`
	Status        memory.FreshnessStatus `json:"status"`
	Reason        string                 `json:"reason"`
	CommitCount   int                    `json:"commit_count"`
	BlobHashMatch bool                   `json:"blob_hash_match"`
	StoredAt      string                 `json:"stored_at"`
	Timestamp     string                 `json:"timestamp"`
}

// Report summarises one scan.
type Report struct {
	Scanned  int
	ByStatus map[memory.FreshnessStatus]int
	Results  []Result
}

// Store is the vector-store surface the scanner needs.
type Store interface {
	Scroll(ctx context.Context, collection string, filter *vectorstore.Filter, limit int, offset any) ([]vectorstore.Point, any, error)
	SetPayload(ctx context.Context, collection string, ids []string, payload map[string]any) error
}

// Scanner runs on-demand freshness scans.
type Scanner struct {
	store      Store
	thresholds Thresholds
	auditPath  string

	now func() time.Time
}

// New builds a scanner writing its audit log under auditDir.
func New(store Store, auditDir string) *Scanner {
	return &Scanner{
		store:      store,
		thresholds: DefaultThresholds,
		auditPath:  filepath.Join(auditDir, "logs", "freshness-log.jsonl"),
		now:        time.Now,
	}
}

// Scan classifies every code-patterns point carrying a file_path,
// optionally restricted to one group. Service unavailability never
// fails the scan; it produces an empty report.
func (s *Scanner) Scan(ctx context.Context, groupID string) *Report {
	report := &Report{ByStatus: map[memory.FreshnessStatus]int{}}

	truth, err := s.loadGroundTruth(ctx)
	if err != nil {
		slog.Warn("freshness scan aborted, vector store unreachable", "error", err)
		return report
	}

	var filter *vectorstore.Filter
	if groupID != "" {
		filter = &vectorstore.Filter{Must: []vectorstore.Condition{
			vectorstore.MatchValue("group_id", groupID),
		}}
	}

	var offset any
	for {
		points, next, err := s.store.Scroll(ctx, string(memory.CollectionCodePatterns), filter, scrollPage, offset)
		if err != nil {
			slog.Warn("freshness scan interrupted", "error", err)
			return report
		}
		for _, pt := range points {
			filePath, _ := pt.Payload["file_path"].(string)
			if filePath == "" {
				continue
			}
			result := s.classify(ctx, pt, filePath, truth)
			report.Scanned++
			report.ByStatus[result.Status]++
			report.Results = append(report.Results, result)
		}
		if next == nil {
			break
		}
		offset = next
	}

	s.applyStatuses(ctx, report.Results)
	s.appendAudit(report.Results)
	return report
}

// loadGroundTruth maps file paths to the current blob state mirrored in
// the discussions collection.
func (s *Scanner) loadGroundTruth(ctx context.Context) (map[string]GroundTruth, error) {
	filter := &vectorstore.Filter{Must: []vectorstore.Condition{
		vectorstore.MatchValue("type", string(memory.TypeGitHubCodeBlob)),
		vectorstore.MatchValue("is_current", true),
	}}

	truth := map[string]GroundTruth{}
	var offset any
	for {
		points, next, err := s.store.Scroll(ctx, string(memory.CollectionDiscussions), filter, scrollPage, offset)
		if err != nil {
			return nil, fmt.Errorf("load ground truth: %w", err)
		}
		for _, pt := range points {
			filePath, _ := pt.Payload["file_path"].(string)
			if filePath == "" {
				continue
			}
			gt := GroundTruth{}
			gt.BlobHash, _ = pt.Payload["blob_hash"].(string)
			gt.LastCommitSHA, _ = pt.Payload["last_commit_sha"].(string)
			gt.LastSynced, _ = pt.Payload["last_synced"].(string)
			truth[filePath] = gt
		}
		if next == nil {
			return truth, nil
		}
		offset = next
	}
}

// countCommitsSince counts github_commit points touching the file after
// the memory was stored. Linear in history; acceptable on demand.
func (s *Scanner) countCommitsSince(ctx context.Context, filePath, storedAt string) int {
	must := []vectorstore.Condition{
		vectorstore.MatchValue("type", string(memory.TypeGitHubCommit)),
		vectorstore.MatchValue("file_path", filePath),
	}
	if storedAt != "" {
		must = append(must, vectorstore.MatchRange("timestamp", vectorstore.Range{GT: storedAt}))
	}
	filter := &vectorstore.Filter{Must: must}

	count := 0
	var offset any
	for {
		points, next, err := s.store.Scroll(ctx, string(memory.CollectionDiscussions), filter, scrollPage, offset)
		if err != nil {
			slog.Warn("commit count unavailable", "file_path", filePath, "error", err)
			return count
		}
		count += len(points)
		if next == nil {
			return count
		}
		offset = next
	}
}

func (s *Scanner) classify(ctx context.Context, pt vectorstore.Point, filePath string, truth map[string]GroundTruth) Result {
	storedAt, _ := pt.Payload["stored_at"].(string)
	result := Result{
		PointID:   pt.ID,
		FilePath:  filePath,
		StoredAt:  storedAt,
		Timestamp: s.now().UTC().Format(time.RFC3339),
	}

	gt, ok := truth[filePath]
	if !ok {
		result.Status = memory.FreshnessUnknown
		result.Reason = "no ground truth for file"
		return result
	}

	blobHash, _ := pt.Payload["blob_hash"].(string)
	result.BlobHashMatch = blobHash != "" && gt.BlobHash != "" && blobHash == gt.BlobHash
	result.CommitCount = s.countCommitsSince(ctx, filePath, storedAt)

	switch {
	case blobHash != "" && gt.BlobHash != "" && blobHash != gt.BlobHash:
		result.Status = memory.FreshnessExpired
		result.Reason = "blob hash mismatch"
	case result.CommitCount >= s.thresholds.Expired:
		result.Status = memory.FreshnessExpired
		result.Reason = fmt.Sprintf("%d commits since stored", result.CommitCount)
	case result.CommitCount >= s.thresholds.Stale:
		result.Status = memory.FreshnessStale
		result.Reason = fmt.Sprintf("%d commits since stored", result.CommitCount)
	case result.CommitCount >= s.thresholds.Aging:
		result.Status = memory.FreshnessAging
		result.Reason = fmt.Sprintf("%d commits since stored", result.CommitCount)
	default:
		result.Status = memory.FreshnessFresh
		result.Reason = "up to date"
	}
	return result
}

// applyStatuses writes freshness_status / freshness_checked_at back in
// one batched payload update per status group. A failed group is logged
// and skipped, never aborting the scan.
func (s *Scanner) applyStatuses(ctx context.Context, results []Result) {
	byStatus := map[memory.FreshnessStatus][]string{}
	for _, r := range results {
		byStatus[r.Status] = append(byStatus[r.Status], r.PointID)
	}

	checkedAt := s.now().UTC().Format(time.RFC3339)
	for status, ids := range byStatus {
		payload := map[string]any{
			"freshness_status":     string(status),
			"freshness_checked_at": checkedAt,
		}
		if err := s.store.SetPayload(ctx, string(memory.CollectionCodePatterns), ids, payload); err != nil {
			slog.Warn("freshness status update failed",
				"status", status, "points", len(ids), "error", err)
		}
	}
}

// appendAudit writes one JSONL line per scanned point. Audit failures
// are logged and swallowed.
func (s *Scanner) appendAudit(results []Result) {
	if len(results) == 0 {
		return
	}
	if err := os.MkdirAll(filepath.Dir(s.auditPath), 0o700); err != nil {
		slog.Warn("freshness audit directory unavailable", "error", err)
		return
	}
	f, err := os.OpenFile(s.auditPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		slog.Warn("freshness audit log unavailable", "error", err)
		return
	}
	defer func() { _ = f.Close() }()

	enc := json.NewEncoder(f)
	for _, r := range results {
		if err := enc.Encode(r); err != nil {
			slog.Warn("freshness audit write failed", "error", err)
			return
		}
	}
}
