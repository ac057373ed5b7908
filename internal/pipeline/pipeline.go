// Package pipeline implements the storage path: validate, exact-hash
// dedupe, embed, upsert, with graceful degradation at every external
// edge. An embedding failure stores a pending zero-vector record; a
// vector-store outage queues the record for retry. The caller never
// sees an exception for either.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aimemory/aimemory/internal/classify"
	"github.com/aimemory/aimemory/internal/config"
	"github.com/aimemory/aimemory/internal/embed"
	"github.com/aimemory/aimemory/internal/memory"
	"github.com/aimemory/aimemory/internal/retryq"
	"github.com/aimemory/aimemory/internal/telemetry"
	"github.com/aimemory/aimemory/internal/vectorstore"
)

// Store outcome statuses.
const (
	StatusStored    = "stored"
	StatusDuplicate = "duplicate"
	StatusQueued    = "queued"
)

// Embedder is the embedding client surface the pipeline needs.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	ZeroVector() []float32
	Model() string
}

// VectorStore is the vector database surface the pipeline needs.
type VectorStore interface {
	Upsert(ctx context.Context, collection, id string, vector []float32, payload map[string]any) error
	Scroll(ctx context.Context, collection string, filter *vectorstore.Filter, limit int, offset any) ([]vectorstore.Point, any, error)
	SetPayload(ctx context.Context, collection string, ids []string, payload map[string]any) error
}

// RetryQueue is the durable queue surface the pipeline needs.
type RetryQueue interface {
	Enqueue(rec memory.Record, failureReason string, immediate bool) (string, error)
	GetPending(limit int, includeExhausted bool) ([]retryq.Entry, error)
	Dequeue(id string) error
	MarkFailed(id string) error
}

// TypeClassifier reclassifies candidate records. Optional.
type TypeClassifier interface {
	Classify(ctx context.Context, content string, collection memory.Collection, current memory.Type) classify.Outcome
}

// ValidationError aggregates every violation found on a record.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return "invalid memory record: " + strings.Join(e.Violations, "; ")
}

// StoreRequest is one candidate memory.
type StoreRequest struct {
	Content    string
	CWD        string
	GroupID    string // overrides CWD resolution when set
	Type       memory.Type
	SourceHook memory.SourceHook
	SessionID  string
	Collection memory.Collection
	TurnNumber int
	Timestamp  time.Time

	Domain     string
	Importance string
	Tags       []string

	JiraIssueKey string
	BlobHash     string
	FilePath     string
}

// StoreResult reports what happened to one candidate.
type StoreResult struct {
	Status          string                 `json:"status"`
	MemoryID        string                 `json:"memory_id,omitempty"`
	EmbeddingStatus memory.EmbeddingStatus `json:"embedding_status,omitempty"`
	Reclassified    bool                   `json:"reclassified,omitempty"`
}

// BatchOutcome pairs one batch input with its result or error, 1:1 with
// the input slice.
type BatchOutcome struct {
	Result *StoreResult
	Err    error
}

// Pipeline wires the storage path together.
type Pipeline struct {
	embedder   Embedder
	store      VectorStore
	queue      RetryQueue
	classifier TypeClassifier

	now func() time.Time
}

// New builds a pipeline. classifier may be nil to store records with
// their caller-supplied types.
func New(e Embedder, vs VectorStore, q RetryQueue, classifier TypeClassifier) *Pipeline {
	return &Pipeline{
		embedder:   e,
		store:      vs,
		queue:      q,
		classifier: classifier,
		now:        time.Now,
	}
}

// buildRecord fills in derived fields: group resolution, id, hash,
// timestamp.
func (p *Pipeline) buildRecord(req StoreRequest) memory.Record {
	groupID := req.GroupID
	if groupID == "" {
		groupID = config.DetectGroupID(req.CWD)
	}
	storedAt := req.Timestamp
	if storedAt.IsZero() {
		storedAt = p.now()
	}
	return memory.Record{
		ID:           uuid.NewString(),
		Content:      req.Content,
		ContentHash:  memory.ContentHash(req.Content),
		GroupID:      groupID,
		Type:         req.Type,
		SourceHook:   req.SourceHook,
		SessionID:    req.SessionID,
		StoredAt:     storedAt.UTC(),
		Collection:   req.Collection,
		TurnNumber:   req.TurnNumber,
		Domain:       req.Domain,
		Importance:   req.Importance,
		Tags:         req.Tags,
		JiraIssueKey: req.JiraIssueKey,
		BlobHash:     req.BlobHash,
		FilePath:     req.FilePath,
	}
}

// findDuplicate scrolls the target collection for an existing point with
// the same (content_hash, group_id). This is the only dedupe authority.
func (p *Pipeline) findDuplicate(ctx context.Context, rec memory.Record) (string, error) {
	filter := &vectorstore.Filter{Must: []vectorstore.Condition{
		vectorstore.MatchValue("content_hash", rec.ContentHash),
		vectorstore.MatchValue("group_id", rec.GroupID),
	}}
	points, _, err := p.store.Scroll(ctx, string(rec.Collection), filter, 1, nil)
	if err != nil {
		return "", err
	}
	if len(points) == 0 {
		return "", nil
	}
	return points[0].ID, nil
}

// embed maps the record content to a vector, degrading to a zero-vector
// pending store on embedding failure.
func (p *Pipeline) embed(ctx context.Context, rec *memory.Record) []float32 {
	start := p.now()
	vectors, err := p.embedder.Embed(ctx, []string{rec.Content})
	ms := float64(time.Since(start).Milliseconds())
	if err != nil {
		outcome := "error"
		if errors.Is(err, embed.ErrTimeout) {
			outcome = "timeout"
		}
		telemetry.RecordEmbedding(ctx, outcome, ms)
		slog.Warn("embedding failed, storing pending record",
			"memory_id", rec.ID, "error", err)
		rec.EmbeddingStatus = memory.EmbeddingPending
		return p.embedder.ZeroVector()
	}
	telemetry.RecordEmbedding(ctx, "success", ms)
	rec.EmbeddingStatus = memory.EmbeddingComplete
	rec.EmbeddingModel = p.embedder.Model()
	return vectors[0]
}

// upsertOrQueue writes the record, falling back to the retry queue when
// the vector store is unreachable.
func (p *Pipeline) upsertOrQueue(ctx context.Context, rec memory.Record, vector []float32) (*StoreResult, error) {
	err := p.store.Upsert(ctx, string(rec.Collection), rec.ID, vector, rec.Payload())
	if err == nil {
		return &StoreResult{
			Status:          StatusStored,
			MemoryID:        rec.ID,
			EmbeddingStatus: rec.EmbeddingStatus,
		}, nil
	}
	if !errors.Is(err, vectorstore.ErrUnavailable) {
		return nil, fmt.Errorf("store memory %s: %w", rec.ID, err)
	}

	telemetry.RecordFailure(ctx, "vectorstore", retryq.ReasonVectorStoreUnavailable)
	if _, qErr := p.queue.Enqueue(rec, retryq.ReasonVectorStoreUnavailable, false); qErr != nil {
		return nil, fmt.Errorf("store memory %s: queue fallback: %w", rec.ID, qErr)
	}
	slog.Warn("vector store unavailable, memory queued for retry", "memory_id", rec.ID)
	return &StoreResult{Status: StatusQueued, EmbeddingStatus: rec.EmbeddingStatus}, nil
}

// StoreMemory runs the full pipeline for one candidate.
func (p *Pipeline) StoreMemory(ctx context.Context, req StoreRequest) (*StoreResult, error) {
	rec := p.buildRecord(req)
	if violations := rec.Validate(); len(violations) > 0 {
		return nil, &ValidationError{Violations: violations}
	}

	existing, err := p.findDuplicate(ctx, rec)
	if err != nil {
		// A store outage during dedupe gets the same treatment as an
		// upsert failure: queue and move on.
		if errors.Is(err, vectorstore.ErrUnavailable) {
			return p.queueUnavailable(ctx, rec)
		}
		return nil, fmt.Errorf("dedupe check: %w", err)
	}
	if existing != "" {
		telemetry.RecordDedup(ctx, string(rec.Collection))
		return &StoreResult{Status: StatusDuplicate, MemoryID: existing}, nil
	}

	reclassified := p.reclassify(ctx, &rec)
	vector := p.embed(ctx, &rec)

	result, err := p.upsertOrQueue(ctx, rec, vector)
	if err != nil {
		return nil, err
	}
	result.Reclassified = reclassified
	return result, nil
}

func (p *Pipeline) queueUnavailable(ctx context.Context, rec memory.Record) (*StoreResult, error) {
	rec.EmbeddingStatus = memory.EmbeddingPending
	telemetry.RecordFailure(ctx, "vectorstore", retryq.ReasonVectorStoreUnavailable)
	if _, err := p.queue.Enqueue(rec, retryq.ReasonVectorStoreUnavailable, false); err != nil {
		return nil, fmt.Errorf("store memory %s: queue fallback: %w", rec.ID, err)
	}
	return &StoreResult{Status: StatusQueued, EmbeddingStatus: rec.EmbeddingStatus}, nil
}

func (p *Pipeline) reclassify(ctx context.Context, rec *memory.Record) bool {
	if p.classifier == nil {
		return false
	}
	outcome := p.classifier.Classify(ctx, rec.Content, rec.Collection, rec.Type)
	if !outcome.WasReclassified {
		return false
	}
	slog.Info("memory reclassified",
		"memory_id", rec.ID, "from", rec.Type, "to", outcome.Type,
		"provider", outcome.Provider, "confidence", outcome.Confidence)
	rec.Type = outcome.Type
	if len(outcome.Tags) > 0 {
		rec.Tags = mergeTags(rec.Tags, outcome.Tags)
	}
	return true
}

func mergeTags(existing, added []string) []string {
	seen := make(map[string]bool, len(existing))
	out := append([]string(nil), existing...)
	for _, t := range existing {
		seen[t] = true
	}
	for _, t := range added {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

// StoreBatch stores several candidates, sharing one embedding round-trip
// across everything that passes validation. The outcome slice is 1:1
// with the input.
func (p *Pipeline) StoreBatch(ctx context.Context, reqs []StoreRequest) []BatchOutcome {
	outcomes := make([]BatchOutcome, len(reqs))
	records := make([]memory.Record, len(reqs))
	var texts []string
	var embedIdx []int

	for i, req := range reqs {
		rec := p.buildRecord(req)
		records[i] = rec
		if violations := rec.Validate(); len(violations) > 0 {
			outcomes[i].Err = &ValidationError{Violations: violations}
			continue
		}
		texts = append(texts, rec.Content)
		embedIdx = append(embedIdx, i)
	}

	vectors, embedErr := p.embedder.Embed(ctx, texts)
	if embedErr != nil {
		slog.Warn("batch embedding failed, storing pending records",
			"count", len(texts), "error", embedErr)
	}

	for pos, i := range embedIdx {
		rec := records[i]

		existing, err := p.findDuplicate(ctx, rec)
		if err != nil {
			if errors.Is(err, vectorstore.ErrUnavailable) {
				outcomes[i].Result, outcomes[i].Err = p.queueUnavailable(ctx, rec)
				continue
			}
			outcomes[i].Err = fmt.Errorf("dedupe check: %w", err)
			continue
		}
		if existing != "" {
			telemetry.RecordDedup(ctx, string(rec.Collection))
			outcomes[i].Result = &StoreResult{Status: StatusDuplicate, MemoryID: existing}
			continue
		}

		var vector []float32
		if embedErr != nil {
			rec.EmbeddingStatus = memory.EmbeddingPending
			vector = p.embedder.ZeroVector()
		} else {
			rec.EmbeddingStatus = memory.EmbeddingComplete
			rec.EmbeddingModel = p.embedder.Model()
			vector = vectors[pos]
		}

		outcomes[i].Result, outcomes[i].Err = p.upsertOrQueue(ctx, rec, vector)
	}
	return outcomes
}
