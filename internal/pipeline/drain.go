package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/aimemory/aimemory/internal/memory"
	"github.com/aimemory/aimemory/internal/retryq"
	"github.com/aimemory/aimemory/internal/telemetry"
	"github.com/aimemory/aimemory/internal/vectorstore"
)

// Drain tuning.
const (
	DefaultDrainBatch   = 32
	defaultPollInterval = 30 * time.Second
)

// DrainStats summarises one drain pass.
type DrainStats struct {
	Attempted int
	Stored    int
	Requeued  int
}

// Drainer replays queued memories once the vector store is reachable
// again. Retried entries skip the dedupe check: the queue entry itself
// is the proof the record was never written.
type Drainer struct {
	pipeline  *Pipeline
	batchSize int
}

// NewDrainer builds a drainer over the pipeline's queue and store.
func NewDrainer(p *Pipeline) *Drainer {
	return &Drainer{pipeline: p, batchSize: DefaultDrainBatch}
}

// DrainOnce replays every currently-eligible entry. It stops early when
// the vector store is still unreachable; remaining entries keep their
// schedule.
func (d *Drainer) DrainOnce(ctx context.Context) (DrainStats, error) {
	var stats DrainStats

	entries, err := d.pipeline.queue.GetPending(d.batchSize, false)
	if err != nil {
		return stats, fmt.Errorf("drain: %w", err)
	}

	for _, e := range entries {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		stats.Attempted++

		rec := e.MemoryData
		vector := d.pipeline.embed(ctx, &rec)
		err := d.pipeline.store.Upsert(ctx, string(rec.Collection), rec.ID, vector, rec.Payload())
		if err == nil {
			if dqErr := d.pipeline.queue.Dequeue(e.ID); dqErr != nil {
				slog.Warn("drained entry could not be dequeued", "entry_id", e.ID, "error", dqErr)
			}
			stats.Stored++
			continue
		}

		if mfErr := d.pipeline.queue.MarkFailed(e.ID); mfErr != nil {
			slog.Warn("queue entry could not be rescheduled", "entry_id", e.ID, "error", mfErr)
		}
		stats.Requeued++

		if errors.Is(err, vectorstore.ErrUnavailable) {
			// Still down; the rest of the batch would fail the same way.
			d.recordQueueGauge(ctx)
			return stats, fmt.Errorf("drain: %w", err)
		}
		slog.Warn("retry upsert failed", "entry_id", e.ID, "error", err)
	}

	d.recordQueueGauge(ctx)
	return stats, nil
}

func (d *Drainer) recordQueueGauge(ctx context.Context) {
	q, ok := d.pipeline.queue.(interface{ Stats() (retryq.Stats, error) })
	if !ok {
		return
	}
	stats, err := q.Stats()
	if err != nil {
		return
	}
	telemetry.RecordQueueSize(ctx, "ready", int64(stats.ReadyForRetry))
	telemetry.RecordQueueSize(ctx, "awaiting_backoff", int64(stats.AwaitingBackoff))
	telemetry.RecordQueueSize(ctx, "exhausted", int64(stats.Exhausted))
}

// Run drains the queue until the context is cancelled, backing off
// exponentially while the vector store stays down and resetting once a
// pass succeeds.
func (d *Drainer) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 5 * time.Second
	bo.MaxInterval = 2 * time.Minute
	bo.MaxElapsedTime = 0
	bo.Reset()

	for {
		stats, err := d.DrainOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		wait := defaultPollInterval
		if err != nil {
			wait = bo.NextBackOff()
		} else {
			bo.Reset()
			if stats.Stored > 0 {
				slog.Info("retry queue drained", "stored", stats.Stored, "requeued", stats.Requeued)
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// BackfillPending re-embeds records stored with a zero-vector
// placeholder and promotes them to embedding_status=complete. Returns
// how many records were backfilled.
func (p *Pipeline) BackfillPending(ctx context.Context, collection memory.Collection, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = DefaultDrainBatch
	}
	filter := &vectorstore.Filter{Must: []vectorstore.Condition{
		vectorstore.MatchValue("embedding_status", string(memory.EmbeddingPending)),
	}}

	total := 0
	var offset any
	for {
		points, next, err := p.store.Scroll(ctx, string(collection), filter, batchSize, offset)
		if err != nil {
			return total, fmt.Errorf("backfill scan: %w", err)
		}
		if len(points) == 0 {
			return total, nil
		}

		texts := make([]string, 0, len(points))
		kept := make([]vectorstore.Point, 0, len(points))
		for _, pt := range points {
			content, ok := pt.Payload["content"].(string)
			if !ok || content == "" {
				slog.Warn("pending record has no content, skipping backfill", "memory_id", pt.ID)
				continue
			}
			texts = append(texts, content)
			kept = append(kept, pt)
		}

		vectors, err := p.embedder.Embed(ctx, texts)
		if err != nil {
			// Service still down; leave the records pending.
			return total, fmt.Errorf("backfill embed: %w", err)
		}

		for i, pt := range kept {
			payload := pt.Payload
			payload["embedding_status"] = string(memory.EmbeddingComplete)
			payload["embedding_model"] = p.embedder.Model()
			if err := p.store.Upsert(ctx, string(collection), pt.ID, vectors[i], payload); err != nil {
				return total, fmt.Errorf("backfill upsert %s: %w", pt.ID, err)
			}
			total++
		}

		if next == nil {
			return total, nil
		}
		offset = next
	}
}
