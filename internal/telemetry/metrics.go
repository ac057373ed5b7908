package telemetry

import (
	"context"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Closed label sets. Unknown values are coerced to "unknown" and logged
// once per value so a typo in a caller cannot explode metric cardinality.
var (
	hookLabels = map[string]bool{
		"PostToolUse": true, "UserPromptSubmit": true, "Stop": true,
		"SessionStart": true, "PreCompact": true, "manual": true,
		"connector": true,
	}
	collectionLabels = map[string]bool{
		"code-patterns": true, "conventions": true, "discussions": true,
		"jira-data": true,
	}
	outcomeLabels = map[string]bool{
		"success": true, "timeout": true, "error": true, "skipped": true,
	}
	componentLabels = map[string]bool{
		"pipeline": true, "embedding": true, "vectorstore": true,
		"classifier": true, "retry_queue": true, "llm": true,
		"freshness": true,
	}
)

var (
	coerceMu     sync.Mutex
	coerceLogged = map[string]bool{}
)

// validateLabel coerces values outside the closed set to "unknown".
func validateLabel(set map[string]bool, value string) string {
	if set[value] {
		return value
	}
	coerceMu.Lock()
	if !coerceLogged[value] {
		coerceLogged[value] = true
		slog.Warn("unknown metric label value coerced", "value", value)
	}
	coerceMu.Unlock()
	return "unknown"
}

// instruments holds every metric family. Built lazily behind a Once so
// importing the package costs nothing when telemetry is off.
type instruments struct {
	hookDuration      metric.Float64Histogram
	retrievalOps      metric.Int64Counter
	retrievalDuration metric.Float64Histogram
	embeddingOps      metric.Int64Counter
	embeddingDuration metric.Float64Histogram
	classificationOps metric.Int64Counter
	queueSize         metric.Int64Gauge
	dedupHits         metric.Int64Counter
	failures          metric.Int64Counter
}

var (
	instOnce sync.Once
	inst     *instruments
)

func getInstruments() *instruments {
	instOnce.Do(func() {
		m := Meter("")
		i := &instruments{}
		i.hookDuration, _ = m.Float64Histogram("aimemory_hook_duration_ms",
			metric.WithDescription("End-to-end hook handler duration"),
			metric.WithUnit("ms"),
		)
		i.retrievalOps, _ = m.Int64Counter("aimemory_retrieval_operations_total",
			metric.WithDescription("Search operations executed"),
		)
		i.retrievalDuration, _ = m.Float64Histogram("aimemory_retrieval_duration_ms",
			metric.WithDescription("Search operation duration"),
			metric.WithUnit("ms"),
		)
		i.embeddingOps, _ = m.Int64Counter("aimemory_embedding_requests_total",
			metric.WithDescription("Embedding requests by outcome"),
		)
		i.embeddingDuration, _ = m.Float64Histogram("aimemory_embedding_duration_ms",
			metric.WithDescription("Embedding request duration"),
			metric.WithUnit("ms"),
		)
		i.classificationOps, _ = m.Int64Counter("aimemory_classification_operations_total",
			metric.WithDescription("Classification attempts by provider and outcome"),
		)
		i.queueSize, _ = m.Int64Gauge("aimemory_retry_queue_size",
			metric.WithDescription("Retry queue entries by state"),
		)
		i.dedupHits, _ = m.Int64Counter("aimemory_store_dedup_total",
			metric.WithDescription("Stores rejected as exact-hash duplicates"),
		)
		i.failures, _ = m.Int64Counter("aimemory_failure_events_total",
			metric.WithDescription("Failure events by component and error code"),
		)
		inst = i
	})
	return inst
}

// RecordHookDuration records one hook invocation.
func RecordHookDuration(ctx context.Context, hook string, ms float64) {
	getInstruments().hookDuration.Record(ctx, ms, metric.WithAttributes(
		attribute.String("hook", validateLabel(hookLabels, hook)),
	))
}

// RecordRetrieval records one search against a collection.
func RecordRetrieval(ctx context.Context, collection string, ms float64) {
	attrs := metric.WithAttributes(
		attribute.String("collection", validateLabel(collectionLabels, collection)),
	)
	i := getInstruments()
	i.retrievalOps.Add(ctx, 1, attrs)
	i.retrievalDuration.Record(ctx, ms, attrs)
}

// RecordEmbedding records one embedding round-trip by outcome.
func RecordEmbedding(ctx context.Context, outcome string, ms float64) {
	attrs := metric.WithAttributes(
		attribute.String("outcome", validateLabel(outcomeLabels, outcome)),
	)
	i := getInstruments()
	i.embeddingOps.Add(ctx, 1, attrs)
	i.embeddingDuration.Record(ctx, ms, attrs)
}

// RecordClassification counts one classification attempt.
func RecordClassification(ctx context.Context, provider, outcome string) {
	getInstruments().classificationOps.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("outcome", validateLabel(outcomeLabels, outcome)),
	))
}

// RecordQueueSize snapshots the retry queue gauge for one state bucket.
func RecordQueueSize(ctx context.Context, state string, n int64) {
	getInstruments().queueSize.Record(ctx, n, metric.WithAttributes(
		attribute.String("state", state),
	))
}

// RecordDedup counts one exact-hash duplicate rejection.
func RecordDedup(ctx context.Context, collection string) {
	getInstruments().dedupHits.Add(ctx, 1, metric.WithAttributes(
		attribute.String("collection", validateLabel(collectionLabels, collection)),
	))
}

// RecordFailure counts one failure event.
func RecordFailure(ctx context.Context, component, errorCode string) {
	getInstruments().failures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("component", validateLabel(componentLabels, component)),
		attribute.String("error_code", errorCode),
	))
}
