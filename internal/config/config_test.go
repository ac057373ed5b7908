package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadIsolated(t *testing.T) *Config {
	t.Helper()
	t.Setenv("AIMEMORY_INSTALL_DIR", t.TempDir())
	return load()
}

func TestDefaults(t *testing.T) {
	cfg := loadIsolated(t)

	assert.Equal(t, 0.7, cfg.SimilarityThreshold)
	assert.Equal(t, 0.95, cfg.DedupSimilarityThreshold)
	assert.Equal(t, 10, cfg.MaxRetrievals)
	assert.Equal(t, 768, cfg.Embedding.Dimension)
	assert.Equal(t, "nomic-embed-text-v1.5", cfg.Embedding.Model)
	assert.Equal(t, 6333, cfg.VectorStore.Port)
	assert.Equal(t, 50, cfg.RateLimit.RequestsPerMinute)
	assert.Equal(t, 40_000, cfg.RateLimit.TokensPerMinute)
	assert.True(t, cfg.Decay.Enabled)
	assert.Equal(t, 0.7, cfg.Decay.SemanticWeight)

	assert.Equal(t, 14.0, cfg.Decay.CollectionHalfLifeDays["code-patterns"])
	assert.Equal(t, 60.0, cfg.Decay.CollectionHalfLifeDays["conventions"])
	assert.Equal(t, 21.0, cfg.Decay.CollectionHalfLifeDays["discussions"])
	assert.Equal(t, 30.0, cfg.Decay.CollectionHalfLifeDays["jira-data"])

	assert.False(t, cfg.Classifier.Enabled)
	assert.Equal(t, []string{"anthropic"}, cfg.Classifier.Providers)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("AIMEMORY_SIMILARITY_THRESHOLD", "0.85")
	t.Setenv("AIMEMORY_EMBEDDING_DIMENSION", "1024")
	t.Setenv("AIMEMORY_VECTOR_HOST", "qdrant.internal")
	cfg := loadIsolated(t)

	assert.Equal(t, 0.85, cfg.SimilarityThreshold)
	assert.Equal(t, 1024, cfg.Embedding.Dimension)
	assert.Equal(t, "qdrant.internal", cfg.VectorStore.Host)
}

func TestOutOfRangeFallsBackToDefault(t *testing.T) {
	t.Setenv("AIMEMORY_SIMILARITY_THRESHOLD", "1.5")
	t.Setenv("AIMEMORY_MAX_RETRIEVALS", "0")
	cfg := loadIsolated(t)

	assert.Equal(t, 0.7, cfg.SimilarityThreshold)
	assert.Equal(t, 10, cfg.MaxRetrievals)
}

func TestConfigFileAndEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	content := "similarity_threshold: 0.8\nmax_retrievals: 5\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o600))

	t.Setenv("AIMEMORY_INSTALL_DIR", dir)
	t.Setenv("AIMEMORY_MAX_RETRIEVALS", "20")
	cfg := load()

	// File value for the key the env leaves alone, env for the other.
	assert.Equal(t, 0.8, cfg.SimilarityThreshold)
	assert.Equal(t, 20, cfg.MaxRetrievals)
}

func TestDerivedPaths(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("AIMEMORY_INSTALL_DIR", dir)
	cfg := load()

	assert.Equal(t, filepath.Join(dir, "queue", "pending_queue.jsonl"), cfg.QueueFile())
	assert.Equal(t, filepath.Join(dir, "logs", "activity.log"), cfg.ActivityLogFile())
	assert.Equal(t, filepath.Join(dir, "trace_buffer"), cfg.TraceBufferDir())
	assert.Equal(t, filepath.Join(dir, "sessions"), cfg.SessionDir)
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"anthropic", "local"}, splitList("anthropic, local"))
	assert.Equal(t, []string{"local"}, splitList(" local ,"))
	assert.Nil(t, splitList(""))
}
