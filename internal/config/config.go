// Package config loads the process-wide aimemory configuration.
//
// Precedence: environment variables (AIMEMORY_ prefix) > config file
// ($AIMEMORY_INSTALL_DIR/config.yaml) > built-in defaults. Numeric fields
// are validated against explicit ranges; an out-of-range value logs a
// warning and falls back to the default rather than failing the process.
package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// EmbeddingConfig configures the embedding service client.
type EmbeddingConfig struct {
	URL            string
	Model          string
	Dimension      int
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	PoolTimeout    time.Duration
}

// VectorStoreConfig configures the vector-store client.
type VectorStoreConfig struct {
	Host    string
	Port    int
	APIKey  string
	UseTLS  bool
	Timeout time.Duration
}

// ClassifierConfig configures the reclassification chain.
type ClassifierConfig struct {
	Enabled             bool
	ConfidenceThreshold float64
	Providers           []string
	AnthropicModel      string
	AnthropicAPIKey     string
	LocalURL            string
	LocalModel          string
}

// RateLimitConfig configures the dual token-bucket limiter guarding the
// upstream LLM.
type RateLimitConfig struct {
	RequestsPerMinute int
	TokensPerMinute   int
	MaxQueueDepth     int
	QueueTimeout      time.Duration
}

// DecayConfig configures hybrid semantic+temporal scoring.
type DecayConfig struct {
	Enabled             bool
	SemanticWeight      float64
	DefaultHalfLifeDays float64
	// Per-collection default half-lives, keyed by collection name.
	CollectionHalfLifeDays map[string]float64
	// Per-type overrides, keyed by memory type name.
	TypeOverridesDays map[string]float64
}

// LogConfig configures structured logging output.
type LogConfig struct {
	Level  string
	Format string // "text" or "json"
	File   string // optional rotating file sink
}

// Config is the immutable process configuration.
type Config struct {
	SimilarityThreshold      float64
	DedupSimilarityThreshold float64
	MaxRetrievals            int
	TokenBudget              int

	Embedding   EmbeddingConfig
	VectorStore VectorStoreConfig
	Classifier  ClassifierConfig
	RateLimit   RateLimitConfig
	Decay       DecayConfig
	Log         LogConfig

	CollectionWarnSize     int
	CollectionCriticalSize int

	InstallDir string
	SessionDir string
	AuditDir   string

	TokenEstimateMultiplier float64

	TracingEnabled   bool
	TraceBufferMaxMB int
}

// QueueFile returns the durable retry-queue path.
func (c *Config) QueueFile() string {
	return filepath.Join(c.InstallDir, "queue", "pending_queue.jsonl")
}

// ActivityLogFile returns the human-readable activity log path.
func (c *Config) ActivityLogFile() string {
	return filepath.Join(c.InstallDir, "logs", "activity.log")
}

// TraceBufferDir returns the per-event trace buffer directory.
func (c *Config) TraceBufferDir() string {
	return filepath.Join(c.InstallDir, "trace_buffer")
}

var (
	loadOnce sync.Once
	loaded   *Config
)

// Load returns the process configuration, reading it on first call.
func Load() *Config {
	loadOnce.Do(func() {
		loaded = load()
	})
	return loaded
}

func defaultInstallDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".aimemory"
	}
	return filepath.Join(home, ".aimemory")
}

func load() *Config {
	v := viper.New()
	v.SetEnvPrefix("AIMEMORY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Config file is optional; env vars win over it either way.
	installDir := v.GetString("install_dir")
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(installDir)
	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			slog.Warn("config file unreadable, using defaults", "error", err)
		}
	}

	cfg := &Config{
		SimilarityThreshold:      clampFloat(v, "similarity_threshold", 0.0, 1.0, 0.7),
		DedupSimilarityThreshold: clampFloat(v, "dedup_similarity_threshold", 0.80, 0.99, 0.95),
		MaxRetrievals:            clampInt(v, "max_retrievals", 1, 50, 10),
		TokenBudget:              clampInt(v, "token_budget", 100, 1_000_000, 20_000),
		Embedding: EmbeddingConfig{
			URL:            v.GetString("embedding.url"),
			Model:          v.GetString("embedding.model"),
			Dimension:      clampInt(v, "embedding.dimension", 1, 16_384, 768),
			ConnectTimeout: v.GetDuration("embedding.connect_timeout"),
			ReadTimeout:    v.GetDuration("embedding.read_timeout"),
			WriteTimeout:   v.GetDuration("embedding.write_timeout"),
			PoolTimeout:    v.GetDuration("embedding.pool_timeout"),
		},
		VectorStore: VectorStoreConfig{
			Host:    v.GetString("vector.host"),
			Port:    clampInt(v, "vector.port", 1, 65_535, 6333),
			APIKey:  v.GetString("vector.api_key"),
			UseTLS:  v.GetBool("vector.use_tls"),
			Timeout: v.GetDuration("vector.timeout"),
		},
		Classifier: ClassifierConfig{
			Enabled:             v.GetBool("classifier.enabled"),
			ConfidenceThreshold: clampFloat(v, "classifier.confidence_threshold", 0.0, 1.0, 0.7),
			Providers:           splitList(v.GetString("classifier.providers")),
			AnthropicModel:      v.GetString("classifier.anthropic_model"),
			AnthropicAPIKey:     v.GetString("classifier.anthropic_api_key"),
			LocalURL:            v.GetString("classifier.local_url"),
			LocalModel:          v.GetString("classifier.local_model"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: clampInt(v, "ratelimit.requests_per_minute", 1, 100_000, 50),
			TokensPerMinute:   clampInt(v, "ratelimit.tokens_per_minute", 1, 100_000_000, 40_000),
			MaxQueueDepth:     clampInt(v, "ratelimit.max_queue_depth", 1, 10_000, 100),
			QueueTimeout:      v.GetDuration("ratelimit.queue_timeout"),
		},
		Decay: DecayConfig{
			Enabled:             v.GetBool("decay.enabled"),
			SemanticWeight:      clampFloat(v, "decay.semantic_weight", 0.0, 1.0, 0.7),
			DefaultHalfLifeDays: clampFloat(v, "decay.default_half_life_days", 0.1, 3650, 21),
			CollectionHalfLifeDays: map[string]float64{
				"code-patterns": clampFloat(v, "decay.half_life.code_patterns", 0.1, 3650, 14),
				"conventions":   clampFloat(v, "decay.half_life.conventions", 0.1, 3650, 60),
				"discussions":   clampFloat(v, "decay.half_life.discussions", 0.1, 3650, 21),
				"jira-data":     clampFloat(v, "decay.half_life.jira_data", 0.1, 3650, 30),
			},
			TypeOverridesDays: typeOverrides(v),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			File:   v.GetString("log.file"),
		},
		CollectionWarnSize:      clampInt(v, "collection_warn_size", 1, 100_000_000, 50_000),
		CollectionCriticalSize:  clampInt(v, "collection_critical_size", 1, 100_000_000, 100_000),
		InstallDir:              installDir,
		SessionDir:              v.GetString("session_dir"),
		AuditDir:                v.GetString("audit_dir"),
		TokenEstimateMultiplier: clampFloat(v, "token_estimate_multiplier", 0.1, 10, 1.3),
		TracingEnabled:          v.GetBool("tracing.enabled"),
		TraceBufferMaxMB:        clampInt(v, "tracing.buffer_max_mb", 1, 10_240, 50),
	}

	if cfg.SessionDir == "" {
		cfg.SessionDir = filepath.Join(cfg.InstallDir, "sessions")
	}
	if cfg.AuditDir == "" {
		cfg.AuditDir = ".audit"
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("install_dir", defaultInstallDir())
	v.SetDefault("embedding.url", "http://localhost:8080")
	v.SetDefault("embedding.model", "nomic-embed-text-v1.5")
	v.SetDefault("embedding.connect_timeout", 3*time.Second)
	v.SetDefault("embedding.read_timeout", 15*time.Second)
	v.SetDefault("embedding.write_timeout", 5*time.Second)
	v.SetDefault("embedding.pool_timeout", 3*time.Second)
	v.SetDefault("vector.host", "localhost")
	v.SetDefault("vector.timeout", 10*time.Second)
	v.SetDefault("classifier.enabled", false)
	v.SetDefault("classifier.providers", "anthropic")
	v.SetDefault("classifier.anthropic_model", "claude-3-5-haiku-latest")
	v.SetDefault("classifier.local_url", "http://localhost:11434")
	v.SetDefault("ratelimit.queue_timeout", 60*time.Second)
	v.SetDefault("decay.enabled", true)
	v.SetDefault("log.level", "warn")
	v.SetDefault("log.format", "text")
	v.SetDefault("tracing.enabled", true)
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func typeOverrides(v *viper.Viper) map[string]float64 {
	raw := v.GetStringMapString("decay.type_overrides")
	if len(raw) == 0 {
		return nil
	}
	out := make(map[string]float64, len(raw))
	for k, s := range raw {
		d, err := strconv.ParseFloat(s, 64)
		if err != nil || d <= 0 {
			slog.Warn("invalid decay override, skipping", "type", k, "value", s)
			continue
		}
		out[k] = d
	}
	return out
}

func clampFloat(v *viper.Viper, key string, min, max, def float64) float64 {
	val := v.GetFloat64(key)
	if !v.IsSet(key) {
		return def
	}
	if val < min || val > max {
		slog.Warn("config value out of range, using default",
			"key", key, "value", val, "min", min, "max", max, "default", def)
		return def
	}
	return val
}

func clampInt(v *viper.Viper, key string, min, max, def int) int {
	val := v.GetInt(key)
	if !v.IsSet(key) {
		return def
	}
	if val < min || val > max {
		slog.Warn("config value out of range, using default",
			"key", key, "value", val, "min", min, "max", max, "default", def)
		return def
	}
	return val
}
