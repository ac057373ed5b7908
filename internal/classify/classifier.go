// Package classify decides the final type of a candidate memory: a
// kill-switch, a significance gate, a protected-type guard, ordered
// rule-based patterns, and finally an LLM provider chain with
// per-provider circuit breakers and rate limits.
package classify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"sync"

	"github.com/aimemory/aimemory/internal/config"
	"github.com/aimemory/aimemory/internal/memory"
)

// Types never reclassified, whatever the providers think.
var protectedTypes = map[memory.Type]bool{
	memory.TypeSessionSummary: true,
	memory.TypeErrorFix:       true,
}

// Outcome is the classification decision for one candidate.
type Outcome struct {
	Type            memory.Type
	WasReclassified bool
	Confidence      float64
	Provider        string
	Reasoning       string
	Tags            []string
}

// Classifier runs the full decision pipeline.
type Classifier struct {
	cfg      config.ClassifierConfig
	chain    []Provider
	breakers *BreakerMap
	buckets  map[string]*tokenBucket
}

var (
	chainMu   sync.Mutex
	chainHash string
	cached    *Classifier
)

// ForConfig returns the process-wide classifier for the given config,
// rebuilding the provider chain only when the configured chain changes.
func ForConfig(cfg config.ClassifierConfig) *Classifier {
	sum := sha256.Sum256([]byte(strings.Join(cfg.Providers, ",")))
	hash := hex.EncodeToString(sum[:8])

	chainMu.Lock()
	defer chainMu.Unlock()
	if cached != nil && chainHash == hash {
		return cached
	}
	cached = New(cfg)
	chainHash = hash
	return cached
}

// New builds a classifier with the configured provider chain. Providers
// that cannot be constructed (e.g. missing API key) are skipped with a
// warning rather than failing the process.
func New(cfg config.ClassifierConfig) *Classifier {
	c := &Classifier{
		cfg:      cfg,
		breakers: NewBreakerMap(),
		buckets:  make(map[string]*tokenBucket),
	}
	for _, name := range cfg.Providers {
		var p Provider
		switch name {
		case "local":
			p = newLocalProvider(cfg.LocalURL, cfg.LocalModel)
		case "anthropic":
			ap, err := newAnthropicProvider(cfg.AnthropicAPIKey, cfg.AnthropicModel)
			if err != nil {
				slog.Warn("classifier provider unavailable", "provider", name, "error", err)
				continue
			}
			p = ap
		default:
			slog.Warn("unknown classifier provider", "provider", name)
			continue
		}
		c.chain = append(c.chain, p)
		c.buckets[p.Name()] = newTokenBucket(providerRequestsPerMinute, providerBurst)
	}
	return c
}

// newWithChain is the test seam for injecting fake providers.
func newWithChain(cfg config.ClassifierConfig, chain []Provider) *Classifier {
	c := &Classifier{
		cfg:      cfg,
		chain:    chain,
		breakers: NewBreakerMap(),
		buckets:  make(map[string]*tokenBucket),
	}
	for _, p := range chain {
		c.buckets[p.Name()] = newTokenBucket(providerRequestsPerMinute, providerBurst)
	}
	return c
}

// Classify returns the final type for the candidate. Every failure mode
// keeps the original type; classification never blocks a store.
func (c *Classifier) Classify(ctx context.Context, content string, collection memory.Collection, current memory.Type) Outcome {
	keep := Outcome{Type: current}

	if !c.cfg.Enabled {
		return keep
	}

	if sig := AssessSignificance(content); sig <= SignificanceLow {
		return keep
	}

	if protectedTypes[current] {
		return keep
	}

	if t, confidence, ok := classifyByRules(content, collection); ok {
		return Outcome{
			Type:            t,
			WasReclassified: t != current,
			Confidence:      confidence,
			Provider:        "rules",
		}
	}

	for _, p := range c.chain {
		name := p.Name()

		if !c.breakers.Get(name).Allow() {
			slog.Debug("classifier provider circuit open", "provider", name)
			continue
		}
		if !c.buckets[name].Allow() {
			slog.Debug("classifier provider rate limited", "provider", name)
			continue
		}
		if !p.IsAvailable(ctx) {
			c.breakers.Get(name).RecordFailure()
			continue
		}

		result, err := p.Classify(ctx, content, collection, current)
		if err != nil {
			slog.Warn("classifier provider failed", "provider", name, "error", err)
			c.breakers.Get(name).RecordFailure()
			continue
		}
		c.breakers.Get(name).RecordSuccess()

		if !collection.Allows(result.Type) {
			if memory.KnownType(result.Type) {
				slog.Warn("classifier returned type from another collection, keeping original",
					"provider", name, "returned", result.Type, "collection", collection)
			} else {
				slog.Warn("classifier returned unknown type, keeping original",
					"provider", name, "returned", result.Type)
			}
			return keep
		}

		if result.Confidence < c.cfg.ConfidenceThreshold {
			slog.Debug("classification below confidence threshold",
				"provider", name, "confidence", result.Confidence)
			return keep
		}

		return Outcome{
			Type:            result.Type,
			WasReclassified: result.Type != current,
			Confidence:      result.Confidence,
			Provider:        name,
			Reasoning:       result.Reasoning,
			Tags:            result.Tags,
		}
	}

	// All providers failed or were skipped.
	return keep
}
