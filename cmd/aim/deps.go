package main

import (
	"fmt"
	"os"

	"github.com/aimemory/aimemory/internal/classify"
	"github.com/aimemory/aimemory/internal/config"
	"github.com/aimemory/aimemory/internal/embed"
	"github.com/aimemory/aimemory/internal/freshness"
	"github.com/aimemory/aimemory/internal/pipeline"
	"github.com/aimemory/aimemory/internal/retryq"
	"github.com/aimemory/aimemory/internal/search"
	"github.com/aimemory/aimemory/internal/vectorstore"
)

// Command-scoped wiring. Commands build exactly the components they
// need; nothing global holds a connection.

func newEmbedder() *embed.Client {
	return embed.NewClient(cfg.Embedding)
}

func newVectorStore() *vectorstore.Client {
	return vectorstore.New(cfg.VectorStore)
}

func openQueue() (*retryq.Queue, error) {
	q, err := retryq.Open(cfg.QueueFile())
	if err != nil {
		return nil, fmt.Errorf("open retry queue: %w", err)
	}
	return q, nil
}

func newPipeline() (*pipeline.Pipeline, *retryq.Queue, error) {
	q, err := openQueue()
	if err != nil {
		return nil, nil, err
	}
	// A typed nil here would defeat the pipeline's nil check, so the
	// interface is only assigned when classification is on.
	var classifier pipeline.TypeClassifier
	if cfg.Classifier.Enabled {
		classifier = classify.ForConfig(cfg.Classifier)
	}
	return pipeline.New(newEmbedder(), newVectorStore(), q, classifier), q, nil
}

func newSearcher() *search.Searcher {
	return search.New(newEmbedder(), newVectorStore(), cfg)
}

func newScanner() *freshness.Scanner {
	return freshness.New(newVectorStore(), cfg.AuditDir)
}

// resolveGroup applies the --group flag, falling back to cwd detection.
func resolveGroup() string {
	if groupFlag != "" {
		return groupFlag
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "unknown"
	}
	return config.DetectGroupID(cwd)
}
