// Package search implements retrieval: hybrid semantic+decay scoring,
// parallel and cascading multi-collection queries, and the tiered
// formatting used to inject results into a session.
package search

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aimemory/aimemory/internal/config"
	"github.com/aimemory/aimemory/internal/memory"
	"github.com/aimemory/aimemory/internal/telemetry"
	"github.com/aimemory/aimemory/internal/vectorstore"
)

// HNSW search-breadth settings. Fast mode trades recall for latency.
const (
	FastHnswEF     = 64
	AccurateHnswEF = 128
)

// DefaultBestPracticesLimit caps the convenience best-practices lookup.
const DefaultBestPracticesLimit = 3

// Embedder is the embedding surface the searcher needs.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Querier is the vector-store surface the searcher needs.
type Querier interface {
	Query(ctx context.Context, collection string, q vectorstore.QueryRequest) ([]vectorstore.Point, error)
	Scroll(ctx context.Context, collection string, filter *vectorstore.Filter, limit int, offset any) ([]vectorstore.Point, any, error)
}

// Params describes one search.
type Params struct {
	Query      string
	Collection memory.Collection

	// Group filtering: GroupID wins; otherwise CWD is resolved.
	// NoGroupFilter disables project scoping entirely (shared
	// collections).
	GroupID       string
	CWD           string
	NoGroupFilter bool

	Limit int
	// ScoreThreshold overrides the configured similarity floor when
	// non-nil. An explicit zero disables the floor entirely; nil means
	// "use the config default".
	ScoreThreshold *float64
	Types          []memory.Type
	Source         string
	FastMode       bool
}

// Result is one retrieved memory.
type Result struct {
	ID         string         `json:"id"`
	Score      float64        `json:"score"`
	Collection string         `json:"collection"`
	Content    string         `json:"content"`
	Type       string         `json:"type"`
	Payload    map[string]any `json:"payload"`
}

// Searcher executes retrieval queries.
type Searcher struct {
	embedder Embedder
	store    Querier
	cfg      *config.Config

	now func() time.Time
}

// New builds a searcher.
func New(e Embedder, q Querier, cfg *config.Config) *Searcher {
	return &Searcher{embedder: e, store: q, cfg: cfg, now: time.Now}
}

func (s *Searcher) buildFilter(p Params) *vectorstore.Filter {
	var must []vectorstore.Condition

	if !p.NoGroupFilter {
		groupID := p.GroupID
		if groupID == "" {
			groupID = config.DetectGroupID(p.CWD)
		}
		must = append(must, vectorstore.MatchValue("group_id", groupID))
	}
	if len(p.Types) == 1 {
		must = append(must, vectorstore.MatchValue("type", string(p.Types[0])))
	} else if len(p.Types) > 1 {
		names := make([]string, len(p.Types))
		for i, t := range p.Types {
			names[i] = string(t)
		}
		must = append(must, vectorstore.MatchAny("type", names))
	}
	if p.Source != "" {
		must = append(must, vectorstore.MatchValue("source_hook", p.Source))
	}

	if len(must) == 0 {
		return nil
	}
	return &vectorstore.Filter{Must: must}
}

// Search runs one hybrid query against a collection.
func (s *Searcher) Search(ctx context.Context, p Params) ([]Result, error) {
	if p.Limit <= 0 {
		p.Limit = s.cfg.MaxRetrievals
	}
	threshold := s.cfg.SimilarityThreshold
	if p.ScoreThreshold != nil {
		threshold = *p.ScoreThreshold
	}

	vectors, err := s.embedder.Embed(ctx, []string{p.Query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	params := &vectorstore.SearchParams{HnswEF: AccurateHnswEF}
	if p.FastMode {
		params.HnswEF = FastHnswEF
	}
	filter := s.buildFilter(p)

	formula, prefetch := BuildDecayFormula(
		vectors[0], p.Collection, s.cfg.Decay, filter,
		DefaultPrefetchLimit, s.now(), threshold, params,
	)

	var req vectorstore.QueryRequest
	if formula != nil {
		req = vectorstore.QueryRequest{
			Formula:  formula,
			Prefetch: prefetch,
			Limit:    p.Limit,
		}
	} else {
		req = vectorstore.QueryRequest{
			Vector:         prefetch.Vector,
			Filter:         prefetch.Filter,
			Limit:          p.Limit,
			ScoreThreshold: prefetch.ScoreThreshold,
			Params:         prefetch.Params,
		}
	}

	start := s.now()
	points, err := s.store.Query(ctx, string(p.Collection), req)
	telemetry.RecordRetrieval(ctx, string(p.Collection), float64(time.Since(start).Milliseconds()))
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(points))
	for _, pt := range points {
		results = append(results, toResult(pt, p.Collection))
	}
	return results, nil
}

func toResult(pt vectorstore.Point, collection memory.Collection) Result {
	r := Result{
		ID:         pt.ID,
		Score:      pt.Score,
		Collection: string(collection),
		Payload:    pt.Payload,
	}
	if content, ok := pt.Payload["content"].(string); ok {
		r.Content = content
	}
	if t, ok := pt.Payload["type"].(string); ok {
		r.Type = t
	}
	return r
}

// BothResults pairs the project-scoped and shared halves of a parallel
// search.
type BothResults struct {
	Project []Result
	Shared  []Result
}

// SearchBoth queries the project collection (scoped to group_id) and a
// shared collection (unscoped) in parallel.
func (s *Searcher) SearchBoth(ctx context.Context, query string, projectColl, sharedColl memory.Collection, groupID string, limit int, fastMode bool) (BothResults, error) {
	var out BothResults
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		results, err := s.Search(ctx, Params{
			Query:      query,
			Collection: projectColl,
			GroupID:    groupID,
			Limit:      limit,
			FastMode:   fastMode,
		})
		out.Project = results
		return err
	})
	g.Go(func() error {
		results, err := s.Search(ctx, Params{
			Query:         query,
			Collection:    sharedColl,
			NoGroupFilter: true,
			Limit:         limit,
			FastMode:      fastMode,
		})
		out.Shared = results
		return err
	})

	if err := g.Wait(); err != nil {
		return BothResults{}, err
	}
	return out, nil
}

// CascadingSearch fills up to limit results from the primary
// collection, then from each secondary in order. Per-collection score
// ordering is preserved; collections are not interleaved.
func (s *Searcher) CascadingSearch(ctx context.Context, query string, primary memory.Collection, secondary []memory.Collection, groupID string, limit int, types []memory.Type, fastMode bool) ([]Result, error) {
	if limit <= 0 {
		limit = s.cfg.MaxRetrievals
	}
	collected, err := s.Search(ctx, Params{
		Query:      query,
		Collection: primary,
		GroupID:    groupID,
		Limit:      limit,
		Types:      types,
		FastMode:   fastMode,
	})
	if err != nil {
		return nil, err
	}

	for _, coll := range secondary {
		if len(collected) >= limit {
			break
		}
		more, err := s.Search(ctx, Params{
			Query:      query,
			Collection: coll,
			GroupID:    groupID,
			Limit:      limit - len(collected),
			Types:      types,
			FastMode:   fastMode,
		})
		if err != nil {
			return nil, err
		}
		collected = append(collected, more...)
	}
	return collected, nil
}

// RetrieveBestPractices searches the shared conventions collection with
// no project filter.
func (s *Searcher) RetrieveBestPractices(ctx context.Context, query string, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = DefaultBestPracticesLimit
	}
	return s.Search(ctx, Params{
		Query:         query,
		Collection:    memory.CollectionConventions,
		NoGroupFilter: true,
		Limit:         limit,
		Types:         []memory.Type{memory.TypeBestPractice},
	})
}

// SessionTurns returns the stored conversation turns of a session in
// turn order.
func (s *Searcher) SessionTurns(ctx context.Context, sessionID string, limit int) ([]Result, error) {
	filter := &vectorstore.Filter{Must: []vectorstore.Condition{
		vectorstore.MatchValue("session_id", sessionID),
		vectorstore.MatchAny("type", []string{
			string(memory.TypeUserMessage), string(memory.TypeAgentResponse),
		}),
	}}

	var results []Result
	var offset any
	for {
		points, next, err := s.store.Scroll(ctx, string(memory.CollectionDiscussions), filter, 100, offset)
		if err != nil {
			return nil, fmt.Errorf("session turns: %w", err)
		}
		for _, pt := range points {
			results = append(results, toResult(pt, memory.CollectionDiscussions))
		}
		if next == nil {
			break
		}
		offset = next
	}

	sort.SliceStable(results, func(i, j int) bool {
		return turnNumber(results[i]) < turnNumber(results[j])
	})
	if limit > 0 && len(results) > limit {
		results = results[len(results)-limit:]
	}
	return results, nil
}

func turnNumber(r Result) int {
	switch v := r.Payload["turn_number"].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}
