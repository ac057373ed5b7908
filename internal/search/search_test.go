package search

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/aimemory/aimemory/internal/config"
	"github.com/aimemory/aimemory/internal/memory"
	"github.com/aimemory/aimemory/internal/vectorstore"
)

func decayConfig() config.DecayConfig {
	return config.DecayConfig{
		Enabled:             true,
		SemanticWeight:      0.7,
		DefaultHalfLifeDays: 21,
		CollectionHalfLifeDays: map[string]float64{
			"code-patterns": 14,
			"conventions":   60,
			"discussions":   21,
			"jira-data":     30,
		},
	}
}

func formulaToJSON(t *testing.T, e vectorstore.Expr) string {
	t.Helper()
	data, err := json.Marshal(vectorstore.FormulaJSON(e))
	if err != nil {
		t.Fatalf("marshal formula: %v", err)
	}
	return string(data)
}

func TestBuildDecayFormulaDisabledReturnsPrefetchOnly(t *testing.T) {
	cfg := decayConfig()
	cfg.Enabled = false

	formula, prefetch := BuildDecayFormula(
		[]float32{0.1}, memory.CollectionDiscussions, cfg, nil, 0,
		time.Now(), 0.7, nil,
	)
	if formula != nil {
		t.Fatal("disabled decay still produced a formula")
	}
	if prefetch == nil || prefetch.Limit != DefaultPrefetchLimit {
		t.Fatalf("prefetch = %+v", prefetch)
	}
}

func TestBuildDecayFormulaShape(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	formula, _ := BuildDecayFormula(
		[]float32{0.1}, memory.CollectionCodePatterns, decayConfig(), nil,
		50, now, 0.7, nil,
	)

	raw := formulaToJSON(t, formula)
	for _, want := range []string{
		`"sum"`, `"mult"`, `"$score"`, `0.7`,
		`"exp_decay"`, `"datetime_key":"stored_at"`,
		`"midpoint":0.5`, `"default":"2020-01-01T00:00:00Z"`,
	} {
		if !strings.Contains(raw, want) {
			t.Fatalf("formula missing %s:\n%s", want, raw)
		}
	}

	// code-patterns default half-life is 14 days.
	if !strings.Contains(raw, `"scale":1209600`) {
		t.Fatalf("expected 14-day scale in formula:\n%s", raw)
	}
}

func TestBuildDecayFormulaGroupsEqualOverrides(t *testing.T) {
	cfg := decayConfig()
	cfg.TypeOverridesDays = map[string]float64{
		"rule":      90,
		"guideline": 90,
		"decision":  30,
	}
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	formula, _ := BuildDecayFormula(
		[]float32{0.1}, memory.CollectionConventions, cfg, nil, 50, now, 0.7, nil,
	)
	raw := formulaToJSON(t, formula)

	// rule and guideline share the 90-day branch.
	if !strings.Contains(raw, `"any":["guideline","rule"]`) {
		t.Fatalf("equal half-life overrides not grouped:\n%s", raw)
	}
	if !strings.Contains(raw, `"value":"decision"`) {
		t.Fatalf("decision branch missing:\n%s", raw)
	}
	// Catch-all excludes the overridden types and uses the conventions
	// default of 60 days.
	if !strings.Contains(raw, `"must_not"`) {
		t.Fatalf("catch-all branch missing:\n%s", raw)
	}
	if !strings.Contains(raw, `"scale":5184000`) {
		t.Fatalf("catch-all scale not 60 days:\n%s", raw)
	}
}

type fakeEmbedder struct{ dim int }

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, f.dim)
	}
	return out, nil
}

type fakeQuerier struct {
	queries []vectorstore.QueryRequest
	// results per call, consumed in order; last element repeats.
	results [][]vectorstore.Point

	scrollPoints []vectorstore.Point
}

func (f *fakeQuerier) Query(ctx context.Context, collection string, q vectorstore.QueryRequest) ([]vectorstore.Point, error) {
	f.queries = append(f.queries, q)
	if len(f.results) == 0 {
		return nil, nil
	}
	r := f.results[0]
	if len(f.results) > 1 {
		f.results = f.results[1:]
	}
	return r, nil
}

func (f *fakeQuerier) Scroll(ctx context.Context, collection string, filter *vectorstore.Filter, limit int, offset any) ([]vectorstore.Point, any, error) {
	return f.scrollPoints, nil, nil
}

func testConfig() *config.Config {
	return &config.Config{
		SimilarityThreshold: 0.7,
		MaxRetrievals:       10,
		Decay:               decayConfig(),
	}
}

func TestSearchBuildsHybridQuery(t *testing.T) {
	q := &fakeQuerier{results: [][]vectorstore.Point{{
		{ID: "a", Score: 0.95, Payload: map[string]any{"content": "cached manifest", "type": "implementation"}},
	}}}
	s := New(&fakeEmbedder{dim: 4}, q, testConfig())

	results, err := s.Search(context.Background(), Params{
		Query:      "manifest caching",
		Collection: memory.CollectionCodePatterns,
		GroupID:    "myproject",
		Types:      []memory.Type{memory.TypeImplementation, memory.TypeRefactor},
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Content != "cached manifest" {
		t.Fatalf("results = %+v", results)
	}
	if results[0].Collection != "code-patterns" {
		t.Fatalf("collection = %s", results[0].Collection)
	}

	req := q.queries[0]
	if req.Formula == nil || req.Prefetch == nil {
		t.Fatal("hybrid query not built")
	}
	if req.Prefetch.Params.HnswEF != AccurateHnswEF {
		t.Fatalf("hnsw_ef = %d", req.Prefetch.Params.HnswEF)
	}

	var hasGroup, hasTypes bool
	for _, c := range req.Prefetch.Filter.Must {
		if c.Key == "group_id" && c.Match.Value == "myproject" {
			hasGroup = true
		}
		if c.Key == "type" && len(c.Match.Any) == 2 {
			hasTypes = true
		}
	}
	if !hasGroup || !hasTypes {
		t.Fatalf("filter = %+v", req.Prefetch.Filter)
	}
}

func TestSearchFastModeLowersEF(t *testing.T) {
	q := &fakeQuerier{}
	s := New(&fakeEmbedder{dim: 4}, q, testConfig())

	_, err := s.Search(context.Background(), Params{
		Query:      "anything at all",
		Collection: memory.CollectionDiscussions,
		GroupID:    "g",
		FastMode:   true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if q.queries[0].Prefetch.Params.HnswEF != FastHnswEF {
		t.Fatalf("hnsw_ef = %d", q.queries[0].Prefetch.Params.HnswEF)
	}
}

func TestSearchNoGroupFilterOmitsProjectScope(t *testing.T) {
	q := &fakeQuerier{}
	s := New(&fakeEmbedder{dim: 4}, q, testConfig())

	_, err := s.Search(context.Background(), Params{
		Query:         "shared practices",
		Collection:    memory.CollectionConventions,
		NoGroupFilter: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if q.queries[0].Prefetch.Filter != nil {
		t.Fatalf("filter = %+v, want none", q.queries[0].Prefetch.Filter)
	}
}

func TestSearchVanillaWhenDecayDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Decay.Enabled = false
	q := &fakeQuerier{}
	s := New(&fakeEmbedder{dim: 4}, q, cfg)

	_, err := s.Search(context.Background(), Params{
		Query:      "plain search",
		Collection: memory.CollectionDiscussions,
		GroupID:    "g",
	})
	if err != nil {
		t.Fatal(err)
	}
	req := q.queries[0]
	if req.Formula != nil {
		t.Fatal("formula built with decay disabled")
	}
	if req.Vector == nil {
		t.Fatal("vanilla query missing vector")
	}
	if req.ScoreThreshold != 0.7 {
		t.Fatalf("threshold = %v", req.ScoreThreshold)
	}
}

func TestSearchExplicitZeroThresholdReachesStore(t *testing.T) {
	q := &fakeQuerier{}
	s := New(&fakeEmbedder{dim: 4}, q, testConfig())
	zero := 0.0

	_, err := s.Search(context.Background(), Params{
		Query:          "record stored moments ago",
		Collection:     memory.CollectionCodePatterns,
		GroupID:        "g",
		ScoreThreshold: &zero,
	})
	if err != nil {
		t.Fatal(err)
	}
	// Zero means "no floor" and must survive to the prefetch instead of
	// being replaced by the configured default.
	if got := q.queries[0].Prefetch.ScoreThreshold; got != 0 {
		t.Fatalf("prefetch threshold = %v, want 0", got)
	}
}

func TestSearchExplicitZeroThresholdVanilla(t *testing.T) {
	cfg := testConfig()
	cfg.Decay.Enabled = false
	q := &fakeQuerier{}
	s := New(&fakeEmbedder{dim: 4}, q, cfg)
	zero := 0.0

	_, err := s.Search(context.Background(), Params{
		Query:          "record stored moments ago",
		Collection:     memory.CollectionDiscussions,
		GroupID:        "g",
		ScoreThreshold: &zero,
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := q.queries[0].ScoreThreshold; got != 0 {
		t.Fatalf("threshold = %v, want 0", got)
	}
}

func TestCascadingSearchFillsFromSecondary(t *testing.T) {
	q := &fakeQuerier{results: [][]vectorstore.Point{
		{{ID: "p1", Score: 0.9, Payload: map[string]any{"content": "one"}}},
		{{ID: "s1", Score: 0.8, Payload: map[string]any{"content": "two"}},
			{ID: "s2", Score: 0.7, Payload: map[string]any{"content": "three"}}},
	}}
	s := New(&fakeEmbedder{dim: 4}, q, testConfig())

	results, err := s.CascadingSearch(context.Background(), "query text",
		memory.CollectionCodePatterns,
		[]memory.Collection{memory.CollectionConventions},
		"g", 3, nil, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Fatalf("results = %d, want 3", len(results))
	}
	if results[0].ID != "p1" || results[1].ID != "s1" {
		t.Fatalf("order = %s, %s", results[0].ID, results[1].ID)
	}
	// Secondary search asked only for the remainder.
	if got := q.queries[1].Limit; got != 2 {
		t.Fatalf("secondary limit = %d, want 2", got)
	}
}

func TestCascadingSearchDefaultLimitConsultsSecondaries(t *testing.T) {
	q := &fakeQuerier{results: [][]vectorstore.Point{
		{{ID: "p1", Score: 0.9, Payload: map[string]any{"content": "one"}}},
		{{ID: "s1", Score: 0.8, Payload: map[string]any{"content": "two"}}},
	}}
	s := New(&fakeEmbedder{dim: 4}, q, testConfig())

	// Limit 0 resolves to the configured MaxRetrievals; secondaries must
	// still be consulted when the primary comes up short.
	results, err := s.CascadingSearch(context.Background(), "query text",
		memory.CollectionCodePatterns,
		[]memory.Collection{memory.CollectionConventions},
		"g", 0, nil, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if len(q.queries) != 2 {
		t.Fatalf("queries = %d, want 2", len(q.queries))
	}
	if got := q.queries[1].Limit; got != 9 {
		t.Fatalf("secondary limit = %d, want 9", got)
	}
}

func TestSearchBothRunsScopedAndShared(t *testing.T) {
	q := &fakeQuerier{}
	s := New(&fakeEmbedder{dim: 4}, q, testConfig())

	_, err := s.SearchBoth(context.Background(), "query",
		memory.CollectionDiscussions, memory.CollectionConventions,
		"myproject", 5, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(q.queries) != 2 {
		t.Fatalf("queries = %d", len(q.queries))
	}

	var scoped, unscoped int
	for _, req := range q.queries {
		if req.Prefetch.Filter == nil {
			unscoped++
		} else {
			scoped++
		}
	}
	if scoped != 1 || unscoped != 1 {
		t.Fatalf("scoped=%d unscoped=%d", scoped, unscoped)
	}
}

func TestSessionTurnsOrdered(t *testing.T) {
	q := &fakeQuerier{scrollPoints: []vectorstore.Point{
		{ID: "b", Payload: map[string]any{"turn_number": float64(2), "content": "second"}},
		{ID: "a", Payload: map[string]any{"turn_number": float64(1), "content": "first"}},
	}}
	s := New(&fakeEmbedder{dim: 4}, q, testConfig())

	results, err := s.SessionTurns(context.Background(), "sess-1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 || results[0].ID != "a" || results[1].ID != "b" {
		t.Fatalf("results = %+v", results)
	}
}

func TestFormatTiered(t *testing.T) {
	long := strings.Repeat("x", 600)
	results := []Result{
		{Score: 0.95, Type: "rule", Content: "always run the linter"},
		{Score: 0.6, Type: "decision", Content: long},
		{Score: 0.4, Type: "guideline", Content: "dropped entirely"},
	}

	out := FormatTiered(results)
	if !strings.Contains(out, "always run the linter") {
		t.Fatalf("high tier missing:\n%s", out)
	}
	if !strings.Contains(out, strings.Repeat("x", 500)+"...") {
		t.Fatal("medium tier not truncated to 500 chars")
	}
	if strings.Contains(out, strings.Repeat("x", 501)) {
		t.Fatal("medium tier kept more than 500 chars")
	}
	if strings.Contains(out, "dropped entirely") {
		t.Fatal("below-floor result included")
	}
}

func TestFormatTieredEmpty(t *testing.T) {
	if out := FormatTiered([]Result{{Score: 0.2, Content: "noise"}}); out != "" {
		t.Fatalf("out = %q, want empty", out)
	}
}
