package search

import (
	"sort"
	"time"

	"github.com/aimemory/aimemory/internal/config"
	"github.com/aimemory/aimemory/internal/memory"
	"github.com/aimemory/aimemory/internal/vectorstore"
)

// DefaultPrefetchLimit is the ANN candidate pool handed to the
// rescoring formula.
const DefaultPrefetchLimit = 50

const secondsPerDay = 86_400

// missingStoredAt is the fallback datetime for points without a
// stored_at field: old enough that their temporal component is near
// zero while the semantic component survives.
var missingStoredAt = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

// BuildDecayFormula constructs the hybrid semantic+temporal scoring
// request. It returns a nil formula when decay is disabled; the caller
// then runs a vanilla semantic search with the returned prefetch as the
// whole query.
//
// The formula is
//
//	w*$score + (1-w) * sum(branch_i * exp_decay(stored_at, scale_i))
//
// with one branch per distinct override half-life (types sharing a
// half-life share a branch) plus a catch-all branch for every other
// type at the collection's default half-life.
func BuildDecayFormula(
	vector []float32,
	collection memory.Collection,
	cfg config.DecayConfig,
	filter *vectorstore.Filter,
	prefetchLimit int,
	now time.Time,
	scoreThreshold float64,
	params *vectorstore.SearchParams,
) (vectorstore.Expr, *vectorstore.Prefetch) {
	if prefetchLimit <= 0 {
		prefetchLimit = DefaultPrefetchLimit
	}
	prefetch := &vectorstore.Prefetch{
		Vector:         vector,
		Filter:         filter,
		Limit:          prefetchLimit,
		ScoreThreshold: scoreThreshold,
		Params:         params,
	}
	if !cfg.Enabled {
		return nil, prefetch
	}

	w := cfg.SemanticWeight
	branches := decayBranches(collection, cfg, now)

	formula := vectorstore.Sum{
		vectorstore.Mult{vectorstore.Const(w), vectorstore.Score{}},
		vectorstore.Mult{vectorstore.Const(1 - w), vectorstore.Sum(branches)},
	}
	return formula, prefetch
}

// decayBranches builds one gated exp_decay term per distinct half-life.
func decayBranches(collection memory.Collection, cfg config.DecayConfig, now time.Time) []vectorstore.Expr {
	defaultDays := cfg.DefaultHalfLifeDays
	if d, ok := cfg.CollectionHalfLifeDays[string(collection)]; ok && d > 0 {
		defaultDays = d
	}

	// Group override types by half-life so equal half-lives share one
	// "type in {...}" branch.
	byHalfLife := map[float64][]string{}
	var overridden []vectorstore.Condition
	for _, t := range sortedKeys(cfg.TypeOverridesDays) {
		days := cfg.TypeOverridesDays[t]
		byHalfLife[days] = append(byHalfLife[days], t)
		overridden = append(overridden, vectorstore.MatchValue("type", t))
	}

	var branches []vectorstore.Expr
	for _, days := range sortedFloatKeys(byHalfLife) {
		types := byHalfLife[days]
		sort.Strings(types)
		branches = append(branches, vectorstore.Mult{
			vectorstore.Cond{Condition: vectorstore.MatchAny("type", types)},
			expDecay(now, days),
		})
	}

	// Catch-all: every type outside the overrides decays at the
	// collection default. Points with no type at all match no branch and
	// keep only their semantic component.
	if len(overridden) == 0 {
		branches = append(branches, expDecay(now, defaultDays))
	} else {
		branches = append(branches, vectorstore.Mult{
			vectorstore.CondNot{Conditions: overridden},
			expDecay(now, defaultDays),
		})
	}
	return branches
}

func expDecay(now time.Time, halfLifeDays float64) vectorstore.Expr {
	return vectorstore.ExpDecay{
		Key:          "stored_at",
		Target:       now,
		ScaleSeconds: halfLifeDays * secondsPerDay,
		Midpoint:     0.5,
		Missing:      missingStoredAt,
	}
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedFloatKeys(m map[float64][]string) []float64 {
	keys := make([]float64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Float64s(keys)
	return keys
}
