// Package vectorstore is a thin typed wrapper over the vector database's
// REST API: upsert, query (with server-evaluated scoring formulas),
// scroll, payload updates, and payload-index creation.
package vectorstore

import "time"

// Point is a stored vector plus payload, as returned by query and scroll.
type Point struct {
	ID      string
	Score   float64
	Payload map[string]any
}

// Match is a keyword equality condition; exactly one field is set.
type Match struct {
	Value any      `json:"value,omitempty"`
	Any   []string `json:"any,omitempty"`
}

// Range bounds a numeric or datetime payload field. Datetime bounds are
// RFC 3339 strings.
type Range struct {
	GT  any `json:"gt,omitempty"`
	GTE any `json:"gte,omitempty"`
	LT  any `json:"lt,omitempty"`
	LTE any `json:"lte,omitempty"`
}

// Condition matches a payload field.
type Condition struct {
	Key   string `json:"key"`
	Match *Match `json:"match,omitempty"`
	Range *Range `json:"range,omitempty"`
}

// Filter is a boolean conjunction of conditions.
type Filter struct {
	Must    []Condition `json:"must,omitempty"`
	MustNot []Condition `json:"must_not,omitempty"`
}

// MatchValue builds a single keyword equality condition.
func MatchValue(key string, value any) Condition {
	return Condition{Key: key, Match: &Match{Value: value}}
}

// MatchAny builds an "any of" keyword condition.
func MatchAny(key string, values []string) Condition {
	return Condition{Key: key, Match: &Match{Any: values}}
}

// MatchRange builds a range condition.
func MatchRange(key string, r Range) Condition {
	return Condition{Key: key, Range: &r}
}

// SearchParams tunes the ANN search. FastMode callers pass a low HnswEF.
type SearchParams struct {
	HnswEF int `json:"hnsw_ef,omitempty"`
}

// Prefetch is the ANN-only first pass of a two-stage query; the outer
// formula rescoring runs over its candidates.
type Prefetch struct {
	Vector         []float32
	Filter         *Filter
	Limit          int
	ScoreThreshold float64
	Params         *SearchParams
}

// QueryRequest describes one points query. Either Vector (vanilla
// semantic search) or Formula+Prefetch (hybrid rescoring) is set.
type QueryRequest struct {
	Vector         []float32
	Formula        Expr
	Prefetch       *Prefetch
	Filter         *Filter
	Limit          int
	ScoreThreshold float64
	Params         *SearchParams
}

// IndexSchema describes a payload index. Keyword indexes on the tenant key
// are declared tenant-co-locating so the planner can skip ANN for
// low-selectivity tenant filters.
type IndexSchema struct {
	Type     string `json:"type"`
	IsTenant bool   `json:"is_tenant,omitempty"`
}

// Expr is a node of the server-evaluated scoring formula tree.
type Expr interface {
	// node returns the JSON-serializable form of the expression.
	node() any
}

// Score references the prefetch similarity score ($score).
type Score struct{}

func (Score) node() any { return "$score" }

// Const is a numeric literal.
type Const float64

func (c Const) node() any { return float64(c) }

// Sum adds its sub-expressions.
type Sum []Expr

func (s Sum) node() any {
	parts := make([]any, len(s))
	for i, e := range s {
		parts[i] = e.node()
	}
	return map[string]any{"sum": parts}
}

// Mult multiplies its sub-expressions.
type Mult []Expr

func (m Mult) node() any {
	parts := make([]any, len(m))
	for i, e := range m {
		parts[i] = e.node()
	}
	return map[string]any{"mult": parts}
}

// Cond evaluates a payload condition to 1 or 0, gating a branch.
type Cond struct {
	Condition Condition
}

func (c Cond) node() any { return c.Condition }

// CondNot evaluates to 1 only when none of the conditions match. Used
// for catch-all scoring branches.
type CondNot struct {
	Conditions []Condition
}

func (c CondNot) node() any { return map[string]any{"must_not": c.Conditions} }

// ExpDecay evaluates 0.5^(age/scale) over a datetime payload key.
// Midpoint 0.5 gives the scale half-life semantics. Missing defaults to a
// fixed very-old datetime so records without the key keep only their
// semantic component.
type ExpDecay struct {
	Key          string
	Target       time.Time
	ScaleSeconds float64
	Midpoint     float64
	Missing      time.Time
}

func (d ExpDecay) node() any {
	inner := map[string]any{
		"x":        map[string]any{"datetime_key": d.Key},
		"target":   map[string]any{"datetime": d.Target.UTC().Format(time.RFC3339)},
		"scale":    d.ScaleSeconds,
		"midpoint": d.Midpoint,
	}
	if !d.Missing.IsZero() {
		inner["x"] = map[string]any{
			"datetime_key": d.Key,
			"default":      d.Missing.UTC().Format(time.RFC3339),
		}
	}
	return map[string]any{"exp_decay": inner}
}

// FormulaJSON renders an expression tree into the query DSL form.
func FormulaJSON(e Expr) any {
	if e == nil {
		return nil
	}
	return e.node()
}
