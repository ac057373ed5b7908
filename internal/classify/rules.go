package classify

import (
	"regexp"

	"github.com/aimemory/aimemory/internal/memory"
)

// RuleThreshold is the minimum static confidence for a rule match to
// short-circuit the provider chain.
const RuleThreshold = 0.8

// rule is one ordered regex pattern keyed to a type with a static
// confidence. Rules run before any provider is consulted.
type rule struct {
	re         *regexp.Regexp
	memType    memory.Type
	confidence float64
}

var rules = []rule{
	{regexp.MustCompile(`(?i)\b(fixed|fixes|resolved|bug|stack trace|traceback|panic:|exception)\b`), memory.TypeErrorFix, 0.85},
	{regexp.MustCompile(`(?i)\b(refactor(ed|ing)?|renamed|extracted|moved .* to|cleaned up)\b`), memory.TypeRefactor, 0.82},
	{regexp.MustCompile(`(?i)\b(always|never|must( not)?|required|do not|don't)\b.*\b(use|call|import|commit|push)\b`), memory.TypeRule, 0.81},
	{regexp.MustCompile(`(?i)\b(we (decided|chose|agreed)|decision:|chose .* over|tradeoff)\b`), memory.TypeDecision, 0.84},
	{regexp.MustCompile(`(?i)\b(prefer|recommended|convention|best practice|style guide)\b`), memory.TypeGuideline, 0.8},
	{regexp.MustCompile(`(?i)\b(implemented|added (a |the )?(function|method|endpoint|handler)|new feature)\b`), memory.TypeImplementation, 0.8},
}

// classifyByRules runs the ordered rule list and returns the first match
// whose confidence clears the rule threshold and whose type is valid for
// the target collection.
func classifyByRules(content string, collection memory.Collection) (memory.Type, float64, bool) {
	for _, r := range rules {
		if r.confidence < RuleThreshold {
			continue
		}
		if !collection.Allows(r.memType) {
			continue
		}
		if r.re.MatchString(content) {
			return r.memType, r.confidence, true
		}
	}
	return "", 0, false
}
