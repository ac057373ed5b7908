package classify

import (
	"regexp"
	"strings"
)

// Significance gates whether content is worth classifying at all.
type Significance int

const (
	SignificanceSkip Significance = iota
	SignificanceLow
	SignificanceMedium
	SignificanceHigh
)

// Bare acknowledgements that carry no classifiable signal.
var acknowledgements = map[string]bool{
	"ok": true, "okay": true, "yes": true, "no": true, "thanks": true,
	"thank you": true, "sure": true, "got it": true, "sounds good": true,
	"done": true, "yep": true, "nope": true, "lgtm": true,
}

var reEmojiOnly = regexp.MustCompile(`^[\s\x{1F300}-\x{1FAFF}\x{2600}-\x{27BF}\x{FE0F}\x{200D}👍👎✅❌]+$`)

// AssessSignificance classifies content into skip/low/medium/high.
// SKIP and LOW content bypasses the provider chain entirely.
func AssessSignificance(content string) Significance {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return SignificanceSkip
	}
	if acknowledgements[strings.ToLower(strings.TrimRight(trimmed, ".!"))] {
		return SignificanceSkip
	}
	if reEmojiOnly.MatchString(trimmed) {
		return SignificanceSkip
	}
	if len(trimmed) < 30 {
		return SignificanceLow
	}
	if len(trimmed) > 500 || strings.Count(trimmed, "\n") > 5 {
		return SignificanceHigh
	}
	return SignificanceMedium
}
