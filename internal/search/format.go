package search

import (
	"fmt"
	"strings"
)

// Tier boundaries for formatting results into a session context block.
const (
	HighRelevanceScore   = 0.90
	MediumRelevanceScore = 0.50
	mediumTruncateChars  = 500
)

// FormatTiered renders results for injection: high-relevance results in
// full, medium-relevance truncated, everything below the floor dropped.
// Returns "" when nothing clears the floor.
func FormatTiered(results []Result) string {
	var high, medium []Result
	for _, r := range results {
		switch {
		case r.Score >= HighRelevanceScore:
			high = append(high, r)
		case r.Score >= MediumRelevanceScore:
			medium = append(medium, r)
		}
	}
	if len(high) == 0 && len(medium) == 0 {
		return ""
	}

	var sb strings.Builder
	if len(high) > 0 {
		sb.WriteString("## Highly relevant memories\n\n")
		for _, r := range high {
			writeResult(&sb, r, r.Content)
		}
	}
	if len(medium) > 0 {
		sb.WriteString("## Possibly relevant memories\n\n")
		for _, r := range medium {
			content := r.Content
			if runes := []rune(content); len(runes) > mediumTruncateChars {
				content = string(runes[:mediumTruncateChars]) + "..."
			}
			writeResult(&sb, r, content)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func writeResult(sb *strings.Builder, r Result, content string) {
	fmt.Fprintf(sb, "- [%s, score %.2f] %s\n", r.Type, r.Score, content)
}
