package filter

import (
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

// DefaultDuplicateWindow bounds how far back duplicate detection looks.
const DefaultDuplicateWindow = 5 * time.Minute

var (
	// Interactive menu lines ("❯ 1. Yes", "[1] Continue", etc).
	reMenuLine = regexp.MustCompile(`^\s*(❯|>)?\s*(\[\d+\]|\d+[.)])\s+\S`)
	// Horizontal rules and separators.
	reSeparator = regexp.MustCompile(`^\s*[-=_*─━]{5,}\s*$`)
	// Box-drawing / truncated ASCII-art lines.
	reBoxArt = regexp.MustCompile(`^[\s│┌┐└┘├┤┬┴┼╭╮╯╰═║╔╗╚╝|+]+$`)
)

// CleanConversation removes UI-menu noise, separator rules, and truncated
// box-drawing lines from captured conversation text.
func CleanConversation(text string) string {
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			kept = append(kept, line)
			continue
		}
		if reMenuLine.MatchString(line) || reSeparator.MatchString(line) || reBoxArt.MatchString(line) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

// SmartTruncate shortens text to at most max characters. When a cut is
// needed it prefers the last sentence boundary before the budget, then the
// last word boundary, and appends "...". Words are never cut in half.
func SmartTruncate(text string, max int) string {
	if max <= 0 {
		return ""
	}
	if utf8.RuneCountInString(text) <= max {
		return text
	}

	const ellipsis = "..."
	budget := max - len(ellipsis)
	if budget <= 0 {
		return ellipsis[:max]
	}

	runes := []rune(text)
	window := string(runes[:budget])

	if idx := lastSentenceEnd(window); idx > 0 {
		return strings.TrimSpace(window[:idx]) + ellipsis
	}
	if idx := strings.LastIndexAny(window, " \t\n"); idx > 0 {
		return strings.TrimSpace(window[:idx]) + ellipsis
	}
	return window + ellipsis
}

func lastSentenceEnd(s string) int {
	best := -1
	for _, p := range []string{".", "!", "?"} {
		if idx := strings.LastIndex(s, p); idx > best {
			best = idx
		}
	}
	if best < 0 {
		return -1
	}
	return best + 1
}

// CapturedMessage is a previously stored message considered for duplicate
// suppression.
type CapturedMessage struct {
	Content   string
	Timestamp time.Time
}

// IsDuplicateMessage reports whether content exactly matches a previous
// message captured within the window.
func IsDuplicateMessage(content string, ts time.Time, previous []CapturedMessage, window time.Duration) bool {
	if window <= 0 {
		window = DefaultDuplicateWindow
	}
	for _, prev := range previous {
		if prev.Content != content {
			continue
		}
		age := ts.Sub(prev.Timestamp)
		if age < 0 {
			age = -age
		}
		if age <= window {
			return true
		}
	}
	return false
}
