// Package filter decides which content is worth remembering and cleans
// conversation text before injection.
package filter

import (
	"path/filepath"
	"regexp"
	"strings"
)

// Defaults for the code-pattern filter.
const (
	DefaultMinLines = 10
	DefaultMaxChars = 20_000
)

// TruncationMarker is appended when content is cut at the character budget.
const TruncationMarker = "\n... [content truncated]"

// Extensions that never contain storable code patterns.
var defaultSkipExtensions = map[string]bool{
	".md": true, ".json": true, ".txt": true, ".csv": true,
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".svg": true,
	".ico": true, ".pdf": true,
	".zip": true, ".tar": true, ".gz": true, ".bz2": true, ".7z": true,
	".lock": true, ".sum": true,
}

// Path fragments for generated or vendored trees.
var defaultSkipPathPatterns = []string{
	"node_modules/", "vendor/", "dist/", "build/", "target/",
	".git/", "__pycache__/", ".venv/", ".cache/", "coverage/",
	".next/", ".idea/", ".vscode/",
}

var (
	// Function definitions across the language syntaxes we capture from.
	reFuncDef = regexp.MustCompile(`(?m)^\s*(func\s+\w|def\s+\w|fn\s+\w|function\s+\w|(public|private|protected|static)\s+[\w<>\[\]]+\s+\w+\s*\()`)
	// Class and type declarations.
	reTypeDecl = regexp.MustCompile(`(?m)^\s*((export\s+)?(abstract\s+)?class\s+\w|type\s+\w+\s+(struct|interface)|interface\s+\w+\s*\{|impl\s+\w|trait\s+\w|enum\s+\w)`)
	// Decorators and annotations.
	reDecorator = regexp.MustCompile(`(?m)^\s*(@\w+|#\[\w+)`)
	// Import-ish lines; significance requires three in a row.
	reImportLine = regexp.MustCompile(`^\s*(import\s|from\s+\S+\s+import\s|use\s+\w|#include\s|require\s*\()`)
)

// CodeFilter gates what the capture path stores from tool output.
type CodeFilter struct {
	SkipExtensions   map[string]bool
	SkipPathPatterns []string
	MinLines         int
	MaxChars         int
}

// NewCodeFilter returns a filter with the default extension and path sets.
func NewCodeFilter() *CodeFilter {
	return &CodeFilter{
		SkipExtensions:   defaultSkipExtensions,
		SkipPathPatterns: defaultSkipPathPatterns,
		MinLines:         DefaultMinLines,
		MaxChars:         DefaultMaxChars,
	}
}

// ShouldSkipPath reports whether the file path alone disqualifies capture.
func (f *CodeFilter) ShouldSkipPath(path string) bool {
	if path == "" {
		return false
	}
	if f.SkipExtensions[strings.ToLower(filepath.Ext(path))] {
		return true
	}
	norm := filepath.ToSlash(path)
	for _, pat := range f.SkipPathPatterns {
		if strings.Contains(norm, pat) {
			return true
		}
	}
	return false
}

// IsSignificant reports whether content contains at least one structural
// signal: a function definition, a class/type declaration, a decorator,
// or a block of three or more consecutive import lines.
func (f *CodeFilter) IsSignificant(content string) bool {
	if reFuncDef.MatchString(content) || reTypeDecl.MatchString(content) || reDecorator.MatchString(content) {
		return true
	}
	consecutive := 0
	for _, line := range strings.Split(content, "\n") {
		if reImportLine.MatchString(line) {
			consecutive++
			if consecutive >= 3 {
				return true
			}
		} else if strings.TrimSpace(line) != "" {
			consecutive = 0
		}
	}
	return false
}

// Accept decides whether (path, content) should be captured. Significance
// overrides the minimum line count. The returned reason is for logging.
func (f *CodeFilter) Accept(path, content string) (bool, string) {
	if f.ShouldSkipPath(path) {
		return false, "skipped path"
	}
	if f.IsSignificant(content) {
		return true, "significant"
	}
	lines := strings.Count(content, "\n") + 1
	if lines < f.MinLines {
		return false, "below minimum lines"
	}
	return true, "length"
}

// Truncate cuts content to the configured character budget, appending a
// visible marker so readers know content was elided.
func (f *CodeFilter) Truncate(content string) string {
	if len(content) <= f.MaxChars {
		return content
	}
	return content[:f.MaxChars] + TruncationMarker
}
