package filter

import (
	"strings"
	"testing"
)

func TestShouldSkipPath(t *testing.T) {
	f := NewCodeFilter()
	cases := []struct {
		path string
		skip bool
	}{
		{"README.md", true},
		{"config.json", true},
		{"logo.png", true},
		{"node_modules/lodash/index.js", true},
		{"vendor/github.com/pkg/errors/errors.go", true},
		{"dist/bundle.js", true},
		{"internal/server/handler.go", false},
		{"src/main.rs", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := f.ShouldSkipPath(tc.path); got != tc.skip {
			t.Errorf("ShouldSkipPath(%q) = %v, want %v", tc.path, got, tc.skip)
		}
	}
}

func TestIsSignificant(t *testing.T) {
	f := NewCodeFilter()

	significant := []string{
		"func handleRequest(w http.ResponseWriter, r *http.Request) {\n}",
		"def process(data):\n    return data",
		"fn main() {\n    println!(\"hi\");\n}",
		"function render(props) { return null }",
		"public static void main(String[] args) {",
		"class OrderService:\n    pass",
		"type Server struct {\n\taddr string\n}",
		"@dataclass\nclass Point:\n    x: int",
		"import os\nimport sys\nimport json\nprint('x')",
	}
	for _, s := range significant {
		if !f.IsSignificant(s) {
			t.Errorf("IsSignificant(%q) = false, want true", s)
		}
	}

	insignificant := []string{
		"just some prose about the weather",
		"import os\nprint('only one import')",
		"x = 1\ny = 2",
	}
	for _, s := range insignificant {
		if f.IsSignificant(s) {
			t.Errorf("IsSignificant(%q) = true, want false", s)
		}
	}
}

func TestAcceptSignificanceOverridesLineMinimum(t *testing.T) {
	f := NewCodeFilter()

	// Two lines, but a function definition: accepted.
	ok, reason := f.Accept("pkg/a.go", "func foo() int {\n\treturn 1 }")
	if !ok {
		t.Errorf("significant short content rejected: %s", reason)
	}

	// Nine plain lines: rejected.
	short := strings.Repeat("plain line\n", 8) + "plain line"
	if ok, _ := f.Accept("notes.py", short); ok {
		t.Error("short non-significant content accepted")
	}

	// Ten plain lines: accepted by length.
	long := strings.Repeat("plain line\n", 9) + "plain line"
	if ok, _ := f.Accept("notes.py", long); !ok {
		t.Error("ten-line content rejected")
	}
}

func TestTruncateAppendsMarker(t *testing.T) {
	f := NewCodeFilter()
	f.MaxChars = 100

	short := "tiny"
	if got := f.Truncate(short); got != short {
		t.Errorf("short content modified: %q", got)
	}

	long := strings.Repeat("a", 500)
	got := f.Truncate(long)
	if !strings.HasSuffix(got, TruncationMarker) {
		t.Error("truncated content missing marker")
	}
	if len(got) != 100+len(TruncationMarker) {
		t.Errorf("truncated length = %d", len(got))
	}
}
