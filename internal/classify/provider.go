package classify

import (
	"context"
	"strings"
	"text/template"

	"github.com/aimemory/aimemory/internal/memory"
)

// Result is a provider's classification verdict.
type Result struct {
	Type         memory.Type
	Confidence   float64
	Reasoning    string
	Tags         []string
	InputTokens  int64
	OutputTokens int64
	Model        string
}

// Provider classifies content into one of a collection's valid types.
// Implementations must be safe for concurrent use.
type Provider interface {
	Name() string
	IsAvailable(ctx context.Context) bool
	Classify(ctx context.Context, content string, collection memory.Collection, current memory.Type) (*Result, error)
}

// promptData feeds the shared classification prompt template.
type promptData struct {
	Collection  string
	ValidTypes  string
	CurrentType string
	Content     string
}

var promptTemplate = template.Must(template.New("classify").Parse(classifyPromptTemplate))

// renderPrompt builds the classification prompt for a provider call.
func renderPrompt(content string, collection memory.Collection, current memory.Type) (string, error) {
	types := collection.Types()
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	var sb strings.Builder
	err := promptTemplate.Execute(&sb, promptData{
		Collection:  string(collection),
		ValidTypes:  strings.Join(names, ", "),
		CurrentType: string(current),
		Content:     content,
	})
	if err != nil {
		return "", err
	}
	return sb.String(), nil
}

const classifyPromptTemplate = `You are classifying a memory captured from an AI coding session into its most accurate type.

Collection: {{.Collection}}
Valid types for this collection: {{.ValidTypes}}
Current type: {{.CurrentType}}

Classification rules:
- Choose the single type that best describes the content below.
- If the current type already fits, return it with your confidence.
- Only choose from the valid types listed above.
- error_fix is for content describing a bug and its resolution.
- decision is for explicit choices between alternatives.
- rule is for hard constraints; guideline is for soft preferences.

Content:
{{.Content}}

Respond with strict JSON matching this schema, and nothing else:
{"classified_type": "<type>", "confidence": <0.0-1.0>, "reasoning": "<one sentence>", "tags": ["<tag>", ...]}`
