package classify

import (
	"context"
	"fmt"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/aimemory/aimemory/internal/memory"
)

// anthropicProvider classifies through the Anthropic Messages API.
type anthropicProvider struct {
	client anthropic.Client
	model  anthropic.Model
}

// newAnthropicProvider builds the cloud provider. Env var
// ANTHROPIC_API_KEY takes precedence over the configured key.
func newAnthropicProvider(apiKey, model string) (*anthropicProvider, error) {
	if envKey := os.Getenv("ANTHROPIC_API_KEY"); envKey != "" {
		apiKey = envKey
	}
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic provider: API key required")
	}
	return &anthropicProvider{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  anthropic.Model(model),
	}, nil
}

func (p *anthropicProvider) Name() string { return "anthropic" }

// IsAvailable is a cheap local check; transport failures surface on the
// classify call itself and feed the circuit breaker.
func (p *anthropicProvider) IsAvailable(ctx context.Context) bool {
	return p.model != ""
}

func (p *anthropicProvider) Classify(ctx context.Context, content string, collection memory.Collection, current memory.Type) (*Result, error) {
	prompt, err := renderPrompt(content, collection, current)
	if err != nil {
		return nil, fmt.Errorf("render prompt: %w", err)
	}

	message, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     p.model,
		MaxTokens: 256,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic classify: %w", err)
	}

	if len(message.Content) == 0 {
		return nil, fmt.Errorf("anthropic classify: empty response")
	}
	block := message.Content[0]
	if block.Type != "text" {
		return nil, fmt.Errorf("anthropic classify: unexpected block type %s", block.Type)
	}

	parsed, err := parseClassification(block.Text)
	if err != nil {
		return nil, fmt.Errorf("anthropic classify: %w", err)
	}

	return &Result{
		Type:         memory.Type(parsed.Type),
		Confidence:   parsed.Confidence,
		Reasoning:    parsed.Reasoning,
		Tags:         parsed.Tags,
		InputTokens:  message.Usage.InputTokens,
		OutputTokens: message.Usage.OutputTokens,
		Model:        string(p.model),
	}, nil
}
