package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aimemory/aimemory/internal/memory"
)

// localProvider classifies through an OpenAI-compatible local endpoint
// (Ollama, llama.cpp server, etc). Tried first in the default chain so
// cloud calls only happen when the local model is down or unsure.
type localProvider struct {
	baseURL string
	model   string
	httpc   *http.Client
}

func newLocalProvider(baseURL, model string) *localProvider {
	return &localProvider{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   model,
		httpc:   &http.Client{Timeout: 20 * time.Second},
	}
}

func (p *localProvider) Name() string { return "local" }

// IsAvailable probes the models list with a short deadline.
func (p *localProvider) IsAvailable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/v1/models", nil)
	if err != nil {
		return false
	}
	resp, err := p.httpc.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

func (p *localProvider) Classify(ctx context.Context, content string, collection memory.Collection, current memory.Type) (*Result, error) {
	prompt, err := renderPrompt(content, collection, current)
	if err != nil {
		return nil, fmt.Errorf("render prompt: %w", err)
	}

	body, err := json.Marshal(map[string]any{
		"model": p.model,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
		"temperature": 0,
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("local classify: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("local classify: status %d", resp.StatusCode)
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int64 `json:"prompt_tokens"`
			CompletionTokens int64 `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("local classify: decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("local classify: no choices")
	}

	verdict, err := parseClassification(parsed.Choices[0].Message.Content)
	if err != nil {
		return nil, fmt.Errorf("local classify: %w", err)
	}

	return &Result{
		Type:         memory.Type(verdict.Type),
		Confidence:   verdict.Confidence,
		Reasoning:    verdict.Reasoning,
		Tags:         verdict.Tags,
		InputTokens:  parsed.Usage.PromptTokens,
		OutputTokens: parsed.Usage.CompletionTokens,
		Model:        p.model,
	}, nil
}
