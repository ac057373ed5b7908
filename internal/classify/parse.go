package classify

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// errNoJSON is returned when no JSON object can be located in a provider
// response.
var errNoJSON = errors.New("no JSON object in response")

// parsedClassification is the strict response schema providers must
// produce. Tags may arrive as any JSON shape; the parser coerces it to a
// string list.
type parsedClassification struct {
	Type       string
	Confidence float64
	Reasoning  string
	Tags       []string
}

// parseClassification extracts the classification JSON from a raw model
// response. It handles clean JSON, JSON fenced by triple backticks, and
// JSON surrounded by prose.
func parseClassification(raw string) (*parsedClassification, error) {
	body := stripFences(raw)

	start := strings.Index(body, "{")
	end := strings.LastIndex(body, "}")
	if start < 0 || end <= start {
		return nil, errNoJSON
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(body[start:end+1]), &obj); err != nil {
		return nil, fmt.Errorf("parse classification JSON: %w", err)
	}

	typeVal, ok := obj["classified_type"].(string)
	if !ok || typeVal == "" {
		return nil, errors.New("classified_type missing")
	}

	confidence, err := coerceFloat(obj["confidence"])
	if err != nil {
		return nil, fmt.Errorf("confidence: %w", err)
	}

	out := &parsedClassification{
		Type:       typeVal,
		Confidence: confidence,
	}
	if r, ok := obj["reasoning"].(string); ok {
		out.Reasoning = r
	}
	out.Tags = coerceTags(obj["tags"])
	return out, nil
}

func stripFences(raw string) string {
	body := strings.TrimSpace(raw)
	if idx := strings.Index(body, "```"); idx >= 0 {
		rest := body[idx+3:]
		// Drop an optional language tag on the fence line.
		if nl := strings.Index(rest, "\n"); nl >= 0 && !strings.Contains(rest[:nl], "{") {
			rest = rest[nl+1:]
		}
		if closing := strings.Index(rest, "```"); closing >= 0 {
			return rest[:closing]
		}
		return rest
	}
	return body
}

func coerceFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(x), 64)
	case json.Number:
		return x.Float64()
	case nil:
		return 0, errors.New("missing")
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}

func coerceTags(v any) []string {
	switch x := v.(type) {
	case []any:
		out := make([]string, 0, len(x))
		for _, item := range x {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return x
	case string:
		if x == "" {
			return nil
		}
		return []string{x}
	default:
		return nil
	}
}
