package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Prompt is a single request to a language model.
type Prompt struct {
	System      string
	User        string
	SchemaName  string
	Schema      json.RawMessage
	MaxTokens   int
	Temperature float64
}

// Structured reports whether the caller expects JSON back.
func (p Prompt) Structured() bool {
	return len(p.Schema) > 0
}

// Completion is a model response.
type Completion struct {
	Text string
}

// Decode unmarshals a structured completion, tolerating fenced code blocks.
func (c Completion) Decode(v any) error {
	raw := strings.TrimSpace(c.Text)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("empty completion")
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("decode completion: %w", err)
	}
	return nil
}
