package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"BookmarkScout/internal/config"
	"BookmarkScout/internal/domain"
	"BookmarkScout/internal/errkind"
	"BookmarkScout/internal/ports"
)

// OpenAIClient implements ports.LanguageModel backed by OpenAI-compatible chat APIs.
type OpenAIClient struct {
	endpoint     string
	model        string
	apiKey       string
	systemPrompt string
	timeout      time.Duration
	retry        errkind.Policy
	httpClient   *http.Client
}

var _ ports.LanguageModel = (*OpenAIClient)(nil)

// NewOpenAIClient builds a client from configuration.
func NewOpenAIClient(cfg config.OpenAIConfig, timeout time.Duration, retry errkind.Policy) *OpenAIClient {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &OpenAIClient{
		endpoint:     cfg.Endpoint,
		model:        cfg.Model,
		apiKey:       cfg.APIKey,
		systemPrompt: cfg.SystemPrompt,
		timeout:      timeout,
		retry:        retry,
		httpClient:   &http.Client{},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type       string          `json:"type"`
	JSONSchema *jsonSchemaSpec `json:"json_schema,omitempty"`
}

type jsonSchemaSpec struct {
	Name   string          `json:"name"`
	Schema json.RawMessage `json:"schema"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    *float64        `json:"temperature,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete sends the prompt as a chat completion. Each attempt is bounded by
// the client timeout; the caller's context bounds the whole call.
func (c *OpenAIClient) Complete(ctx context.Context, prompt domain.Prompt) (domain.Completion, error) {
	if c == nil {
		return domain.Completion{}, fmt.Errorf("openai client is nil")
	}
	if c.apiKey == "" || c.endpoint == "" || c.model == "" {
		return domain.Completion{}, errkind.New(errkind.Auth, "openai.complete", errors.New("openai client misconfigured"))
	}

	body, err := json.Marshal(c.buildRequest(prompt))
	if err != nil {
		return domain.Completion{}, fmt.Errorf("marshal openai payload: %w", err)
	}

	var completion domain.Completion
	err = c.retry.Do(ctx, func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		text, err := c.send(attemptCtx, body)
		if err != nil {
			return err
		}
		completion = domain.Completion{Text: text}
		return nil
	})
	return completion, err
}

func (c *OpenAIClient) buildRequest(prompt domain.Prompt) chatRequest {
	system := prompt.System
	if strings.TrimSpace(system) == "" {
		system = c.systemPrompt
	}

	req := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: safePrompt(system)},
			{Role: "user", Content: prompt.User},
		},
		MaxTokens: prompt.MaxTokens,
	}
	if prompt.Temperature > 0 {
		t := prompt.Temperature
		req.Temperature = &t
	}
	if prompt.Structured() {
		name := prompt.SchemaName
		if name == "" {
			name = "response"
		}
		req.ResponseFormat = &responseFormat{
			Type:       "json_schema",
			JSONSchema: &jsonSchemaSpec{Name: name, Schema: prompt.Schema},
		}
	}
	return req
}

func (c *OpenAIClient) send(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", classifyTransport("openai.complete", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		message := strings.TrimSpace(string(payload))
		return "", errkind.New(classifyStatus(resp.StatusCode, message), "openai.complete",
			fmt.Errorf("openai error %s: %s", resp.Status, message))
	}

	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode openai response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return "", errors.New("openai response has no choices")
	}
	return decoded.Choices[0].Message.Content, nil
}

// classifyStatus separates quota exhaustion from ordinary throttling; both
// arrive as 429 from OpenAI-compatible APIs.
func classifyStatus(status int, message string) errkind.Kind {
	lower := strings.ToLower(message)
	if strings.Contains(lower, "insufficient_quota") || (strings.Contains(lower, "quota") && strings.Contains(lower, "exceeded")) {
		return errkind.QuotaExceeded
	}
	return errkind.FromStatus(status)
}

func classifyTransport(op string, err error) error {
	kind := errkind.KindOf(err)
	if kind == errkind.Unknown {
		kind = errkind.Transient
	}
	return errkind.New(kind, op, err)
}

func safePrompt(prompt string) string {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "You are a precise assistant that analyzes developer bookmarks."
	}
	return prompt
}
