package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"BookmarkScout/internal/config"
	"BookmarkScout/internal/domain"
	"BookmarkScout/internal/errkind"
	"BookmarkScout/internal/ports"
)

// GeminiClient implements ports.LanguageModel on top of the Gemini API.
type GeminiClient struct {
	client  *genai.Client
	model   string
	timeout time.Duration
	retry   errkind.Policy
}

var _ ports.LanguageModel = (*GeminiClient)(nil)

// NewGeminiClient creates a Gemini-backed model client.
func NewGeminiClient(ctx context.Context, cfg config.GeminiConfig, timeout time.Duration, retry errkind.Policy) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, errkind.New(errkind.Auth, "gemini.new", errors.New("gemini api key is required"))
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-2.5-flash"
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      cfg.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: cfg.BaseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	return &GeminiClient{client: client, model: model, timeout: timeout, retry: retry}, nil
}

// Complete generates content for the prompt. Structured prompts set a JSON
// response type and pass the schema as the response JSON schema.
func (g *GeminiClient) Complete(ctx context.Context, prompt domain.Prompt) (domain.Completion, error) {
	cfg := &genai.GenerateContentConfig{}
	if system := strings.TrimSpace(prompt.System); system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if prompt.Temperature > 0 {
		cfg.Temperature = genai.Ptr(float32(prompt.Temperature))
	}
	if prompt.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(prompt.MaxTokens)
	}

	if prompt.Structured() {
		var schema map[string]any
		if err := json.Unmarshal(prompt.Schema, &schema); err != nil {
			return domain.Completion{}, fmt.Errorf("gemini: schema %s: %w", prompt.SchemaName, err)
		}
		cfg.ResponseMIMEType = "application/json"
		cfg.ResponseJsonSchema = schema
	}
	contents := []*genai.Content{genai.NewContentFromText(prompt.User, genai.RoleUser)}

	var completion domain.Completion
	err := g.retry.Do(ctx, func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()

		resp, err := g.client.Models.GenerateContent(attemptCtx, g.model, contents, cfg)
		if err != nil {
			return classifyGenAI(err)
		}
		text := resp.Text()
		if strings.TrimSpace(text) == "" {
			return errors.New("gemini returned no text")
		}
		completion = domain.Completion{Text: text}
		return nil
	})
	return completion, err
}

func classifyGenAI(err error) error {
	code, status, message := 0, "", err.Error()

	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		code, status, message = apiErr.Code, apiErr.Status, apiErr.Message
	case errors.As(err, &apiErrPtr) && apiErrPtr != nil:
		code, status, message = apiErrPtr.Code, apiErrPtr.Status, apiErrPtr.Message
	default:
		return classifyTransport("gemini.complete", err)
	}

	kind := errkind.FromStatus(code)
	if code == http.StatusTooManyRequests && status == "RESOURCE_EXHAUSTED" && strings.Contains(strings.ToLower(message), "quota") {
		kind = errkind.QuotaExceeded
	}
	return errkind.New(kind, "gemini.complete", err)
}
