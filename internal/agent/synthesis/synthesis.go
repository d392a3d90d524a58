// Package synthesis merges pipeline findings into a knowledge-base record.
package synthesis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"BookmarkScout/internal/domain"
	"BookmarkScout/internal/logging"
	"BookmarkScout/internal/ports"
)

// Input is everything synthesis may draw on; only Bookmark is required.
type Input struct {
	Bookmark   domain.Bookmark
	Analysis   *domain.AnalysisResult
	Candidates []domain.RepositoryCandidate
	Executions []domain.ExecutionResult
	Style      domain.Style
}

// Agent is the content synthesis stage.
type Agent struct {
	model  ports.LanguageModel
	style  domain.Style
	logger *slog.Logger
}

// New creates a synthesis agent with a default style. model may be nil.
func New(model ports.LanguageModel, style domain.Style, logger *slog.Logger) *Agent {
	if !style.Valid() {
		style = domain.StyleDetailed
	}
	return &Agent{
		model:  model,
		style:  style,
		logger: logging.OrDiscard(logger).With("component", "synthesis"),
	}
}

// Configured reports whether a model writes the prose.
func (a *Agent) Configured() bool {
	return a.model != nil
}

// Style is the default rendering style.
func (a *Agent) Style() domain.Style {
	return a.style
}

const draftSchemaName = "knowledge_record"

var draftSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "body": {"type": "string"},
    "actionable_items": {"type": "array", "items": {"type": "string"}},
    "tags": {"type": "array", "items": {"type": "string"}}
  },
  "required": ["body", "actionable_items", "tags"],
  "additionalProperties": false
}`)

type draft struct {
	Body            string   `json:"body"`
	ActionableItems []string `json:"actionable_items"`
	Tags            []string `json:"tags"`
}

// Synthesize renders the record. Model problems fall back to deterministic
// prose; only an ended ctx yields an error.
func (a *Agent) Synthesize(ctx context.Context, in Input) (domain.SynthesisResult, error) {
	if !in.Style.Valid() {
		in.Style = a.style
	}

	var d draft
	if a.model != nil {
		var err error
		d, err = a.draft(ctx, in)
		if err != nil {
			a.logger.Warn("model draft failed, using deterministic body", "bookmark_id", in.Bookmark.ID, "error", err)
			d = draft{}
		}
	}
	if err := ctx.Err(); err != nil {
		return domain.SynthesisResult{}, fmt.Errorf("synthesize bookmark %s: %w", in.Bookmark.ID, err)
	}

	result := render(in, d)
	a.logger.Debug("record synthesized", "bookmark_id", in.Bookmark.ID, "style", result.Style, "tags", len(result.Tags))
	return result, nil
}

// Minimal renders a record from the bookmark alone without calling the model.
func Minimal(bookmark domain.Bookmark, style domain.Style) domain.SynthesisResult {
	if !style.Valid() {
		style = domain.StyleDetailed
	}
	return render(Input{Bookmark: bookmark, Style: style}, draft{})
}

func render(in Input, d draft) domain.SynthesisResult {
	fallback := paragraphs(in)
	body := splitParagraphs(d.Body)
	if len(body) == 0 {
		body = fallback
	}

	result := domain.SynthesisResult{
		Title: title(in),
		Tags:  tags(in, d.Tags),
		Style: in.Style,
	}

	switch in.Style {
	case domain.StyleSummary:
		result.Body = strings.Join(firstN(body, 2), "\n\n")
		result.ActionableItems = []string{}
	case domain.StyleActionable:
		result.Body = firstSentence(body[0])
		result.ActionableItems = fitItems(d.ActionableItems, defaultItems(in), minItems, maxItems)
	default:
		result.Body = strings.Join(body, "\n\n")
		result.ActionableItems = fitItems(d.ActionableItems, defaultItems(in), minItems, maxItems)
	}
	return result
}

func (a *Agent) draft(ctx context.Context, in Input) (draft, error) {
	completion, err := a.model.Complete(ctx, domain.Prompt{
		System:     "You write concise knowledge-base entries about software projects found in saved posts.",
		User:       draftPrompt(in),
		SchemaName: draftSchemaName,
		Schema:     draftSchema,
		MaxTokens:  900,
	})
	if err != nil {
		return draft{}, err
	}
	var d draft
	if err := completion.Decode(&d); err != nil {
		return draft{}, err
	}
	return d, nil
}

func draftPrompt(in Input) string {
	var b strings.Builder
	switch in.Style {
	case domain.StyleSummary:
		b.WriteString("Write one or two short paragraphs.\n")
	case domain.StyleActionable:
		b.WriteString("Write a one-sentence body and three to six concrete next steps.\n")
	default:
		b.WriteString("Write several paragraphs and three to six concrete next steps.\n")
	}
	b.WriteString("Suggest at most three topical tags.\n\n")

	fmt.Fprintf(&b, "Post by @%s:\n%s\n", strings.TrimPrefix(in.Bookmark.AuthorHandle, "@"), in.Bookmark.Text)
	if in.Analysis != nil {
		fmt.Fprintf(&b, "\nClassified as %s (relevance %.2f). Keywords: %s\n",
			in.Analysis.ContentType, in.Analysis.RelevanceScore, strings.Join(in.Analysis.Keywords, ", "))
	}
	for _, c := range in.Candidates {
		fmt.Fprintf(&b, "\nRepository %s (confidence %.2f, %d stars, %s): %s", c.FullName, c.Confidence, c.Stars, c.Language, c.Description)
	}
	for _, exec := range in.Executions {
		fmt.Fprintf(&b, "\nExecution: %s", executionLine(exec))
	}
	return b.String()
}
