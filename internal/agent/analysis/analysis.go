// Package analysis extracts code-related signals from bookmark text.
package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"BookmarkScout/internal/config"
	"BookmarkScout/internal/domain"
	"BookmarkScout/internal/logging"
	"BookmarkScout/internal/ports"
)

// Weights are the heuristic relevance contributions.
type Weights struct {
	DirectURL   float64
	PerMention  float64
	MentionCap  float64
	PerCategory float64
	CategoryCap float64
}

// DefaultWeights returns the standard relevance weights.
func DefaultWeights() Weights {
	return Weights{DirectURL: 0.4, PerMention: 0.2, MentionCap: 0.4, PerCategory: 0.1, CategoryCap: 0.3}
}

// WeightsFromConfig applies the configured overrides to DefaultWeights.
func WeightsFromConfig(cfg config.Config) Weights {
	w := DefaultWeights()
	o := cfg.Pipeline.RelevanceWeights
	for dst, v := range map[*float64]*float64{
		&w.DirectURL:   o.DirectURL,
		&w.PerMention:  o.PerMention,
		&w.MentionCap:  o.MentionCap,
		&w.PerCategory: o.PerCategory,
		&w.CategoryCap: o.CategoryCap,
	} {
		if v != nil {
			*dst = *v
		}
	}
	return w
}

const classificationSchema = "bookmark_classification"

var classificationJSONSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "content_type": {
      "type": "string",
      "enum": ["project_announcement", "tutorial_reference", "library_recommendation", "discussion", "non_code"]
    }
  },
  "required": ["content_type"],
  "additionalProperties": false
}`)

const classificationSystem = "You classify saved social-media posts by how they relate to source code. " +
	"Answer with exactly one content_type."

// Agent is the content analysis stage.
type Agent struct {
	model   ports.LanguageModel
	weights Weights
	logger  *slog.Logger
}

// New creates an analysis agent. model may be nil, in which case
// classification falls back to discussion.
func New(model ports.LanguageModel, logger *slog.Logger) *Agent {
	return &Agent{
		model:   model,
		weights: DefaultWeights(),
		logger:  logging.OrDiscard(logger).With("component", "analysis"),
	}
}

// WithWeights overrides the heuristic weights.
func (a *Agent) WithWeights(w Weights) *Agent {
	a.weights = w
	return a
}

// Configured reports whether a model backs classification.
func (a *Agent) Configured() bool {
	return a.model != nil
}

// Analyze scores and classifies a bookmark. Model failures are absorbed;
// an error is returned only when ctx ends before analysis completes.
func (a *Agent) Analyze(ctx context.Context, bookmark domain.Bookmark) (domain.AnalysisResult, error) {
	norm := normalize(bookmark)

	directURLs, urlPairs := extractRepositories(append([]string{norm.text}, norm.urls...)...)
	mentions := mergeMentions(extractMentions(norm.text), urlPairs)
	keywords := matchKeywords(norm.text)

	result := domain.AnalysisResult{
		DirectURLs:   directURLs,
		Mentions:     mentions,
		Keywords:     keywords.keywords,
		AuthorHandle: strings.TrimPrefix(strings.TrimSpace(bookmark.AuthorHandle), "@"),
		Language:     keywords.language,
	}
	if result.AuthorHandle == "" && len(mentions) > 0 {
		result.InferredAuthorHandle = mentions[0].Owner
	}
	result.RelevanceScore = a.score(len(directURLs), len(mentions), keywords.categories)

	contentType, halve := a.classify(ctx, bookmark.ID, norm.text, result)
	if err := ctx.Err(); err != nil {
		return domain.AnalysisResult{}, fmt.Errorf("analyze bookmark %s: %w", bookmark.ID, err)
	}
	result.ContentType = contentType
	if halve {
		result.RelevanceScore = domain.Clamp(result.RelevanceScore / 2)
	}
	result.Priority = priorityOf(result.RelevanceScore, result.ContentType)

	a.logger.Debug("bookmark analyzed",
		"bookmark_id", bookmark.ID,
		"score", result.RelevanceScore,
		"content_type", result.ContentType,
		"direct_urls", len(result.DirectURLs),
		"mentions", len(result.Mentions),
	)
	return result, nil
}

func (a *Agent) score(direct, mentions, categories int) float64 {
	w := a.weights
	score := 0.0
	if direct > 0 {
		score += w.DirectURL
	}
	score += min(float64(mentions)*w.PerMention, w.MentionCap)
	score += min(float64(categories)*w.PerCategory, w.CategoryCap)
	return domain.Clamp(round(score))
}

// classify asks the model for a content type. The bool result reports an
// unusable answer, which halves the score.
func (a *Agent) classify(ctx context.Context, bookmarkID, text string, partial domain.AnalysisResult) (domain.ContentType, bool) {
	if a.model == nil {
		return domain.ContentDiscussion, false
	}

	callCtx, cancel := classificationContext(ctx)
	defer cancel()

	completion, err := a.model.Complete(callCtx, domain.Prompt{
		System:      classificationSystem,
		User:        classificationPrompt(text, partial),
		SchemaName:  classificationSchema,
		Schema:      classificationJSONSchema,
		MaxTokens:   50,
		Temperature: 0,
	})
	if err != nil {
		a.logger.Warn("classification failed, using heuristic result", "bookmark_id", bookmarkID, "error", err)
		return domain.ContentDiscussion, false
	}

	var answer struct {
		ContentType string `json:"content_type"`
	}
	if err := completion.Decode(&answer); err != nil {
		a.logger.Warn("unparseable classification", "bookmark_id", bookmarkID, "error", err)
		return domain.ContentNonCode, true
	}
	contentType := domain.ContentType(strings.TrimSpace(strings.ToLower(answer.ContentType)))
	if !contentType.Valid() {
		a.logger.Warn("classification outside known set", "bookmark_id", bookmarkID, "content_type", answer.ContentType)
		return domain.ContentNonCode, true
	}
	return contentType, false
}

// classificationContext leaves a slice of the caller's deadline for the fallback path.
func classificationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	deadline, ok := ctx.Deadline()
	if !ok {
		return context.WithCancel(ctx)
	}
	budget := time.Until(deadline) * 9 / 10
	return context.WithTimeout(ctx, budget)
}

func classificationPrompt(text string, partial domain.AnalysisResult) string {
	var b strings.Builder
	b.WriteString("Classify this post.\n\nPost:\n")
	b.WriteString(text)
	if len(partial.DirectURLs) > 0 {
		b.WriteString("\n\nRepository links: ")
		b.WriteString(strings.Join(partial.DirectURLs, ", "))
	}
	if len(partial.Keywords) > 0 {
		b.WriteString("\nKeywords: ")
		b.WriteString(strings.Join(partial.Keywords, ", "))
	}
	b.WriteString("\n\nTypes: project_announcement (someone shares their own project), " +
		"tutorial_reference (teaches or links learning material), " +
		"library_recommendation (recommends a third-party tool), " +
		"discussion (talks about code without a concrete project), " +
		"non_code (unrelated to software).")
	return b.String()
}

func priorityOf(score float64, contentType domain.ContentType) domain.Priority {
	switch {
	case score >= 0.7 && (contentType == domain.ContentProjectAnnouncement || contentType == domain.ContentLibraryRecommendation):
		return domain.PriorityHigh
	case score >= 0.4:
		return domain.PriorityMedium
	default:
		return domain.PriorityLow
	}
}

// round trims float noise so 0.1+0.2 compares as 0.3.
func round(v float64) float64 {
	return float64(int64(v*1000+0.5)) / 1000
}
