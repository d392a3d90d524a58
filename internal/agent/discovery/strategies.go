package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"BookmarkScout/internal/domain"
	"BookmarkScout/internal/errkind"
)

// Fixed confidences per strategy.
const (
	directActiveConfidence = 0.9
	directStaleConfidence  = 0.6
	searchMaxConfidence    = 0.7
	authorBaseConfidence   = 0.5
	authorKeywordBonus     = 0.2
	authorRecentBonus      = 0.1
	authorMaxConfidence    = 0.8
	modelConfidence        = 0.5
)

var fullNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9-]{0,38}/[A-Za-z0-9_.-]{1,100}$`)

// direct validates every explicit URL and mention.
func (a *Agent) direct(ctx context.Context, analysis domain.AnalysisResult) ([]domain.RepositoryCandidate, error) {
	var out []domain.RepositoryCandidate
	var lastErr error
	for _, name := range repositoryNames(analysis) {
		meta, err := a.search.GetRepository(ctx, name)
		switch {
		case errkind.Is(err, errkind.NotFound):
			continue
		case err != nil:
			if errkind.Is(err, errkind.Auth) {
				return out, err
			}
			lastErr = err
			continue
		}
		active := a.active(meta, a.opts.RecencyWindow)
		confidence := directStaleConfidence
		if active {
			confidence = directActiveConfidence
		}
		out = append(out, domain.CandidateFromMetadata(meta, domain.StrategyDirect, confidence, active))
	}
	if len(out) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return out, nil
}

// searchStrategy runs one keyword query and scores results by rank.
func (a *Agent) searchStrategy(ctx context.Context, analysis domain.AnalysisResult) ([]domain.RepositoryCandidate, error) {
	repos, err := a.search.Search(ctx, searchQuery(analysis))
	if err != nil {
		return nil, err
	}
	if len(repos) > a.opts.SearchResults {
		repos = repos[:a.opts.SearchResults]
	}
	out := make([]domain.RepositoryCandidate, 0, len(repos))
	for rank, meta := range repos {
		confidence := min(1/float64(1+rank), searchMaxConfidence)
		out = append(out, domain.CandidateFromMetadata(meta, domain.StrategySearch, confidence, a.active(meta, a.opts.RecencyWindow)))
	}
	return out, nil
}

// author looks through the handle's own repositories.
func (a *Agent) author(ctx context.Context, analysis domain.AnalysisResult) ([]domain.RepositoryCandidate, error) {
	repos, err := a.search.ListUserRepositories(ctx, analysis.Handle())
	if err != nil {
		return nil, err
	}

	type scored struct {
		meta       domain.RepositoryMetadata
		confidence float64
	}
	var kept []scored
	for _, meta := range repos {
		keyword := matchesKeyword(meta, analysis.Keywords)
		recent := a.active(meta, a.opts.AuthorRecentWindow)
		if !keyword && !recent {
			continue
		}
		confidence := authorBaseConfidence
		if keyword {
			confidence += authorKeywordBonus
		}
		if recent {
			confidence += authorRecentBonus
		}
		kept = append(kept, scored{meta: meta, confidence: min(confidence, authorMaxConfidence)})
	}

	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].meta.Stars != kept[j].meta.Stars {
			return kept[i].meta.Stars > kept[j].meta.Stars
		}
		return kept[i].meta.PushedAt.After(kept[j].meta.PushedAt)
	})
	if len(kept) > a.opts.AuthorLimit {
		kept = kept[:a.opts.AuthorLimit]
	}

	out := make([]domain.RepositoryCandidate, 0, len(kept))
	for _, s := range kept {
		out = append(out, domain.CandidateFromMetadata(s.meta, domain.StrategyAuthor, s.confidence, a.active(s.meta, a.opts.RecencyWindow)))
	}
	return out, nil
}

const guessSchemaName = "repository_guesses"

var guessSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "repositories": {"type": "array", "items": {"type": "string"}}
  },
  "required": ["repositories"],
  "additionalProperties": false
}`)

// modelStrategy asks the model for likely owner/repo names and validates each.
func (a *Agent) modelStrategy(ctx context.Context, analysis domain.AnalysisResult) ([]domain.RepositoryCandidate, error) {
	completion, err := a.model.Complete(ctx, domain.Prompt{
		System:     "You suggest GitHub repositories that a social-media post most likely refers to.",
		User:       guessPrompt(analysis, a.opts.ModelGuesses),
		SchemaName: guessSchemaName,
		Schema:     guessSchema,
		MaxTokens:  200,
	})
	if err != nil {
		return nil, err
	}
	var answer struct {
		Repositories []string `json:"repositories"`
	}
	if err := completion.Decode(&answer); err != nil {
		return nil, fmt.Errorf("model guesses: %w", err)
	}

	var out []domain.RepositoryCandidate
	tried := 0
	for _, guess := range answer.Repositories {
		if tried == a.opts.ModelGuesses {
			break
		}
		guess = strings.TrimPrefix(strings.TrimSpace(guess), "github.com/")
		if !fullNamePattern.MatchString(guess) {
			continue
		}
		tried++
		meta, err := a.search.GetRepository(ctx, guess)
		if err != nil {
			if errkind.Is(err, errkind.Auth) {
				return out, err
			}
			a.logger.Debug("model guess rejected", "guess", guess, "error", err)
			continue
		}
		out = append(out, domain.CandidateFromMetadata(meta, domain.StrategyModel, modelConfidence, a.active(meta, a.opts.RecencyWindow)))
	}
	return out, nil
}

func guessPrompt(analysis domain.AnalysisResult, limit int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Suggest at most %d repositories as owner/repo.\n", limit)
	if handle := analysis.Handle(); handle != "" {
		fmt.Fprintf(&b, "Author: %s\n", handle)
	}
	if len(analysis.Mentions) > 0 {
		names := make([]string, 0, len(analysis.Mentions))
		for _, m := range analysis.Mentions {
			names = append(names, m.FullName())
		}
		fmt.Fprintf(&b, "Mentioned: %s\n", strings.Join(names, ", "))
	}
	if len(analysis.Keywords) > 0 {
		fmt.Fprintf(&b, "Keywords: %s\n", strings.Join(analysis.Keywords, ", "))
	}
	if analysis.Language != "" {
		fmt.Fprintf(&b, "Language: %s\n", analysis.Language)
	}
	return b.String()
}

// repositoryNames collects owner/repo names from direct URLs and mentions.
func repositoryNames(analysis domain.AnalysisResult) []string {
	var names []string
	seen := map[string]bool{}
	add := func(name string) {
		key := strings.ToLower(name)
		if name == "" || seen[key] {
			return
		}
		seen[key] = true
		names = append(names, name)
	}
	for _, u := range analysis.DirectURLs {
		add(strings.TrimPrefix(u, "github.com/"))
	}
	for _, m := range analysis.Mentions {
		add(m.FullName())
	}
	return names
}

// searchQuery builds up to three non-language keywords plus a language qualifier.
func searchQuery(analysis domain.AnalysisResult) string {
	var parts []string
	for _, kw := range analysis.Keywords {
		if len(parts) == 3 {
			break
		}
		if isLanguageKeyword(kw, analysis.Language) {
			continue
		}
		if strings.Contains(kw, " ") {
			kw = `"` + kw + `"`
		}
		parts = append(parts, kw)
	}
	if analysis.Language != "" {
		parts = append(parts, "language:"+analysis.Language)
	}
	return strings.Join(parts, " ")
}

var languageKeywords = map[string]bool{
	"python": true, "javascript": true, "typescript": true, "golang": true, "rust": true,
	"java": true, "ruby": true, "php": true, "kotlin": true, "swift": true, "c++": true,
	"c#": true, "scala": true, "elixir": true, "haskell": true, "zig": true, "dart": true,
	"lua": true, "julia": true,
}

func isLanguageKeyword(kw, language string) bool {
	return languageKeywords[kw] || (language != "" && kw == language)
}

func matchesKeyword(meta domain.RepositoryMetadata, keywords []string) bool {
	haystack := strings.ToLower(meta.Name + " " + meta.Description + " " + strings.Join(meta.Topics, " "))
	for _, kw := range keywords {
		if strings.Contains(haystack, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
