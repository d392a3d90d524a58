// Package discovery turns analysis signals into ranked repository candidates.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"BookmarkScout/internal/config"
	"BookmarkScout/internal/domain"
	"BookmarkScout/internal/errkind"
	"BookmarkScout/internal/logging"
	"BookmarkScout/internal/ports"
)

// Options tunes strategy selection and ranking.
type Options struct {
	Strategy            string
	MaxRepositories     int
	RecencyWindow       time.Duration
	AuthorRecentWindow  time.Duration
	SearchResults       int
	AuthorLimit         int
	ModelGuesses        int
	ConservativeMinimum float64
}

// OptionsFromConfig maps configuration onto discovery options.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		Strategy:            cfg.Pipeline.DiscoveryStrategy,
		MaxRepositories:     cfg.Pipeline.MaxRepositories,
		RecencyWindow:       cfg.Discovery.RecencyWindow,
		AuthorRecentWindow:  cfg.Discovery.AuthorRecentWindow,
		SearchResults:       cfg.Discovery.SearchResults,
		AuthorLimit:         cfg.Discovery.AuthorLimit,
		ModelGuesses:        cfg.Discovery.ModelGuesses,
		ConservativeMinimum: cfg.Discovery.ConservativeMin(),
	}
}

// Agent is the repository discovery stage.
type Agent struct {
	search ports.RepositorySearch
	model  ports.LanguageModel
	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

// New creates a discovery agent. model may be nil, which disables the model strategy.
func New(search ports.RepositorySearch, model ports.LanguageModel, opts Options, logger *slog.Logger) *Agent {
	if opts.Strategy == "" {
		opts.Strategy = config.DiscoveryAggressive
	}
	if opts.MaxRepositories <= 0 {
		opts.MaxRepositories = 5
	}
	if opts.SearchResults <= 0 {
		opts.SearchResults = 5
	}
	if opts.AuthorLimit <= 0 {
		opts.AuthorLimit = 5
	}
	if opts.ModelGuesses <= 0 {
		opts.ModelGuesses = 3
	}
	return &Agent{
		search: search,
		model:  model,
		opts:   opts,
		logger: logging.OrDiscard(logger).With("component", "discovery"),
		now:    time.Now,
	}
}

// Configured reports whether a repository search client is available.
func (a *Agent) Configured() bool {
	return a.search != nil
}

type strategyFunc func(ctx context.Context, analysis domain.AnalysisResult) ([]domain.RepositoryCandidate, error)

type strategy struct {
	name string
	run  strategyFunc
}

// Discover runs every applicable strategy concurrently and merges their output.
// It fails only when every attempted strategy failed.
func (a *Agent) Discover(ctx context.Context, analysis domain.AnalysisResult) ([]domain.RepositoryCandidate, error) {
	if a.search == nil {
		return nil, errkind.New(errkind.Auth, "discovery", errors.New("repository search client not configured"))
	}

	strategies := a.plan(analysis)
	if len(strategies) == 0 {
		return nil, nil
	}

	results := make([][]domain.RepositoryCandidate, len(strategies))
	errs := make([]error, len(strategies))

	var g errgroup.Group
	for i, s := range strategies {
		g.Go(func() error {
			found, err := s.run(ctx, analysis)
			if err != nil {
				errs[i] = fmt.Errorf("%s strategy: %w", s.name, err)
				return nil
			}
			results[i] = found
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	failed := 0
	var all []domain.RepositoryCandidate
	for i, s := range strategies {
		if errs[i] != nil {
			failed++
			a.logger.Warn("discovery strategy failed", "strategy", s.name, "error", errs[i])
			continue
		}
		a.logger.Debug("discovery strategy finished", "strategy", s.name, "candidates", len(results[i]))
		all = append(all, results[i]...)
	}
	if failed == len(strategies) {
		joined := errors.Join(errs...)
		for _, err := range errs {
			if errkind.Is(err, errkind.Auth) {
				return nil, errkind.New(errkind.Auth, "discovery", joined)
			}
		}
		return nil, fmt.Errorf("all discovery strategies failed: %w", joined)
	}

	return a.rank(all), nil
}

func (a *Agent) plan(analysis domain.AnalysisResult) []strategy {
	var out []strategy
	if len(repositoryNames(analysis)) > 0 {
		out = append(out, strategy{name: domain.StrategyDirect, run: a.direct})
	}
	conservative := a.opts.Strategy == config.DiscoveryConservative
	if !conservative && searchQuery(analysis) != "" {
		out = append(out, strategy{name: domain.StrategySearch, run: a.searchStrategy})
	}
	if analysis.Handle() != "" {
		out = append(out, strategy{name: domain.StrategyAuthor, run: a.author})
	}
	if !conservative && a.model != nil && (len(analysis.Keywords) > 0 || len(analysis.Mentions) > 0 || analysis.Handle() != "") {
		out = append(out, strategy{name: domain.StrategyModel, run: a.modelStrategy})
	}
	return out
}

// rank dedupes by full name, keeps max confidence and unions strategy tags.
func (a *Agent) rank(all []domain.RepositoryCandidate) []domain.RepositoryCandidate {
	byName := map[string]*domain.RepositoryCandidate{}
	tags := map[string]map[string]bool{}
	var order []string

	for _, c := range all {
		key := strings.ToLower(c.FullName)
		if tags[key] == nil {
			tags[key] = map[string]bool{}
		}
		for _, t := range c.SourceStrategy {
			tags[key][t] = true
		}

		existing, ok := byName[key]
		if !ok {
			cp := c
			byName[key] = &cp
			order = append(order, key)
			continue
		}
		if c.Confidence > existing.Confidence {
			*existing = c
		}
		existing.IsActive = existing.IsActive || c.IsActive
	}

	merged := make([]domain.RepositoryCandidate, 0, len(order))
	for _, key := range order {
		c := *byName[key]
		c.SourceStrategy = sortedKeys(tags[key])
		c.Confidence = domain.Clamp(c.Confidence)
		if a.opts.Strategy == config.DiscoveryConservative && c.Confidence < a.opts.ConservativeMinimum {
			continue
		}
		merged = append(merged, c)
	}

	domain.SortCandidates(merged)
	if len(merged) > a.opts.MaxRepositories {
		merged = merged[:a.opts.MaxRepositories]
	}
	return merged
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (a *Agent) active(meta domain.RepositoryMetadata, window time.Duration) bool {
	if window <= 0 {
		return true
	}
	return meta.ActiveSince(a.now().Add(-window))
}
