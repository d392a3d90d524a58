package parser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"BookmarkScout/internal/config"
	"BookmarkScout/internal/domain"
	"BookmarkScout/internal/logging"
	"BookmarkScout/internal/ports"
	"BookmarkScout/internal/scanner"
)

// StrategySource implements BookmarkSource via registered scanner strategies.
type StrategySource struct {
	registry *scanner.Registry
	sources  []config.SourceConfig
	logger   *slog.Logger
}

var _ ports.BookmarkSource = (*StrategySource)(nil)

// NewStrategySource wires the scanner registry with config-defined sources.
func NewStrategySource(reg *scanner.Registry, sources []config.SourceConfig, log *slog.Logger) *StrategySource {
	return &StrategySource{
		registry: reg,
		sources:  sources,
		logger:   logging.OrDiscard(log).With("component", "source"),
	}
}

// Fetch runs every configured source and merges the results, first occurrence
// of an id winning. A failing source is logged and skipped; Fetch fails only
// when every source fails.
func (s *StrategySource) Fetch(ctx context.Context, since time.Time) ([]domain.Bookmark, error) {
	if s.registry == nil {
		return nil, fmt.Errorf("scanner registry is not configured")
	}
	if len(s.sources) == 0 {
		return nil, nil
	}

	s.logger.Debug("fetch", "sources", len(s.sources), "since", since)

	var (
		aggregated []domain.Bookmark
		errs       []error
		seen       = map[string]struct{}{}
	)
	for _, src := range s.sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		results, err := s.scan(ctx, src, since)
		if err != nil {
			s.logger.Warn("source failed", "source", src.Name, "scanner", src.Scanner, "error", err)
			errs = append(errs, err)
			continue
		}

		added := 0
		for _, b := range results {
			if _, dup := seen[b.ID]; dup {
				continue
			}
			seen[b.ID] = struct{}{}
			aggregated = append(aggregated, b)
			added++
		}
		s.logger.Debug("source produced bookmarks", "source", src.Name, "count", added)
	}

	if len(errs) == len(s.sources) {
		return nil, fmt.Errorf("all sources failed: %w", errors.Join(errs...))
	}
	s.logger.Info("sources fetched", "bookmarks", len(aggregated), "failed_sources", len(errs))
	return aggregated, nil
}

func (s *StrategySource) scan(ctx context.Context, src config.SourceConfig, since time.Time) ([]domain.Bookmark, error) {
	strategy, err := s.registry.Resolve(src.Scanner)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", src.Name, err)
	}
	return strategy.Scan(ctx, scanner.Request{
		Since:      since,
		SourceName: src.Name,
		Location:   src.Location,
		Options:    src.Options,
	})
}
