package usecase

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"BookmarkScout/internal/domain"
	"BookmarkScout/internal/logging"
	"BookmarkScout/internal/ports"
)

// PollReport summarizes one polling pass.
type PollReport struct {
	Trigger time.Time
	Fetched int
	Results []BatchResult
}

// Count returns how many results ended with the given outcome.
func (r PollReport) Count(outcome domain.RunOutcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Err == nil && res.Outcome.Run.Outcome == outcome {
			n++
		}
	}
	return n
}

// Scheduler wires the polling driver with the pipeline use case.
type Scheduler struct {
	driver   ports.Scheduler
	source   ports.BookmarkSource
	pipeline *Pipeline
	workers  int
	logger   *slog.Logger

	mu       sync.Mutex
	lastPoll time.Time
}

// NewScheduler returns a helper that fetches new bookmarks on every tick and
// runs them through the pipeline in resume mode.
func NewScheduler(driver ports.Scheduler, source ports.BookmarkSource, pipeline *Pipeline, workers int, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		driver:   driver,
		source:   source,
		pipeline: pipeline,
		workers:  max(workers, 1),
		logger:   logging.OrDiscard(logger).With("component", "scheduler"),
	}
}

// Poll fetches bookmarks created since the previous successful poll and
// processes them. The watermark advances only when the fetch succeeds.
func (s *Scheduler) Poll(ctx context.Context, trigger time.Time) (PollReport, error) {
	report := PollReport{Trigger: trigger}
	if s.source == nil || s.pipeline == nil {
		return report, errors.New("scheduler requires a source and a pipeline")
	}

	s.mu.Lock()
	since := s.lastPoll
	s.mu.Unlock()

	bookmarks, err := s.source.Fetch(ctx, since)
	if err != nil {
		s.logger.Error("fetch bookmarks failed", "since", since, "error", err)
		return report, err
	}
	report.Fetched = len(bookmarks)

	s.mu.Lock()
	if trigger.After(s.lastPoll) {
		s.lastPoll = trigger
	}
	s.mu.Unlock()

	if len(bookmarks) > 0 {
		report.Results = s.pipeline.RunBatch(ctx, bookmarks, ModeResume, s.workers)
	}
	s.logger.Info("poll finished",
		"fetched", report.Fetched,
		"completed", report.Count(domain.OutcomeCompleted),
		"degraded", report.Count(domain.OutcomeDegraded),
	)
	return report, ctx.Err()
}

// Start registers the poll job with the provided scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil || s.pipeline == nil {
		return nil
	}

	job := func(trigger time.Time) {
		_, _ = s.Poll(ctx, trigger)
	}

	return s.driver.Start(ctx, job)
}

// Stop gracefully tears down the underlying scheduler.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}

	return s.driver.Stop(ctx)
}
