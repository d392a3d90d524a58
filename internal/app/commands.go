package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"BookmarkScout/internal/config"
	"BookmarkScout/internal/domain"
	"BookmarkScout/internal/infrastructure/storage"
	"BookmarkScout/internal/scanner"
	"BookmarkScout/internal/usecase"
)

// Status is the report printed by the status command.
type Status struct {
	Readiness usecase.Readiness    `json:"readiness"`
	Health    usecase.Health       `json:"health"`
	Runs      []domain.PipelineRun `json:"runs"`
}

// RunFile processes every bookmark in a local export. The scanner is chosen
// by extension: .json, .html/.htm (Netscape) or anything else as a feed.
func (a *Application) RunFile(ctx context.Context, path string, mode usecase.Mode, workers int) ([]usecase.BatchResult, error) {
	s, err := a.registry.Resolve(scannerFor(path))
	if err != nil {
		return nil, err
	}
	bookmarks, err := s.Scan(ctx, scanner.Request{SourceName: filepath.Base(path), Location: path})
	if err != nil {
		return nil, fmt.Errorf("app: read %s: %w", path, err)
	}
	if workers <= 0 {
		workers = a.cfg.Pipeline.Workers
	}
	a.logger.Info("processing bookmark file", "path", path, "bookmarks", len(bookmarks), "mode", mode, "workers", workers)
	return a.pipeline.RunBatch(ctx, bookmarks, mode, workers), nil
}

func scannerFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return "json"
	case ".html", ".htm":
		return "netscape"
	default:
		return "feed"
	}
}

// Poll runs a single polling pass over the configured sources.
func (a *Application) Poll(ctx context.Context) (usecase.PollReport, error) {
	if len(a.cfg.Sources) == 0 {
		return usecase.PollReport{}, errors.New("app: no sources configured")
	}
	return a.scheduler.Poll(ctx, time.Now().In(a.cfg.Scheduler.Location()))
}

// Serve polls on the configured interval until ctx is cancelled.
func (a *Application) Serve(ctx context.Context) error {
	if len(a.cfg.Sources) == 0 {
		return errors.New("app: no sources configured")
	}
	if err := a.scheduler.Start(ctx); err != nil {
		return err
	}
	a.logger.Info("scheduler started", "interval", a.cfg.Scheduler.Interval)
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return a.scheduler.Stop(stopCtx)
}

// Status reports readiness and health over the most recent runs.
func (a *Application) Status(ctx context.Context, limit int) (Status, error) {
	runs, err := a.runs.List(ctx, limit)
	if err != nil {
		return Status{}, fmt.Errorf("app: list runs: %w", err)
	}
	return Status{
		Readiness: a.pipeline.Readiness(),
		Health:    usecase.Summarize(runs),
		Runs:      runs,
	}, nil
}

// Migrate applies the knowledge base schema. It needs only the database settings.
func Migrate(cfg config.Config) (uint, error) {
	db, err := storage.OpenPostgres(cfg.Database.DSN)
	if err != nil {
		return 0, err
	}
	defer db.Close()
	return storage.Migrate(db)
}
