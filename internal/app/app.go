package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"BookmarkScout/internal/agent/analysis"
	"BookmarkScout/internal/agent/discovery"
	"BookmarkScout/internal/agent/execution"
	"BookmarkScout/internal/agent/synthesis"
	"BookmarkScout/internal/config"
	"BookmarkScout/internal/domain"
	"BookmarkScout/internal/errkind"
	"BookmarkScout/internal/infrastructure/github"
	"BookmarkScout/internal/infrastructure/llm"
	"BookmarkScout/internal/infrastructure/notion"
	"BookmarkScout/internal/infrastructure/parser"
	"BookmarkScout/internal/infrastructure/sandbox"
	"BookmarkScout/internal/infrastructure/scheduler"
	"BookmarkScout/internal/infrastructure/storage"
	"BookmarkScout/internal/logging"
	"BookmarkScout/internal/ports"
	"BookmarkScout/internal/scanner"
	"BookmarkScout/internal/usecase"
)

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg       config.Config
	logger    *slog.Logger
	registry  *scanner.Registry
	runs      ports.RunStore
	pipeline  *usecase.Pipeline
	scheduler *usecase.Scheduler
	closers   []func() error
}

// New builds the application from configuration, selecting one adapter per port.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}
	a := &Application{cfg: cfg, logger: baseLogger}
	retry := retryPolicy(cfg.Retry)

	model, err := languageModel(ctx, cfg, retry)
	if err != nil {
		return nil, err
	}
	box, err := sandboxService(cfg, retry)
	if err != nil {
		return nil, err
	}
	if a.runs, err = a.runStore(cfg.RunStore); err != nil {
		return nil, err
	}
	kb, err := a.knowledgeBase(cfg, retry)
	if err != nil {
		a.Close()
		return nil, err
	}

	search := github.NewClient(cfg.GitHub, retry, nil)
	pipeline, err := usecase.NewPipeline(usecase.PipelineDeps{
		Analyzer:      analysis.New(model, baseLogger).WithWeights(analysis.WeightsFromConfig(cfg)),
		Discoverer:    discovery.New(search, model, discovery.OptionsFromConfig(cfg), baseLogger),
		Executor:      execution.New(box, model, execution.OptionsFromConfig(cfg), baseLogger),
		Synthesizer:   synthesis.New(model, domain.Style(cfg.Pipeline.SynthesisStyle), baseLogger),
		KnowledgeBase: kb,
		Runs:          a.runs,
		Settings:      usecase.SettingsFromConfig(cfg),
		Logger:        baseLogger,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.pipeline = pipeline

	a.registry = scanner.NewRegistry(
		parser.NewNetscapeScanner(nil),
		parser.NewFeedScanner(nil),
		parser.NewJSONScanner(nil),
	)
	source := parser.NewStrategySource(a.registry, cfg.Sources, baseLogger.With("component", "source"))
	driver := scheduler.NewIntervalScheduler(cfg.Scheduler.Interval, cfg.Scheduler.Location())
	a.scheduler = usecase.NewScheduler(driver, source, pipeline, cfg.Pipeline.Workers, baseLogger)

	baseLogger.Info("application wired",
		"llm", cfg.LLM.Provider,
		"sandbox", cfg.Sandbox.Provider,
		"destination", cfg.Destination.Kind,
		"run_store", cfg.RunStore.Driver,
		"sources", len(cfg.Sources),
	)
	return a, nil
}

// Close releases database handles opened during New.
func (a *Application) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

func retryPolicy(cfg config.RetryConfig) errkind.Policy {
	p := errkind.DefaultPolicy()
	if cfg.MaxAttempts > 0 {
		p.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.BaseDelay > 0 {
		p.BaseDelay = cfg.BaseDelay
	}
	if cfg.MaxDelay > 0 {
		p.MaxDelay = cfg.MaxDelay
	}
	return p
}

// languageModel returns nil when no provider is configured; agents fall back
// to their heuristic paths.
func languageModel(ctx context.Context, cfg config.Config, retry errkind.Policy) (ports.LanguageModel, error) {
	switch cfg.LLM.Provider {
	case config.ProviderOpenAI:
		if cfg.LLM.OpenAI.APIKey == "" {
			return nil, nil
		}
		return llm.NewOpenAIClient(cfg.LLM.OpenAI, cfg.LLM.Timeout, retry), nil
	case config.ProviderGemini:
		if cfg.LLM.Gemini.APIKey == "" {
			return nil, nil
		}
		client, err := llm.NewGeminiClient(ctx, cfg.LLM.Gemini, cfg.LLM.Timeout, retry)
		if err != nil {
			return nil, fmt.Errorf("app: gemini client: %w", err)
		}
		return client, nil
	default:
		return nil, nil
	}
}

func sandboxService(cfg config.Config, retry errkind.Policy) (ports.SandboxService, error) {
	if cfg.Sandbox.Provider == config.SandboxDocker {
		docker, err := sandbox.NewDocker(cfg.Sandbox)
		if err != nil {
			return nil, fmt.Errorf("app: docker sandbox: %w", err)
		}
		return docker, nil
	}
	if cfg.Sandbox.APIKey == "" {
		return nil, nil
	}
	return sandbox.NewRemote(cfg.Sandbox, retry), nil
}

func (a *Application) runStore(cfg config.RunStoreConfig) (ports.RunStore, error) {
	if cfg.Driver != config.RunStoreSQLite {
		return storage.NewMemoryRunStore(), nil
	}
	store, err := storage.NewSQLiteRunStore(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("app: run store: %w", err)
	}
	a.closers = append(a.closers, store.Close)
	return store, nil
}

func (a *Application) knowledgeBase(cfg config.Config, retry errkind.Policy) (ports.KnowledgeBase, error) {
	if cfg.Destination.Kind == config.DestinationNotion {
		return notion.NewDestination(cfg.Destination.Notion, retry, nil), nil
	}
	db, err := storage.OpenPostgres(cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("app: knowledge base: %w", err)
	}
	a.closers = append(a.closers, db.Close)
	return storage.NewPostgresKnowledgeBase(db), nil
}
