package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"BookmarkScout/internal/agent/synthesis"
	"BookmarkScout/internal/config"
	"BookmarkScout/internal/domain"
	"BookmarkScout/internal/errkind"
	"BookmarkScout/internal/logging"
	"BookmarkScout/internal/ports"
)

var (
	// ErrCancelled is returned when the caller cancels a run before it finishes.
	ErrCancelled = errors.New("pipeline run cancelled")
	// ErrRunSetup is returned when the initial run record cannot be loaded or persisted.
	ErrRunSetup = errors.New("pipeline run setup failed")
)

const defaultStageGrace = 2 * time.Second

// Mode selects how an existing checkpoint is treated.
type Mode string

const (
	ModeResume  Mode = "resume"
	ModeRestart Mode = "restart"
)

// Analyzer is the content analysis stage.
type Analyzer interface {
	Analyze(ctx context.Context, bookmark domain.Bookmark) (domain.AnalysisResult, error)
}

// Discoverer is the repository discovery stage.
type Discoverer interface {
	Discover(ctx context.Context, analysis domain.AnalysisResult) ([]domain.RepositoryCandidate, error)
}

// Executor is the sandboxed execution stage.
type Executor interface {
	Select(candidates []domain.RepositoryCandidate) []domain.RepositoryCandidate
	Budget(n int) time.Duration
	ExecuteAll(ctx context.Context, candidates []domain.RepositoryCandidate) []domain.ExecutionResult
}

// Synthesizer is the content synthesis stage.
type Synthesizer interface {
	Synthesize(ctx context.Context, in synthesis.Input) (domain.SynthesisResult, error)
	Style() domain.Style
}

// Settings are the routing thresholds and stage budgets.
type Settings struct {
	RelevanceThreshold float64
	Timeouts           config.TimeoutConfig
}

// SettingsFromConfig extracts orchestration settings.
func SettingsFromConfig(cfg config.Config) Settings {
	return Settings{RelevanceThreshold: cfg.Pipeline.RelevanceMin(), Timeouts: cfg.Pipeline.Timeouts}
}

// PipelineDeps wires the agents and driven adapters into the orchestrator.
type PipelineDeps struct {
	Analyzer      Analyzer
	Discoverer    Discoverer
	Executor      Executor
	Synthesizer   Synthesizer
	KnowledgeBase ports.KnowledgeBase
	Runs          ports.RunStore
	Settings      Settings
	Logger        *slog.Logger
	Clock         func() time.Time
	NewRunID      func() string
}

// Pipeline sequences the four agents per bookmark and tracks run state.
type Pipeline struct {
	analyzer      Analyzer
	discoverer    Discoverer
	executor      Executor
	synthesizer   Synthesizer
	knowledgeBase ports.KnowledgeBase
	runs          ports.RunStore
	settings      Settings
	logger        *slog.Logger
	now           func() time.Time
	newRunID      func() string
	inflight      keyedMutex
	// grace bounds how long a stage waits past its deadline for the agent to return.
	grace time.Duration
}

// NewPipeline constructs the orchestrator. Analyzer, Synthesizer and Runs are required.
func NewPipeline(deps PipelineDeps) (*Pipeline, error) {
	if deps.Analyzer == nil || deps.Synthesizer == nil || deps.Runs == nil {
		return nil, errors.New("pipeline requires analyzer, synthesizer and run store")
	}
	p := &Pipeline{
		analyzer:      deps.Analyzer,
		discoverer:    deps.Discoverer,
		executor:      deps.Executor,
		synthesizer:   deps.Synthesizer,
		knowledgeBase: deps.KnowledgeBase,
		runs:          deps.Runs,
		settings:      deps.Settings,
		logger:        logging.OrDiscard(deps.Logger).With("component", "pipeline"),
		now:           deps.Clock,
		newRunID:      deps.NewRunID,
		grace:         defaultStageGrace,
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.newRunID == nil {
		p.newRunID = uuid.NewString
	}
	t := &p.settings.Timeouts
	t.Analysis = positive(t.Analysis, 10*time.Second)
	t.Discovery = positive(t.Discovery, 20*time.Second)
	t.ExecutionPerCandidate = positive(t.ExecutionPerCandidate, 60*time.Second)
	t.Synthesis = positive(t.Synthesis, 15*time.Second)
	return p, nil
}

// Outcome is what Run reports back for one bookmark.
type Outcome struct {
	Run    domain.PipelineRun
	Result *domain.SynthesisResult
	// Reused is set when a completed checkpoint was returned without new work.
	Reused bool
}

// runState is the checkpoint under construction plus routing flags.
type runState struct {
	cp       domain.Checkpoint
	bookmark domain.Bookmark
	logger   *slog.Logger
	authStop bool

	// deliverOnly is set when a finished run only lacks delivery.
	deliverOnly bool
}

func (s *runState) set(stage domain.Stage, status domain.StageStatus) {
	s.cp.Run.StageStatus[stage] = status
}

func (s *runState) fail(stage domain.Stage, err error) {
	s.set(stage, domain.StatusFailed)
	s.cp.Run.StageErrors[string(stage)] = err.Error()
	s.cp.Run.Degraded = true
}

func (s *runState) skipPending() {
	for _, stage := range domain.Stages {
		if s.cp.Run.Status(stage) == domain.StatusPending {
			s.set(stage, domain.StatusSkipped)
		}
	}
}

// Run processes one bookmark end to end. Stage failures degrade the run;
// only ErrRunSetup and ErrCancelled are returned.
func (p *Pipeline) Run(ctx context.Context, bookmark domain.Bookmark, mode Mode) (Outcome, error) {
	logger := p.logger.With("bookmark_id", bookmark.ID)
	if strings.TrimSpace(bookmark.ID) == "" {
		return p.setupFailed(bookmark, 1, logger, errors.New("bookmark id is required"))
	}
	unlock := p.inflight.lock(bookmark.ID)
	defer unlock()

	previous, found, err := p.runs.Load(ctx, bookmark.ID)
	if err != nil {
		return p.setupFailed(bookmark, 1, logger, fmt.Errorf("load checkpoint: %w", err))
	}

	if found && mode != ModeRestart && p.complete(previous) {
		logger.Info("bookmark already processed, returning checkpoint", "run_id", previous.Run.RunID)
		result := *previous.Result
		return Outcome{Run: previous.Run, Result: &result, Reused: true}, nil
	}

	attempt := 1
	if found {
		attempt = previous.Run.Attempt + 1
	}
	state := &runState{
		cp:       domain.Checkpoint{Run: domain.NewPipelineRun(p.newRunID(), bookmark.ID, attempt, p.now())},
		bookmark: bookmark,
	}
	state.logger = logger.With("run_id", state.cp.Run.RunID, "attempt", attempt)
	if found && mode != ModeRestart {
		p.reuse(state, previous)
	}

	if err := p.runs.Save(ctx, state.cp); err != nil {
		return p.setupFailed(bookmark, attempt, logger, fmt.Errorf("persist run: %w", err))
	}
	state.logger.Info("pipeline run started", "mode", mode)

	if !state.deliverOnly {
		p.analyze(ctx, state)
		p.discover(ctx, state)
		p.execute(ctx, state)
		p.synthesize(ctx, state)
	}
	if ctx.Err() != nil {
		return p.cancelled(state)
	}

	p.deliver(ctx, state)
	if ctx.Err() != nil {
		return p.cancelled(state)
	}

	run := &state.cp.Run
	run.FinishedAt = p.now()
	run.Outcome = domain.OutcomeCompleted
	if run.Degraded {
		run.Outcome = domain.OutcomeDegraded
	}
	p.checkpoint(ctx, state)

	state.logger.Info("pipeline run finished",
		"outcome", run.Outcome,
		"delivered", run.Delivered,
		"duration", run.Duration(),
	)
	result := *state.cp.Result
	return Outcome{Run: *run, Result: &result}, nil
}

// complete reports whether a checkpoint needs no further side effects.
func (p *Pipeline) complete(cp domain.Checkpoint) bool {
	if cp.Result == nil || !cp.Run.Finished() {
		return false
	}
	if cp.Run.Outcome != domain.OutcomeCompleted && cp.Run.Outcome != domain.OutcomeDegraded {
		return false
	}
	return cp.Run.Delivered || p.knowledgeBase == nil
}

// reuse carries over outputs of stages that succeeded in the previous attempt.
func (p *Pipeline) reuse(state *runState, previous domain.Checkpoint) {
	prev := previous.Run
	if prev.Finished() && prev.Status(domain.StageSynthesis) == domain.StatusSucceeded && previous.Result != nil {
		// Only delivery is outstanding.
		state.cp.Analysis = previous.Analysis
		state.cp.Candidates = previous.Candidates
		state.cp.Executions = previous.Executions
		state.cp.Result = previous.Result
		for stage, status := range prev.StageStatus {
			state.set(stage, status)
		}
		for key, msg := range prev.StageErrors {
			if key != domain.DeliveryKey {
				state.cp.Run.StageErrors[key] = msg
			}
		}
		state.cp.Run.Degraded = prev.Degraded
		state.deliverOnly = true
		state.logger.Info("resuming undelivered run", "previous_run_id", prev.RunID)
		return
	}
	if prev.Status(domain.StageAnalysis) != domain.StatusSucceeded || previous.Analysis == nil {
		return
	}
	state.cp.Analysis = previous.Analysis
	state.set(domain.StageAnalysis, domain.StatusSucceeded)
	reused := []domain.Stage{domain.StageAnalysis}

	if prev.Status(domain.StageDiscovery) == domain.StatusSucceeded {
		state.cp.Candidates = previous.Candidates
		state.set(domain.StageDiscovery, domain.StatusSucceeded)
		reused = append(reused, domain.StageDiscovery)

		if prev.Status(domain.StageExecution) == domain.StatusSucceeded {
			state.cp.Executions = previous.Executions
			state.set(domain.StageExecution, domain.StatusSucceeded)
			reused = append(reused, domain.StageExecution)
		}
	}
	state.logger.Info("resuming from checkpoint", "reused_stages", reused)
}

func (p *Pipeline) analyze(ctx context.Context, state *runState) {
	if state.cp.Run.Status(domain.StageAnalysis) == domain.StatusSucceeded {
		return
	}
	bookmark := state.bookmark
	result, err := runStage(ctx, p, state, domain.StageAnalysis, p.settings.Timeouts.Analysis, func(ctx context.Context) (domain.AnalysisResult, error) {
		return p.analyzer.Analyze(ctx, bookmark)
	})
	if err != nil {
		return
	}
	state.cp.Analysis = &result
}

func (p *Pipeline) discover(ctx context.Context, state *runState) {
	if state.cp.Run.Status(domain.StageDiscovery) == domain.StatusSucceeded || ctx.Err() != nil {
		return
	}
	analysis := state.cp.Analysis
	switch {
	case analysis == nil, p.discoverer == nil:
		state.set(domain.StageDiscovery, domain.StatusSkipped)
		return
	case analysis.RelevanceScore < p.settings.RelevanceThreshold:
		state.logger.Debug("discovery skipped, low relevance", "score", analysis.RelevanceScore)
		state.set(domain.StageDiscovery, domain.StatusSkipped)
		return
	}

	input := *analysis
	candidates, err := runStage(ctx, p, state, domain.StageDiscovery, p.settings.Timeouts.Discovery, func(ctx context.Context) ([]domain.RepositoryCandidate, error) {
		return p.discoverer.Discover(ctx, input)
	})
	if err != nil {
		if errkind.Is(err, errkind.Auth) {
			state.authStop = true
			state.logger.Error("repository search rejected credentials, skipping enrichment", "error", err)
		}
		return
	}
	state.cp.Candidates = candidates
}

func (p *Pipeline) execute(ctx context.Context, state *runState) {
	if state.cp.Run.Status(domain.StageExecution) == domain.StatusSucceeded || ctx.Err() != nil {
		return
	}
	if state.authStop || p.executor == nil || state.cp.Run.Status(domain.StageDiscovery) != domain.StatusSucceeded {
		state.set(domain.StageExecution, domain.StatusSkipped)
		return
	}
	selected := p.executor.Select(state.cp.Candidates)
	if len(selected) == 0 {
		state.set(domain.StageExecution, domain.StatusSkipped)
		return
	}

	results, _ := runStage(ctx, p, state, domain.StageExecution, p.executor.Budget(len(selected)), func(ctx context.Context) ([]domain.ExecutionResult, error) {
		return p.executor.ExecuteAll(ctx, selected), ctx.Err()
	})
	state.cp.Executions = results
}

func (p *Pipeline) synthesize(ctx context.Context, state *runState) {
	if ctx.Err() != nil {
		return
	}
	if state.cp.Run.Status(domain.StageSynthesis) == domain.StatusSucceeded && state.cp.Result != nil {
		return
	}
	state.skipPending()

	in := synthesis.Input{
		Bookmark:   state.bookmark,
		Analysis:   state.cp.Analysis,
		Candidates: state.cp.Candidates,
		Executions: state.cp.Executions,
		Style:      p.synthesizer.Style(),
	}
	result, err := runStage(ctx, p, state, domain.StageSynthesis, p.settings.Timeouts.Synthesis, func(ctx context.Context) (domain.SynthesisResult, error) {
		return p.synthesizer.Synthesize(ctx, in)
	})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		result = synthesis.Minimal(state.bookmark, in.Style)
	}
	state.cp.Result = &result
}

// deliver hands the record to the knowledge base. Failures are recorded, not fatal.
func (p *Pipeline) deliver(ctx context.Context, state *runState) {
	if p.knowledgeBase == nil || state.cp.Result == nil {
		return
	}
	run := &state.cp.Run
	record := domain.NewRecord(state.bookmark, *state.cp.Result, run.Degraded, p.now())
	if err := p.knowledgeBase.Deliver(ctx, record); err != nil {
		if ctx.Err() != nil {
			return
		}
		run.StageErrors[domain.DeliveryKey] = err.Error()
		state.logger.Warn("knowledge base delivery failed", "error", err)
		return
	}
	delete(run.StageErrors, domain.DeliveryKey)
	run.Delivered = true
}

type stageOutput[T any] struct {
	value T
	err   error
}

// runStage runs fn under a stage timeout and records the transition.
// fn runs on its own goroutine: once the deadline passes the stage waits at
// most grace for it to return, then abandons it and discards its output.
// The returned error is non-nil when the stage failed for any reason.
func runStage[T any](ctx context.Context, p *Pipeline, state *runState, stage domain.Stage, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	state.set(stage, domain.StatusRunning)
	p.checkpoint(ctx, state)
	started := p.now()

	stageCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan stageOutput[T], 1)
	go func() {
		value, err := fn(stageCtx)
		done <- stageOutput[T]{value: value, err: err}
	}()

	var out stageOutput[T]
	select {
	case out = <-done:
	case <-stageCtx.Done():
		grace := time.NewTimer(p.grace)
		select {
		case out = <-done:
		case <-grace.C:
			out.err = stageCtx.Err()
			state.logger.Warn("stage abandoned after deadline", "stage", stage, "grace", p.grace)
		}
		grace.Stop()
	}
	if out.err == nil && stageCtx.Err() != nil {
		out.err = stageCtx.Err()
	}

	err := out.err
	switch {
	case ctx.Err() != nil:
		return out.value, ctx.Err()
	case err == nil:
		state.set(stage, domain.StatusSucceeded)
		state.logger.Info("stage succeeded", "stage", stage, "elapsed", p.now().Sub(started))
		return out.value, nil
	case errors.Is(err, context.DeadlineExceeded) || errkind.Is(err, errkind.Timeout):
		err = fmt.Errorf("timeout after %s: %w", timeout, err)
	}
	state.fail(stage, err)
	state.logger.Warn("stage failed", "stage", stage, "error", err)
	return out.value, err
}

func (p *Pipeline) cancelled(state *runState) (Outcome, error) {
	run := &state.cp.Run
	for _, stage := range domain.Stages {
		status := run.Status(stage)
		switch {
		case status.Terminal():
		case status == domain.StatusRunning:
			run.StageStatus[stage] = domain.StatusFailed
			run.StageErrors[string(stage)] = context.Canceled.Error()
		default:
			run.StageStatus[stage] = domain.StatusSkipped
		}
	}
	run.Outcome = domain.OutcomeCancelled
	run.FinishedAt = p.now()
	state.cp.Result = nil

	p.checkpoint(context.Background(), state)
	state.logger.Warn("pipeline run cancelled")
	return Outcome{Run: *run}, ErrCancelled
}

func (p *Pipeline) setupFailed(bookmark domain.Bookmark, attempt int, logger *slog.Logger, err error) (Outcome, error) {
	run := domain.NewPipelineRun(p.newRunID(), bookmark.ID, attempt, p.now())
	run.Outcome = domain.OutcomeFailed
	run.FinishedAt = p.now()
	logger.Error("pipeline run setup failed", "error", err)
	return Outcome{Run: run}, fmt.Errorf("%w: %w", ErrRunSetup, err)
}

// checkpoint persists progress; failures after setup are logged only.
func (p *Pipeline) checkpoint(ctx context.Context, state *runState) {
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := p.runs.Save(saveCtx, cloneCheckpoint(state.cp)); err != nil {
		state.logger.Warn("checkpoint save failed", "error", err)
	}
}

func cloneCheckpoint(cp domain.Checkpoint) domain.Checkpoint {
	out := cp
	out.Run.StageStatus = make(map[domain.Stage]domain.StageStatus, len(cp.Run.StageStatus))
	for k, v := range cp.Run.StageStatus {
		out.Run.StageStatus[k] = v
	}
	out.Run.StageErrors = make(map[string]string, len(cp.Run.StageErrors))
	for k, v := range cp.Run.StageErrors {
		out.Run.StageErrors[k] = v
	}
	return out
}

func positive(v, fallback time.Duration) time.Duration {
	if v <= 0 {
		return fallback
	}
	return v
}
