package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"BookmarkScout/internal/agent/execution"
	"BookmarkScout/internal/agent/synthesis"
	"BookmarkScout/internal/config"
	"BookmarkScout/internal/domain"
	"BookmarkScout/internal/errkind"
	"BookmarkScout/internal/infrastructure/storage"
	"BookmarkScout/internal/ports/portstest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var announcement = domain.Bookmark{
	ID:           "b1",
	Text:         "Just released my new Python CLI tool! github.com/dev/awesome-cli",
	AuthorHandle: "dev",
	URLs:         []string{"https://github.com/dev/awesome-cli"},
}

type analyzerFunc func(ctx context.Context, b domain.Bookmark) (domain.AnalysisResult, error)

func (f analyzerFunc) Analyze(ctx context.Context, b domain.Bookmark) (domain.AnalysisResult, error) {
	return f(ctx, b)
}

type discovererFunc func(ctx context.Context, a domain.AnalysisResult) ([]domain.RepositoryCandidate, error)

func (f discovererFunc) Discover(ctx context.Context, a domain.AnalysisResult) ([]domain.RepositoryCandidate, error) {
	return f(ctx, a)
}

type failingSynthesizer struct{}

func (failingSynthesizer) Synthesize(context.Context, synthesis.Input) (domain.SynthesisResult, error) {
	return domain.SynthesisResult{}, errors.New("renderer exploded")
}

func (failingSynthesizer) Style() domain.Style { return domain.StyleSummary }

// failingRuns breaks Load or Save on demand.
type failingRuns struct {
	*storage.MemoryRunStore
	loadErr, saveErr error
}

func (f failingRuns) Load(ctx context.Context, id string) (domain.Checkpoint, bool, error) {
	if f.loadErr != nil {
		return domain.Checkpoint{}, false, f.loadErr
	}
	return f.MemoryRunStore.Load(ctx, id)
}

func (f failingRuns) Save(ctx context.Context, cp domain.Checkpoint) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	return f.MemoryRunStore.Save(ctx, cp)
}

func scoring(score float64, calls *atomic.Int32) analyzerFunc {
	return func(ctx context.Context, b domain.Bookmark) (domain.AnalysisResult, error) {
		if calls != nil {
			calls.Add(1)
		}
		return domain.AnalysisResult{
			RelevanceScore: score,
			ContentType:    domain.ContentProjectAnnouncement,
			DirectURLs:     []string{"github.com/dev/awesome-cli"},
			Keywords:       []string{"python", "cli"},
			AuthorHandle:   b.AuthorHandle,
			Language:       "python",
			Priority:       domain.PriorityHigh,
		}, nil
	}
}

func found(calls *atomic.Int32) discovererFunc {
	return func(ctx context.Context, a domain.AnalysisResult) ([]domain.RepositoryCandidate, error) {
		if calls != nil {
			calls.Add(1)
		}
		return []domain.RepositoryCandidate{{
			FullName:       "dev/awesome-cli",
			SourceStrategy: []string{domain.StrategyDirect},
			Confidence:     0.9,
			Language:       "Python",
			Validated:      true,
			CloneURL:       "https://github.com/dev/awesome-cli.git",
		}}, nil
	}
}

// pythonRepo answers the probe like a Python project with a main.py.
func pythonRepo(ctx context.Context, command string, _ time.Duration) (domain.CommandResult, error) {
	if strings.Contains(command, "probe.sh") {
		return domain.CommandResult{Stdout: "file:requirements.txt\nentry:main.py\n"}, nil
	}
	return domain.CommandResult{Stdout: "usage: awesome-cli [-h]"}, nil
}

type fixture struct {
	deps    PipelineDeps
	sandbox *portstest.Sandbox
	kb      *portstest.KnowledgeBase
	runs    *storage.MemoryRunStore
}

func newFixture() *fixture {
	sandbox := portstest.NewSandbox()
	sandbox.RunFunc = pythonRepo
	kb := &portstest.KnowledgeBase{}
	runs := storage.NewMemoryRunStore()

	clock := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	var ids atomic.Int32
	return &fixture{
		sandbox: sandbox,
		kb:      kb,
		runs:    runs,
		deps: PipelineDeps{
			Analyzer:      scoring(0.9, nil),
			Discoverer:    found(nil),
			Executor:      execution.New(sandbox, nil, execution.Options{Threshold: 0.6, Parallelism: 2}, nil),
			Synthesizer:   synthesis.New(nil, domain.StyleDetailed, nil),
			KnowledgeBase: kb,
			Runs:          runs,
			Settings: Settings{
				RelevanceThreshold: 0.5,
				Timeouts: config.TimeoutConfig{
					Analysis:              time.Second,
					Discovery:             time.Second,
					ExecutionPerCandidate: 2 * time.Second,
					Synthesis:             time.Second,
				},
			},
			Clock: func() time.Time { return clock },
			NewRunID: func() string {
				return fmt.Sprintf("run-%d", ids.Add(1))
			},
		},
	}
}

func (f *fixture) pipeline(t *testing.T) *Pipeline {
	t.Helper()
	p, err := NewPipeline(f.deps)
	require.NoError(t, err)
	return p
}

func statuses(run domain.PipelineRun) []domain.StageStatus {
	out := make([]domain.StageStatus, 0, len(domain.Stages))
	for _, stage := range domain.Stages {
		out = append(out, run.Status(stage))
	}
	return out
}

func TestRunHappyPath(t *testing.T) {
	f := newFixture()
	p := f.pipeline(t)

	out, err := p.Run(context.Background(), announcement, ModeResume)
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeCompleted, out.Run.Outcome)
	assert.False(t, out.Run.Degraded)
	assert.True(t, out.Run.Delivered)
	assert.Equal(t, []domain.StageStatus{
		domain.StatusSucceeded, domain.StatusSucceeded, domain.StatusSucceeded, domain.StatusSucceeded,
	}, statuses(out.Run))
	require.NotNil(t, out.Result)
	assert.Equal(t, "Project: awesome-cli", out.Result.Title)
	assert.Contains(t, out.Result.Tags, "executable")

	records := f.kb.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "b1", records[0].DedupeKey)
	assert.True(t, f.sandbox.Paired())

	cp, ok, err := f.runs.Load(context.Background(), "b1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.OutcomeCompleted, cp.Run.Outcome)
	require.Len(t, cp.Executions, 1)
	assert.True(t, cp.Executions[0].Succeeded)
}

func TestRunLowRelevanceSkipsEnrichment(t *testing.T) {
	f := newFixture()
	var discoveries atomic.Int32
	f.deps.Analyzer = scoring(0.2, nil)
	f.deps.Discoverer = found(&discoveries)

	out, err := f.pipeline(t).Run(context.Background(), announcement, ModeResume)
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeCompleted, out.Run.Outcome)
	assert.Equal(t, []domain.StageStatus{
		domain.StatusSucceeded, domain.StatusSkipped, domain.StatusSkipped, domain.StatusSucceeded,
	}, statuses(out.Run))
	assert.Zero(t, discoveries.Load())
	assert.Zero(t, f.sandbox.Created())
}

func TestRunDegradesOnStageFailures(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*fixture)
		statuses []domain.StageStatus
		errorKey domain.Stage
		contains string
	}{
		{
			name: "analysis error",
			mutate: func(f *fixture) {
				f.deps.Analyzer = analyzerFunc(func(context.Context, domain.Bookmark) (domain.AnalysisResult, error) {
					return domain.AnalysisResult{}, errors.New("classifier offline")
				})
			},
			statuses: []domain.StageStatus{domain.StatusFailed, domain.StatusSkipped, domain.StatusSkipped, domain.StatusSucceeded},
			errorKey: domain.StageAnalysis,
			contains: "classifier offline",
		},
		{
			name: "analysis timeout",
			mutate: func(f *fixture) {
				f.deps.Settings.Timeouts.Analysis = 10 * time.Millisecond
				f.deps.Analyzer = analyzerFunc(func(ctx context.Context, _ domain.Bookmark) (domain.AnalysisResult, error) {
					<-ctx.Done()
					return domain.AnalysisResult{}, ctx.Err()
				})
			},
			statuses: []domain.StageStatus{domain.StatusFailed, domain.StatusSkipped, domain.StatusSkipped, domain.StatusSucceeded},
			errorKey: domain.StageAnalysis,
			contains: "timeout after 10ms",
		},
		{
			name: "discovery rate limited",
			mutate: func(f *fixture) {
				f.deps.Discoverer = discovererFunc(func(context.Context, domain.AnalysisResult) ([]domain.RepositoryCandidate, error) {
					return nil, errkind.New(errkind.RateLimited, "github.search", errors.New("slow down"))
				})
			},
			statuses: []domain.StageStatus{domain.StatusSucceeded, domain.StatusFailed, domain.StatusSkipped, domain.StatusSucceeded},
			errorKey: domain.StageDiscovery,
			contains: "rate_limited",
		},
		{
			name: "discovery auth stops enrichment",
			mutate: func(f *fixture) {
				f.deps.Discoverer = discovererFunc(func(context.Context, domain.AnalysisResult) ([]domain.RepositoryCandidate, error) {
					return nil, errkind.New(errkind.Auth, "github.get", errors.New("bad credentials"))
				})
			},
			statuses: []domain.StageStatus{domain.StatusSucceeded, domain.StatusFailed, domain.StatusSkipped, domain.StatusSucceeded},
			errorKey: domain.StageDiscovery,
			contains: "bad credentials",
		},
		{
			name:     "synthesis failure falls back to minimal record",
			mutate:   func(f *fixture) { f.deps.Synthesizer = failingSynthesizer{} },
			statuses: []domain.StageStatus{domain.StatusSucceeded, domain.StatusSucceeded, domain.StatusSucceeded, domain.StatusFailed},
			errorKey: domain.StageSynthesis,
			contains: "renderer exploded",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			tt.mutate(f)

			out, err := f.pipeline(t).Run(context.Background(), announcement, ModeResume)
			require.NoError(t, err)

			assert.Equal(t, domain.OutcomeDegraded, out.Run.Outcome)
			assert.True(t, out.Run.Degraded)
			assert.Equal(t, tt.statuses, statuses(out.Run))
			assert.Contains(t, out.Run.StageErrors[string(tt.errorKey)], tt.contains)
			require.NotNil(t, out.Result, "a degraded run still produces a record")
			assert.NotEmpty(t, out.Result.Title)
			assert.True(t, out.Run.Delivered)
			assert.True(t, f.sandbox.Paired())
		})
	}
}

func TestRunAbandonsStageIgnoringDeadline(t *testing.T) {
	f := newFixture()
	f.deps.Settings.Timeouts.Analysis = 20 * time.Millisecond

	release := make(chan struct{})
	exited := make(chan struct{})
	f.deps.Analyzer = analyzerFunc(func(context.Context, domain.Bookmark) (domain.AnalysisResult, error) {
		defer close(exited)
		<-release
		return domain.AnalysisResult{RelevanceScore: 1, ContentType: domain.ContentDiscussion}, nil
	})
	p := f.pipeline(t)
	p.grace = 20 * time.Millisecond

	started := time.Now()
	out, err := p.Run(context.Background(), announcement, ModeResume)
	elapsed := time.Since(started)
	close(release)
	<-exited

	require.NoError(t, err)
	assert.Less(t, elapsed, 2*time.Second)
	assert.Equal(t, domain.OutcomeDegraded, out.Run.Outcome)
	assert.Equal(t, domain.StatusFailed, out.Run.Status(domain.StageAnalysis))
	assert.Contains(t, out.Run.StageErrors[string(domain.StageAnalysis)], "timeout after 20ms")

	cp, ok, err := f.runs.Load(context.Background(), "b1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Nil(t, cp.Analysis, "a late answer is never written back")
}

func TestRunMinimalRecordOnSynthesisFailure(t *testing.T) {
	f := newFixture()
	f.deps.Synthesizer = failingSynthesizer{}

	out, err := f.pipeline(t).Run(context.Background(), announcement, ModeResume)
	require.NoError(t, err)

	assert.Equal(t, synthesis.Minimal(announcement, domain.StyleSummary), *out.Result)
}

func TestRunDeliveryFailureIsRecorded(t *testing.T) {
	f := newFixture()
	f.kb.Err = errors.New("kb unavailable")

	out, err := f.pipeline(t).Run(context.Background(), announcement, ModeResume)
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeCompleted, out.Run.Outcome)
	assert.False(t, out.Run.Delivered)
	assert.Equal(t, "kb unavailable", out.Run.StageErrors[domain.DeliveryKey])
	assert.NotNil(t, out.Result)
}

func TestRunResumeAndRestart(t *testing.T) {
	f := newFixture()
	var analyses atomic.Int32
	f.deps.Analyzer = scoring(0.9, &analyses)
	f.kb.Err = errors.New("kb unavailable")
	p := f.pipeline(t)
	ctx := context.Background()

	first, err := p.Run(ctx, announcement, ModeResume)
	require.NoError(t, err)
	require.False(t, first.Run.Delivered)
	require.EqualValues(t, 1, analyses.Load())

	f.kb.Err = nil
	second, err := p.Run(ctx, announcement, ModeResume)
	require.NoError(t, err)
	assert.True(t, second.Run.Delivered)
	assert.Equal(t, 2, second.Run.Attempt)
	assert.NotContains(t, second.Run.StageErrors, domain.DeliveryKey)
	assert.EqualValues(t, 1, analyses.Load(), "undelivered resume only re-delivers")
	assert.Equal(t, 1, f.sandbox.Created())
	assert.Equal(t, *first.Result, *second.Result)
	require.Len(t, f.kb.Records(), 1)

	third, err := p.Run(ctx, announcement, ModeResume)
	require.NoError(t, err)
	assert.True(t, third.Reused)
	assert.Equal(t, second.Run.RunID, third.Run.RunID)
	assert.Len(t, f.kb.Records(), 1, "completed resume performs no new delivery")

	fourth, err := p.Run(ctx, announcement, ModeRestart)
	require.NoError(t, err)
	assert.False(t, fourth.Reused)
	assert.Equal(t, 3, fourth.Run.Attempt)
	assert.EqualValues(t, 2, analyses.Load())
	records := f.kb.Records()
	require.Len(t, records, 2)
	assert.Equal(t, records[0].DedupeKey, records[1].DedupeKey)
}

func TestRunResumesFromPartialCheckpoint(t *testing.T) {
	f := newFixture()
	var analyses, discoveries atomic.Int32
	f.deps.Analyzer = scoring(0.9, &analyses)
	f.deps.Discoverer = found(&discoveries)
	ctx := context.Background()

	prior := domain.NewPipelineRun("run-old", "b1", 1, time.Date(2026, 9, 30, 0, 0, 0, 0, time.UTC))
	prior.StageStatus[domain.StageAnalysis] = domain.StatusSucceeded
	prior.StageStatus[domain.StageDiscovery] = domain.StatusFailed
	prior.StageStatus[domain.StageExecution] = domain.StatusSkipped
	prior.StageStatus[domain.StageSynthesis] = domain.StatusSkipped
	prior.Outcome = domain.OutcomeCancelled
	analysis, _ := scoring(0.75, nil)(ctx, announcement)
	require.NoError(t, f.runs.Save(ctx, domain.Checkpoint{Run: prior, Analysis: &analysis}))

	out, err := f.pipeline(t).Run(ctx, announcement, ModeResume)
	require.NoError(t, err)

	assert.Zero(t, analyses.Load(), "succeeded analysis is reused")
	assert.EqualValues(t, 1, discoveries.Load())
	assert.Equal(t, 2, out.Run.Attempt)
	assert.Equal(t, domain.OutcomeCompleted, out.Run.Outcome)

	cp, _, err := f.runs.Load(ctx, "b1")
	require.NoError(t, err)
	assert.InDelta(t, 0.75, cp.Analysis.RelevanceScore, 1e-9)
}

func TestRunCancelledReleasesSandboxes(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.sandbox.RunFunc = func(runCtx context.Context, command string, timeout time.Duration) (domain.CommandResult, error) {
		if strings.Contains(command, "git clone") {
			cancel()
			<-runCtx.Done()
			return domain.CommandResult{}, runCtx.Err()
		}
		return pythonRepo(runCtx, command, timeout)
	}

	out, err := f.pipeline(t).Run(ctx, announcement, ModeResume)
	require.ErrorIs(t, err, ErrCancelled)

	assert.Nil(t, out.Result)
	assert.Equal(t, domain.OutcomeCancelled, out.Run.Outcome)
	assert.Equal(t, domain.StatusSucceeded, out.Run.Status(domain.StageAnalysis), "finished stages keep their status")
	assert.Equal(t, domain.StatusSucceeded, out.Run.Status(domain.StageDiscovery))
	assert.Equal(t, domain.StatusFailed, out.Run.Status(domain.StageExecution))
	assert.Equal(t, domain.StatusSkipped, out.Run.Status(domain.StageSynthesis))
	assert.Equal(t, 1, f.sandbox.Created())
	assert.True(t, f.sandbox.Paired(), "every created sandbox is destroyed")
	assert.Empty(t, f.kb.Records())

	cp, ok, err := f.runs.Load(context.Background(), "b1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.OutcomeCancelled, cp.Run.Outcome)
	assert.Nil(t, cp.Result)
}

func TestRunSetupFailures(t *testing.T) {
	f := newFixture()
	p := f.pipeline(t)

	_, err := p.Run(context.Background(), domain.Bookmark{Text: "no id"}, ModeResume)
	assert.ErrorIs(t, err, ErrRunSetup)

	f.deps.Runs = failingRuns{MemoryRunStore: f.runs, loadErr: errors.New("disk gone")}
	out, err := f.pipeline(t).Run(context.Background(), announcement, ModeResume)
	assert.ErrorIs(t, err, ErrRunSetup)
	assert.Equal(t, domain.OutcomeFailed, out.Run.Outcome)

	f.deps.Runs = failingRuns{MemoryRunStore: f.runs, saveErr: errors.New("read-only")}
	_, err = f.pipeline(t).Run(context.Background(), announcement, ModeResume)
	assert.ErrorIs(t, err, ErrRunSetup)
	assert.Empty(t, f.kb.Records())
}

func TestNewPipelineRequiresCoreDeps(t *testing.T) {
	_, err := NewPipeline(PipelineDeps{})
	assert.Error(t, err)
}
