package execution

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"BookmarkScout/internal/config"
	"BookmarkScout/internal/domain"
	"BookmarkScout/internal/ports/portstest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var candidate = domain.RepositoryCandidate{
	FullName:   "dev/awesome-cli",
	Confidence: 0.9,
	Validated:  true,
	CloneURL:   "https://github.com/dev/awesome-cli.git",
}

// scripted answers commands by substring; unmatched commands exit 0.
func scripted(answers map[string]domain.CommandResult) func(context.Context, string, time.Duration) (domain.CommandResult, error) {
	return func(_ context.Context, command string, _ time.Duration) (domain.CommandResult, error) {
		for needle, res := range answers {
			if strings.Contains(command, needle) {
				return res, nil
			}
		}
		return domain.CommandResult{}, nil
	}
}

func newAgent(sandbox *portstest.Sandbox, model portstest.ModelFunc, opts Options) *Agent {
	if model == nil {
		return New(sandbox, nil, opts, nil)
	}
	return New(sandbox, model, opts, nil)
}

func TestExecutePythonProject(t *testing.T) {
	t.Parallel()

	sandbox := portstest.NewSandbox()
	sandbox.RunFunc = scripted(map[string]domain.CommandResult{
		"git clone":   {Stderr: "Cloning into 'repo'..."},
		"probe.sh":    {Stdout: "file:requirements.txt\nfile:main.py\nentry:main.py\n"},
		"pip install": {Stdout: "Successfully installed click-8.1"},
		"--help":      {Stdout: "usage: awesome [-h] PATH"},
	})
	model := portstest.SchemaModel(map[string]string{
		summarySchemaName: `{"primary_function":"Formats files","category":"cli","complexity":"simple","use_cases":["formatting"]}`,
	})
	agent := newAgent(sandbox, model, Options{MemoryMB: 512, CPUs: 1, NetworkIsolated: true, Template: "base"})

	res := agent.Execute(context.Background(), candidate)

	assert.True(t, res.Succeeded)
	assert.Empty(t, res.FailureReason)
	assert.Equal(t, domain.ProjectPython, res.ProjectType)
	assert.Equal(t, "main.py", res.EntryPoint)
	assert.Contains(t, res.InstallLog, "Successfully installed")
	assert.Equal(t, "usage: awesome [-h] PATH", res.RunLog)
	require.NotNil(t, res.FunctionalitySummary)
	assert.Equal(t, "Formats files", res.FunctionalitySummary.PrimaryFunction)

	commands := sandbox.Commands()
	require.Len(t, commands, 4)
	assert.Equal(t, "git clone --depth 1 'https://github.com/dev/awesome-cli.git' /workspace/repo", commands[0])
	assert.Equal(t, "cd /workspace/repo && pip install -r requirements.txt", commands[2])
	assert.Equal(t, "cd /workspace/repo && python main.py --help", commands[3])

	specs := sandbox.Specs()
	require.Len(t, specs, 1)
	assert.Equal(t, domain.SandboxSpec{Template: "base", Timeout: 60 * time.Second, MemoryMB: 512, CPUs: 1, NetworkIsolated: true}, specs[0])
	require.Len(t, sandbox.Uploads(), 1)
	assert.Equal(t, probePath, sandbox.Uploads()[0].Path)
	assert.True(t, sandbox.Paired())
}

func TestExecuteFailureReasons(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		opts       Options
		answers    map[string]domain.CommandResult
		wantReason string
		wantType   domain.ProjectType
		wantEntry  string
	}{
		{
			name:       "undetected",
			answers:    map[string]domain.CommandResult{"probe.sh": {Stdout: "file:README.md\n"}},
			wantReason: domain.FailureUndetected,
			wantType:   domain.ProjectUnknown,
		},
		{
			name:       "no entry point",
			answers:    map[string]domain.CommandResult{"probe.sh": {Stdout: "file:Cargo.toml\n"}},
			wantReason: domain.FailureNoEntryPoint,
			wantType:   domain.ProjectRust,
		},
		{
			name: "oom kill",
			answers: map[string]domain.CommandResult{
				"probe.sh": {Stdout: "file:package.json\nentry:index.js\n"},
				"--help":   {ExitCode: 137, Stderr: "Killed"},
			},
			wantReason: domain.FailureResourceLimit,
			wantType:   domain.ProjectNode,
			wantEntry:  "index.js",
		},
		{
			name: "sandbox timeout flag",
			answers: map[string]domain.CommandResult{
				"probe.sh": {Stdout: "file:go.mod\nentry:cmd/tool/main.go\n"},
				"--help":   {TimedOut: true},
			},
			wantReason: domain.FailureTimeout,
			wantType:   domain.ProjectGo,
			wantEntry:  "cmd/tool/main.go",
		},
		{
			name:       "clone failure",
			answers:    map[string]domain.CommandResult{"git clone": {ExitCode: 128, Stderr: "repository not found"}},
			wantReason: "clone exited 128",
			wantType:   domain.ProjectUnknown,
		},
		{
			name:       "clone failure on isolated network",
			opts:       Options{NetworkIsolated: true},
			answers:    map[string]domain.CommandResult{"git clone": {ExitCode: 128, Stderr: "Could not resolve host: github.com"}},
			wantReason: "clone exited 128 (sandbox network is isolated)",
			wantType:   domain.ProjectUnknown,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			sandbox := portstest.NewSandbox()
			sandbox.RunFunc = scripted(tc.answers)

			res := newAgent(sandbox, nil, tc.opts).Execute(context.Background(), candidate)

			assert.False(t, res.Succeeded)
			assert.Equal(t, tc.wantReason, res.FailureReason)
			assert.Equal(t, tc.wantType, res.ProjectType)
			assert.Equal(t, tc.wantEntry, res.EntryPoint)
			assert.True(t, sandbox.Paired(), "sandbox must be destroyed on every path")
		})
	}
}

func TestExecuteInstallFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	sandbox := portstest.NewSandbox()
	sandbox.RunFunc = scripted(map[string]domain.CommandResult{
		"probe.sh":    {Stdout: "file:pyproject.toml\nentry:cli.py\n"},
		"pip install": {ExitCode: 1, Stderr: "build failed"},
		"--help":      {Stdout: "usage"},
	})

	res := newAgent(sandbox, nil, Options{}).Execute(context.Background(), candidate)

	assert.True(t, res.Succeeded)
	assert.Contains(t, res.InstallLog, "build failed")
	assert.Contains(t, sandbox.Commands(), "cd /workspace/repo && pip install .")
	assert.Nil(t, res.FunctionalitySummary, "no model configured")
}

func TestExecuteTimeoutReleasesSandbox(t *testing.T) {
	t.Parallel()

	sandbox := portstest.NewSandbox()
	sandbox.RunFunc = func(ctx context.Context, command string, _ time.Duration) (domain.CommandResult, error) {
		if strings.Contains(command, "git clone") {
			<-ctx.Done()
			return domain.CommandResult{}, ctx.Err()
		}
		return domain.CommandResult{}, nil
	}

	res := newAgent(sandbox, nil, Options{PerCandidateTimeout: 30 * time.Millisecond}).Execute(context.Background(), candidate)

	assert.Equal(t, domain.FailureTimeout, res.FailureReason)
	assert.True(t, sandbox.Paired())
}

func TestExecuteCancelledReleasesSandbox(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	sandbox := portstest.NewSandbox()
	sandbox.RunFunc = func(runCtx context.Context, command string, _ time.Duration) (domain.CommandResult, error) {
		cancel()
		<-runCtx.Done()
		return domain.CommandResult{}, runCtx.Err()
	}

	res := newAgent(sandbox, nil, Options{}).Execute(ctx, candidate)

	assert.Equal(t, domain.FailureCancelled, res.FailureReason)
	assert.Equal(t, 1, sandbox.Created())
	assert.True(t, sandbox.Paired())
}

func TestExecuteRejectsUnvalidated(t *testing.T) {
	t.Parallel()

	sandbox := portstest.NewSandbox()
	res := newAgent(sandbox, nil, Options{}).Execute(context.Background(), domain.RepositoryCandidate{FullName: "x/y"})

	assert.False(t, res.Succeeded)
	assert.Zero(t, sandbox.Created())
}

func TestExecuteWithoutSandbox(t *testing.T) {
	t.Parallel()

	agent := New(nil, nil, Options{}, nil)
	res := agent.Execute(context.Background(), domain.RepositoryCandidate{FullName: "x/y", Validated: true})

	assert.False(t, agent.Configured())
	assert.False(t, res.Succeeded)
	assert.Equal(t, "sandbox not configured", res.FailureReason)
}

func TestExecuteAllBoundsParallelism(t *testing.T) {
	t.Parallel()

	var inFlight, peak atomic.Int32
	sandbox := portstest.NewSandbox()
	sandbox.RunFunc = func(_ context.Context, command string, _ time.Duration) (domain.CommandResult, error) {
		if !strings.Contains(command, "git clone") {
			return domain.CommandResult{Stdout: "file:README.md"}, nil
		}
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		return domain.CommandResult{}, nil
	}

	var candidates []domain.RepositoryCandidate
	for _, name := range []string{"a/1", "a/2", "a/3", "a/4", "a/5"} {
		candidates = append(candidates, domain.RepositoryCandidate{FullName: name, Validated: true, Confidence: 1})
	}

	results := newAgent(sandbox, nil, Options{Parallelism: 2}).ExecuteAll(context.Background(), candidates)

	require.Len(t, results, 5)
	for i, res := range results {
		assert.Equal(t, candidates[i].FullName, res.CandidateFullName)
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Equal(t, 5, sandbox.Created())
	assert.True(t, sandbox.Paired())
}

func TestSelectAndBudget(t *testing.T) {
	t.Parallel()

	candidates := []domain.RepositoryCandidate{
		{FullName: "a/1", Confidence: 0.9, Validated: true},
		{FullName: "a/2", Confidence: 0.8, Validated: false},
		{FullName: "a/3", Confidence: 0.7, Validated: true},
		{FullName: "a/4", Confidence: 0.65, Validated: true},
		{FullName: "a/5", Confidence: 0.5, Validated: true},
	}

	quick := New(nil, nil, OptionsFromConfig(config.Config{
		Pipeline: config.PipelineConfig{ExecutionStrategy: config.ExecutionQuick},
	}), nil)
	got := quick.Select(candidates)
	require.Len(t, got, 2)
	assert.Equal(t, "a/3", got[1].FullName)

	thorough := New(nil, nil, OptionsFromConfig(config.Config{
		Pipeline: config.PipelineConfig{ExecutionStrategy: config.ExecutionThorough},
	}), nil)
	assert.Len(t, thorough.Select(candidates), 3)

	assert.Equal(t, 65*time.Second, quick.Budget(2))
	assert.Equal(t, 125*time.Second, thorough.Budget(5))
}

func TestTruncateKeepsRunes(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "abc", truncate("abc", 10))
	assert.Equal(t, "ab\n[truncated]", truncate("abé", 3))
}
