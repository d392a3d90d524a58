// Package execution runs repository candidates inside disposable sandboxes.
package execution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"BookmarkScout/internal/config"
	"BookmarkScout/internal/domain"
	"BookmarkScout/internal/errkind"
	"BookmarkScout/internal/logging"
	"BookmarkScout/internal/ports"
)

const (
	destroyBudget = 10 * time.Second
	stageGrace    = 5 * time.Second
)

// Options tunes candidate selection, sandbox sizing and log capture.
type Options struct {
	Strategy            string
	QuickLimit          int
	ThoroughLimit       int
	Threshold           float64
	Parallelism         int
	PerCandidateTimeout time.Duration
	MaxLogBytes         int
	Template            string
	MemoryMB            int
	CPUs                float64
	NetworkIsolated     bool
}

// OptionsFromConfig maps configuration onto execution options.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		Strategy:            cfg.Pipeline.ExecutionStrategy,
		QuickLimit:          cfg.Execution.QuickLimit,
		ThoroughLimit:       cfg.Execution.ThoroughLimit,
		Threshold:           cfg.Pipeline.ExecutionMin(),
		Parallelism:         cfg.Pipeline.ExecutionParallelism,
		PerCandidateTimeout: cfg.Pipeline.Timeouts.ExecutionPerCandidate,
		MaxLogBytes:         cfg.Execution.MaxLogBytes,
		Template:            cfg.Sandbox.Template,
		MemoryMB:            cfg.Sandbox.MemoryMB,
		CPUs:                cfg.Sandbox.CPUs,
		NetworkIsolated:     cfg.Sandbox.Isolated(),
	}
}

// Agent is the code execution stage.
type Agent struct {
	sandbox ports.SandboxService
	model   ports.LanguageModel
	opts    Options
	logger  *slog.Logger
}

// New creates an execution agent. model may be nil, which skips summaries.
func New(sandbox ports.SandboxService, model ports.LanguageModel, opts Options, logger *slog.Logger) *Agent {
	if opts.QuickLimit <= 0 {
		opts.QuickLimit = 2
	}
	if opts.ThoroughLimit <= 0 {
		opts.ThoroughLimit = 5
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = 3
	}
	if opts.PerCandidateTimeout <= 0 {
		opts.PerCandidateTimeout = 60 * time.Second
	}
	if opts.MaxLogBytes <= 0 {
		opts.MaxLogBytes = 16 << 10
	}
	return &Agent{
		sandbox: sandbox,
		model:   model,
		opts:    opts,
		logger:  logging.OrDiscard(logger).With("component", "execution"),
	}
}

// Configured reports whether a sandbox provider is available.
func (a *Agent) Configured() bool {
	return a.sandbox != nil
}

// Select keeps validated candidates at or above the threshold, capped by strategy.
func (a *Agent) Select(candidates []domain.RepositoryCandidate) []domain.RepositoryCandidate {
	limit := a.opts.QuickLimit
	if a.opts.Strategy == config.ExecutionThorough {
		limit = a.opts.ThoroughLimit
	}
	var out []domain.RepositoryCandidate
	for _, c := range candidates {
		if len(out) == limit {
			break
		}
		if c.Validated && c.Confidence >= a.opts.Threshold {
			out = append(out, c)
		}
	}
	return out
}

// Budget is the stage timeout for n selected candidates.
func (a *Agent) Budget(n int) time.Duration {
	if n <= 0 {
		return stageGrace
	}
	waves := (n + a.opts.Parallelism - 1) / a.opts.Parallelism
	return time.Duration(waves)*a.opts.PerCandidateTimeout + stageGrace
}

// ExecuteAll runs candidates concurrently, bounded by the parallelism option.
// Results keep input order.
func (a *Agent) ExecuteAll(ctx context.Context, candidates []domain.RepositoryCandidate) []domain.ExecutionResult {
	results := make([]domain.ExecutionResult, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.opts.Parallelism)
	for i, c := range candidates {
		g.Go(func() error {
			results[i] = a.Execute(gctx, c)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Execute runs one candidate. It never returns an error; failures are
// reported through ExecutionResult.FailureReason.
func (a *Agent) Execute(ctx context.Context, candidate domain.RepositoryCandidate) domain.ExecutionResult {
	start := time.Now()
	result := domain.ExecutionResult{CandidateFullName: candidate.FullName, ProjectType: domain.ProjectUnknown}
	logger := a.logger.With("candidate", candidate.FullName)

	if !candidate.Validated {
		result.FailureReason = "candidate not validated"
		return result
	}
	if a.sandbox == nil {
		result.FailureReason = "sandbox not configured"
		return result
	}

	runCtx, cancel := context.WithTimeout(ctx, a.opts.PerCandidateTimeout)
	defer cancel()

	a.run(ctx, runCtx, candidate, &result, logger)

	result.InstallLog = truncate(result.InstallLog, a.opts.MaxLogBytes)
	result.RunLog = truncate(result.RunLog, a.opts.MaxLogBytes)
	result.Duration = time.Since(start)

	logger.Info("candidate executed",
		"succeeded", result.Succeeded,
		"project_type", result.ProjectType,
		"failure_reason", result.FailureReason,
		"duration", result.Duration,
	)
	return result
}

func (a *Agent) run(parent, ctx context.Context, candidate domain.RepositoryCandidate, result *domain.ExecutionResult, logger *slog.Logger) {
	handle, err := a.sandbox.Create(ctx, domain.SandboxSpec{
		Template:        a.opts.Template,
		Timeout:         a.opts.PerCandidateTimeout,
		MemoryMB:        a.opts.MemoryMB,
		CPUs:            a.opts.CPUs,
		NetworkIsolated: a.opts.NetworkIsolated,
	})
	if err != nil {
		result.FailureReason = failureReason(parent, ctx, err, domain.CommandResult{}, "create sandbox")
		return
	}
	defer func() {
		destroyCtx, cancel := context.WithTimeout(context.WithoutCancel(parent), destroyBudget)
		defer cancel()
		if err := a.sandbox.Destroy(destroyCtx, handle); err != nil {
			logger.Warn("sandbox destroy failed", "sandbox_id", handle.ID, "error", err)
		}
	}()

	if err := a.sandbox.Upload(ctx, handle, []domain.SandboxFile{
		{Path: probePath, Content: []byte(probeScript), Mode: 0o755},
	}); err != nil {
		result.FailureReason = failureReason(parent, ctx, err, domain.CommandResult{}, "upload probe")
		return
	}

	clone, err := a.sandbox.Run(ctx, handle, "git clone --depth 1 "+shellQuote(cloneURL(candidate))+" "+repoDir, remaining(ctx))
	result.InstallLog = clone.Combined()
	if reason := failureReason(parent, ctx, err, clone, "clone"); reason != "" {
		result.FailureReason = reason
		return
	}
	if clone.ExitCode != 0 {
		result.FailureReason = fmt.Sprintf("clone exited %d", clone.ExitCode)
		if a.opts.NetworkIsolated {
			// The clone runs inside the sandbox and needs egress to the git host.
			result.FailureReason += " (sandbox network is isolated)"
		}
		return
	}

	probeOut, err := a.sandbox.Run(ctx, handle, "sh /workspace/"+probePath+" "+repoDir, remaining(ctx))
	if reason := failureReason(parent, ctx, err, probeOut, "probe"); reason != "" {
		result.FailureReason = reason
		return
	}
	probe := parseProbe(probeOut.Stdout)

	result.ProjectType = detectType(probe)
	if result.ProjectType == domain.ProjectUnknown {
		result.FailureReason = domain.FailureUndetected
		return
	}

	install, err := a.sandbox.Run(ctx, handle, "cd "+repoDir+" && "+installCommand(result.ProjectType, probe), remaining(ctx))
	result.InstallLog = joinLogs(result.InstallLog, install.Combined())
	if reason := failureReason(parent, ctx, err, install, "install"); reason != "" {
		result.FailureReason = reason
		return
	}
	if install.ExitCode != 0 {
		logger.Debug("install exited non-zero", "exit_code", install.ExitCode)
	}

	entry, command := entryPoint(result.ProjectType, probe)
	if entry == "" {
		result.FailureReason = domain.FailureNoEntryPoint
		return
	}
	result.EntryPoint = entry

	run, err := a.sandbox.Run(ctx, handle, "cd "+repoDir+" && "+command, remaining(ctx))
	result.RunLog = run.Combined()
	if reason := failureReason(parent, ctx, err, run, "run"); reason != "" {
		result.FailureReason = reason
		return
	}
	result.Succeeded = run.ExitCode == 0
	if !result.Succeeded {
		result.FailureReason = fmt.Sprintf("entry point exited %d", run.ExitCode)
	}

	if strings.TrimSpace(result.InstallLog) != "" && strings.TrimSpace(result.RunLog) != "" {
		result.FunctionalitySummary = a.summarize(ctx, candidate, *result, logger)
	}
}

const summarySchemaName = "functionality_summary"

var summarySchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "primary_function": {"type": "string"},
    "category": {"type": "string"},
    "complexity": {"type": "string", "enum": ["simple", "moderate", "complex"]},
    "use_cases": {"type": "array", "items": {"type": "string"}}
  },
  "required": ["primary_function", "category", "complexity", "use_cases"],
  "additionalProperties": false
}`)

func (a *Agent) summarize(ctx context.Context, candidate domain.RepositoryCandidate, result domain.ExecutionResult, logger *slog.Logger) *domain.FunctionalitySummary {
	if a.model == nil {
		return nil
	}
	prompt := fmt.Sprintf("Repository: %s\nDescription: %s\nProject type: %s\nEntry point: %s\n\nInstall log:\n%s\n\nRun log:\n%s",
		candidate.FullName, candidate.Description, result.ProjectType, result.EntryPoint,
		truncate(result.InstallLog, 4<<10), truncate(result.RunLog, 4<<10))

	completion, err := a.model.Complete(ctx, domain.Prompt{
		System:     "You describe what a program does from its install and --help output.",
		User:       prompt,
		SchemaName: summarySchemaName,
		Schema:     summarySchema,
		MaxTokens:  300,
	})
	if err != nil {
		logger.Warn("functionality summary failed", "error", err)
		return nil
	}
	var summary domain.FunctionalitySummary
	if err := completion.Decode(&summary); err != nil || strings.TrimSpace(summary.PrimaryFunction) == "" {
		logger.Warn("functionality summary unusable", "error", err)
		return nil
	}
	return &summary
}

// failureReason maps an aborted step to a failure reason; "" means the step completed.
func failureReason(parent, ctx context.Context, err error, res domain.CommandResult, step string) string {
	switch {
	case errors.Is(parent.Err(), context.Canceled):
		return domain.FailureCancelled
	case res.TimedOut || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return domain.FailureTimeout
	case res.ResourceLimited || res.ExitCode == 137 || errkind.Is(err, errkind.ResourceLimit):
		return domain.FailureResourceLimit
	case errkind.Is(err, errkind.Timeout):
		return domain.FailureTimeout
	case err != nil:
		return fmt.Sprintf("%s: %v", step, err)
	default:
		return ""
	}
}

func remaining(ctx context.Context) time.Duration {
	deadline, ok := ctx.Deadline()
	if !ok {
		return 0
	}
	return max(time.Until(deadline), time.Second)
}

func cloneURL(c domain.RepositoryCandidate) string {
	if c.CloneURL != "" {
		return c.CloneURL
	}
	return "https://github.com/" + c.FullName + ".git"
}

func joinLogs(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + "\n" + b
	}
}

// truncate caps s at limit bytes without splitting a UTF-8 sequence.
func truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "\n[truncated]"
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
