package domain

import "time"

// Stage names a step of the pipeline state machine.
type Stage string

const (
	StageAnalysis  Stage = "analysis"
	StageDiscovery Stage = "discovery"
	StageExecution Stage = "execution"
	StageSynthesis Stage = "synthesis"
)

// Stages lists pipeline stages in their fixed execution order.
var Stages = []Stage{StageAnalysis, StageDiscovery, StageExecution, StageSynthesis}

// StageStatus is the state of a single stage within a run.
type StageStatus string

const (
	StatusPending   StageStatus = "pending"
	StatusRunning   StageStatus = "running"
	StatusSucceeded StageStatus = "succeeded"
	StatusFailed    StageStatus = "failed"
	StatusSkipped   StageStatus = "skipped"
)

// Terminal reports whether no further transition is expected.
func (s StageStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusSkipped
}

// RunOutcome summarizes how a run ended.
type RunOutcome string

const (
	OutcomeRunning   RunOutcome = "running"
	OutcomeCompleted RunOutcome = "completed"
	OutcomeDegraded  RunOutcome = "degraded"
	OutcomeCancelled RunOutcome = "cancelled"
	OutcomeFailed    RunOutcome = "failed"
)

// DeliveryKey is the stage_errors key used for knowledge-base delivery failures.
const DeliveryKey = "delivery"

// PipelineRun tracks one invocation of the pipeline for one bookmark.
type PipelineRun struct {
	RunID       string                `json:"run_id"`
	BookmarkID  string                `json:"bookmark_id"`
	Attempt     int                   `json:"attempt"`
	StageStatus map[Stage]StageStatus `json:"stage_status"`
	StageErrors map[string]string     `json:"stage_errors,omitempty"`
	StartedAt   time.Time             `json:"started_at"`
	FinishedAt  time.Time             `json:"finished_at,omitzero"`
	Degraded    bool                  `json:"degraded"`
	Outcome     RunOutcome            `json:"outcome"`
	Delivered   bool                  `json:"delivered"`
}

// NewPipelineRun returns a run with every stage pending.
func NewPipelineRun(runID, bookmarkID string, attempt int, startedAt time.Time) PipelineRun {
	status := make(map[Stage]StageStatus, len(Stages))
	for _, stage := range Stages {
		status[stage] = StatusPending
	}
	return PipelineRun{
		RunID:       runID,
		BookmarkID:  bookmarkID,
		Attempt:     attempt,
		StageStatus: status,
		StageErrors: map[string]string{},
		StartedAt:   startedAt,
		Outcome:     OutcomeRunning,
	}
}

// Status returns the stage status, defaulting to pending.
func (r PipelineRun) Status(stage Stage) StageStatus {
	if s, ok := r.StageStatus[stage]; ok {
		return s
	}
	return StatusPending
}

// Finished reports whether the run reached a terminal outcome.
func (r PipelineRun) Finished() bool {
	return r.Outcome != OutcomeRunning && r.Outcome != ""
}

// Duration is the wall time between start and finish.
func (r PipelineRun) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Checkpoint is a run plus the stage outputs it produced.
type Checkpoint struct {
	Run        PipelineRun           `json:"run"`
	Analysis   *AnalysisResult       `json:"analysis,omitempty"`
	Candidates []RepositoryCandidate `json:"candidates,omitempty"`
	Executions []ExecutionResult     `json:"executions,omitempty"`
	Result     *SynthesisResult      `json:"result,omitempty"`
}
