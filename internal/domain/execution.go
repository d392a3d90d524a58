package domain

import "time"

// ProjectType is detected from marker files in a cloned repository.
type ProjectType string

const (
	ProjectPython  ProjectType = "python"
	ProjectNode    ProjectType = "node"
	ProjectGo      ProjectType = "go"
	ProjectRust    ProjectType = "rust"
	ProjectUnknown ProjectType = "unknown"
)

// Failure reasons reported on ExecutionResult.
const (
	FailureTimeout       = "timeout"
	FailureResourceLimit = "resource_limit"
	FailureCancelled     = "cancelled"
	FailureUndetected    = "undetected project type"
	FailureNoEntryPoint  = "no entry point"
)

// FunctionalitySummary characterizes what an executed repository does.
type FunctionalitySummary struct {
	PrimaryFunction string   `json:"primary_function"`
	Category        string   `json:"category"`
	Complexity      string   `json:"complexity"`
	UseCases        []string `json:"use_cases,omitempty"`
}

// ExecutionResult is the outcome of one sandboxed candidate execution.
type ExecutionResult struct {
	CandidateFullName    string                `json:"candidate_full_name"`
	Succeeded            bool                  `json:"succeeded"`
	ProjectType          ProjectType           `json:"project_type"`
	EntryPoint           string                `json:"entry_point,omitempty"`
	InstallLog           string                `json:"install_log"`
	RunLog               string                `json:"run_log"`
	FunctionalitySummary *FunctionalitySummary `json:"functionality_summary,omitempty"`
	FailureReason        string                `json:"failure_reason,omitempty"`
	Duration             time.Duration         `json:"duration"`
}

// SandboxSpec is the resource envelope requested from a sandbox provider.
type SandboxSpec struct {
	Template        string
	Timeout         time.Duration
	MemoryMB        int
	CPUs            float64
	NetworkIsolated bool
}

// SandboxHandle identifies a live sandbox instance.
type SandboxHandle struct {
	ID       string
	Provider string
}

// SandboxFile is a file written into a sandbox before commands run.
type SandboxFile struct {
	Path    string
	Content []byte
	Mode    uint32
}

// CommandResult captures one command executed inside a sandbox.
type CommandResult struct {
	ExitCode        int
	Stdout          string
	Stderr          string
	TimedOut        bool
	ResourceLimited bool
}

// Combined joins stdout and stderr the way a terminal would show them.
func (r CommandResult) Combined() string {
	switch {
	case r.Stdout == "":
		return r.Stderr
	case r.Stderr == "":
		return r.Stdout
	default:
		return r.Stdout + "\n" + r.Stderr
	}
}
