package ports

import (
	"context"
	"time"

	"BookmarkScout/internal/domain"
)

// BookmarkSource pulls bookmarks from upstream feeds or exports.
type BookmarkSource interface {
	Fetch(ctx context.Context, since time.Time) ([]domain.Bookmark, error)
}

// RepositorySearch wraps a code-hosting API. Implementations must report
// absence with errkind.NotFound and throttling with errkind.RateLimited.
type RepositorySearch interface {
	GetRepository(ctx context.Context, fullName string) (domain.RepositoryMetadata, error)
	ListUserRepositories(ctx context.Context, handle string) ([]domain.RepositoryMetadata, error)
	Search(ctx context.Context, query string) ([]domain.RepositoryMetadata, error)
}

// SandboxService wraps an isolated-execution provider. Every successful
// Create must be paired with a Destroy.
type SandboxService interface {
	Create(ctx context.Context, spec domain.SandboxSpec) (domain.SandboxHandle, error)
	Upload(ctx context.Context, handle domain.SandboxHandle, files []domain.SandboxFile) error
	Run(ctx context.Context, handle domain.SandboxHandle, command string, timeout time.Duration) (domain.CommandResult, error)
	Destroy(ctx context.Context, handle domain.SandboxHandle) error
}

// LanguageModel returns free-text or schema-constrained completions.
// Quota exhaustion is reported as errkind.QuotaExceeded.
type LanguageModel interface {
	Complete(ctx context.Context, prompt domain.Prompt) (domain.Completion, error)
}

// KnowledgeBase stores synthesized records, overwriting by dedupe key.
type KnowledgeBase interface {
	Deliver(ctx context.Context, record domain.Record) error
}

// RunStore persists pipeline checkpoints keyed by bookmark id.
type RunStore interface {
	Load(ctx context.Context, bookmarkID string) (domain.Checkpoint, bool, error)
	Save(ctx context.Context, checkpoint domain.Checkpoint) error
	Delete(ctx context.Context, bookmarkID string) error
	List(ctx context.Context, limit int) ([]domain.PipelineRun, error)
}

// Scheduler controls when polling jobs execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
