// Package portstest provides in-memory fakes of the pipeline ports for tests.
package portstest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"BookmarkScout/internal/domain"
	"BookmarkScout/internal/errkind"
	"BookmarkScout/internal/ports"
)

var (
	_ ports.RepositorySearch = (*Search)(nil)
	_ ports.SandboxService   = (*Sandbox)(nil)
	_ ports.LanguageModel    = ModelFunc(nil)
	_ ports.KnowledgeBase    = (*KnowledgeBase)(nil)
)

// ModelFunc adapts a function to ports.LanguageModel.
type ModelFunc func(ctx context.Context, prompt domain.Prompt) (domain.Completion, error)

// Complete calls f.
func (f ModelFunc) Complete(ctx context.Context, prompt domain.Prompt) (domain.Completion, error) {
	return f(ctx, prompt)
}

// StaticModel answers every prompt with text.
func StaticModel(text string) ModelFunc {
	return func(context.Context, domain.Prompt) (domain.Completion, error) {
		return domain.Completion{Text: text}, nil
	}
}

// SchemaModel answers by schema name, failing for unknown schemas.
func SchemaModel(answers map[string]string) ModelFunc {
	return func(_ context.Context, prompt domain.Prompt) (domain.Completion, error) {
		if text, ok := answers[prompt.SchemaName]; ok {
			return domain.Completion{Text: text}, nil
		}
		return domain.Completion{}, errkind.New(errkind.Transient, "fake.model", fmt.Errorf("no answer for %q", prompt.SchemaName))
	}
}

// Search is a scripted code-hosting API.
type Search struct {
	mu sync.Mutex

	Repos     map[string]domain.RepositoryMetadata
	UserRepos map[string][]domain.RepositoryMetadata
	Results   []domain.RepositoryMetadata

	GetErr    error
	ListErr   error
	SearchErr error

	Queries  []string
	GetCalls []string
}

// NewSearch indexes repos by full name.
func NewSearch(repos ...domain.RepositoryMetadata) *Search {
	s := &Search{Repos: map[string]domain.RepositoryMetadata{}, UserRepos: map[string][]domain.RepositoryMetadata{}}
	for _, repo := range repos {
		s.Repos[strings.ToLower(repo.FullName)] = repo
	}
	return s
}

// GetRepository returns a known repo or a not_found error.
func (s *Search) GetRepository(ctx context.Context, fullName string) (domain.RepositoryMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.GetCalls = append(s.GetCalls, fullName)
	if s.GetErr != nil {
		return domain.RepositoryMetadata{}, s.GetErr
	}
	if repo, ok := s.Repos[strings.ToLower(fullName)]; ok {
		return repo, nil
	}
	return domain.RepositoryMetadata{}, errkind.New(errkind.NotFound, "fake.get", errors.New(fullName))
}

// ListUserRepositories returns the scripted repos for handle.
func (s *Search) ListUserRepositories(ctx context.Context, handle string) ([]domain.RepositoryMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ListErr != nil {
		return nil, s.ListErr
	}
	return s.UserRepos[strings.ToLower(handle)], nil
}

// Search records the query and returns the scripted results.
func (s *Search) Search(ctx context.Context, query string) ([]domain.RepositoryMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Queries = append(s.Queries, query)
	if s.SearchErr != nil {
		return nil, s.SearchErr
	}
	return s.Results, nil
}

// Sandbox is a fake provider that tracks paired create/destroy calls.
type Sandbox struct {
	mu sync.Mutex

	CreateErr error
	// RunFunc scripts command results; nil means every command exits 0.
	RunFunc func(ctx context.Context, command string, timeout time.Duration) (domain.CommandResult, error)

	created   int
	destroyed map[string]int
	live      map[string]bool
	specs     []domain.SandboxSpec
	uploads   []domain.SandboxFile
	commands  []string
}

// NewSandbox returns an empty fake.
func NewSandbox() *Sandbox {
	return &Sandbox{destroyed: map[string]int{}, live: map[string]bool{}}
}

// Create allocates a fake handle.
func (s *Sandbox) Create(ctx context.Context, spec domain.SandboxSpec) (domain.SandboxHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CreateErr != nil {
		return domain.SandboxHandle{}, s.CreateErr
	}
	if err := ctx.Err(); err != nil {
		return domain.SandboxHandle{}, err
	}
	s.created++
	handle := domain.SandboxHandle{ID: fmt.Sprintf("sbx-%d", s.created), Provider: "fake"}
	s.live[handle.ID] = true
	s.specs = append(s.specs, spec)
	return handle, nil
}

// Upload records files.
func (s *Sandbox) Upload(ctx context.Context, handle domain.SandboxHandle, files []domain.SandboxFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.live[handle.ID] {
		return fmt.Errorf("upload to dead sandbox %s", handle.ID)
	}
	s.uploads = append(s.uploads, files...)
	return nil
}

// Run delegates to RunFunc.
func (s *Sandbox) Run(ctx context.Context, handle domain.SandboxHandle, command string, timeout time.Duration) (domain.CommandResult, error) {
	s.mu.Lock()
	if !s.live[handle.ID] {
		s.mu.Unlock()
		return domain.CommandResult{}, fmt.Errorf("run in dead sandbox %s", handle.ID)
	}
	s.commands = append(s.commands, command)
	run := s.RunFunc
	s.mu.Unlock()

	if run == nil {
		return domain.CommandResult{}, nil
	}
	return run(ctx, command, timeout)
}

// Destroy releases the handle.
func (s *Sandbox) Destroy(ctx context.Context, handle domain.SandboxHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destroyed[handle.ID]++
	delete(s.live, handle.ID)
	return nil
}

// Created returns how many sandboxes were created.
func (s *Sandbox) Created() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.created
}

// Destroyed returns how many destroy calls were made in total.
func (s *Sandbox) Destroyed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.destroyed {
		total += n
	}
	return total
}

// Paired reports whether every created handle was destroyed exactly once.
func (s *Sandbox) Paired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.live) != 0 || len(s.destroyed) != s.created {
		return false
	}
	for _, n := range s.destroyed {
		if n != 1 {
			return false
		}
	}
	return true
}

// Commands returns every command run so far.
func (s *Sandbox) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// Specs returns every spec passed to Create.
func (s *Sandbox) Specs() []domain.SandboxSpec {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.SandboxSpec(nil), s.specs...)
}

// Uploads returns every uploaded file.
func (s *Sandbox) Uploads() []domain.SandboxFile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.SandboxFile(nil), s.uploads...)
}

// KnowledgeBase records deliveries.
type KnowledgeBase struct {
	mu      sync.Mutex
	Err     error
	records []domain.Record
}

// Deliver stores the record unless Err is set.
func (k *KnowledgeBase) Deliver(ctx context.Context, record domain.Record) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.Err != nil {
		return k.Err
	}
	k.records = append(k.records, record)
	return nil
}

// Records returns all delivered records in order.
func (k *KnowledgeBase) Records() []domain.Record {
	k.mu.Lock()
	defer k.mu.Unlock()
	return append([]domain.Record(nil), k.records...)
}
