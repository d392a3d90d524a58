package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"BookmarkScout/internal/config"
	"BookmarkScout/internal/domain"
	"BookmarkScout/internal/errkind"
	"BookmarkScout/internal/ports"
)

const remoteProvider = "remote"

// Remote talks to a hosted sandbox service over its REST API.
type Remote struct {
	endpoint string
	apiKey   string
	timeout  time.Duration
	http     *http.Client
	retry    errkind.Policy
}

var _ ports.SandboxService = (*Remote)(nil)

// NewRemote creates a reusable HTTP client for the sandbox service.
func NewRemote(cfg config.SandboxConfig, retry errkind.Policy) *Remote {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Remote{
		endpoint: strings.TrimSuffix(cfg.Endpoint, "/"),
		apiKey:   cfg.APIKey,
		timeout:  timeout,
		http:     &http.Client{},
		retry:    retry,
	}
}

type createRequest struct {
	Template        string  `json:"template,omitempty"`
	TimeoutSeconds  int     `json:"timeout_seconds"`
	MemoryMB        int     `json:"memory_mb,omitempty"`
	CPUs            float64 `json:"cpus,omitempty"`
	NetworkIsolated bool    `json:"network_isolated"`
	Persistent      bool    `json:"persistent"`
}

type fileEntry struct {
	Path    string `json:"path"`
	Content []byte `json:"content"`
	Mode    uint32 `json:"mode,omitempty"`
}

type commandRequest struct {
	Command        string `json:"command"`
	Cwd            string `json:"cwd,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

type commandResponse struct {
	ExitCode  int    `json:"exit_code"`
	Stdout    string `json:"stdout"`
	Stderr    string `json:"stderr"`
	TimedOut  bool   `json:"timed_out"`
	OOMKilled bool   `json:"oom_killed"`
}

// Create provisions a sandbox sized by spec.
func (r *Remote) Create(ctx context.Context, spec domain.SandboxSpec) (domain.SandboxHandle, error) {
	payload := createRequest{
		Template:        spec.Template,
		TimeoutSeconds:  seconds(spec.Timeout),
		MemoryMB:        spec.MemoryMB,
		CPUs:            spec.CPUs,
		NetworkIsolated: spec.NetworkIsolated,
	}

	var resp struct {
		ID string `json:"id"`
	}
	err := r.retry.Do(ctx, func(ctx context.Context) error {
		return r.bounded(ctx, "sandbox.create", http.MethodPost, "/sandboxes", payload, &resp)
	})
	if err != nil {
		return domain.SandboxHandle{}, err
	}
	if resp.ID == "" {
		return domain.SandboxHandle{}, errors.New("sandbox.create: empty sandbox id")
	}
	return domain.SandboxHandle{ID: resp.ID, Provider: remoteProvider}, nil
}

// Upload writes files into the sandbox filesystem.
func (r *Remote) Upload(ctx context.Context, handle domain.SandboxHandle, files []domain.SandboxFile) error {
	if len(files) == 0 {
		return nil
	}
	entries := make([]fileEntry, 0, len(files))
	for _, f := range files {
		entries = append(entries, fileEntry{Path: f.Path, Content: f.Content, Mode: f.Mode})
	}

	path := "/sandboxes/" + url.PathEscape(handle.ID) + "/files"
	return r.retry.Do(ctx, func(ctx context.Context) error {
		return r.bounded(ctx, "sandbox.upload", http.MethodPost, path, map[string]any{"files": entries}, nil)
	})
}

// Run executes command once; commands are never retried.
func (r *Remote) Run(ctx context.Context, handle domain.SandboxHandle, command string, timeout time.Duration) (domain.CommandResult, error) {
	path := "/sandboxes/" + url.PathEscape(handle.ID) + "/commands"
	payload := commandRequest{Command: command, Cwd: "/workspace", TimeoutSeconds: seconds(timeout)}

	runCtx, cancel := context.WithTimeout(ctx, timeout+r.timeout)
	defer cancel()

	var resp commandResponse
	if err := r.call(runCtx, "sandbox.run", http.MethodPost, path, payload, &resp); err != nil {
		return domain.CommandResult{}, err
	}
	return domain.CommandResult{
		ExitCode:        resp.ExitCode,
		Stdout:          resp.Stdout,
		Stderr:          resp.Stderr,
		TimedOut:        resp.TimedOut,
		ResourceLimited: resp.OOMKilled,
	}, nil
}

// Destroy releases the sandbox. A sandbox that is already gone counts as destroyed.
func (r *Remote) Destroy(ctx context.Context, handle domain.SandboxHandle) error {
	path := "/sandboxes/" + url.PathEscape(handle.ID)
	err := r.retry.Do(ctx, func(ctx context.Context) error {
		return r.bounded(ctx, "sandbox.destroy", http.MethodDelete, path, nil, nil)
	})
	if errkind.Is(err, errkind.NotFound) {
		return nil
	}
	return err
}

func (r *Remote) bounded(ctx context.Context, op, method, path string, payload any, v any) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.call(ctx, op, method, path, payload, v)
}

func (r *Remote) call(ctx context.Context, op, method, path string, payload any, v any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("%s: marshal payload: %w", op, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.endpoint+path, body)
	if err != nil {
		return fmt.Errorf("%s: new request: %w", op, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.http.Do(req)
	if err != nil {
		kind := errkind.KindOf(err)
		if kind == errkind.Unknown {
			kind = errkind.Transient
		}
		return errkind.New(kind, op, err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		message, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		closeErr := resp.Body.Close()
		if closeErr != nil {
			return errkind.New(errkind.FromStatus(resp.StatusCode), op, fmt.Errorf("unexpected status %s, close body: %v", resp.Status, closeErr))
		}
		return errkind.New(errkind.FromStatus(resp.StatusCode), op, fmt.Errorf("unexpected status %s: %s", resp.Status, strings.TrimSpace(string(message))))
	}

	if v == nil {
		if err := resp.Body.Close(); err != nil {
			return fmt.Errorf("%s: close response body: %w", op, err)
		}
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		_ = resp.Body.Close()
		return fmt.Errorf("%s: decode response: %w", op, err)
	}

	if err := resp.Body.Close(); err != nil {
		return fmt.Errorf("%s: close response body: %w", op, err)
	}

	return nil
}

func seconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	s := int(d.Round(time.Second) / time.Second)
	if s == 0 {
		s = 1
	}
	return s
}
