package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"BookmarkScout/internal/config"
	"BookmarkScout/internal/domain"
	"BookmarkScout/internal/errkind"
	"BookmarkScout/internal/ports"
)

const (
	dockerProvider = "docker"
	workspaceDir   = "/workspace"
	oomExitCode    = 137
)

// commandRunner executes the docker CLI; swapped in tests.
type commandRunner func(ctx context.Context, stdin []byte, args ...string) (stdout, stderr string, exitCode int, err error)

// Docker runs sandboxes as throwaway local containers via the docker CLI.
type Docker struct {
	image           string
	isolatedNetwork string
	run             commandRunner
	newName         func() string
}

var _ ports.SandboxService = (*Docker)(nil)

// NewDocker locates the docker binary and prepares a provider.
func NewDocker(cfg config.SandboxConfig) (*Docker, error) {
	dockerPath, err := exec.LookPath("docker")
	if err != nil {
		return nil, fmt.Errorf("docker not found in PATH: %w", err)
	}
	network := cfg.IsolatedNetwork
	if network == "" {
		network = "none"
	}
	return &Docker{
		image:           cfg.Image,
		isolatedNetwork: network,
		run:             execRunner(dockerPath),
		newName:         func() string { return "scout-" + uuid.NewString() },
	}, nil
}

func execRunner(dockerPath string) commandRunner {
	return func(ctx context.Context, stdin []byte, args ...string) (string, string, int, error) {
		cmd := exec.CommandContext(ctx, dockerPath, args...)
		if stdin != nil {
			cmd.Stdin = bytes.NewReader(stdin)
		}
		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		err := cmd.Run()
		var exitErr *exec.ExitError
		switch {
		case err == nil:
			return stdout.String(), stderr.String(), 0, nil
		case ctx.Err() != nil:
			return stdout.String(), stderr.String(), -1, ctx.Err()
		case errors.As(err, &exitErr):
			return stdout.String(), stderr.String(), exitErr.ExitCode(), nil
		default:
			return stdout.String(), stderr.String(), -1, err
		}
	}
}

// Create starts a detached container that lives at most spec.Timeout.
// Containers are started with --rm and no volumes, so nothing persists.
func (d *Docker) Create(ctx context.Context, spec domain.SandboxSpec) (domain.SandboxHandle, error) {
	name := d.newName()
	lifetime := spec.Timeout
	if lifetime <= 0 {
		lifetime = 10 * time.Minute
	}

	args := []string{"run", "-d", "--rm", "--name", name,
		"--pids-limit", "256",
		"--security-opt", "no-new-privileges",
		"--tmpfs", "/tmp",
		"--workdir", workspaceDir,
	}
	if spec.MemoryMB > 0 {
		mem := strconv.Itoa(spec.MemoryMB) + "m"
		args = append(args, "--memory", mem, "--memory-swap", mem)
	}
	if spec.CPUs > 0 {
		args = append(args, "--cpus", strconv.FormatFloat(spec.CPUs, 'f', -1, 64))
	}
	if spec.NetworkIsolated {
		args = append(args, "--network", d.isolatedNetwork)
	}
	args = append(args, d.image, "sleep", strconv.Itoa(int(lifetime/time.Second)+1))

	stdout, stderr, code, err := d.run(ctx, nil, args...)
	if err != nil {
		return domain.SandboxHandle{}, errkind.New(errkind.KindOf(err), "docker.create", err)
	}
	if code != 0 {
		return domain.SandboxHandle{}, errkind.New(errkind.Transient, "docker.create",
			fmt.Errorf("docker run exited %d: %s", code, strings.TrimSpace(stderr)))
	}
	id := strings.TrimSpace(stdout)
	if id == "" {
		id = name
	}
	return domain.SandboxHandle{ID: id, Provider: dockerProvider}, nil
}

// Upload streams each file through docker exec so no host paths are mounted.
func (d *Docker) Upload(ctx context.Context, handle domain.SandboxHandle, files []domain.SandboxFile) error {
	for _, f := range files {
		target := f.Path
		if !path.IsAbs(target) {
			target = path.Join(workspaceDir, target)
		}
		mode := f.Mode
		if mode == 0 {
			mode = 0o644
		}
		script := fmt.Sprintf("mkdir -p %s && cat > %s && chmod %o %s",
			shellQuote(path.Dir(target)), shellQuote(target), mode, shellQuote(target))

		_, stderr, code, err := d.run(ctx, f.Content, "exec", "-i", handle.ID, "sh", "-c", script)
		if err != nil {
			return errkind.New(errkind.KindOf(err), "docker.upload", err)
		}
		if code != 0 {
			return fmt.Errorf("docker.upload: %s exited %d: %s", target, code, strings.TrimSpace(stderr))
		}
	}
	return nil
}

// Run executes command in the workspace. Exit 137 is reported as a resource-limit kill.
func (d *Docker) Run(ctx context.Context, handle domain.SandboxHandle, command string, timeout time.Duration) (domain.CommandResult, error) {
	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	stdout, stderr, code, err := d.run(runCtx, nil, "exec", "-w", workspaceDir, handle.ID, "sh", "-c", command)
	result := domain.CommandResult{ExitCode: code, Stdout: stdout, Stderr: stderr}
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			result.TimedOut = true
			return result, nil
		}
		return result, errkind.New(errkind.KindOf(err), "docker.run", err)
	}
	result.ResourceLimited = code == oomExitCode
	return result, nil
}

// Destroy force-removes the container.
func (d *Docker) Destroy(ctx context.Context, handle domain.SandboxHandle) error {
	_, stderr, code, err := d.run(ctx, nil, "rm", "-f", handle.ID)
	if err != nil {
		return errkind.New(errkind.KindOf(err), "docker.destroy", err)
	}
	if code != 0 && !strings.Contains(stderr, "No such container") {
		return fmt.Errorf("docker.destroy: rm exited %d: %s", code, strings.TrimSpace(stderr))
	}
	return nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
