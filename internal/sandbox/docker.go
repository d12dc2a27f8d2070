package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// DockerBackend runs each command in a fresh, disposable container
// bind-mounting the sandbox's root directory at /workspace. It
// implements the same CommandBackend contract as LocalBackend so the
// scheduler and executor are indifferent to which one a run is
// configured with (sandbox.backend = "docker" in the TOML config).
type DockerBackend struct {
	cli     *client.Client
	workDir string
	image   string
	env     map[string]string
}

// NewDockerBackend returns a DockerBackend rooted at workDir, running
// commands inside image. image defaults to "ralph-sandbox:latest" when
// empty.
func NewDockerBackend(workDir, image string, env map[string]string) (*DockerBackend, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("sandbox: init docker client: %w", err)
	}
	if image == "" {
		image = "ralph-sandbox:latest"
	}
	return &DockerBackend{cli: cli, workDir: workDir, image: image, env: env}, nil
}

// Run creates a throwaway container, runs command inside it with
// /workspace bind-mounted to workDir, waits (bounded by timeout), and
// removes the container regardless of outcome.
func (b *DockerBackend) Run(ctx context.Context, command string, timeout time.Duration) (CommandResult, error) {
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	containerConfig := &container.Config{
		Image:      b.image,
		Cmd:        []string{"sh", "-c", buildEnvPrefix(b.env) + command},
		Tty:        false,
		WorkingDir: "/workspace",
		Env:        []string{"RALPH_SANDBOX=true"},
	}
	hostConfig := &container.HostConfig{
		Mounts: []mount.Mount{
			{Type: mount.TypeBind, Source: b.workDir, Target: "/workspace"},
		},
		AutoRemove: false,
	}

	resp, err := b.cli.ContainerCreate(runCtx, containerConfig, hostConfig, nil, nil, "")
	if err != nil {
		return CommandResult{}, fmt.Errorf("sandbox: create container: %w", err)
	}
	defer b.cli.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true})

	start := time.Now()
	if err := b.cli.ContainerStart(runCtx, resp.ID, container.StartOptions{}); err != nil {
		return CommandResult{}, fmt.Errorf("sandbox: start container: %w", err)
	}

	statusCh, errCh := b.cli.ContainerWait(runCtx, resp.ID, container.WaitConditionNotRunning)

	var exitCode int
	var timedOut bool
	select {
	case err := <-errCh:
		if err != nil && runCtx.Err() == context.DeadlineExceeded {
			timedOut = true
			exitCode = -1
		} else if err != nil {
			return CommandResult{}, fmt.Errorf("sandbox: wait for container: %w", err)
		}
	case status := <-statusCh:
		exitCode = int(status.StatusCode)
	case <-runCtx.Done():
		timedOut = true
		exitCode = -1
	}

	duration := time.Since(start)

	stdout, stderr := b.captureLogs(resp.ID)

	return CommandResult{
		Stdout:   stdout,
		Stderr:   stderr,
		ExitCode: exitCode,
		TimedOut: timedOut,
		Duration: duration,
	}, nil
}

func (b *DockerBackend) captureLogs(containerID string) (stdout, stderr string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logs, err := b.cli.ContainerLogs(ctx, containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", ""
	}
	defer logs.Close()

	var outBuf, errBuf bytes.Buffer
	stdcopy.StdCopy(&outBuf, &errBuf, logs)
	return outBuf.String(), errBuf.String()
}
