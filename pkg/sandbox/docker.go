package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"connectorwiz/pkg/config"
	"connectorwiz/pkg/logx"
	"connectorwiz/pkg/proto"
)

// DockerRunner executes the program in a fresh container per run.
type DockerRunner struct {
	cfg       *config.SandboxCfg
	logger    *logx.Logger
	dockerCmd string
}

// NewDockerRunner creates a new Docker-backed runner.
func NewDockerRunner(cfg *config.SandboxCfg) *DockerRunner {
	// Prefer podman only when docker is absent.
	dockerCmd := "docker"
	if _, err := exec.LookPath("podman"); err == nil {
		if _, err := exec.LookPath("docker"); err != nil {
			dockerCmd = "podman"
		}
	}

	return &DockerRunner{
		cfg:       cfg,
		logger:    logx.NewLogger("sandbox-docker"),
		dockerCmd: dockerCmd,
	}
}

// Available checks whether the container runtime daemon is reachable.
func (r *DockerRunner) Available() bool {
	if _, err := exec.LookPath(r.dockerCmd); err != nil {
		r.logger.Debug("container command not found: %v", err)
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.dockerCmd, "ps", "-q")
	if err := cmd.Run(); err != nil {
		r.logger.Debug("container daemon not available: %v", err)
		return false
	}
	return true
}

// DeployAndRun writes the program to a host directory, mounts it into a
// fresh container, and executes the configured command.
func (r *DockerRunner) DeployAndRun(ctx context.Context, code string, env []string, timeout time.Duration) (string, error) {
	workDir, err := os.MkdirTemp("", "connectorwiz-run-")
	if err != nil {
		return "", fmt.Errorf("failed to create sandbox work dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(workDir) }()

	programPath := filepath.Join(workDir, r.cfg.ProgramFile)
	if err := os.WriteFile(programPath, []byte(code), 0o644); err != nil {
		return "", fmt.Errorf("failed to write program file: %w", err)
	}

	if timeout <= 0 {
		timeout = r.cfg.Timeout()
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	containerName := "connectorwiz-run-" + uuid.New().String()
	args := r.buildRunArgs(containerName, workDir, env)

	cmd := exec.CommandContext(runCtx, r.dockerCmd, args...)
	var out strings.Builder
	cmd.Stdout = &out
	cmd.Stderr = &out

	r.logger.Debug("running container %s (image %s, timeout %s)", containerName, r.cfg.Image, timeout)

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)
	defer r.cleanupContainer(containerName)

	logs := out.String()

	if runErr != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.Is(runCtx.Err(), context.DeadlineExceeded):
			r.logger.Debug("container %s killed after %s", containerName, elapsed)
			if logs != "" && !strings.HasSuffix(logs, "\n") {
				logs += "\n"
			}
			return logs + proto.TimeoutMarker, nil
		case errors.As(runErr, &exitErr):
			r.logger.Debug("container %s exited with code %d after %s", containerName, exitErr.ExitCode(), elapsed)
			return fmt.Sprintf("%s\n[sandbox] process exited with code %d", strings.TrimRight(logs, "\n"), exitErr.ExitCode()), nil
		default:
			return "", fmt.Errorf("failed to run container: %w", runErr)
		}
	}

	r.logger.Debug("container %s completed cleanly after %s", containerName, elapsed)
	return logs, nil
}

// buildRunArgs constructs the docker run arguments for one execution.
func (r *DockerRunner) buildRunArgs(containerName, workDir string, env []string) []string {
	args := []string{"run", "--rm", "--name", containerName}

	args = append(args, "--security-opt", "no-new-privileges")
	args = append(args, "--user", fmt.Sprintf("%d:%d", os.Getuid(), os.Getgid()))
	args = append(args, "--volume", fmt.Sprintf("%s:/workspace:rw", workDir))
	args = append(args, "--workdir", "/workspace")
	args = append(args, "--tmpfs", "/tmp:exec,nodev,nosuid,size=100m")

	for _, e := range env {
		args = append(args, "--env", e)
	}

	args = append(args, r.cfg.Image)
	args = append(args, r.cfg.Command...)
	return args
}

// cleanupContainer force-removes the container if it outlived the run.
func (r *DockerRunner) cleanupContainer(containerName string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rmCmd := exec.CommandContext(ctx, r.dockerCmd, "rm", "-f", containerName)
	if err := rmCmd.Run(); err != nil {
		r.logger.Debug("failed to remove container %s: %v", containerName, err)
	}
}
