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

	"connectorwiz/pkg/config"
	"connectorwiz/pkg/logx"
	"connectorwiz/pkg/proto"
)

// LocalRunner executes the program as a subprocess on the local system.
type LocalRunner struct {
	cfg    *config.SandboxCfg
	logger *logx.Logger
}

// NewLocalRunner creates a new local subprocess runner.
func NewLocalRunner(cfg *config.SandboxCfg) *LocalRunner {
	return &LocalRunner{
		cfg:    cfg,
		logger: logx.NewLogger("sandbox-local"),
	}
}

// DeployAndRun writes the program to the work directory and executes it.
func (r *LocalRunner) DeployAndRun(ctx context.Context, code string, env []string, timeout time.Duration) (string, error) {
	workDir, cleanup, err := r.prepareWorkDir(code)
	if err != nil {
		return "", err
	}
	defer cleanup()

	if timeout <= 0 {
		timeout = r.cfg.Timeout()
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmdline := r.cfg.Command
	if len(cmdline) == 0 {
		return "", fmt.Errorf("sandbox command is empty")
	}

	cmd := exec.CommandContext(runCtx, cmdline[0], cmdline[1:]...)
	cmd.Dir = workDir
	cmd.Env = append(os.Environ(), env...)

	var out strings.Builder
	cmd.Stdout = &out
	cmd.Stderr = &out

	r.logger.Debug("running %s in %s (timeout %s)", strings.Join(cmdline, " "), workDir, timeout)

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	logs := out.String()

	if runErr != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.Is(runCtx.Err(), context.DeadlineExceeded):
			r.logger.Debug("run killed after %s", elapsed)
			if logs != "" && !strings.HasSuffix(logs, "\n") {
				logs += "\n"
			}
			return logs + proto.TimeoutMarker, nil
		case errors.As(runErr, &exitErr):
			// Non-zero exit is a verdict for the classifier, not an error.
			r.logger.Debug("run exited with code %d after %s", exitErr.ExitCode(), elapsed)
			return fmt.Sprintf("%s\n[sandbox] process exited with code %d", strings.TrimRight(logs, "\n"), exitErr.ExitCode()), nil
		default:
			return "", fmt.Errorf("failed to run sandbox command: %w", runErr)
		}
	}

	r.logger.Debug("run completed cleanly after %s", elapsed)
	return logs, nil
}

// prepareWorkDir materializes the program file. When no work directory
// is configured a temporary one is created and removed after the run.
func (r *LocalRunner) prepareWorkDir(code string) (string, func(), error) {
	workDir := r.cfg.WorkDir
	cleanup := func() {}

	if workDir == "" {
		tmp, err := os.MkdirTemp("", "connectorwiz-run-")
		if err != nil {
			return "", nil, fmt.Errorf("failed to create sandbox work dir: %w", err)
		}
		workDir = tmp
		cleanup = func() { _ = os.RemoveAll(tmp) }
	} else if err := os.MkdirAll(workDir, 0o755); err != nil {
		return "", nil, fmt.Errorf("failed to create sandbox work dir: %w", err)
	}

	programPath := filepath.Join(workDir, r.cfg.ProgramFile)
	if err := os.WriteFile(programPath, []byte(code), 0o644); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("failed to write program file: %w", err)
	}
	return workDir, cleanup, nil
}
