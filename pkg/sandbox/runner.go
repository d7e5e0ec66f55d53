// Package sandbox executes candidate connector programs in an isolated
// environment and returns their combined output for classification.
//
// A run "failing" is not an error: non-zero exit codes, stack traces,
// and timeouts all come back as log text for the classifier to judge.
// Errors are reserved for infrastructure faults where no output exists.
package sandbox

import (
	"context"
	"fmt"
	"time"

	"connectorwiz/pkg/config"
)

// Runner deploys a program into the sandbox and executes it once.
// The returned string is the combined stdout and stderr, with the
// timeout marker appended when the run exceeded its time budget.
type Runner interface {
	DeployAndRun(ctx context.Context, code string, env []string, timeout time.Duration) (string, error)
}

// New builds the configured runner kind.
func New(cfg *config.SandboxCfg) (Runner, error) {
	switch cfg.Kind {
	case config.SandboxLocal:
		return NewLocalRunner(cfg), nil
	case config.SandboxDocker:
		return NewDockerRunner(cfg), nil
	default:
		return nil, fmt.Errorf("unknown sandbox kind %q", cfg.Kind)
	}
}
