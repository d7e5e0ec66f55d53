// Command connectorwiz debugs a failing data-connector program: it runs
// the program in a sandbox, classifies the logs, and drives an AI fixer
// agent through bounded repair attempts with live operator control.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/term"

	"connectorwiz/pkg/config"
	"connectorwiz/pkg/debugger"
	"connectorwiz/pkg/fixer"
	"connectorwiz/pkg/interrupt"
	"connectorwiz/pkg/llm/factory"
	"connectorwiz/pkg/logx"
	"connectorwiz/pkg/metrics"
	"connectorwiz/pkg/persistence"
	"connectorwiz/pkg/proto"
	"connectorwiz/pkg/sandbox"
	"connectorwiz/pkg/version"
	"connectorwiz/pkg/wizard"
)

func main() {
	var (
		configPath  = flag.String("config", "connectorwiz.yaml", "Path to configuration file")
		kindFlag    = flag.String("kind", "source", "Workflow kind: source or sink")
		codeFile    = flag.String("code", "", "Path to the connector program to debug (required)")
		schemaFile  = flag.String("schema", "", "Optional path to an expected-schema hint file")
		auto        = flag.Bool("auto", false, "Start in auto-debug mode")
		maxAttempts = flag.Int("max-attempts", 0, "Override max fix attempts (default from config)")
		credDir     = flag.String("credentials-dir", ".connectorwiz", "Directory holding the encrypted credential store")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("connectorwiz %s (%s, built %s)\n", version.Version, version.Commit, version.Date)
		os.Exit(0)
	}

	os.Exit(run(*configPath, *kindFlag, *codeFile, *schemaFile, *credDir, *auto, *maxAttempts))
}

// run contains the main logic and returns an exit code, so defers in it
// execute before the process exits.
func run(configPath, kindFlag, codeFile, schemaFile, credDir string, auto bool, maxAttempts int) int {
	logger := logx.NewLogger("main")

	kind, err := proto.ParseWorkflowKind(kindFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid -kind: %v\n", err)
		return 2
	}
	if codeFile == "" {
		fmt.Fprintln(os.Stderr, "The -code flag is required.")
		flag.Usage()
		return 2
	}

	code, err := os.ReadFile(codeFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read program: %v\n", err)
		return 1
	}

	var schemaHint string
	if schemaFile != "" {
		hint, err := os.ReadFile(schemaFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read schema hint: %v\n", err)
			return 1
		}
		schemaHint = string(hint)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return 1
	}
	if maxAttempts > 0 {
		cfg.Debug.MaxAttempts = maxAttempts
	}
	if auto {
		cfg.Debug.Auto = true
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connector credentials become the sandbox environment.
	env, err := loadCredentials(credDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Credential store error: %v\n", err)
		return 1
	}

	apiKey, err := cfg.APIKey()
	if err != nil {
		fmt.Fprintf(os.Stderr, "LLM credentials error: %v\n", err)
		return 1
	}
	client, err := factory.NewClient(&cfg.Agent, apiKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "LLM client error: %v\n", err)
		return 1
	}
	fx, err := fixer.NewLLMFixer(client, cfg.Agent.Temperature, cfg.Agent.MaxTokens)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Fixer setup error: %v\n", err)
		return 1
	}

	runner, err := sandbox.New(&cfg.Sandbox)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Sandbox setup error: %v\n", err)
		return 1
	}

	journal, err := persistence.Open(cfg.Journal.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Journal error: %v\n", err)
		return 1
	}
	defer func() { _ = journal.Close() }()

	metrics.Serve(ctx, cfg.Metrics.ListenAddr)

	// The interruption listener is the only concurrent activity; it
	// never touches session state directly. It owns stdin: the wizard
	// reads the listener's forwarded output, never stdin itself, so the
	// two cannot compete for keystrokes.
	ctrl := interrupt.NewController()
	operatorIn := io.Reader(os.Stdin)
	restore, err := interrupt.RawMode(os.Stdin)
	if err != nil {
		logger.Warn("interruption key disabled: %v", err)
	} else {
		defer restore()
		listener := interrupt.NewListener(os.Stdin, ctrl)
		operatorIn = listener.Output()
		listener.EchoTo(os.Stderr)
		listener.Start(ctx)
		fmt.Fprintln(os.Stderr, "Press Ctrl+G at any time to interrupt and give the agent guidance.")
	}

	coordinator, err := debugger.New(debugger.Config{
		WorkflowKind:   kind,
		MaxAttempts:    cfg.Debug.MaxAttempts,
		AutoDebug:      cfg.Debug.Auto,
		SchemaHint:     schemaHint,
		ProgramFile:    cfg.Sandbox.ProgramFile,
		Env:            env,
		SandboxTimeout: cfg.Sandbox.Timeout(),
		Fixer:          fx,
		Runner:         runner,
		Operator:       wizard.New(operatorIn, os.Stderr),
		Interrupts:     ctrl,
		Journal:        journal,
		Recorder:       metrics.NewPrometheusRecorder(),
		Provider:       cfg.Agent.Provider,
		Model:          cfg.Agent.Model,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Coordinator setup error: %v\n", err)
		return 1
	}

	report, err := coordinator.Run(ctx, string(code))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Debug session failed: %v\n", err)
		return 1
	}

	printReport(report)

	if report.FinalState == proto.StateSuccess {
		if err := os.WriteFile(codeFile, []byte(report.FinalCode), 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not write final program back to %s: %v\n", codeFile, err)
		} else {
			fmt.Fprintf(os.Stderr, "Final program written to %s.\n", codeFile)
		}
		return 0
	}
	return 1
}

// loadCredentials unlocks the encrypted store when present; without one
// the sandbox inherits only the parent environment.
func loadCredentials(dir string) ([]string, error) {
	store := config.OpenCredentialStore(dir)
	if !store.Exists() {
		return nil, nil
	}

	fmt.Fprint(os.Stderr, "Credential store password: ")
	password, err := term.ReadPassword(syscall.Stdin)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("failed to read password: %w", err)
	}
	if err := store.Unlock(string(password)); err != nil {
		return nil, err
	}
	return store.EnvSlice(), nil
}

func printReport(report *debugger.Report) {
	fmt.Fprintf(os.Stderr, "\nSession %s finished: %s\n", report.SessionID, report.FinalState)
	fmt.Fprintf(os.Stderr, "Attempts: %d (%d fix(es))\n", report.AttemptCount, report.FixCount)

	switch {
	case report.FinalState == proto.StateSuccess && report.Override:
		fmt.Fprintln(os.Stderr, "Result: success by operator override (not classifier-confirmed).")
	case report.FinalState == proto.StateSuccess:
		fmt.Fprintf(os.Stderr, "Result: success (%s confidence).\n", report.LastVerdict.Confidence)
	default:
		fmt.Fprintf(os.Stderr, "Final verdict: %s (%s)\n", report.LastVerdict.Outcome, report.LastVerdict.Confidence)
		if len(report.LastVerdict.KeyIndicators) > 0 {
			fmt.Fprintln(os.Stderr, "Evidence from the last run:")
			for _, frag := range report.LastVerdict.KeyIndicators {
				fmt.Fprintf(os.Stderr, "  | %s\n", frag)
			}
		}
	}

	if report.GoBack {
		fmt.Fprintln(os.Stderr, "Returning to the previous step.")
	}
}
