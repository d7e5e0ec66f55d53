// Package debugger implements the top-level debug coordinator: a bounded
// state machine that runs a candidate connector program in the sandbox,
// classifies its logs, and drives the fixer agent until the program
// works, the operator intervenes, or the attempt budget is exhausted.
package debugger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"connectorwiz/pkg/classify"
	"connectorwiz/pkg/fixer"
	"connectorwiz/pkg/history"
	"connectorwiz/pkg/interrupt"
	"connectorwiz/pkg/logx"
	"connectorwiz/pkg/metrics"
	"connectorwiz/pkg/proto"
	"connectorwiz/pkg/sandbox"
)

// Transitions is the canonical transition table. Every state change the
// coordinator makes is validated against it.
//
//nolint:gochecknoglobals // Single source of truth for legal transitions
var Transitions = map[proto.State][]proto.State{
	proto.StateInit:        {proto.StateTesting},
	proto.StateTesting:     {proto.StateClassifying},
	proto.StateClassifying: {proto.StateSuccess, proto.StateAwaitingUserDecision, proto.StateAwaitingFix, proto.StateExhausted},
	proto.StateAwaitingUserDecision: {
		proto.StateAwaitingFix, proto.StateTesting,
		proto.StateSuccess, proto.StateAborted,
	},
	proto.StateAwaitingFix: {proto.StateTesting, proto.StateAwaitingUserDecision},
}

// Journal receives session lifecycle events. persistence.Journal is the
// production implementation; a nil Journal disables recording.
type Journal interface {
	BeginSession(sessionID, workflowKind string) error
	RecordAttempt(sessionID string, attempt *history.Attempt) error
	FinishSession(sessionID, finalState, outcome string, override bool) error
}

// Config assembles a Coordinator.
type Config struct {
	WorkflowKind   proto.WorkflowKind
	MaxAttempts    int
	AutoDebug      bool
	SchemaHint     string
	ProgramFile    string
	Env            []string // sandbox environment, KEY=VALUE
	SandboxTimeout time.Duration

	Fixer      fixer.Fixer
	Runner     sandbox.Runner
	Operator   Operator
	Interrupts *interrupt.Controller
	Journal    Journal
	Recorder   metrics.Recorder

	// Labels for fix metrics.
	Provider string
	Model    string
}

// session is the mutable per-run state, owned exclusively by Run.
type session struct {
	id           string
	state        proto.State
	history      *history.History
	currentCode  string
	auto         bool
	override     bool // success came from continue-anyway
	goBack       bool
	repetition   bool   // last fix was byte-identical
	guidance     string // pending operator guidance, delivered to the next fix
	pendingLogs  string // logs of the run being classified
	pendingTrace fixer.Result
	lastVerdict  classify.Result
}

// Report is the terminal outcome of a session.
type Report struct {
	SessionID    string
	FinalState   proto.State
	AttemptCount int
	FixCount     int
	Override     bool // success-by-override, not classifier-confirmed
	GoBack       bool // operator chose to return to the previous phase
	LastVerdict  classify.Result
	FinalCode    string
	History      []history.Attempt
}

// Coordinator drives the fix/test loop.
type Coordinator struct {
	cfg        Config
	classifier *classify.Classifier
	recorder   metrics.Recorder
	logger     *logx.Logger
}

// New creates a Coordinator. Fixer, Runner, and Operator are required;
// Interrupts, Journal, and Recorder are optional.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Fixer == nil || cfg.Runner == nil || cfg.Operator == nil {
		return nil, fmt.Errorf("fixer, runner, and operator are required")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	rec := cfg.Recorder
	if rec == nil {
		rec = metrics.NopRecorder{}
	}
	return &Coordinator{
		cfg:        cfg,
		classifier: classify.New(),
		recorder:   rec,
		logger:     logx.NewLogger("debugger"),
	}, nil
}

// Run executes one debug session over the given starting program and
// blocks until a terminal state. The starting program becomes attempt 0.
func (c *Coordinator) Run(ctx context.Context, initialCode string) (*Report, error) {
	s := &session{
		id:          uuid.New().String(),
		state:       proto.StateInit,
		history:     history.New(),
		currentCode: initialCode,
		auto:        c.cfg.AutoDebug,
	}

	if c.cfg.Journal != nil {
		if err := c.cfg.Journal.BeginSession(s.id, string(c.cfg.WorkflowKind)); err != nil {
			c.logger.Warn("journal rejected session start: %v", err)
		}
	}
	c.logger.Info("debug session %s started (%s, max %d fixes, auto=%v)",
		s.id, c.cfg.WorkflowKind, c.cfg.MaxAttempts, s.auto)

	for !s.state.IsTerminal() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		next, err := c.processState(ctx, s)
		if err != nil {
			return nil, fmt.Errorf("in state %s: %w", s.state, err)
		}
		if err := c.transition(s, next); err != nil {
			return nil, err
		}

		// Interruption checkpoint: signals are consumed only between
		// discrete sub-steps, never mid-suspension.
		if !s.state.IsTerminal() {
			c.checkInterruption(ctx, s)
		}
	}

	report := c.buildReport(s)
	c.finishJournal(s)
	c.recorder.ObserveSessionEnd(string(s.state), report.AttemptCount)
	c.logger.Info("debug session %s finished: %s after %d attempt(s)",
		s.id, s.state, report.AttemptCount)
	return report, nil
}

func (c *Coordinator) processState(ctx context.Context, s *session) (proto.State, error) {
	switch s.state {
	case proto.StateInit:
		return proto.StateTesting, nil
	case proto.StateTesting:
		return c.handleTesting(ctx, s)
	case proto.StateClassifying:
		return c.handleClassifying(s)
	case proto.StateAwaitingUserDecision:
		return c.handleDecision(ctx, s)
	case proto.StateAwaitingFix:
		return c.handleFix(ctx, s)
	default:
		return "", fmt.Errorf("unknown coordinator state %s", s.state)
	}
}

func (c *Coordinator) transition(s *session, next proto.State) error {
	if next == s.state {
		return nil
	}
	for _, allowed := range Transitions[s.state] {
		if next == allowed {
			c.logger.DebugState("transition", fmt.Sprintf("%s -> %s", s.state, next))
			s.state = next
			return nil
		}
	}
	return fmt.Errorf("illegal transition %s -> %s", s.state, next)
}

// handleTesting deploys and runs the current code in the sandbox. A
// runner error means infrastructure failed before any program output
// existed; it is converted to an error-shaped log so the loop continues.
func (c *Coordinator) handleTesting(ctx context.Context, s *session) (proto.State, error) {
	start := time.Now()
	logs, err := c.cfg.Runner.DeployAndRun(ctx, s.currentCode, c.cfg.Env, c.cfg.SandboxTimeout)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		c.logger.Warn("sandbox infrastructure error: %v", err)
		logs = fmt.Sprintf("[sandbox] infrastructure error: %v", err)
	}
	s.pendingLogs = logs

	timedOut := strings.Contains(logs, proto.TimeoutMarker)
	c.recorder.ObserveSandboxRun(string(c.cfg.WorkflowKind), timedOut, time.Since(start))
	return proto.StateClassifying, nil
}

// handleClassifying classifies the pending logs, seals the attempt into
// history, and decides where the session goes next.
func (c *Coordinator) handleClassifying(s *session) (proto.State, error) {
	result := c.classifier.Classify(s.pendingLogs, c.cfg.WorkflowKind)
	s.lastVerdict = result
	c.recorder.ObserveClassification(string(result.Outcome), string(result.Confidence))

	attempt := history.Attempt{
		Index:          s.history.Len(),
		CodeSnapshot:   s.currentCode,
		ErrorLogs:      s.pendingLogs,
		ReasoningTrace: splitTrace(s.pendingTrace.ReasoningTrace),
		VisibleOutput:  splitTrace(s.pendingTrace.VisibleOutput),
		Classification: result,
		IsTimeout:      result.IsTimeout,
	}
	if err := s.history.Append(attempt); err != nil {
		return "", err
	}
	s.pendingTrace = fixer.Result{}
	if c.cfg.Journal != nil {
		if err := c.cfg.Journal.RecordAttempt(s.id, &attempt); err != nil {
			c.logger.Warn("journal rejected attempt %d: %v", attempt.Index, err)
		}
	}

	c.logger.Info("attempt %d classified %s (%s): %s",
		attempt.Index, result.Outcome, result.Confidence, result.Reasoning)

	if result.Outcome == classify.OutcomeSuccess {
		return proto.StateSuccess, nil
	}

	fixCount := s.history.Len() - 1
	if fixCount >= c.cfg.MaxAttempts {
		return proto.StateExhausted, nil
	}

	// Low confidence and coordinator-detected repetition always stop at
	// a decision point, even in auto mode.
	if s.auto && result.Confidence != classify.ConfidenceLow && !s.repetition {
		return proto.StateAwaitingFix, nil
	}
	return proto.StateAwaitingUserDecision, nil
}

func (c *Coordinator) handleDecision(ctx context.Context, s *session) (proto.State, error) {
	prompt := DecisionPrompt{
		AttemptCount:   s.history.Len(),
		FixCount:       s.history.Len() - 1,
		MaxAttempts:    c.cfg.MaxAttempts,
		Verdict:        s.lastVerdict,
		RepetitionSeen: s.repetition,
		LastLogs:       s.pendingLogs,
	}

	decision, err := c.cfg.Operator.Decide(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("operator decision failed: %w", err)
	}
	s.repetition = false

	switch decision {
	case proto.DecisionAgentFix:
		return proto.StateAwaitingFix, nil
	case proto.DecisionAutoDebug:
		s.auto = true
		return proto.StateAwaitingFix, nil
	case proto.DecisionManualFeedback:
		text, err := c.cfg.Operator.ManualFeedback(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to collect feedback: %w", err)
		}
		s.guidance = text
		return proto.StateAwaitingFix, nil
	case proto.DecisionManualCode:
		code, err := c.cfg.Operator.ManualCode(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to collect code: %w", err)
		}
		s.currentCode = code
		return proto.StateTesting, nil
	case proto.DecisionContinueAnyway:
		s.override = true
		return proto.StateSuccess, nil
	case proto.DecisionAbort:
		return proto.StateAborted, nil
	case proto.DecisionGoBack:
		s.goBack = true
		return proto.StateAborted, nil
	default:
		return "", fmt.Errorf("operator returned unknown decision %q", decision)
	}
}

// handleFix invokes the fixer agent with the full cumulative context.
// Pending guidance is delivered to exactly this invocation and cleared.
func (c *Coordinator) handleFix(ctx context.Context, s *session) (proto.State, error) {
	last, _ := s.history.Last()

	tokens := s.history.ContextTokens()
	c.recorder.ObserveContextTokens(tokens)
	c.logger.Info("invoking fixer for attempt %d: cumulative context is ~%d tokens", s.history.Len(), tokens)

	req := fixer.Request{
		WorkflowKind:       string(c.cfg.WorkflowKind),
		ProgramFile:        c.cfg.ProgramFile,
		Code:               s.currentCode,
		ErrorEvolution:     s.history.ErrorEvolution(),
		ReasoningEvolution: s.history.ReasoningEvolution(),
		SchemaHint:         c.cfg.SchemaHint,
		Guidance:           s.guidance,
		AttemptNumber:      s.history.Len(),
		MaxAttempts:        c.cfg.MaxAttempts,
		LastRunTimedOut:    last.IsTimeout,
	}
	s.guidance = ""

	start := time.Now()
	result, err := c.cfg.Fixer.Fix(ctx, req)
	c.recorder.ObserveFix(c.cfg.Provider, c.cfg.Model, err == nil, time.Since(start))
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		// Retries are already spent inside the client; surface the
		// failure to the human instead of looping on it.
		c.logger.Error("fixer invocation failed: %v", err)
		s.auto = false
		return proto.StateAwaitingUserDecision, nil
	}

	if result.Code == s.currentCode {
		// An unmodified snapshot is not a completed fix. It is still
		// tested once, but the repetition forces a decision point.
		c.logger.Warn("fixer returned byte-identical code on attempt %d", s.history.Len())
		s.repetition = true
	}

	s.currentCode = result.Code
	s.pendingTrace = result
	return proto.StateTesting, nil
}

// checkInterruption consumes a latched signal, synchronously collects
// guidance, and resumes the prior state. Last guidance wins.
func (c *Coordinator) checkInterruption(ctx context.Context, s *session) {
	ctrl := c.cfg.Interrupts
	if ctrl == nil || !ctrl.Pending() {
		return
	}

	resumeState := s.state
	s.state = proto.StateInterrupted
	c.recorder.IncInterruption()
	c.logger.Info("interruption acknowledged; collecting guidance")

	guidance, ok := ctrl.Drain()
	if !ok || guidance == "" {
		text, err := c.cfg.Operator.Guidance(ctx)
		if err != nil {
			c.logger.Warn("failed to collect interruption guidance: %v", err)
		} else {
			guidance = text
		}
	}
	if guidance != "" {
		s.guidance = guidance
	}
	s.state = resumeState
}

func (c *Coordinator) buildReport(s *session) *Report {
	return &Report{
		SessionID:    s.id,
		FinalState:   s.state,
		AttemptCount: s.history.Len(),
		FixCount:     maxInt(s.history.Len()-1, 0),
		Override:     s.override,
		GoBack:       s.goBack,
		LastVerdict:  s.lastVerdict,
		FinalCode:    s.currentCode,
		History:      s.history.All(),
	}
}

func (c *Coordinator) finishJournal(s *session) {
	if c.cfg.Journal == nil {
		return
	}
	outcome := string(s.state)
	if s.goBack {
		outcome = "GO_BACK"
	}
	if err := c.cfg.Journal.FinishSession(s.id, string(s.state), outcome, s.override); err != nil {
		c.logger.Warn("journal rejected session finish: %v", err)
	}
}

func splitTrace(s string) []string {
	if s == "" {
		return nil
	}
	return []string{s}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
