// Package proto defines the shared vocabulary of the debug orchestration
// engine: coordinator states, workflow kinds, operator decisions, and the
// markers exchanged with the sandbox runner. It is the single source of
// truth for state names; code, tests, and diagrams must match it exactly.
package proto

import "fmt"

// State represents a coordinator state machine state.
type State string

// Coordinator states. INIT is the entry state; SUCCESS, ABORTED and
// EXHAUSTED are terminal.
const (
	StateInit                 State = "INIT"
	StateTesting              State = "TESTING"
	StateClassifying          State = "CLASSIFYING"
	StateAwaitingUserDecision State = "AWAITING_USER_DECISION"
	StateAwaitingFix          State = "AWAITING_FIX"
	StateSuccess              State = "SUCCESS"
	StateAborted              State = "ABORTED"
	StateExhausted            State = "EXHAUSTED"
	StateInterrupted          State = "INTERRUPTED"
)

// IsTerminal reports whether s ends a debug session.
func (s State) IsTerminal() bool {
	return s == StateSuccess || s == StateAborted || s == StateExhausted
}

// String returns the state name.
func (s State) String() string {
	return string(s)
}

// WorkflowKind distinguishes the two connector directions. A Source reads
// from an external system and publishes records; a Sink consumes records
// and writes them to a destination.
type WorkflowKind string

const (
	// WorkflowSource is a connector that pulls data from an external system.
	WorkflowSource WorkflowKind = "source"
	// WorkflowSink is a connector that writes data to a destination system.
	WorkflowSink WorkflowKind = "sink"
)

// ParseWorkflowKind converts a user-supplied string to a WorkflowKind.
func ParseWorkflowKind(s string) (WorkflowKind, error) {
	switch WorkflowKind(s) {
	case WorkflowSource, WorkflowSink:
		return WorkflowKind(s), nil
	default:
		return "", fmt.Errorf("unknown workflow kind %q (want %q or %q)", s, WorkflowSource, WorkflowSink)
	}
}

// Decision is one of the fixed menu actions the human operator can take
// when the coordinator stops at a decision point.
type Decision string

const (
	// DecisionAgentFix asks the fixer agent for a single repaired snapshot.
	DecisionAgentFix Decision = "AGENT_FIX"
	// DecisionManualFeedback supplies free-text guidance for the next fix.
	DecisionManualFeedback Decision = "MANUAL_FEEDBACK"
	// DecisionManualCode replaces the current code with an operator edit.
	DecisionManualCode Decision = "MANUAL_CODE"
	// DecisionContinueAnyway overrides the verdict and ends the session as
	// a success-by-override, distinct from classifier-confirmed success.
	DecisionContinueAnyway Decision = "CONTINUE_ANYWAY"
	// DecisionAbort terminates the session without a working snapshot.
	DecisionAbort Decision = "ABORT"
	// DecisionGoBack returns control to the caller's previous phase.
	DecisionGoBack Decision = "GO_BACK"
	// DecisionAutoDebug enables the bounded automatic fix/test loop.
	DecisionAutoDebug Decision = "AUTO_DEBUG"
)

// ParseDecision validates a decision string received from an operator.
func ParseDecision(s string) (Decision, error) {
	switch Decision(s) {
	case DecisionAgentFix, DecisionManualFeedback, DecisionManualCode,
		DecisionContinueAnyway, DecisionAbort, DecisionGoBack, DecisionAutoDebug:
		return Decision(s), nil
	default:
		return "", fmt.Errorf("unknown decision %q", s)
	}
}

// TimeoutMarker is appended to the log body by sandbox runners when the
// wall-clock execution bound is exceeded. The classifier keys off this
// exact fragment, so it must never be reworded casually.
const TimeoutMarker = "[sandbox] execution timed out"
