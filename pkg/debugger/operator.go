package debugger

import (
	"context"

	"connectorwiz/pkg/classify"
	"connectorwiz/pkg/proto"
)

// DecisionPrompt is everything the operator sees at a decision point.
type DecisionPrompt struct {
	AttemptCount   int // attempts recorded so far, including the original
	FixCount       int
	MaxAttempts    int
	Verdict        classify.Result
	RepetitionSeen bool // last fix was byte-identical to its input
	LastLogs       string
}

// Operator is the human collaborator behind the decision menu. All
// methods block until the human answers; the coordinator is suspended
// meanwhile.
type Operator interface {
	// Decide presents the fixed menu and returns the chosen action.
	Decide(ctx context.Context, prompt DecisionPrompt) (proto.Decision, error)
	// ManualFeedback collects free-text guidance for the next fix.
	ManualFeedback(ctx context.Context) (string, error)
	// ManualCode collects a complete operator-edited replacement program.
	ManualCode(ctx context.Context) (string, error)
	// Guidance collects interruption guidance after a signal was latched.
	Guidance(ctx context.Context) (string, error)
}
