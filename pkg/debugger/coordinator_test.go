package debugger

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"connectorwiz/pkg/fixer"
	"connectorwiz/pkg/interrupt"
	"connectorwiz/pkg/metrics"
	"connectorwiz/pkg/proto"
)

// stubRunner replays a scripted sequence of log bodies, one per run.
type stubRunner struct {
	logs  []string
	calls int
	codes []string // code snapshots received, in order
}

func (r *stubRunner) DeployAndRun(_ context.Context, code string, _ []string, _ time.Duration) (string, error) {
	r.codes = append(r.codes, code)
	if r.calls >= len(r.logs) {
		r.calls++
		return r.logs[len(r.logs)-1], nil
	}
	out := r.logs[r.calls]
	r.calls++
	return out, nil
}

// stubFixer returns scripted code snapshots and records its requests.
type stubFixer struct {
	codes    []string
	calls    int
	requests []fixer.Request
	err      error
}

func (f *stubFixer) Fix(_ context.Context, req fixer.Request) (fixer.Result, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return fixer.Result{}, f.err
	}
	var code string
	if f.calls < len(f.codes) {
		code = f.codes[f.calls]
	} else {
		code = fmt.Sprintf("fix-%d", f.calls)
	}
	f.calls++
	return fixer.Result{
		Code:           code,
		ReasoningTrace: fmt.Sprintf("reasoning for fix %d", f.calls),
		VisibleOutput:  fmt.Sprintf("explanation %d", f.calls),
	}, nil
}

// stubOperator replays scripted decisions.
type stubOperator struct {
	decisions []proto.Decision
	calls     int
	prompts   []DecisionPrompt
	feedback  string
	code      string
	guidance  string
}

func (o *stubOperator) Decide(_ context.Context, prompt DecisionPrompt) (proto.Decision, error) {
	o.prompts = append(o.prompts, prompt)
	if o.calls >= len(o.decisions) {
		return proto.DecisionAbort, nil
	}
	d := o.decisions[o.calls]
	o.calls++
	return d, nil
}

func (o *stubOperator) ManualFeedback(_ context.Context) (string, error) { return o.feedback, nil }
func (o *stubOperator) ManualCode(_ context.Context) (string, error)     { return o.code, nil }
func (o *stubOperator) Guidance(_ context.Context) (string, error)       { return o.guidance, nil }

// recordingRecorder captures context-size observations; everything else
// falls through to the no-op.
type recordingRecorder struct {
	metrics.NopRecorder
	contextTokens []int
}

func (r *recordingRecorder) ObserveContextTokens(tokens int) {
	r.contextTokens = append(r.contextTokens, tokens)
}

const failLog = "Traceback (most recent call last):\n  File \"connector.py\", line 3\nValueError: bad input"
const passLog = "42 records fetched from upstream\n42 records published to topic"

func newTestCoordinator(t *testing.T, cfg Config) *Coordinator {
	t.Helper()
	c, err := New(cfg)
	require.NoError(t, err)
	return c
}

func TestFirstRunSucceeds(t *testing.T) {
	runner := &stubRunner{logs: []string{passLog}}
	c := newTestCoordinator(t, Config{
		WorkflowKind: proto.WorkflowSource,
		MaxAttempts:  10,
		Fixer:        &stubFixer{},
		Runner:       runner,
		Operator:     &stubOperator{},
	})

	report, err := c.Run(context.Background(), "print('v0')")
	require.NoError(t, err)

	assert.Equal(t, proto.StateSuccess, report.FinalState)
	assert.Equal(t, 1, report.AttemptCount)
	assert.Equal(t, 0, report.FixCount)
	assert.False(t, report.Override)
	assert.Equal(t, "print('v0')", report.FinalCode)
}

func TestFailThenAgentFixThenPass(t *testing.T) {
	runner := &stubRunner{logs: []string{failLog, passLog}}
	fx := &stubFixer{codes: []string{"print('v1')"}}
	op := &stubOperator{decisions: []proto.Decision{proto.DecisionAgentFix}}
	c := newTestCoordinator(t, Config{
		WorkflowKind: proto.WorkflowSource,
		MaxAttempts:  10,
		Fixer:        fx,
		Runner:       runner,
		Operator:     op,
	})

	report, err := c.Run(context.Background(), "print('v0')")
	require.NoError(t, err)

	assert.Equal(t, proto.StateSuccess, report.FinalState)
	assert.Equal(t, 2, report.AttemptCount)
	assert.Equal(t, "print('v1')", report.FinalCode)

	// The fix request carries the cumulative error context.
	require.Len(t, fx.requests, 1)
	assert.Contains(t, fx.requests[0].ErrorEvolution, "ValueError: bad input")
	assert.Equal(t, "print('v0')", fx.requests[0].Code)

	// Each fix is validated before the next decision.
	assert.Equal(t, []string{"print('v0')", "print('v1')"}, runner.codes)
}

func TestFixRequestsReportContextSize(t *testing.T) {
	runner := &stubRunner{logs: []string{failLog, passLog}}
	fx := &stubFixer{codes: []string{"print('v1')"}}
	op := &stubOperator{decisions: []proto.Decision{proto.DecisionAgentFix}}
	rec := &recordingRecorder{}
	c := newTestCoordinator(t, Config{
		WorkflowKind: proto.WorkflowSource,
		MaxAttempts:  10,
		Fixer:        fx,
		Runner:       runner,
		Operator:     op,
		Recorder:     rec,
	})

	_, err := c.Run(context.Background(), "print('v0')")
	require.NoError(t, err)

	// One observation per fixer invocation, measuring the accumulated
	// error + reasoning context.
	require.Len(t, rec.contextTokens, 1)
	assert.Greater(t, rec.contextTokens[0], 0)
}

func TestAutoDebugExhaustsAtMaxAttempts(t *testing.T) {
	runner := &stubRunner{logs: []string{failLog}}
	fx := &stubFixer{}
	op := &stubOperator{}
	c := newTestCoordinator(t, Config{
		WorkflowKind: proto.WorkflowSource,
		MaxAttempts:  10,
		AutoDebug:    true,
		Fixer:        fx,
		Runner:       runner,
		Operator:     op,
	})

	report, err := c.Run(context.Background(), "print('v0')")
	require.NoError(t, err)

	assert.Equal(t, proto.StateExhausted, report.FinalState)
	assert.Equal(t, 10, report.FixCount, "exhausted on the 10th failed fix, never an 11th")
	assert.LessOrEqual(t, report.AttemptCount, 10+1)
	assert.Equal(t, 10, fx.calls)
	assert.Empty(t, op.prompts, "high-confidence failures never stop in auto mode")
}

func TestContinueAnywayIsSuccessByOverride(t *testing.T) {
	runner := &stubRunner{logs: []string{failLog}}
	op := &stubOperator{decisions: []proto.Decision{proto.DecisionContinueAnyway}}
	c := newTestCoordinator(t, Config{
		WorkflowKind: proto.WorkflowSink,
		MaxAttempts:  10,
		Fixer:        &stubFixer{},
		Runner:       runner,
		Operator:     op,
	})

	report, err := c.Run(context.Background(), "print('v0')")
	require.NoError(t, err)

	assert.Equal(t, proto.StateSuccess, report.FinalState)
	assert.True(t, report.Override, "continue-anyway must be distinct from classifier success")
}

func TestAbortTerminatesSession(t *testing.T) {
	runner := &stubRunner{logs: []string{failLog}}
	op := &stubOperator{decisions: []proto.Decision{proto.DecisionAbort}}
	c := newTestCoordinator(t, Config{
		WorkflowKind: proto.WorkflowSource,
		MaxAttempts:  10,
		Fixer:        &stubFixer{},
		Runner:       runner,
		Operator:     op,
	})

	report, err := c.Run(context.Background(), "print('v0')")
	require.NoError(t, err)
	assert.Equal(t, proto.StateAborted, report.FinalState)
	assert.False(t, report.GoBack)
}

func TestGoBackIsDistinguishedFromAbort(t *testing.T) {
	runner := &stubRunner{logs: []string{failLog}}
	op := &stubOperator{decisions: []proto.Decision{proto.DecisionGoBack}}
	c := newTestCoordinator(t, Config{
		WorkflowKind: proto.WorkflowSource,
		MaxAttempts:  10,
		Fixer:        &stubFixer{},
		Runner:       runner,
		Operator:     op,
	})

	report, err := c.Run(context.Background(), "print('v0')")
	require.NoError(t, err)
	assert.Equal(t, proto.StateAborted, report.FinalState)
	assert.True(t, report.GoBack)
}

func TestManualCodeIsRetested(t *testing.T) {
	runner := &stubRunner{logs: []string{failLog, passLog}}
	op := &stubOperator{
		decisions: []proto.Decision{proto.DecisionManualCode},
		code:      "print('hand edited')",
	}
	c := newTestCoordinator(t, Config{
		WorkflowKind: proto.WorkflowSource,
		MaxAttempts:  10,
		Fixer:        &stubFixer{},
		Runner:       runner,
		Operator:     op,
	})

	report, err := c.Run(context.Background(), "print('v0')")
	require.NoError(t, err)

	assert.Equal(t, proto.StateSuccess, report.FinalState)
	assert.Equal(t, "print('hand edited')", report.FinalCode)
	assert.Equal(t, []string{"print('v0')", "print('hand edited')"}, runner.codes)
}

func TestManualFeedbackReachesNextFix(t *testing.T) {
	runner := &stubRunner{logs: []string{failLog, passLog}}
	fx := &stubFixer{codes: []string{"print('v1')"}}
	op := &stubOperator{
		decisions: []proto.Decision{proto.DecisionManualFeedback},
		feedback:  "the endpoint moved to /v2",
	}
	c := newTestCoordinator(t, Config{
		WorkflowKind: proto.WorkflowSource,
		MaxAttempts:  10,
		Fixer:        fx,
		Runner:       runner,
		Operator:     op,
	})

	_, err := c.Run(context.Background(), "print('v0')")
	require.NoError(t, err)

	require.Len(t, fx.requests, 1)
	assert.Equal(t, "the endpoint moved to /v2", fx.requests[0].Guidance)
}

func TestRepetitionForcesDecisionPointInAutoMode(t *testing.T) {
	runner := &stubRunner{logs: []string{failLog}}
	// The fixer keeps returning the input unchanged.
	fx := &stubFixer{codes: []string{"print('v0')", "print('v0')"}}
	op := &stubOperator{decisions: []proto.Decision{proto.DecisionAbort}}
	c := newTestCoordinator(t, Config{
		WorkflowKind: proto.WorkflowSource,
		MaxAttempts:  10,
		AutoDebug:    true,
		Fixer:        fx,
		Runner:       runner,
		Operator:     op,
	})

	report, err := c.Run(context.Background(), "print('v0')")
	require.NoError(t, err)

	assert.Equal(t, proto.StateAborted, report.FinalState)
	require.Len(t, op.prompts, 1, "identical code must surface, not silently loop")
	assert.True(t, op.prompts[0].RepetitionSeen)
	assert.Equal(t, 1, fx.calls)
}

func TestLowConfidenceRoutesToDecisionEvenInAuto(t *testing.T) {
	// A bare connection timeout for a Source with no polling evidence
	// classifies Ambiguous/Low and must stop for the human.
	timeoutLog := "connecting to upstream...\n" + proto.TimeoutMarker
	runner := &stubRunner{logs: []string{timeoutLog}}
	op := &stubOperator{decisions: []proto.Decision{proto.DecisionAbort}}
	c := newTestCoordinator(t, Config{
		WorkflowKind: proto.WorkflowSource,
		MaxAttempts:  10,
		AutoDebug:    true,
		Fixer:        &stubFixer{},
		Runner:       runner,
		Operator:     op,
	})

	report, err := c.Run(context.Background(), "print('v0')")
	require.NoError(t, err)

	assert.Equal(t, proto.StateAborted, report.FinalState)
	require.Len(t, op.prompts, 1)
	assert.True(t, op.prompts[0].Verdict.IsTimeout)
}

func TestInterruptionGuidanceAppearsInVeryNextFix(t *testing.T) {
	ctrl := interrupt.NewController()
	runner := &stubRunner{logs: []string{failLog, failLog, passLog}}

	// Enqueue guidance while the first fix is in flight.
	fx := &interruptingFixer{
		inner: &stubFixer{codes: []string{"print('v1')", "print('v2')"}},
		after: func(call int) {
			if call == 1 {
				ctrl.Enqueue("try basic auth instead")
			}
		},
	}
	c := newTestCoordinator(t, Config{
		WorkflowKind: proto.WorkflowSource,
		MaxAttempts:  10,
		AutoDebug:    true,
		Fixer:        fx,
		Runner:       runner,
		Operator:     &stubOperator{},
		Interrupts:   ctrl,
	})

	_, err := c.Run(context.Background(), "print('v0')")
	require.NoError(t, err)

	require.GreaterOrEqual(t, len(fx.inner.requests), 2)
	assert.Empty(t, fx.inner.requests[0].Guidance)
	assert.Equal(t, "try basic auth instead", fx.inner.requests[1].Guidance,
		"guidance must reach the very next invocation")
	if len(fx.inner.requests) > 2 {
		assert.Empty(t, fx.inner.requests[2].Guidance, "guidance is delivered exactly once")
	}
}

// interruptingFixer lets tests fire an interruption mid-session.
type interruptingFixer struct {
	inner *stubFixer
	after func(call int)
	calls int
}

func (f *interruptingFixer) Fix(ctx context.Context, req fixer.Request) (fixer.Result, error) {
	res, err := f.inner.Fix(ctx, req)
	f.calls++
	if f.after != nil {
		f.after(f.calls)
	}
	return res, err
}

func TestFixerFailureSurfacesToOperator(t *testing.T) {
	runner := &stubRunner{logs: []string{failLog}}
	fx := &stubFixer{err: fmt.Errorf("failed after 3 retries: 503")}
	op := &stubOperator{decisions: []proto.Decision{proto.DecisionAgentFix, proto.DecisionAbort}}
	c := newTestCoordinator(t, Config{
		WorkflowKind: proto.WorkflowSource,
		MaxAttempts:  10,
		Fixer:        fx,
		Runner:       runner,
		Operator:     op,
	})

	report, err := c.Run(context.Background(), "print('v0')")
	require.NoError(t, err)

	assert.Equal(t, proto.StateAborted, report.FinalState)
	assert.Len(t, op.prompts, 2, "fixer failure returns control to the human")
}

func TestCumulativeContextGrowsAcrossFixes(t *testing.T) {
	runner := &stubRunner{logs: []string{failLog, failLog, passLog}}
	fx := &stubFixer{codes: []string{"print('v1')", "print('v2')"}}
	c := newTestCoordinator(t, Config{
		WorkflowKind: proto.WorkflowSource,
		MaxAttempts:  10,
		AutoDebug:    true,
		Fixer:        fx,
		Runner:       runner,
		Operator:     &stubOperator{},
	})

	_, err := c.Run(context.Background(), "print('v0')")
	require.NoError(t, err)

	require.Len(t, fx.requests, 2)
	first := fx.requests[0]
	second := fx.requests[1]
	assert.Contains(t, second.ErrorEvolution, first.ErrorEvolution,
		"earlier context is a strict prefix of later context")
	assert.Contains(t, second.ReasoningEvolution, "reasoning for fix 1",
		"prior internal reasoning counts as already tried")
}

func TestReportCarriesLastVerdictEvidence(t *testing.T) {
	runner := &stubRunner{logs: []string{failLog}}
	op := &stubOperator{decisions: []proto.Decision{proto.DecisionAbort}}
	c := newTestCoordinator(t, Config{
		WorkflowKind: proto.WorkflowSource,
		MaxAttempts:  10,
		Fixer:        &stubFixer{},
		Runner:       runner,
		Operator:     op,
	})

	report, err := c.Run(context.Background(), "print('v0')")
	require.NoError(t, err)

	assert.NotEmpty(t, report.LastVerdict.KeyIndicators,
		"terminal non-success must present the evidence fragments")
	assert.Equal(t, 1, report.AttemptCount)
}
