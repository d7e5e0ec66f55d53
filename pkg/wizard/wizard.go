// Package wizard implements the terminal-facing human operator: the
// decision menu shown when the coordinator stops, and the free-text
// prompts for feedback, replacement code, and interruption guidance.
package wizard

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"connectorwiz/pkg/debugger"
	"connectorwiz/pkg/proto"
)

// codeEndMarker terminates manual code entry.
const codeEndMarker = "EOF"

// menu maps the numeric choices to decisions, in display order.
//
//nolint:gochecknoglobals // Fixed menu definition
var menu = []struct {
	decision proto.Decision
	label    string
}{
	{proto.DecisionAgentFix, "Let the agent fix it"},
	{proto.DecisionManualFeedback, "Give the agent feedback, then fix"},
	{proto.DecisionManualCode, "Paste a corrected program yourself"},
	{proto.DecisionContinueAnyway, "Continue anyway (treat as working)"},
	{proto.DecisionAbort, "Abort this debug session"},
	{proto.DecisionGoBack, "Go back to the previous step"},
	{proto.DecisionAutoDebug, "Auto-debug (keep fixing until it works or attempts run out)"},
}

// Wizard is a terminal implementation of debugger.Operator.
type Wizard struct {
	in  *bufio.Reader
	out io.Writer
}

// New creates a wizard reading choices from in and writing prompts to out.
func New(in io.Reader, out io.Writer) *Wizard {
	return &Wizard{
		in:  bufio.NewReader(in),
		out: out,
	}
}

// Decide implements debugger.Operator.
func (w *Wizard) Decide(ctx context.Context, prompt debugger.DecisionPrompt) (proto.Decision, error) {
	w.renderVerdict(prompt)

	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		fmt.Fprintln(w.out, "\nWhat do you want to do?")
		for i, item := range menu {
			fmt.Fprintf(w.out, "  %d. %s\n", i+1, item.label)
		}
		fmt.Fprint(w.out, "> ")

		line, err := w.readLine()
		if err != nil {
			return "", err
		}

		choice := strings.TrimSpace(line)
		for i, item := range menu {
			if choice == fmt.Sprintf("%d", i+1) {
				return item.decision, nil
			}
		}
		fmt.Fprintf(w.out, "Please enter a number between 1 and %d.\n", len(menu))
	}
}

func (w *Wizard) renderVerdict(prompt debugger.DecisionPrompt) {
	v := prompt.Verdict
	fmt.Fprintf(w.out, "\nAttempt %d of %d did not pass.\n", prompt.AttemptCount, prompt.MaxAttempts+1)
	fmt.Fprintf(w.out, "Verdict: %s (confidence %s)\n", v.Outcome, v.Confidence)
	if v.Reasoning != "" {
		fmt.Fprintf(w.out, "Why: %s\n", v.Reasoning)
	}
	if len(v.KeyIndicators) > 0 {
		fmt.Fprintln(w.out, "Evidence from the logs:")
		for _, frag := range v.KeyIndicators {
			fmt.Fprintf(w.out, "  | %s\n", frag)
		}
	}
	if v.IsTimeout {
		fmt.Fprintln(w.out, "Note: the run hit the sandbox time limit.")
	}
	if prompt.RepetitionSeen {
		fmt.Fprintln(w.out, "Warning: the last fix was identical to the code it was supposed to repair.")
	}
}

// ManualFeedback implements debugger.Operator.
func (w *Wizard) ManualFeedback(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	fmt.Fprint(w.out, "Describe what the agent should try differently:\n> ")
	line, err := w.readLine()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// ManualCode implements debugger.Operator. The program is read line by
// line until a line containing only the end marker.
func (w *Wizard) ManualCode(ctx context.Context) (string, error) {
	fmt.Fprintf(w.out, "Paste the corrected program. Finish with a line containing only %q:\n", codeEndMarker)

	var lines []string
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		line, err := w.readLine()
		if err != nil {
			if err == io.EOF && len(lines) > 0 {
				break
			}
			return "", err
		}
		if strings.TrimSpace(line) == codeEndMarker {
			break
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n"), nil
}

// Guidance implements debugger.Operator.
func (w *Wizard) Guidance(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	fmt.Fprint(w.out, "\nInterrupted. Guidance for the next fix attempt:\n> ")
	line, err := w.readLine()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (w *Wizard) readLine() (string, error) {
	line, err := w.in.ReadString('\n')
	if err != nil {
		if err == io.EOF && line != "" {
			return strings.TrimRight(line, "\r\n"), nil
		}
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
