// Package history keeps the append-only record of a debug session's
// attempts and builds the cumulative context handed to the fixer agent.
// Completeness is the point: the anti-repetition guarantee depends on
// every prior attempt being visible, so nothing here samples or truncates.
package history

import (
	"fmt"
	"strings"
	"time"

	"connectorwiz/pkg/classify"
	"connectorwiz/pkg/utils"
)

// Attempt is one fix-and-test cycle. Index 0 is the originally generated
// code; indices 1..N are fixer-produced snapshots. Once appended to a
// History an Attempt is immutable.
type Attempt struct {
	Index          int
	CodeSnapshot   string
	ErrorLogs      string   // raw text produced by running CodeSnapshot
	ReasoningTrace []string // the fixer's internal deliberation, in order
	VisibleOutput  []string // what the fixer showed the user, in order
	Classification classify.Result
	IsTimeout      bool
	Timestamp      time.Time
}

// History is the ordered, append-only sequence of attempts in a session.
// It is owned by the coordinator and only ever appended to between the
// coordinator's suspension points, so reads are always consistent.
type History struct {
	attempts []Attempt
	counter  *utils.TokenCounter
}

// New creates an empty history.
func New() *History {
	// A nil counter falls back to estimation, so the error is not fatal.
	counter, _ := utils.NewTokenCounter()
	return &History{counter: counter}
}

// Append records a completed attempt. The attempt's Index must equal the
// current length, which makes out-of-order or duplicate appends a
// programming error surfaced immediately.
func (h *History) Append(a Attempt) error {
	if a.Index != len(h.attempts) {
		return fmt.Errorf("attempt index %d out of order (expected %d)", a.Index, len(h.attempts))
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now().UTC()
	}
	// Copy the trace slices so later caller mutations cannot rewrite
	// recorded history.
	a.ReasoningTrace = append([]string(nil), a.ReasoningTrace...)
	a.VisibleOutput = append([]string(nil), a.VisibleOutput...)
	a.Classification.KeyIndicators = append([]string(nil), a.Classification.KeyIndicators...)

	h.attempts = append(h.attempts, a)
	return nil
}

// Len returns the number of recorded attempts.
func (h *History) Len() int {
	return len(h.attempts)
}

// Attempt returns a copy of the attempt at the given index.
func (h *History) Attempt(i int) (Attempt, error) {
	if i < 0 || i >= len(h.attempts) {
		return Attempt{}, fmt.Errorf("attempt index %d out of range [0,%d)", i, len(h.attempts))
	}
	return copyAttempt(&h.attempts[i]), nil
}

// Last returns a copy of the most recent attempt, if any.
func (h *History) Last() (Attempt, bool) {
	if len(h.attempts) == 0 {
		return Attempt{}, false
	}
	return copyAttempt(&h.attempts[len(h.attempts)-1]), true
}

// All returns copies of every attempt in insertion order.
func (h *History) All() []Attempt {
	out := make([]Attempt, 0, len(h.attempts))
	for i := range h.attempts {
		out = append(out, copyAttempt(&h.attempts[i]))
	}
	return out
}

func copyAttempt(a *Attempt) Attempt {
	cp := *a
	cp.ReasoningTrace = append([]string(nil), a.ReasoningTrace...)
	cp.VisibleOutput = append([]string(nil), a.VisibleOutput...)
	cp.Classification.KeyIndicators = append([]string(nil), a.Classification.KeyIndicators...)
	return cp
}

// ErrorEvolution builds the error-context blob: the initial error
// followed by one labeled section per fix attempt showing the logs that
// fix produced. All attempts are always included; anti-repetition depends
// on completeness, not compactness.
func (h *History) ErrorEvolution() string {
	var b strings.Builder
	for i := range h.attempts {
		a := &h.attempts[i]
		if i == 0 {
			b.WriteString("=== Initial error (attempt 0) ===\n")
		} else {
			fmt.Fprintf(&b, "=== After applying fix %d, new logs ===\n", i)
		}
		b.WriteString(orPlaceholder(a.ErrorLogs, "(no output)"))
		b.WriteString("\n\n")
	}
	return b.String()
}

// ReasoningEvolution builds the reasoning-context blob: per attempt, the
// fixer's internal reasoning followed by its visible output, both clearly
// delimited. Reasoning never shown to the user still counts as "already
// tried", which is why the two channels are kept distinct.
func (h *History) ReasoningEvolution() string {
	var b strings.Builder
	for i := range h.attempts {
		a := &h.attempts[i]
		fmt.Fprintf(&b, "--- Attempt %d ---\n", i)
		b.WriteString("[internal reasoning]\n")
		b.WriteString(orPlaceholder(strings.Join(a.ReasoningTrace, "\n"), "(none)"))
		b.WriteString("\n[visible output]\n")
		b.WriteString(orPlaceholder(strings.Join(a.VisibleOutput, "\n"), "(none)"))
		b.WriteString("\n\n")
	}
	return b.String()
}

// ContextTokens reports the token size of both context blobs combined.
// Informational only: the builder never truncates.
func (h *History) ContextTokens() int {
	return h.counter.CountTokens(h.ErrorEvolution()) + h.counter.CountTokens(h.ReasoningEvolution())
}

func orPlaceholder(s, placeholder string) string {
	if strings.TrimSpace(s) == "" {
		return placeholder
	}
	return s
}
