// Package classify turns raw sandbox execution logs into a
// success/failure/ambiguous verdict. Classification is deterministic:
// identical log text and workflow kind always produce the same verdict,
// confidence, and key indicators.
package classify

import (
	"fmt"
	"regexp"
	"strings"

	"connectorwiz/pkg/proto"
)

// Outcome is the classifier's verdict over one execution.
type Outcome string

const (
	OutcomeSuccess   Outcome = "SUCCESS"
	OutcomeFailure   Outcome = "FAILURE"
	OutcomeAmbiguous Outcome = "AMBIGUOUS"
)

// Confidence grades how much independent evidence supports the verdict.
type Confidence string

const (
	ConfidenceHigh   Confidence = "HIGH"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceLow    Confidence = "LOW"
)

// Result is the transient value returned by Classify. It is never
// persisted on its own; the coordinator copies it into the Attempt record.
type Result struct {
	Outcome       Outcome
	Confidence    Confidence
	Reasoning     string
	KeyIndicators []string // literal log fragments that drove the verdict
	IsTimeout     bool
}

// Negative evidence categories, in fixed evaluation order. Distinct
// categories count as independent evidence when grading confidence.
const (
	catTraceback  = "traceback"
	catException  = "exception"
	catErrorLevel = "error_log"
	catConnection = "connection"
	catAuth       = "auth"
	catExit       = "exit_code"
)

var (
	tracebackRe  = regexp.MustCompile(`(?m)^Traceback \(most recent call last\):`)
	panicRe      = regexp.MustCompile(`(?m)^panic: `)
	exceptionRe  = regexp.MustCompile(`^\s*(?:[A-Za-z_][\w.]*\.)*[A-Z]\w*(?:Error|Exception)\s*:`)
	errorLevelRe = regexp.MustCompile(`^(?:\[[^\]]*\]\s*)*(?:ERROR|FATAL|CRITICAL)\b`)
	exitCodeRe   = regexp.MustCompile(`(?i)exit(?:ed)?(?: with)? (?:status|code)\s+([0-9]+)`)
	jsonKeyRe    = regexp.MustCompile(`"[\w.-]+"\s*:`)
)

// Phrase lists are matched case-insensitively per line, skipping lines
// that look like data payloads (see isDataLine). Order is fixed so output
// is deterministic.
var (
	connectionPhrases = []string{
		"connection refused",
		"connection reset",
		"could not connect",
		"failed to connect",
		"no route to host",
		"name or service not known",
		"network is unreachable",
		"econnrefused",
		"broken pipe",
	}

	authPhrases = []string{
		"401 unauthorized",
		"403 forbidden",
		"authentication failed",
		"authorization failed",
		"invalid api key",
		"invalid credentials",
		"access denied",
		"permission denied",
	}

	timeoutPhrases = []string{
		"timed out",
		"deadline exceeded",
		"timeout exceeded",
	}

	sourcePositivePhrases = []string{
		"records published",
		"record published",
		"records read",
		"records fetched",
		"records retrieved",
		"rows fetched",
		"messages consumed",
		"messages received",
		"emitted",
		"offset committed",
		"polling complete",
	}

	sinkPositivePhrases = []string{
		"rows affected",
		"rows inserted",
		"records inserted",
		"insert completed",
		"upserted",
		"records written",
		"written to destination",
		"write completed",
		"wrote",
		"flushed",
		"committed to destination",
		"delivered to",
		"load complete",
	}
)

// Classifier produces verdicts over execution logs. It holds no state; a
// single instance can be shared across sessions.
type Classifier struct{}

// New creates a Classifier.
func New() *Classifier {
	return &Classifier{}
}

type evidence struct {
	// negative indicators grouped by category, insertion ordered
	negCategories []string
	negFragments  []string
	positives     []string
	timeoutFrags  []string
	hasTraceback  bool
	dataLines     int
}

// Classify derives a verdict from raw log text for the given workflow
// kind. The empty string classifies as Ambiguous with Low confidence.
func (c *Classifier) Classify(logText string, kind proto.WorkflowKind) Result {
	ev := gatherEvidence(logText, kind)

	negCats := len(ev.negCategories)
	posCount := len(ev.positives)
	isTimeout := len(ev.timeoutFrags) > 0

	indicators := make([]string, 0, len(ev.negFragments)+posCount+len(ev.timeoutFrags))
	indicators = append(indicators, ev.negFragments...)
	indicators = append(indicators, ev.timeoutFrags...)
	indicators = append(indicators, ev.positives...)

	// A traceback block always contributes a failure verdict, even when
	// positive indicators coexist with it.
	if ev.hasTraceback {
		conf := ConfidenceMedium
		switch {
		case posCount > 0:
			conf = ConfidenceLow // contradictory, but the traceback dominates
		case negCats >= 2:
			conf = ConfidenceHigh
		}
		return Result{
			Outcome:       OutcomeFailure,
			Confidence:    conf,
			Reasoning:     reasoning("traceback block present", negCats, posCount, isTimeout),
			KeyIndicators: indicators,
			IsTimeout:     isTimeout,
		}
	}

	// Timeout handling depends on workflow kind. For a Source a timeout
	// can be normal quiescence at the end of bounded polling; for a Sink
	// the run must complete its destination writes, so a timeout with no
	// write evidence is failure evidence.
	if isTimeout {
		switch {
		case kind == proto.WorkflowSource && negCats == 0 && posCount > 0:
			// Partial data flow followed by a timeout: ambiguous by policy.
			return Result{
				Outcome:       OutcomeAmbiguous,
				Confidence:    ConfidenceMedium,
				Reasoning:     reasoning("timeout after positive source activity", negCats, posCount, true),
				KeyIndicators: indicators,
				IsTimeout:     true,
			}
		case kind == proto.WorkflowSource && negCats == 0:
			return Result{
				Outcome:       OutcomeAmbiguous,
				Confidence:    ConfidenceLow,
				Reasoning:     reasoning("timeout with no positive source indicators", negCats, posCount, true),
				KeyIndicators: indicators,
				IsTimeout:     true,
			}
		case kind == proto.WorkflowSink && posCount == 0:
			// No completed write before the deadline.
			negCats++
			conf := ConfidenceMedium
			if negCats >= 2 {
				conf = ConfidenceHigh
			}
			return Result{
				Outcome:       OutcomeFailure,
				Confidence:    conf,
				Reasoning:     reasoning("timeout before any destination write completed", negCats, posCount, true),
				KeyIndicators: indicators,
				IsTimeout:     true,
			}
		}
		// Timeout alongside other evidence falls through to the general
		// rules with IsTimeout tagged.
	}

	var outcome Outcome
	var conf Confidence
	var summary string

	switch {
	case negCats > 0 && posCount == 0:
		outcome = OutcomeFailure
		summary = "negative indicators with no positive evidence"
		conf = ConfidenceMedium
		if negCats >= 2 {
			conf = ConfidenceHigh
		}
	case posCount > 0 && negCats == 0:
		outcome = OutcomeSuccess
		summary = "positive indicators with no failure evidence"
		conf = ConfidenceMedium
		if posCount >= 2 {
			conf = ConfidenceHigh
		}
		if isTimeout {
			// Quiescence timeout plus success evidence stays ambiguous.
			outcome = OutcomeAmbiguous
			conf = ConfidenceMedium
			summary = "positive indicators but the run hit the execution deadline"
		}
	case posCount > 0 && negCats > 0:
		outcome = OutcomeAmbiguous
		conf = ConfidenceLow
		summary = "contradictory evidence"
	default:
		outcome = OutcomeAmbiguous
		conf = ConfidenceLow
		summary = "no decisive evidence either way"
	}

	return Result{
		Outcome:       outcome,
		Confidence:    conf,
		Reasoning:     reasoning(summary, negCats, posCount, isTimeout),
		KeyIndicators: indicators,
		IsTimeout:     isTimeout,
	}
}

func reasoning(summary string, negCats, posCount int, timeout bool) string {
	return fmt.Sprintf("%s (negative categories: %d, positive indicators: %d, timeout: %t)",
		summary, negCats, posCount, timeout)
}

// gatherEvidence scans the log once, line by line, in order.
func gatherEvidence(logText string, kind proto.WorkflowKind) evidence {
	ev := evidence{}
	seenCat := map[string]bool{}
	seenFrag := map[string]bool{}

	addNeg := func(category, fragment string) {
		if !seenCat[category] {
			seenCat[category] = true
			ev.negCategories = append(ev.negCategories, category)
		}
		if !seenFrag[fragment] {
			seenFrag[fragment] = true
			ev.negFragments = append(ev.negFragments, fragment)
		}
	}
	addPos := func(fragment string) {
		if !seenFrag[fragment] {
			seenFrag[fragment] = true
			ev.positives = append(ev.positives, fragment)
		}
	}

	positivePhrases := sourcePositivePhrases
	if kind == proto.WorkflowSink {
		positivePhrases = sinkPositivePhrases
	}

	if tracebackRe.MatchString(logText) {
		ev.hasTraceback = true
		addNeg(catTraceback, firstMatchLine(logText, tracebackRe))
	}
	if panicRe.MatchString(logText) {
		ev.hasTraceback = true
		addNeg(catTraceback, firstMatchLine(logText, panicRe))
	}

	// The sandbox timeout marker is authoritative regardless of line shape.
	if strings.Contains(logText, proto.TimeoutMarker) {
		frag := firstLineContaining(logText, proto.TimeoutMarker)
		if !seenFrag[frag] {
			seenFrag[frag] = true
			ev.timeoutFrags = append(ev.timeoutFrags, frag)
		}
	}

	for _, rawLine := range strings.Split(logText, "\n") {
		line := strings.TrimRight(rawLine, "\r")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		dataLine := isDataLine(trimmed)
		if dataLine {
			ev.dataLines++
		}
		lower := strings.ToLower(trimmed)

		// Keyword categories never fire inside data payloads: a field
		// literally named error_count must not look like a failure.
		if !dataLine {
			if exceptionRe.MatchString(line) {
				addNeg(catException, trimmed)
			}
			if errorLevelRe.MatchString(trimmed) {
				addNeg(catErrorLevel, trimmed)
			}
			for _, phrase := range connectionPhrases {
				if strings.Contains(lower, phrase) {
					addNeg(catConnection, trimmed)
					break
				}
			}
			for _, phrase := range authPhrases {
				if strings.Contains(lower, phrase) {
					addNeg(catAuth, trimmed)
					break
				}
			}
			if m := exitCodeRe.FindStringSubmatch(trimmed); m != nil && m[1] != "0" {
				addNeg(catExit, trimmed)
			}
			for _, phrase := range timeoutPhrases {
				if strings.Contains(lower, phrase) {
					if !seenFrag[trimmed] {
						seenFrag[trimmed] = true
						ev.timeoutFrags = append(ev.timeoutFrags, trimmed)
					}
					break
				}
			}
			for _, phrase := range positivePhrases {
				if strings.Contains(lower, phrase) {
					addPos(trimmed)
					break
				}
			}
		}
	}

	// For a Source, a stream of structured data lines is itself evidence
	// that data was retrieved, even without an explicit summary line.
	if kind == proto.WorkflowSource && ev.dataLines >= 3 {
		addPos(fmt.Sprintf("%d structured data record lines observed", ev.dataLines))
	}

	return ev
}

// isDataLine reports whether a line looks like a record payload rather
// than diagnostic output: JSON objects/arrays or quoted-key fragments.
func isDataLine(trimmed string) bool {
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[{") {
		return true
	}
	return jsonKeyRe.MatchString(trimmed)
}

func firstMatchLine(text string, re *regexp.Regexp) string {
	loc := re.FindStringIndex(text)
	if loc == nil {
		return ""
	}
	start := strings.LastIndexByte(text[:loc[0]], '\n') + 1
	end := strings.IndexByte(text[loc[0]:], '\n')
	if end < 0 {
		return strings.TrimSpace(text[start:])
	}
	return strings.TrimSpace(text[start : loc[0]+end])
}

func firstLineContaining(text, substr string) string {
	idx := strings.Index(text, substr)
	if idx < 0 {
		return ""
	}
	start := strings.LastIndexByte(text[:idx], '\n') + 1
	end := strings.IndexByte(text[idx:], '\n')
	if end < 0 {
		return strings.TrimSpace(text[start:])
	}
	return strings.TrimSpace(text[start : idx+end])
}
