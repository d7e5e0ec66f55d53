package fixer

import (
	"regexp"
	"strings"
)

var reasoningRe = regexp.MustCompile(`(?s)<reasoning>(.*?)</reasoning>`)

// ParseResponse splits a raw fixer reply into its three channels: the
// private reasoning block, the user-facing explanation, and the code.
// Missing channels come back as empty strings, never as an error; the
// caller decides whether an empty code block is fatal.
func ParseResponse(raw string) Result {
	var result Result

	rest := raw
	if m := reasoningRe.FindStringSubmatch(rest); m != nil {
		result.ReasoningTrace = strings.TrimSpace(m[1])
		rest = reasoningRe.ReplaceAllString(rest, "")
	}

	code, visible := extractCodeBlock(rest)
	result.Code = code
	result.VisibleOutput = strings.TrimSpace(visible)
	return result
}

// extractCodeBlock pulls the last fenced code block out of text and
// returns the code plus the remaining text. Models sometimes emit a
// small illustrative fence before the full program, so the last block
// wins. Unterminated fences are treated as running to end of input.
func extractCodeBlock(text string) (code, remainder string) {
	lines := strings.Split(text, "\n")

	type block struct{ start, end int } // fence line indexes, end exclusive
	var blocks []block
	open := -1
	for i, line := range lines {
		if !strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		if open < 0 {
			open = i
		} else {
			blocks = append(blocks, block{start: open, end: i})
			open = -1
		}
	}
	if open >= 0 {
		blocks = append(blocks, block{start: open, end: len(lines)})
	}
	if len(blocks) == 0 {
		return "", text
	}

	// Prefer the largest block: explanations sometimes quote one-line
	// snippets in fences around the real program.
	best := blocks[0]
	for _, b := range blocks[1:] {
		if b.end-b.start > best.end-best.start {
			best = b
		}
	}

	code = strings.Join(lines[best.start+1:best.end], "\n")

	var kept []string
	kept = append(kept, lines[:best.start]...)
	if best.end+1 < len(lines) {
		kept = append(kept, lines[best.end+1:]...)
	}
	return strings.TrimRight(code, "\n"), strings.Join(kept, "\n")
}
