// Package utils provides tiktoken-based token counting utilities.
package utils

import (
	"fmt"

	"github.com/tiktoken-go/tokenizer"
)

// TokenCounter provides token counting for context-size reporting. The
// cumulative-context builder never truncates, so counts are informational:
// they let the coordinator warn when a session's context grows large.
type TokenCounter struct {
	codec tokenizer.Codec
}

// NewTokenCounter creates a token counter. All supported fixer models are
// approximated with the GPT-4 encoding, which is close enough for
// reporting purposes.
func NewTokenCounter() (*TokenCounter, error) {
	codec, err := tokenizer.ForModel(tokenizer.GPT4)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokenizer codec: %w", err)
	}
	return &TokenCounter{codec: codec}, nil
}

// CountTokens returns the number of tokens in the given text.
func (tc *TokenCounter) CountTokens(text string) int {
	if tc == nil || tc.codec == nil {
		return estimateTokens(text)
	}
	count, err := tc.codec.Count(text)
	if err != nil {
		return estimateTokens(text)
	}
	return count
}

// estimateTokens is the fallback heuristic: 4 chars ≈ 1 token.
func estimateTokens(text string) int {
	return len(text) / 4
}
