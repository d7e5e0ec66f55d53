package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountTokens(t *testing.T) {
	tc, err := NewTokenCounter()
	require.NoError(t, err)

	assert.Equal(t, 0, tc.CountTokens(""))
	assert.Greater(t, tc.CountTokens("connection refused while polling source"), 0)

	short := tc.CountTokens("hello")
	long := tc.CountTokens(strings.Repeat("hello world ", 100))
	assert.Greater(t, long, short)
}

func TestNilCounterFallsBack(t *testing.T) {
	var tc *TokenCounter
	assert.Equal(t, len("abcdefgh")/4, tc.CountTokens("abcdefgh"))
}
