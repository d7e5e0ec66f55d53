package fixer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"connectorwiz/pkg/llm"
)

type captureClient struct {
	lastReq llm.CompletionRequest
	reply   string
	err     error
}

func (c *captureClient) Complete(_ context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
	c.lastReq = req
	if c.err != nil {
		return llm.CompletionResponse{}, c.err
	}
	return llm.CompletionResponse{Content: c.reply}, nil
}

func TestLLMFixerBuildsPromptFromRequest(t *testing.T) {
	client := &captureClient{reply: "<reasoning>retry</reasoning>\nAdded retries.\n```python\nprint('fixed')\n```"}
	f, err := NewLLMFixer(client, 0.2, 4096)
	require.NoError(t, err)

	result, err := f.Fix(context.Background(), Request{
		WorkflowKind:   "source",
		ProgramFile:    "connector.py",
		Code:           "print('broken')",
		ErrorEvolution: "=== Initial error (attempt 0) ===\nTimeoutError",
		Guidance:       "use the v2 endpoint",
		AttemptNumber:  1,
		MaxAttempts:    10,
	})
	require.NoError(t, err)

	assert.Equal(t, "print('fixed')", result.Code)
	assert.Equal(t, "retry", result.ReasoningTrace)
	assert.Equal(t, "Added retries.", result.VisibleOutput)

	require.Len(t, client.lastReq.Messages, 2)
	assert.Equal(t, llm.RoleSystem, client.lastReq.Messages[0].Role)
	user := client.lastReq.Messages[1].Content
	assert.Contains(t, user, "print('broken')")
	assert.Contains(t, user, "TimeoutError")
	assert.Contains(t, user, "use the v2 endpoint")
}

func TestLLMFixerRejectsReplyWithoutCode(t *testing.T) {
	client := &captureClient{reply: "I give up."}
	f, err := NewLLMFixer(client, 0.2, 4096)
	require.NoError(t, err)

	_, err = f.Fix(context.Background(), Request{
		WorkflowKind:   "sink",
		Code:           "pass",
		ErrorEvolution: "(no output)",
		AttemptNumber:  1,
		MaxAttempts:    10,
	})
	assert.ErrorContains(t, err, "no code block")
}

func TestLLMFixerPropagatesClientError(t *testing.T) {
	client := &captureClient{err: llm.NewError(llm.ErrorTypeAuth, "bad key")}
	f, err := NewLLMFixer(client, 0.2, 4096)
	require.NoError(t, err)

	_, err = f.Fix(context.Background(), Request{
		WorkflowKind:   "source",
		Code:           "pass",
		ErrorEvolution: "x",
		AttemptNumber:  1,
		MaxAttempts:    10,
	})
	assert.Equal(t, llm.ErrorTypeAuth, llm.TypeOf(err))
}
