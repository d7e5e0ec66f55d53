// Package openai provides the OpenAI client implementation using the
// official OpenAI Go package and its Responses API.
package openai

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"

	"connectorwiz/pkg/llm"
)

// Client wraps the official OpenAI Go client to implement llm.Client.
type Client struct {
	client openai.Client
	model  string
}

// NewClient creates a new OpenAI client for the given model.
func NewClient(apiKey, model string) llm.Client {
	return &Client{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// Complete implements the llm.Client interface via the Responses API.
func (o *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	if len(in.Messages) == 0 {
		return llm.CompletionResponse{}, llm.NewError(llm.ErrorTypeBadPrompt, "message list cannot be empty")
	}

	// The Responses API takes a single input string; fold the conversation
	// into one with role prefixes for non-user turns.
	var input strings.Builder
	for i := range in.Messages {
		msg := &in.Messages[i]
		switch msg.Role {
		case llm.RoleSystem:
			fmt.Fprintf(&input, "System: %s\n\n", msg.Content)
		case llm.RoleAssistant:
			fmt.Fprintf(&input, "Assistant: %s\n\n", msg.Content)
		default:
			input.WriteString(msg.Content)
		}
	}

	params := responses.ResponseNewParams{
		Model:           o.model,
		MaxOutputTokens: openai.Int(int64(in.MaxTokens)),
		Input:           responses.ResponseNewParamsInputUnion{OfString: openai.String(input.String())},
	}

	resp, err := o.client.Responses.New(ctx, params)
	if err != nil {
		return llm.CompletionResponse{}, classifyError(err)
	}
	if resp == nil {
		return llm.CompletionResponse{}, llm.NewError(llm.ErrorTypeEmptyResponse, "empty response from OpenAI Responses API")
	}

	content := resp.OutputText()
	if content == "" {
		return llm.CompletionResponse{}, llm.NewError(llm.ErrorTypeEmptyResponse, "response contained no output text")
	}

	return llm.CompletionResponse{Content: content}, nil
}

// GetModelName returns the model name for this client.
func (o *Client) GetModelName() string {
	return o.model
}

func classifyError(err error) error {
	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "401"), strings.Contains(errStr, "403"),
		strings.Contains(errStr, "unauthorized"), strings.Contains(errStr, "api key"):
		return llm.NewErrorf(llm.ErrorTypeAuth, "authentication failed: %v", err)
	case strings.Contains(errStr, "429"), strings.Contains(errStr, "rate"), strings.Contains(errStr, "quota"):
		return llm.NewErrorf(llm.ErrorTypeRateLimit, "rate limit exceeded: %v", err)
	case strings.Contains(errStr, "400"), strings.Contains(errStr, "invalid"):
		return llm.NewErrorf(llm.ErrorTypeBadPrompt, "bad request: %v", err)
	case strings.Contains(errStr, "timeout"), strings.Contains(errStr, "connection"),
		strings.Contains(errStr, "500"), strings.Contains(errStr, "502"),
		strings.Contains(errStr, "503"), strings.Contains(errStr, "504"):
		return llm.NewErrorf(llm.ErrorTypeTransient, "transient error: %v", err)
	default:
		return llm.NewErrorf(llm.ErrorTypeUnknown, "OpenAI API error: %v", err)
	}
}
