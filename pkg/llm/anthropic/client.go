// Package anthropic provides the Anthropic Claude client implementation for the llm.Client interface.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"connectorwiz/pkg/llm"
)

// ClaudeClient wraps the Anthropic API client to implement llm.Client.
type ClaudeClient struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewClaudeClient creates a new Claude client for the given model.
func NewClaudeClient(apiKey, model string) llm.Client {
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &ClaudeClient{
		client: client,
		model:  anthropic.Model(model),
	}
}

// ensureAlternation prepares messages for Anthropic API requirements:
// system messages move to the top-level system parameter, consecutive
// user messages merge, and the sequence must end on a user message.
func ensureAlternation(messages []llm.CompletionMessage) (systemPrompt string, alternating []llm.CompletionMessage, err error) {
	if len(messages) == 0 {
		return "", nil, fmt.Errorf("message list cannot be empty")
	}

	var systemParts []string
	var nonSystem []llm.CompletionMessage
	for i := range messages {
		msg := &messages[i]
		if msg.Role == llm.RoleSystem {
			systemParts = append(systemParts, msg.Content)
		} else {
			nonSystem = append(nonSystem, *msg)
		}
	}
	systemPrompt = strings.Join(systemParts, "\n\n")

	if len(nonSystem) == 0 {
		return "", nil, fmt.Errorf("must have at least one non-system message")
	}

	// Merge consecutive non-assistant messages into single user turns.
	var merged []llm.CompletionMessage
	var userParts []string
	for i := range nonSystem {
		msg := &nonSystem[i]
		if msg.Role == llm.RoleAssistant {
			if len(userParts) > 0 {
				merged = append(merged, llm.CompletionMessage{
					Role:    llm.RoleUser,
					Content: strings.Join(userParts, "\n\n"),
				})
				userParts = nil
			}
			merged = append(merged, *msg)
		} else {
			userParts = append(userParts, msg.Content)
		}
	}
	if len(userParts) > 0 {
		merged = append(merged, llm.CompletionMessage{
			Role:    llm.RoleUser,
			Content: strings.Join(userParts, "\n\n"),
		})
	}

	for i := range merged {
		if i > 0 && merged[i].Role == merged[i-1].Role {
			return "", nil, fmt.Errorf("alternation violation at index %d: consecutive %s messages", i, merged[i].Role)
		}
	}
	if merged[0].Role != llm.RoleUser {
		return "", nil, fmt.Errorf("first message must be user role, got: %s", merged[0].Role)
	}
	if merged[len(merged)-1].Role != llm.RoleUser {
		return "", nil, fmt.Errorf("last message must be user role, got: %s", merged[len(merged)-1].Role)
	}

	return systemPrompt, merged, nil
}

// Complete implements the llm.Client interface.
func (c *ClaudeClient) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	systemPrompt, alternating, err := ensureAlternation(in.Messages)
	if err != nil {
		return llm.CompletionResponse{}, llm.NewErrorf(llm.ErrorTypeBadPrompt, "message alternation error: %v", err)
	}

	messages := make([]anthropic.MessageParam, 0, len(alternating))
	for i := range alternating {
		msg := &alternating[i]
		messages = append(messages, anthropic.MessageParam{
			Role:    anthropic.MessageParamRole(msg.Role),
			Content: []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(msg.Content)},
		})
	}

	params := anthropic.MessageNewParams{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   int64(in.MaxTokens),
		Temperature: anthropic.Float(float64(in.Temperature)),
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{
			Text: systemPrompt,
			Type: "text",
		}}
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return llm.CompletionResponse{}, classifyError(err)
	}
	if resp == nil || len(resp.Content) == 0 {
		return llm.CompletionResponse{}, llm.NewError(llm.ErrorTypeEmptyResponse, "received empty or nil response from Claude API")
	}

	var responseText strings.Builder
	for i := range resp.Content {
		block := &resp.Content[i]
		if block.Type == "text" {
			responseText.WriteString(block.AsText().Text)
		}
	}

	return llm.CompletionResponse{Content: responseText.String()}, nil
}

// GetModelName returns the model name for this client.
func (c *ClaudeClient) GetModelName() string {
	return string(c.model)
}

// classifyError maps Anthropic SDK errors to our structured error types.
func classifyError(err error) *llm.Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return llm.NewErrorf(llm.ErrorTypeTransient, "request timeout: %v", err)
	}
	if errors.Is(err, context.Canceled) {
		return llm.NewErrorf(llm.ErrorTypeTransient, "request canceled: %v", err)
	}

	errStr := err.Error()
	switch extractStatusCode(errStr) {
	case 401, 403:
		return llm.NewErrorf(llm.ErrorTypeAuth, "authentication failed: %v", err)
	case 429:
		return llm.NewErrorf(llm.ErrorTypeRateLimit, "rate limit exceeded: %v", err)
	case 400:
		return llm.NewErrorf(llm.ErrorTypeBadPrompt, "bad request: %v", err)
	case 500, 502, 503, 504:
		return llm.NewErrorf(llm.ErrorTypeTransient, "server error: %v", err)
	}

	lower := strings.ToLower(errStr)
	switch {
	case strings.Contains(lower, "timeout"),
		strings.Contains(lower, "connection"),
		strings.Contains(lower, "network"),
		strings.Contains(errStr, "EOF"),
		strings.Contains(lower, "reset"):
		return llm.NewErrorf(llm.ErrorTypeTransient, "network or connection error: %v", err)
	case strings.Contains(lower, "rate"), strings.Contains(lower, "quota"):
		return llm.NewErrorf(llm.ErrorTypeRateLimit, "rate limiting detected: %v", err)
	case strings.Contains(lower, "unauthorized"), strings.Contains(lower, "api key"):
		return llm.NewErrorf(llm.ErrorTypeAuth, "authentication error: %v", err)
	}

	return llm.NewErrorf(llm.ErrorTypeUnknown, "unclassified error: %v", err)
}

// extractStatusCode attempts to extract an HTTP status code from an error
// string. The Anthropic SDK includes status codes in error messages.
func extractStatusCode(errStr string) int {
	for _, code := range []int{400, 401, 403, 429, 500, 502, 503, 504} {
		if strings.Contains(errStr, fmt.Sprintf(" %d ", code)) ||
			strings.Contains(errStr, fmt.Sprintf(": %d", code)) ||
			strings.Contains(errStr, fmt.Sprintf("%d:", code)) {
			return code
		}
	}
	return 0
}
