// Package google provides the Google Gemini client implementation for the llm.Client interface.
package google

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"connectorwiz/pkg/llm"
)

// GeminiClient wraps the Google GenAI client to implement llm.Client.
type GeminiClient struct {
	client *genai.Client
	apiKey string
	model  string
}

// NewGeminiClient creates a new Gemini client for the given model.
// Client creation requires a context, so it is deferred to Complete().
func NewGeminiClient(apiKey, model string) llm.Client {
	return &GeminiClient{
		client: nil, // created on first use
		apiKey: apiKey,
		model:  model,
	}
}

// Complete implements the llm.Client interface.
func (g *GeminiClient) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	if g.client == nil {
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  g.apiKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return llm.CompletionResponse{}, llm.NewErrorf(llm.ErrorTypeTransient, "failed to create Gemini client: %v", err)
		}
		g.client = client
	}

	contents, systemInstruction, err := convertMessages(in.Messages)
	if err != nil {
		return llm.CompletionResponse{}, llm.NewErrorf(llm.ErrorTypeBadPrompt, "message conversion error: %v", err)
	}

	//nolint:gosec // MaxTokens validated at higher layer, overflow acceptable
	maxTokens := int32(in.MaxTokens)
	config := &genai.GenerateContentConfig{
		Temperature:     &in.Temperature,
		MaxOutputTokens: maxTokens,
	}
	if systemInstruction != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: systemInstruction}},
		}
	}

	result, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return llm.CompletionResponse{}, classifyError(err)
	}
	if result == nil || result.Text() == "" {
		return llm.CompletionResponse{}, llm.NewError(llm.ErrorTypeEmptyResponse, "empty response from Gemini API")
	}

	return llm.CompletionResponse{Content: result.Text()}, nil
}

// GetModelName returns the model name for this client.
func (g *GeminiClient) GetModelName() string {
	return g.model
}

// convertMessages converts our message format to Gemini's Content format.
// Returns the contents array and an optional system instruction. Gemini
// uses role "model" where we use "assistant".
func convertMessages(messages []llm.CompletionMessage) ([]*genai.Content, string, error) {
	if len(messages) == 0 {
		return nil, "", fmt.Errorf("message list cannot be empty")
	}

	var systemInstruction string
	var contents []*genai.Content

	for i := range messages {
		msg := &messages[i]

		if msg.Role == llm.RoleSystem {
			if systemInstruction != "" {
				systemInstruction += "\n\n" + msg.Content
			} else {
				systemInstruction = msg.Content
			}
			continue
		}

		var role string
		switch msg.Role {
		case llm.RoleUser:
			role = "user"
		case llm.RoleAssistant:
			role = "model"
		default:
			return nil, "", fmt.Errorf("unsupported message role: %s", msg.Role)
		}

		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: msg.Content}},
		})
	}

	if len(contents) == 0 {
		return nil, "", fmt.Errorf("must have at least one non-system message")
	}

	return contents, systemInstruction, nil
}

func classifyError(err error) error {
	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "api key"), strings.Contains(errStr, "permission"),
		strings.Contains(errStr, "401"), strings.Contains(errStr, "403"):
		return llm.NewErrorf(llm.ErrorTypeAuth, "authentication failed: %v", err)
	case strings.Contains(errStr, "429"), strings.Contains(errStr, "quota"),
		strings.Contains(errStr, "resource exhausted"):
		return llm.NewErrorf(llm.ErrorTypeRateLimit, "rate limit exceeded: %v", err)
	case strings.Contains(errStr, "timeout"), strings.Contains(errStr, "unavailable"),
		strings.Contains(errStr, "connection"), strings.Contains(errStr, "500"),
		strings.Contains(errStr, "503"):
		return llm.NewErrorf(llm.ErrorTypeTransient, "transient error: %v", err)
	default:
		return llm.NewErrorf(llm.ErrorTypeUnknown, "Gemini API call failed: %v", err)
	}
}
