// Package fixer implements the LLM-backed repair agent. It turns the
// accumulated debugging context into a prompt, calls the configured
// language model, and parses the reply into reasoning, explanation,
// and a replacement program.
package fixer

import (
	"context"
	"fmt"

	"connectorwiz/pkg/llm"
	"connectorwiz/pkg/logx"
	"connectorwiz/pkg/templates"
)

// Request carries everything the fixer needs for one repair attempt.
type Request struct {
	WorkflowKind       string
	ProgramFile        string
	Code               string // current (failing) program
	ErrorEvolution     string // full untruncated error history
	ReasoningEvolution string // prior fix reasoning, may be empty
	SchemaHint         string // expected data shape, may be empty
	Guidance           string // operator guidance, may be empty
	AttemptNumber      int
	MaxAttempts        int
	LastRunTimedOut    bool
}

// Result is a parsed fixer reply. Both channels are always present:
// ReasoningTrace holds the private diagnosis, VisibleOutput the
// user-facing explanation. Either may be empty but never nil-meaning.
type Result struct {
	Code           string
	ReasoningTrace string
	VisibleOutput  string
}

// Fixer produces a corrected program from a failing one.
type Fixer interface {
	Fix(ctx context.Context, req Request) (Result, error)
}

// LLMFixer drives a language model through the fix prompt templates.
type LLMFixer struct {
	client      llm.Client
	renderer    *templates.Renderer
	logger      *logx.Logger
	temperature float32
	maxTokens   int
}

// NewLLMFixer creates a fixer backed by the given LLM client.
func NewLLMFixer(client llm.Client, temperature float32, maxTokens int) (*LLMFixer, error) {
	renderer, err := templates.NewRenderer()
	if err != nil {
		return nil, fmt.Errorf("failed to create prompt renderer: %w", err)
	}
	return &LLMFixer{
		client:      client,
		renderer:    renderer,
		logger:      logx.NewLogger("fixer"),
		temperature: temperature,
		maxTokens:   maxTokens,
	}, nil
}

// Fix implements the Fixer interface.
func (f *LLMFixer) Fix(ctx context.Context, req Request) (Result, error) {
	data := &templates.TemplateData{
		WorkflowKind:       req.WorkflowKind,
		ProgramFile:        req.ProgramFile,
		CurrentCode:        req.Code,
		ErrorEvolution:     req.ErrorEvolution,
		ReasoningEvolution: req.ReasoningEvolution,
		SchemaHint:         req.SchemaHint,
		Guidance:           req.Guidance,
		AttemptNumber:      req.AttemptNumber,
		MaxAttempts:        req.MaxAttempts,
		LastRunTimedOut:    req.LastRunTimedOut,
	}

	systemPrompt, err := f.renderer.Render(templates.FixSystemTemplate, data)
	if err != nil {
		return Result{}, fmt.Errorf("failed to render system prompt: %w", err)
	}
	userPrompt, err := f.renderer.Render(templates.FixRequestTemplate, data)
	if err != nil {
		return Result{}, fmt.Errorf("failed to render fix request: %w", err)
	}

	f.logger.Debug("requesting fix attempt %d/%d (guidance=%v, timed_out=%v)",
		req.AttemptNumber, req.MaxAttempts, req.Guidance != "", req.LastRunTimedOut)

	resp, err := f.client.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.CompletionMessage{
			llm.NewSystemMessage(systemPrompt),
			llm.NewUserMessage(userPrompt),
		},
		Temperature: f.temperature,
		MaxTokens:   f.maxTokens,
	})
	if err != nil {
		return Result{}, fmt.Errorf("fix request failed: %w", err)
	}

	result := ParseResponse(resp.Content)
	if result.Code == "" {
		return Result{}, fmt.Errorf("fixer reply contained no code block")
	}

	f.logger.Debug("fix attempt %d returned %d bytes of code", req.AttemptNumber, len(result.Code))
	return result, nil
}
