// Package factory assembles llm.Client instances from configuration,
// selecting the provider backend and wrapping it with retry middleware.
package factory

import (
	"fmt"

	"connectorwiz/pkg/config"
	"connectorwiz/pkg/llm"
	"connectorwiz/pkg/llm/anthropic"
	"connectorwiz/pkg/llm/google"
	"connectorwiz/pkg/llm/ollama"
	"connectorwiz/pkg/llm/openai"
)

// NewClient builds the configured provider client wrapped with retries.
func NewClient(cfg *config.AgentCfg, apiKey string) (llm.Client, error) {
	var raw llm.Client

	switch cfg.Provider {
	case config.ProviderAnthropic:
		raw = anthropic.NewClaudeClient(apiKey, cfg.Model)
	case config.ProviderOpenAI:
		raw = openai.NewClient(apiKey, cfg.Model)
	case config.ProviderOllama:
		raw = ollama.NewClient(cfg.Host, cfg.Model)
	case config.ProviderGemini:
		raw = google.NewGeminiClient(apiKey, cfg.Model)
	default:
		return nil, fmt.Errorf("unknown agent provider %q", cfg.Provider)
	}

	retryCfg := llm.DefaultRetryConfig
	if cfg.MaxRetries > 0 {
		retryCfg.MaxRetries = cfg.MaxRetries
	}
	return llm.NewRetryableClient(raw, retryCfg), nil
}
