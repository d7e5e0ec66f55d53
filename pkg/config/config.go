// Package config provides configuration loading, validation, and the
// encrypted credential store for connector environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Fixer agent provider constants.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
	ProviderGemini    = "gemini"
)

// Model name constants for the supported providers.
const (
	ModelClaudeSonnetLatest = "claude-sonnet-4-5"
	ModelGPT5               = "gpt-5"
	ModelGeminiFlash        = "gemini-2.5-flash"
	ModelQwenCoder          = "qwen2.5-coder:32b"
)

// Default budgets and bounds for a debug session.
const (
	DefaultMaxAttempts    = 10
	DefaultSandboxTimeout = 120 * time.Second
	DefaultMaxTokens      = 8192
	DefaultTemperature    = 0.2
)

// Sandbox runner kinds.
const (
	SandboxLocal  = "local"
	SandboxDocker = "docker"
)

// DefaultSandboxImage is used by the docker runner when none is configured.
const DefaultSandboxImage = "python:3.12-slim"

// AgentCfg configures the fixer agent's LLM backend.
type AgentCfg struct {
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	APIKeyEnv   string  `yaml:"api_key_env"`
	Host        string  `yaml:"host"` // Ollama server URL, ignored by hosted providers
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float32 `yaml:"temperature"`
	MaxRetries  int     `yaml:"max_retries"`
}

// DebugCfg bounds the fix/test loop.
type DebugCfg struct {
	MaxAttempts int  `yaml:"max_attempts"`
	Auto        bool `yaml:"auto"`
}

// SandboxCfg configures how candidate connector programs are executed.
type SandboxCfg struct {
	Kind           string   `yaml:"kind"`  // "local" or "docker"
	Image          string   `yaml:"image"` // docker only
	WorkDir        string   `yaml:"work_dir"`
	ProgramFile    string   `yaml:"program_file"`
	Command        []string `yaml:"command"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// Timeout returns the wall-clock execution bound as a duration.
func (s *SandboxCfg) Timeout() time.Duration {
	if s.TimeoutSeconds <= 0 {
		return DefaultSandboxTimeout
	}
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// JournalCfg configures the per-session SQLite journal.
type JournalCfg struct {
	Path string `yaml:"path"`
}

// MetricsCfg configures the Prometheus exposition endpoint.
type MetricsCfg struct {
	ListenAddr string `yaml:"listen_addr"` // empty disables the endpoint
}

// Config is the root configuration for the debug engine.
type Config struct {
	Agent   AgentCfg   `yaml:"agent"`
	Debug   DebugCfg   `yaml:"debug"`
	Sandbox SandboxCfg `yaml:"sandbox"`
	Journal JournalCfg `yaml:"journal"`
	Metrics MetricsCfg `yaml:"metrics"`
}

// Default returns a configuration with all defaults applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Agent.Provider == "" {
		c.Agent.Provider = ProviderAnthropic
	}
	if c.Agent.Model == "" {
		c.Agent.Model = defaultModelFor(c.Agent.Provider)
	}
	if c.Agent.APIKeyEnv == "" {
		c.Agent.APIKeyEnv = defaultKeyEnvFor(c.Agent.Provider)
	}
	if c.Agent.Host == "" {
		c.Agent.Host = "http://localhost:11434"
	}
	if c.Agent.MaxTokens <= 0 {
		c.Agent.MaxTokens = DefaultMaxTokens
	}
	if c.Agent.Temperature <= 0 {
		c.Agent.Temperature = DefaultTemperature
	}
	if c.Agent.MaxRetries <= 0 {
		c.Agent.MaxRetries = 3
	}
	if c.Debug.MaxAttempts <= 0 {
		c.Debug.MaxAttempts = DefaultMaxAttempts
	}
	if c.Sandbox.Kind == "" {
		c.Sandbox.Kind = SandboxLocal
	}
	if c.Sandbox.Image == "" {
		c.Sandbox.Image = DefaultSandboxImage
	}
	if c.Sandbox.ProgramFile == "" {
		c.Sandbox.ProgramFile = "connector.py"
	}
	if len(c.Sandbox.Command) == 0 {
		c.Sandbox.Command = []string{"python", c.Sandbox.ProgramFile}
	}
	if c.Sandbox.TimeoutSeconds <= 0 {
		c.Sandbox.TimeoutSeconds = int(DefaultSandboxTimeout / time.Second)
	}
	if c.Journal.Path == "" {
		c.Journal.Path = ".connectorwiz/sessions.db"
	}
}

func defaultModelFor(provider string) string {
	switch provider {
	case ProviderOpenAI:
		return ModelGPT5
	case ProviderOllama:
		return ModelQwenCoder
	case ProviderGemini:
		return ModelGeminiFlash
	default:
		return ModelClaudeSonnetLatest
	}
}

func defaultKeyEnvFor(provider string) string {
	switch provider {
	case ProviderOpenAI:
		return "OPENAI_API_KEY"
	case ProviderGemini:
		return "GEMINI_API_KEY"
	case ProviderOllama:
		return "" // local server, no key
	default:
		return "ANTHROPIC_API_KEY"
	}
}

// Validate checks cross-field constraints after defaults are applied.
func (c *Config) Validate() error {
	switch c.Agent.Provider {
	case ProviderAnthropic, ProviderOpenAI, ProviderOllama, ProviderGemini:
	default:
		return fmt.Errorf("unknown agent provider %q", c.Agent.Provider)
	}
	if c.Sandbox.Kind != SandboxLocal && c.Sandbox.Kind != SandboxDocker {
		return fmt.Errorf("unknown sandbox kind %q", c.Sandbox.Kind)
	}
	if c.Debug.MaxAttempts > 100 {
		return fmt.Errorf("debug.max_attempts %d is unreasonably large (max 100)", c.Debug.MaxAttempts)
	}
	return nil
}

// APIKey resolves the fixer agent's API key from the configured env var.
func (c *Config) APIKey() (string, error) {
	if c.Agent.Provider == ProviderOllama {
		return "", nil
	}
	if c.Agent.APIKeyEnv == "" {
		return "", fmt.Errorf("no api_key_env configured for provider %s", c.Agent.Provider)
	}
	key := strings.TrimSpace(os.Getenv(c.Agent.APIKeyEnv))
	if key == "" {
		return "", fmt.Errorf("environment variable %s is not set", c.Agent.APIKeyEnv)
	}
	return key, nil
}

// Load reads a YAML config file and applies defaults and validation.
// A missing file yields the default configuration.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// Config file is optional; run with defaults.
	case err != nil:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}
