// Package templates provides template rendering for fixer agent prompts.
package templates

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"
)

//go:embed *.tpl.md
var templateFS embed.FS

// TemplateData holds the data for template rendering.
type TemplateData struct {
	WorkflowKind       string `json:"workflow_kind"`
	ProgramFile        string `json:"program_file,omitempty"`
	CurrentCode        string `json:"current_code"`
	ErrorEvolution     string `json:"error_evolution"`
	ReasoningEvolution string `json:"reasoning_evolution,omitempty"`
	SchemaHint         string `json:"schema_hint,omitempty"`
	Guidance           string `json:"guidance,omitempty"`
	AttemptNumber      int    `json:"attempt_number"`
	MaxAttempts        int    `json:"max_attempts"`
	LastRunTimedOut    bool   `json:"last_run_timed_out,omitempty"`
}

// PromptTemplate identifies an embedded prompt template.
type PromptTemplate string

const (
	// FixSystemTemplate is the system prompt for the fixer agent.
	FixSystemTemplate PromptTemplate = "fix_system.tpl.md"
	// FixRequestTemplate is the per-attempt fix request prompt.
	FixRequestTemplate PromptTemplate = "fix_request.tpl.md"
)

// Renderer handles prompt template rendering.
type Renderer struct {
	templates map[PromptTemplate]*template.Template
}

// NewRenderer creates a new template renderer with all templates parsed.
func NewRenderer() (*Renderer, error) {
	r := &Renderer{
		templates: make(map[PromptTemplate]*template.Template),
	}

	templateNames := []PromptTemplate{
		FixSystemTemplate,
		FixRequestTemplate,
	}

	for _, name := range templateNames {
		content, err := templateFS.ReadFile(string(name))
		if err != nil {
			return nil, fmt.Errorf("failed to read template %s: %w", name, err)
		}

		tmpl, err := template.New(string(name)).Funcs(template.FuncMap{
			"contains": strings.Contains,
		}).Parse(string(content))
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}

		r.templates[name] = tmpl
	}

	return r, nil
}

// Render renders the specified template with the given data.
func (r *Renderer) Render(templateName PromptTemplate, data *TemplateData) (string, error) {
	tmpl, exists := r.templates[templateName]
	if !exists {
		return "", fmt.Errorf("template %s not found", templateName)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render template %s: %w", templateName, err)
	}

	return buf.String(), nil
}

// GetAvailableTemplates returns a list of all available templates.
func (r *Renderer) GetAvailableTemplates() []PromptTemplate {
	templates := make([]PromptTemplate, 0, len(r.templates))
	for name := range r.templates {
		templates = append(templates, name)
	}
	return templates
}
