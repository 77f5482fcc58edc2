package pipeline

import (
	"fmt"
	"os"
	"strings"
	"text/template"

	"github.com/docsage/docsage/internal/config"
)

// Built-in prompt templates, overridable per name through config. Config
// values holding a path load the file; anything else is inline template
// text. Missing optional variables render empty.
var defaultPrompts = map[string]string{
	"condense": `Given the conversation below, rephrase the final user question as a single self-contained question. Keep all technical detail; do not answer it.

Conversation:
{{.history}}

Standalone question:`,

	"chat": `You are a documentation assistant. Answer using the provided context. If the context does not contain the answer, say so; do not invent sources.

Context:
{{.retriever_output}}

Question: {{.question}}

Answer:`,

	"agent_system": `You are a documentation assistant with tools. Use retrieve_documentation to look up facts before answering; cite the sources you used. Answer directly once you have enough information.`,

	"grading_summary": `Summarize the following student submission in a few sentences, keeping every claim that could affect grading.

Submission:
{{.submission}}

Summary:`,

	"grading_analysis": `Analyze the submission against the rubric. List where it satisfies and where it violates each rubric item.

Rubric:
{{.rubric}}

Submission:
{{.submission}}

Summary:
{{.summary}}

Analysis:`,

	"grading_final": `Assign a final grade using the rubric, the submission, and the analysis. Output the grade followed by a short justification.

Rubric:
{{.rubric}}

Submission:
{{.submission}}

Analysis:
{{.analysis}}

Additional comments:
{{.comments}}

Grade:`,

	"vision": `Extract all text from the attached image(s). Preserve structure (lists, tables, headings) as plain text. Output only the extracted content.`,
}

// Prompts resolves named templates for pipelines.
type Prompts struct {
	templates map[string]*template.Template
}

// LoadPrompts merges config overrides over the built-ins and parses them.
func LoadPrompts(cfg config.AssistantConfig) (*Prompts, error) {
	merged := make(map[string]string, len(defaultPrompts))
	for name, text := range defaultPrompts {
		merged[name] = text
	}
	for name, v := range cfg.Prompts {
		text := v
		if !strings.Contains(v, "{{") && !strings.Contains(v, "\n") {
			if data, err := os.ReadFile(v); err == nil {
				text = string(data)
			}
		}
		merged[name] = text
	}

	p := &Prompts{templates: make(map[string]*template.Template, len(merged))}
	for name, text := range merged {
		t, err := template.New(name).Option("missingkey=zero").Parse(text)
		if err != nil {
			return nil, fmt.Errorf("parse prompt %q: %w", name, err)
		}
		p.templates[name] = t
	}
	return p, nil
}

// Render fills a named template. Unknown names are an error; missing
// variables render as empty strings.
func (p *Prompts) Render(name string, vars map[string]any) (string, error) {
	t, ok := p.templates[name]
	if !ok {
		return "", fmt.Errorf("unknown prompt %q", name)
	}
	if vars == nil {
		vars = map[string]any{}
	}
	var b strings.Builder
	if err := t.Execute(&b, vars); err != nil {
		return "", fmt.Errorf("render prompt %q: %w", name, err)
	}
	return strings.ReplaceAll(b.String(), "<no value>", ""), nil
}
