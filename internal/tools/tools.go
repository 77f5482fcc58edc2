package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mattn/go-runewidth"

	"github.com/docsage/docsage/internal/index"
	"github.com/docsage/docsage/internal/providers"
)

// Tool is one callable capability exposed to the agent loop.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any
	Execute(ctx context.Context, args map[string]any) *Result
}

// Result is the unified return type from tool execution.
type Result struct {
	ForLLM  string `json:"for_llm"` // content sent to the LLM
	IsError bool   `json:"is_error"`
	Err     error  `json:"-"` // internal error (not serialized)

	// Docs carries retrieved documents from retrieval tools so the turn can
	// report source_documents without re-parsing ForLLM.
	Docs []index.ScoredDocument `json:"-"`
}

func NewResult(forLLM string) *Result {
	return &Result{ForLLM: forLLM}
}

func ErrorResult(message string) *Result {
	return &Result{ForLLM: message, IsError: true}
}

func (r *Result) WithError(err error) *Result {
	r.Err = err
	return r
}

// Preview returns the display-width-truncated output for event payloads,
// whether truncation happened, and the full length in runes.
func (r *Result) Preview(maxWidth int) (string, bool, int) {
	full := []rune(r.ForLLM)
	if maxWidth <= 0 || runewidth.StringWidth(r.ForLLM) <= maxWidth {
		return r.ForLLM, false, len(full)
	}
	return runewidth.Truncate(r.ForLLM, maxWidth, "…"), true, len(full)
}

// Registry holds the tools available to a turn.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.tools))
	for name := range r.tools {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ProviderDefs converts registered tools to wire-format definitions.
func (r *Registry) ProviderDefs() []providers.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	defs := make([]providers.ToolDefinition, 0, len(names))
	for _, name := range names {
		t := r.tools[name]
		defs = append(defs, providers.ToolDefinition{
			Type: "function",
			Function: providers.ToolFunctionSchema{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return defs
}

// Execute runs one tool by name. Unknown tools return an error result so the
// LLM can recover instead of aborting the turn.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) *Result {
	t, ok := r.Get(name)
	if !ok {
		return ErrorResult(fmt.Sprintf("unknown tool: %s", name))
	}
	return t.Execute(ctx, args)
}
