package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/docsage/docsage/internal/config"
	"github.com/docsage/docsage/internal/index"
	"github.com/docsage/docsage/internal/providers"
)

// Pipeline names.
const (
	PipelineQA      = "qa"
	PipelineGrading = "grading"
	PipelineImage   = "image_processing"
	PipelineAgent   = "agent"
)

// Turn is one user turn presented to a pipeline.
type Turn struct {
	ConversationID int64
	Question       string
	History        []providers.Message // prior messages, oldest first, question excluded
	Images         []providers.ImageContent
	Filter         index.Filter // per-conversation document filter
	Extras         map[string]string

	// ModelConfig overrides the model handle for this turn. Paired A/B
	// generation runs each arm with its own override; empty falls back to
	// the runtime selection.
	ModelConfig string
}

// Output is the unified result surface shared by fixed pipelines and agents.
type Output struct {
	Text              string
	SourceDocuments   []index.ScoredDocument
	Metadata          map[string]any
	IntermediateSteps map[string]string
}

// Pipeline produces an assistant message for one turn, streaming events as
// it goes.
type Pipeline interface {
	Name() string
	Run(ctx context.Context, turn Turn, emit EmitFunc) (*Output, error)
}

// ModelSet resolves model handles by the role names config assigns them.
type ModelSet struct {
	cfg   *config.Config
	cache *providers.HandleCache
}

func NewModelSet(cfg *config.Config) *ModelSet {
	return &ModelSet{cfg: cfg, cache: providers.NewHandleCache()}
}

// Handle returns a (cached) model handle for a config model name.
func (m *ModelSet) Handle(name string) (providers.Model, error) {
	mc, err := m.cfg.ResolveModel(name)
	if err != nil {
		return nil, err
	}
	key := providers.HandleKey{ModelID: mc.Class + "/" + mc.Name}
	return m.cache.Get(key, func() (providers.Model, error) {
		return providers.New(mc.Class, mc.Name, mc.APIKey, mc.APIBase, mc.Name)
	})
}

// Options returns the request options configured for a model name.
func (m *ModelSet) Options(name string) map[string]any {
	mc, err := m.cfg.ResolveModel(name)
	if err != nil {
		return nil
	}
	opts := map[string]any{}
	if mc.MaxTokens > 0 {
		opts[providers.OptMaxTokens] = mc.MaxTokens
	}
	if mc.Temperature > 0 {
		opts[providers.OptTemperature] = mc.Temperature
	}
	if mc.TopP > 0 {
		opts[providers.OptTopP] = mc.TopP
	}
	return opts
}

// historyText flattens prior messages for condensation prompts.
func historyText(history []providers.Message, question string) string {
	var b strings.Builder
	for _, m := range history {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	fmt.Fprintf(&b, "user: %s\n", question)
	return b.String()
}

// docsText flattens retrieved documents for chat prompts.
func docsText(docs []index.ScoredDocument) string {
	var b strings.Builder
	for i, d := range docs {
		if i > 0 {
			b.WriteString("\n\n")
		}
		source := d.ResourceID
		if url := d.Metadata["source_url"]; url != "" {
			source = url
		}
		fmt.Fprintf(&b, "[%d] %s\n%s", i+1, source, d.Text)
	}
	return b.String()
}
