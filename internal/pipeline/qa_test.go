package pipeline

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docsage/docsage/internal/config"
	"github.com/docsage/docsage/internal/index"
	"github.com/docsage/docsage/internal/providers"
)

// scriptedModel answers every call with a fixed response, streamed as one
// chunk, and counts tokens with the len/4 approximation.
type scriptedModel struct {
	reply    string
	requests []providers.ChatRequest
}

func (m *scriptedModel) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	m.requests = append(m.requests, req)
	return &providers.ChatResponse{Content: m.reply, FinishReason: "stop"}, nil
}

func (m *scriptedModel) ChatStream(ctx context.Context, req providers.ChatRequest, onChunk func(providers.StreamChunk)) (*providers.ChatResponse, error) {
	m.requests = append(m.requests, req)
	onChunk(providers.StreamChunk{Content: m.reply})
	onChunk(providers.StreamChunk{Done: true})
	return &providers.ChatResponse{Content: m.reply, FinishReason: "stop"}, nil
}

func (m *scriptedModel) CountTokens(text string) (int, error) {
	return providers.ApproxTokens(text), nil
}

func (m *scriptedModel) DefaultModel() string { return "scripted" }
func (m *scriptedModel) Name() string         { return "scripted" }

func qaFixture(t *testing.T, model *scriptedModel) (*QAPipeline, *index.Index) {
	t.Helper()
	providers.Register("scripted", func(name, apiKey, apiBase, defaultModel string) providers.Model {
		return model
	})

	cfg := config.Default()
	cfg.Assistant.Models = map[string]config.ModelConfig{
		"chat":     {Class: "scripted", Name: "scripted"},
		"condense": {Class: "scripted", Name: "scripted"},
	}

	idx, err := index.Open(config.DataManager{
		EmbeddingDim:    2,
		ChunkSize:       500,
		ChunkOverlap:    50,
		DistanceMetric:  "cosine",
		ParallelWorkers: 1,
		IndexPath:       filepath.Join(t.TempDir(), "index.db"),
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })

	prompts, err := LoadPrompts(cfg.Assistant)
	require.NoError(t, err)
	return NewQAPipeline(cfg, config.NewRuntime(cfg), NewModelSet(cfg), prompts, idx), idx
}

func TestQAEmptyCorpus(t *testing.T) {
	model := &scriptedModel{reply: "I do not have documentation on that."}
	qa, _ := qaFixture(t, model)

	var chunks []string
	out, err := qa.Run(context.Background(), Turn{ConversationID: 1, Question: "what is the beam energy?"},
		func(ev Event) {
			if ev.Type == "chunk" {
				chunks = append(chunks, ev.Payload["content"].(string))
			}
		})
	require.NoError(t, err)

	assert.Empty(t, out.SourceDocuments)
	assert.Equal(t, []float64{}, out.Metadata["retriever_scores"])
	assert.Equal(t, model.reply, out.Text)
	assert.Equal(t, []string{model.reply}, chunks)
	// No history: the question is used as-is without a condense call.
	assert.Equal(t, "what is the beam energy?", out.Metadata["condensed"])
	require.Len(t, model.requests, 1)
}

func TestQACondensesWithHistory(t *testing.T) {
	model := &scriptedModel{reply: "standalone question about magnets"}
	qa, _ := qaFixture(t, model)

	out, err := qa.Run(context.Background(), Turn{
		ConversationID: 1,
		Question:       "what about the second one?",
		History: []providers.Message{
			{Role: "user", Content: "list the magnet types"},
			{Role: "assistant", Content: "dipole and quadrupole"},
		},
	}, func(Event) {})
	require.NoError(t, err)

	// First call condenses, second answers.
	require.Len(t, model.requests, 2)
	condensePrompt := model.requests[0].Messages[0].Content
	assert.Contains(t, condensePrompt, "list the magnet types")
	assert.Contains(t, condensePrompt, "what about the second one?")
	assert.Equal(t, "standalone question about magnets", out.Metadata["condensed"])
}

func TestQAModelConfigOverride(t *testing.T) {
	model := &scriptedModel{reply: "default answer"}
	qa, _ := qaFixture(t, model)

	alt := &scriptedModel{reply: "alternate answer"}
	providers.Register("scripted-alt", func(name, apiKey, apiBase, defaultModel string) providers.Model {
		return alt
	})
	qa.cfg.Assistant.Models["chat_alt"] = config.ModelConfig{Class: "scripted-alt", Name: "scripted-alt"}

	out, err := qa.Run(context.Background(), Turn{
		ConversationID: 1,
		Question:       "which magnet?",
		ModelConfig:    "chat_alt",
	}, func(Event) {})
	require.NoError(t, err)

	assert.Equal(t, "alternate answer", out.Text)
	require.Len(t, alt.requests, 1)
	assert.Empty(t, model.requests)
}

func TestQAInputTooLargeSkipsModel(t *testing.T) {
	model := &scriptedModel{reply: "never sent"}
	qa, _ := qaFixture(t, model)
	qa.cfg.Assistant.TokenBudget = config.TokenBudget{MaxTokens: 50, Reserved: 10}

	out, err := qa.Run(context.Background(), Turn{
		ConversationID: 1,
		Question:       strings.Repeat("very long question ", 100),
	}, func(Event) {})
	require.NoError(t, err)

	assert.Equal(t, WarnInputTooLarge, out.Metadata["warning"])
	assert.NotEqual(t, "never sent", out.Text)
	assert.Empty(t, model.requests)
}
