package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/docsage/docsage/internal/config"
	"github.com/docsage/docsage/internal/index"
	"github.com/docsage/docsage/internal/providers"
)

// QAPipeline is the condense → retrieve → answer chain. The condensation
// step rewrites the question as self-contained before retrieval so follow-up
// turns ("what about the second one?") still hit the right documents.
type QAPipeline struct {
	cfg     *config.Config
	runtime *config.Runtime
	models  *ModelSet
	prompts *Prompts
	idx     *index.Index
}

func NewQAPipeline(cfg *config.Config, rt *config.Runtime, models *ModelSet, prompts *Prompts, idx *index.Index) *QAPipeline {
	return &QAPipeline{cfg: cfg, runtime: rt, models: models, prompts: prompts, idx: idx}
}

func (p *QAPipeline) Name() string { return PipelineQA }

func (p *QAPipeline) Run(ctx context.Context, turn Turn, emit EmitFunc) (*Output, error) {
	rt := p.runtime.Snapshot()

	// 1. Condense the question against history.
	condensed := turn.Question
	if len(turn.History) > 0 {
		q, err := p.condense(ctx, rt, turn)
		if err != nil {
			slog.Warn("condense failed, using raw question", "error", err)
		} else if strings.TrimSpace(q) != "" {
			condensed = strings.TrimSpace(q)
		}
	}

	// 2. Retrieve.
	k := rt.RetrievalK
	if k <= 0 {
		k = p.cfg.Assistant.RetrievalK
	}
	docs, err := p.idx.HybridSearch(ctx, condensed, k, turn.Filter,
		index.DefaultLexicalWeight, index.DefaultSemanticWeight)
	if err != nil {
		return nil, fmt.Errorf("retrieve: %w", err)
	}

	// 3. Budget and render the chat prompt.
	chatName := rt.ChatModel
	if turn.ModelConfig != "" {
		chatName = turn.ModelConfig
	}
	chatModel, err := p.models.Handle(chatName)
	if err != nil {
		return nil, err
	}
	scaffold, err := p.prompts.Render("chat", map[string]any{"question": "", "retriever_output": ""})
	if err != nil {
		return nil, err
	}
	limiter := NewTokenLimiter(p.cfg.Assistant.TokenBudget, providers.ApproxTokens(scaffold), chatModel)

	docTexts := make([]string, len(docs))
	for i, d := range docs {
		docTexts[i] = d.Text
	}
	in := PruneInput{
		Question:  turn.Question,
		History:   messageTexts(turn.History),
		Documents: [][]string{docTexts},
		Extras:    turn.Extras,
	}
	pruned, warn := limiter.Prune(in)
	if warn != nil {
		return &Output{
			Text:     warn.Message,
			Metadata: map[string]any{"warning": warn.Code},
		}, nil
	}
	docs = docs[:len(pruned.Documents[0])]

	prompt, err := p.prompts.Render("chat", map[string]any{
		"question":         turn.Question,
		"retriever_output": docsText(docs),
	})
	if err != nil {
		return nil, err
	}

	// 4. Stream the answer.
	messages := historyMessages(pruned.History)
	messages = append(messages, providers.Message{Role: "user", Content: prompt})
	resp, err := chatModel.ChatStream(ctx, providers.ChatRequest{
		Messages: messages,
		Options:  p.chatOptions(rt, chatName),
	}, func(chunk providers.StreamChunk) {
		if chunk.Content != "" {
			emit(chunkEvent(chunk.Content, turn.ConversationID))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("chat model: %w", err)
	}

	scores := make([]float64, len(docs))
	for i, d := range docs {
		scores[i] = d.Score
	}
	return &Output{
		Text:            resp.Content,
		SourceDocuments: docs,
		Metadata: map[string]any{
			"retriever_scores": scores,
			"condensed":        condensed,
			"question":         turn.Question,
		},
	}, nil
}

func (p *QAPipeline) condense(ctx context.Context, rt config.RuntimeSettings, turn Turn) (string, error) {
	model, err := p.models.Handle(rt.CondenseModel)
	if err != nil {
		return "", err
	}
	prompt, err := p.prompts.Render("condense", map[string]any{
		"history": historyText(turn.History, turn.Question),
	})
	if err != nil {
		return "", err
	}
	resp, err := model.Chat(ctx, providers.ChatRequest{
		Messages: []providers.Message{{Role: "user", Content: prompt}},
		Options:  p.models.Options(rt.CondenseModel),
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func (p *QAPipeline) chatOptions(rt config.RuntimeSettings, name string) map[string]any {
	opts := p.models.Options(name)
	if opts == nil {
		opts = map[string]any{}
	}
	if rt.Temperature > 0 {
		opts[providers.OptTemperature] = rt.Temperature
	}
	if rt.TopP > 0 {
		opts[providers.OptTopP] = rt.TopP
	}
	return opts
}

func messageTexts(msgs []providers.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}

// historyMessages rebuilds alternating history messages from pruned texts.
// Role fidelity is lost after pruning; the texts are replayed as context.
func historyMessages(texts []string) []providers.Message {
	out := make([]providers.Message, 0, len(texts))
	for i, t := range texts {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		out = append(out, providers.Message{Role: role, Content: t})
	}
	return out
}
