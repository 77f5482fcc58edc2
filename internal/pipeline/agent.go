package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/docsage/docsage/internal/config"
	"github.com/docsage/docsage/internal/index"
	"github.com/docsage/docsage/internal/providers"
	"github.com/docsage/docsage/internal/tools"
)

const (
	defaultMaxToolSteps  = 8
	defaultToolTimeout   = 60 * time.Second
	defaultPreviewChars  = 2000
)

// ToolsFactory builds the tool set for one turn. Retrieval tools bind the
// turn's document filter, so the registry cannot be shared across turns.
type ToolsFactory func(turn Turn) *tools.Registry

// AgentPipeline runs the tool-using loop: invoke the model with tool
// definitions, execute requested tools, feed results back, repeat until the
// model answers without pending calls or the step limit is hit.
type AgentPipeline struct {
	cfg      *config.Config
	runtime  *config.Runtime
	models   *ModelSet
	prompts  *Prompts
	newTools ToolsFactory
}

func NewAgentPipeline(cfg *config.Config, rt *config.Runtime, models *ModelSet, prompts *Prompts, newTools ToolsFactory) *AgentPipeline {
	return &AgentPipeline{cfg: cfg, runtime: rt, models: models, prompts: prompts, newTools: newTools}
}

func (p *AgentPipeline) Name() string { return PipelineAgent }

func (p *AgentPipeline) Run(ctx context.Context, turn Turn, emit EmitFunc) (*Output, error) {
	rt := p.runtime.Snapshot()
	modelName := p.cfg.Assistant.Agent.Model
	if modelName == "" {
		modelName = rt.ChatModel
	}
	if turn.ModelConfig != "" {
		modelName = turn.ModelConfig
	}
	model, err := p.models.Handle(modelName)
	if err != nil {
		return nil, err
	}
	registry := p.newTools(turn)
	toolDefs := registry.ProviderDefs()

	maxSteps := p.cfg.Assistant.Agent.MaxToolSteps
	if maxSteps <= 0 {
		maxSteps = defaultMaxToolSteps
	}
	toolTimeout := time.Duration(p.cfg.Assistant.Agent.ToolTimeoutSecs) * time.Second
	if toolTimeout <= 0 {
		toolTimeout = defaultToolTimeout
	}
	previewChars := p.cfg.Assistant.Agent.ToolPreviewChars
	if previewChars <= 0 {
		previewChars = defaultPreviewChars
	}

	system, err := p.prompts.Render("agent_system", nil)
	if err != nil {
		return nil, err
	}
	messages := []providers.Message{{Role: "system", Content: system}}
	messages = append(messages, turn.History...)
	messages = append(messages, providers.Message{Role: "user", Content: turn.Question})

	var sourceDocs []index.ScoredDocument

	for step := 0; step < maxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := model.ChatStream(ctx, providers.ChatRequest{
			Messages: messages,
			Tools:    toolDefs,
			Options:  p.models.Options(modelName),
		}, func(chunk providers.StreamChunk) {
			if chunk.Content != "" {
				emit(chunkEvent(chunk.Content, turn.ConversationID))
			}
		})
		if err != nil {
			return nil, fmt.Errorf("agent model (step %d): %w", step+1, err)
		}

		if len(resp.ToolCalls) == 0 {
			return &Output{
				Text:            resp.Content,
				SourceDocuments: sourceDocs,
				Metadata: map[string]any{
					"question":   turn.Question,
					"tool_steps": step,
				},
			}, nil
		}

		assistantMsg := providers.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		}
		messages = append(messages, assistantMsg)

		for _, tc := range resp.ToolCalls {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if tc.ID == "" {
				tc.ID = uuid.NewString()
			}
			emit(toolCallEvent(tc.ID, tc.Name, tc.Arguments))
			emit(toolStartEvent(tc.ID, tc.Name, tc.Arguments))

			start := time.Now()
			toolCtx, cancel := context.WithTimeout(ctx, toolTimeout)
			result := registry.Execute(toolCtx, tc.Name, tc.Arguments)
			cancel()
			elapsed := time.Since(start)

			status := ToolStatusOK
			switch {
			case ctx.Err() != nil:
				status = ToolStatusCancelled
			case errors.Is(toolCtx.Err(), context.DeadlineExceeded):
				status = ToolStatusTimeout
			case result.IsError:
				status = ToolStatusError
			}

			preview, truncated, fullLen := result.Preview(previewChars)
			emit(toolOutputEvent(tc.ID, preview, truncated, fullLen))
			emit(toolEndEvent(tc.ID, status, elapsed))

			if status == ToolStatusCancelled {
				// Cancelled mid-tool: the output is dropped, the turn unwinds.
				return nil, ctx.Err()
			}
			if result.IsError {
				slog.Warn("tool failed", "tool", tc.Name, "status", status, "error", result.ForLLM)
			}
			sourceDocs = append(sourceDocs, result.Docs...)

			messages = append(messages, providers.Message{
				Role:       "tool",
				Content:    result.ForLLM,
				ToolCallID: tc.ID,
			})
		}
	}

	return nil, fmt.Errorf("agent exceeded %d tool steps without a final answer", maxSteps)
}
