package pipeline

import (
	"context"
	"fmt"

	"github.com/docsage/docsage/internal/config"
	"github.com/docsage/docsage/internal/index"
	"github.com/docsage/docsage/internal/providers"
)

// GradingPipeline chains summary → reference retrieval → analysis → final
// grade. Every stage except the final grade is optional: a stage runs only
// when its model handle is configured. Intermediate outputs are preserved
// for audit.
type GradingPipeline struct {
	cfg     *config.Config
	models  *ModelSet
	prompts *Prompts
	idx     *index.Index
}

// GradingInput carries the grading-specific turn fields through Turn.Extras:
// "rubric", "submission", "comments".
func NewGradingPipeline(cfg *config.Config, models *ModelSet, prompts *Prompts, idx *index.Index) *GradingPipeline {
	return &GradingPipeline{cfg: cfg, models: models, prompts: prompts, idx: idx}
}

func (p *GradingPipeline) Name() string { return PipelineGrading }

func (p *GradingPipeline) Run(ctx context.Context, turn Turn, emit EmitFunc) (*Output, error) {
	gm := p.cfg.Assistant.GradingModels
	if gm.FinalGrade == "" {
		return nil, fmt.Errorf("grading: final_grade model is required")
	}
	submission := turn.Extras["submission"]
	if submission == "" {
		submission = turn.Question
	}
	rubric := turn.Extras["rubric"]
	comments := turn.Extras["comments"]

	steps := make(map[string]string)

	var summary string
	if gm.Summary != "" {
		out, err := p.stage(ctx, gm.Summary, "grading_summary", map[string]any{
			"submission": submission,
		})
		if err != nil {
			return nil, fmt.Errorf("summary stage: %w", err)
		}
		summary = out
		steps["summary"] = out
	}

	var refs []index.ScoredDocument
	if p.idx != nil {
		found, err := p.idx.SemanticSearch(ctx, submission, p.cfg.Assistant.RetrievalK, turn.Filter)
		if err == nil {
			refs = found
			steps["references"] = docsText(refs)
		}
	}

	var analysis string
	if gm.Analysis != "" {
		out, err := p.stage(ctx, gm.Analysis, "grading_analysis", map[string]any{
			"rubric":     rubric,
			"submission": submission,
			"summary":    summary,
		})
		if err != nil {
			return nil, fmt.Errorf("analysis stage: %w", err)
		}
		analysis = out
		steps["analysis"] = out
	}

	grade, err := p.stageStream(ctx, gm.FinalGrade, "grading_final", map[string]any{
		"rubric":     rubric,
		"submission": submission,
		"analysis":   analysis,
		"comments":   comments,
	}, turn.ConversationID, emit)
	if err != nil {
		return nil, fmt.Errorf("final grade stage: %w", err)
	}

	return &Output{
		Text:              grade,
		SourceDocuments:   refs,
		Metadata:          map[string]any{"question": turn.Question},
		IntermediateSteps: steps,
	}, nil
}

func (p *GradingPipeline) stage(ctx context.Context, modelName, promptName string, vars map[string]any) (string, error) {
	model, err := p.models.Handle(modelName)
	if err != nil {
		return "", err
	}
	prompt, err := p.prompts.Render(promptName, vars)
	if err != nil {
		return "", err
	}
	resp, err := model.Chat(ctx, providers.ChatRequest{
		Messages: []providers.Message{{Role: "user", Content: prompt}},
		Options:  p.models.Options(modelName),
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func (p *GradingPipeline) stageStream(ctx context.Context, modelName, promptName string, vars map[string]any, conversationID int64, emit EmitFunc) (string, error) {
	model, err := p.models.Handle(modelName)
	if err != nil {
		return "", err
	}
	prompt, err := p.prompts.Render(promptName, vars)
	if err != nil {
		return "", err
	}
	resp, err := model.ChatStream(ctx, providers.ChatRequest{
		Messages: []providers.Message{{Role: "user", Content: prompt}},
		Options:  p.models.Options(modelName),
	}, func(chunk providers.StreamChunk) {
		if chunk.Content != "" {
			emit(chunkEvent(chunk.Content, conversationID))
		}
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}
