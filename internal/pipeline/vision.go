package pipeline

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image/jpeg"
	"log/slog"

	"github.com/disintegration/imaging"

	"github.com/docsage/docsage/internal/config"
	"github.com/docsage/docsage/internal/providers"
)

// maxVisionEdge bounds the longer image edge sent to the vision model.
const maxVisionEdge = 1568

// ImagePipeline forwards images through a vision model and returns the
// extracted text. Images bypass token budgeting; only the prompt text is
// counted by providers.
type ImagePipeline struct {
	cfg     *config.Config
	models  *ModelSet
	prompts *Prompts
}

func NewImagePipeline(cfg *config.Config, models *ModelSet, prompts *Prompts) *ImagePipeline {
	return &ImagePipeline{cfg: cfg, models: models, prompts: prompts}
}

func (p *ImagePipeline) Name() string { return PipelineImage }

func (p *ImagePipeline) Run(ctx context.Context, turn Turn, emit EmitFunc) (*Output, error) {
	if len(turn.Images) == 0 {
		return nil, fmt.Errorf("image pipeline: no images in turn")
	}
	modelName := p.cfg.Assistant.VisionModel
	if turn.ModelConfig != "" {
		modelName = turn.ModelConfig
	}
	model, err := p.models.Handle(modelName)
	if err != nil {
		return nil, err
	}
	prompt, err := p.prompts.Render("vision", nil)
	if err != nil {
		return nil, err
	}
	if turn.Question != "" {
		prompt = prompt + "\n\n" + turn.Question
	}

	images := make([]providers.ImageContent, 0, len(turn.Images))
	for _, img := range turn.Images {
		images = append(images, downscale(img))
	}

	resp, err := model.ChatStream(ctx, providers.ChatRequest{
		Messages: []providers.Message{{Role: "user", Content: prompt, Images: images}},
		Options:  p.models.Options(modelName),
	}, func(chunk providers.StreamChunk) {
		if chunk.Content != "" {
			emit(chunkEvent(chunk.Content, turn.ConversationID))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("vision model: %w", err)
	}

	return &Output{
		Text:     resp.Content,
		Metadata: map[string]any{"images": len(images)},
	}, nil
}

// downscale re-encodes oversized images to keep vision payloads small.
// Anything that fails to decode passes through untouched; the provider will
// reject it with a clearer error.
func downscale(img providers.ImageContent) providers.ImageContent {
	raw, err := base64.StdEncoding.DecodeString(img.Data)
	if err != nil {
		return img
	}
	decoded, err := imaging.Decode(bytes.NewReader(raw))
	if err != nil {
		return img
	}
	bounds := decoded.Bounds()
	if bounds.Dx() <= maxVisionEdge && bounds.Dy() <= maxVisionEdge {
		return img
	}
	resized := imaging.Fit(decoded, maxVisionEdge, maxVisionEdge, imaging.Lanczos)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: 85}); err != nil {
		slog.Warn("image re-encode failed, sending original", "error", err)
		return img
	}
	return providers.ImageContent{
		MimeType: "image/jpeg",
		Data:     base64.StdEncoding.EncodeToString(buf.Bytes()),
	}
}
