package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OpenAIEmbedder implements Embedder against an OpenAI-compatible
// /embeddings endpoint.
type OpenAIEmbedder struct {
	model       string
	apiKey      string
	apiBase     string
	dim         int
	client      *http.Client
	retryConfig RetryConfig
}

func NewOpenAIEmbedder(model, apiKey, apiBase string, dim int) *OpenAIEmbedder {
	if apiBase == "" {
		apiBase = "https://api.openai.com/v1"
	}
	return &OpenAIEmbedder{
		model:       model,
		apiKey:      apiKey,
		apiBase:     strings.TrimRight(apiBase, "/"),
		dim:         dim,
		client:      &http.Client{Timeout: 60 * time.Second},
		retryConfig: DefaultRetryConfig(),
	}
}

func (e *OpenAIEmbedder) Dim() int { return e.dim }

func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	return RetryDo(ctx, e.retryConfig, func() ([][]float32, error) {
		body, err := json.Marshal(map[string]interface{}{
			"model": e.model,
			"input": texts,
		})
		if err != nil {
			return nil, fmt.Errorf("embeddings: marshal request: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, "POST", e.apiBase+"/embeddings", bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("embeddings: create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+e.apiKey)

		resp, err := e.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("embeddings: request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			respBody, _ := io.ReadAll(resp.Body)
			return nil, &HTTPError{
				Status:     resp.StatusCode,
				Body:       string(respBody),
				RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After")),
			}
		}

		var parsed struct {
			Data []struct {
				Index     int       `json:"index"`
				Embedding []float32 `json:"embedding"`
			} `json:"data"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return nil, fmt.Errorf("embeddings: decode response: %w", err)
		}
		if len(parsed.Data) != len(texts) {
			return nil, fmt.Errorf("embeddings: got %d vectors for %d inputs", len(parsed.Data), len(texts))
		}

		vectors := make([][]float32, len(texts))
		for _, d := range parsed.Data {
			if d.Index < 0 || d.Index >= len(vectors) {
				return nil, fmt.Errorf("embeddings: index %d out of range", d.Index)
			}
			vectors[d.Index] = d.Embedding
		}
		return vectors, nil
	})
}
