package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/docsage/docsage/internal/index"
)

// RetrievalTool exposes hybrid corpus search to the agent loop. One instance
// is built per turn so the document filter reflects that turn's enabled set.
type RetrievalTool struct {
	idx    *index.Index
	k      int
	filter index.Filter
	wLex   float64
	wSem   float64
}

func NewRetrievalTool(idx *index.Index, k int, filter index.Filter, wLex, wSem float64) *RetrievalTool {
	if k <= 0 {
		k = 4
	}
	return &RetrievalTool{idx: idx, k: k, filter: filter, wLex: wLex, wSem: wSem}
}

func (t *RetrievalTool) Name() string { return "retrieve_documentation" }

func (t *RetrievalTool) Description() string {
	return "Search the indexed documentation corpus. Returns the most relevant passages with their source references. Use targeted queries; call again with a refined query if the first results miss."
}

func (t *RetrievalTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "Search query describing the information needed.",
			},
		},
		"required": []string{"query"},
	}
}

func (t *RetrievalTool) Execute(ctx context.Context, args map[string]any) *Result {
	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return ErrorResult("retrieve_documentation: query is required")
	}

	docs, err := t.idx.HybridSearch(ctx, query, t.k, t.filter, t.wLex, t.wSem)
	if err != nil {
		return ErrorResult(fmt.Sprintf("retrieval failed: %v", err)).WithError(err)
	}
	if len(docs) == 0 {
		return NewResult("No relevant passages found for this query.")
	}

	var b strings.Builder
	for i, d := range docs {
		if i > 0 {
			b.WriteString("\n\n")
		}
		source := d.ResourceID
		if url, ok := d.Metadata["source_url"]; ok && url != "" {
			source = url
		}
		fmt.Fprintf(&b, "[%d] %s (chunk %d)\n%s", i+1, source, d.ChunkIndex, d.Text)
	}
	res := NewResult(b.String())
	res.Docs = docs
	return res
}
