package index

import (
	"context"
	"fmt"
	"math"
	"sort"
)

// Default fusion weights for hybrid search.
const (
	DefaultLexicalWeight  = 0.6
	DefaultSemanticWeight = 0.4
)

// SemanticSearch embeds the query and returns the top-k nearest chunks under
// the configured distance metric, after applying filter. Empty corpus
// returns an empty list.
func (x *Index) SemanticSearch(ctx context.Context, query string, k int, filter Filter) ([]ScoredDocument, error) {
	x.mu.RLock()
	empty := len(x.chunks) == 0
	x.mu.RUnlock()
	if empty || k <= 0 {
		return []ScoredDocument{}, nil
	}
	if x.embedder == nil {
		return nil, fmt.Errorf("semantic search: no embedder configured")
	}

	vectors, err := x.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("semantic search: embed query: %w", err)
	}
	qv := vectors[0]

	x.mu.RLock()
	defer x.mu.RUnlock()

	scored := make([]ScoredDocument, 0, len(x.chunks))
	for _, c := range x.chunks {
		if filter != nil && !filter(c.ResourceID, c.Metadata) {
			continue
		}
		scored = append(scored, ScoredDocument{
			Document: Document{ResourceID: c.ResourceID, ChunkIndex: c.ChunkIndex, Text: c.Text, Metadata: c.Metadata},
			Score:    x.similarity(qv, c.Vector),
		})
	}
	sortScored(scored)
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// LexicalSearch runs BM25 over all indexed chunk text.
func (x *Index) LexicalSearch(query string, k int, filter Filter) []ScoredDocument {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if len(x.chunks) == 0 || k <= 0 {
		return []ScoredDocument{}
	}

	tokens := x.bm25.queryTokens(query)
	scored := make([]ScoredDocument, 0, len(x.chunks))
	for i, c := range x.chunks {
		if filter != nil && !filter(c.ResourceID, c.Metadata) {
			continue
		}
		s := x.bm25.score(tokens, i)
		if s <= 0 {
			continue
		}
		scored = append(scored, ScoredDocument{
			Document: Document{ResourceID: c.ResourceID, ChunkIndex: c.ChunkIndex, Text: c.Text, Metadata: c.Metadata},
			Score:    s,
		})
	}
	sortScored(scored)
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored
}

// HybridSearch fuses lexical and semantic retrieval: scores are min-max
// normalized per arm, combined as wLex·lex + wSem·sem, deduplicated by
// (resource_id, chunk_index) keeping the max combined score, and ordered by
// combined score descending with ties broken by (resource asc, chunk asc).
func (x *Index) HybridSearch(ctx context.Context, query string, k int, filter Filter, wLex, wSem float64) ([]ScoredDocument, error) {
	if wLex == 0 && wSem == 0 {
		wLex, wSem = DefaultLexicalWeight, DefaultSemanticWeight
	}

	// Pull a wider candidate set from each arm so fusion has overlap to work with.
	armK := k * 2
	if armK < k {
		armK = k
	}

	lex := x.LexicalSearch(query, armK, filter)
	sem, err := x.SemanticSearch(ctx, query, armK, filter)
	if err != nil {
		return nil, err
	}

	normalize(lex)
	normalize(sem)

	type key struct {
		resource string
		chunk    int
	}
	combined := make(map[key]ScoredDocument)
	add := func(doc ScoredDocument, weight float64) {
		k := key{doc.ResourceID, doc.ChunkIndex}
		cur, ok := combined[k]
		if !ok {
			doc.Score *= weight
			combined[k] = doc
			return
		}
		cur.Score += doc.Score * weight
		combined[k] = cur
	}
	for _, d := range lex {
		add(d, wLex)
	}
	for _, d := range sem {
		add(d, wSem)
	}

	out := make([]ScoredDocument, 0, len(combined))
	for _, d := range combined {
		out = append(out, d)
	}
	sortScored(out)
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// similarity maps the configured metric to a "higher is better" score.
func (x *Index) similarity(a, b []float32) float64 {
	switch x.cfg.DistanceMetric {
	case "l2":
		var sum float64
		for i := range a {
			d := float64(a[i]) - float64(b[i])
			sum += d * d
		}
		return -math.Sqrt(sum)
	case "ip":
		return dot(a, b)
	default: // cosine
		na, nb := norm(a), norm(b)
		if na == 0 || nb == 0 {
			return 0
		}
		return dot(a, b) / (na * nb)
	}
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func norm(a []float32) float64 {
	return math.Sqrt(dot(a, a))
}

// normalize rescales scores in place to [0,1] (min-max). A single result or
// constant scores map to 1.
func normalize(docs []ScoredDocument) {
	if len(docs) == 0 {
		return
	}
	lo, hi := docs[0].Score, docs[0].Score
	for _, d := range docs[1:] {
		if d.Score < lo {
			lo = d.Score
		}
		if d.Score > hi {
			hi = d.Score
		}
	}
	if hi == lo {
		for i := range docs {
			docs[i].Score = 1
		}
		return
	}
	for i := range docs {
		docs[i].Score = (docs[i].Score - lo) / (hi - lo)
	}
}

// sortScored orders by score descending, ties by (resource asc, chunk asc)
// for determinism.
func sortScored(docs []ScoredDocument) {
	sort.Slice(docs, func(i, j int) bool {
		if docs[i].Score != docs[j].Score {
			return docs[i].Score > docs[j].Score
		}
		if docs[i].ResourceID != docs[j].ResourceID {
			return docs[i].ResourceID < docs[j].ResourceID
		}
		return docs[i].ChunkIndex < docs[j].ChunkIndex
	})
}
