package index

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docsage/docsage/internal/catalog"
	"github.com/docsage/docsage/internal/config"
)

// keywordEmbedder produces a 3-dim vector counting occurrences of three
// marker words, so semantic similarity is predictable in tests.
type keywordEmbedder struct{}

func (keywordEmbedder) Dim() int { return 3 }

func (keywordEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		lower := strings.ToLower(text)
		out[i] = []float32{
			float32(strings.Count(lower, "alpha")),
			float32(strings.Count(lower, "beta")),
			float32(strings.Count(lower, "gamma")),
		}
	}
	return out, nil
}

func testDataManager(t *testing.T) config.DataManager {
	t.Helper()
	return config.DataManager{
		EmbeddingDim:    3,
		ChunkSize:       1000,
		ChunkOverlap:    100,
		DistanceMetric:  "cosine",
		ParallelWorkers: 2,
		BM25K1:          0.5,
		BM25B:           0.75,
		IndexPath:       filepath.Join(t.TempDir(), "index.db"),
	}
}

func openTestIndex(t *testing.T) (*Index, *catalog.Store) {
	t.Helper()
	cat, err := catalog.NewStore(t.TempDir())
	require.NoError(t, err)
	idx, err := Open(testDataManager(t), keywordEmbedder{})
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx, cat
}

func addDoc(t *testing.T, cat *catalog.Store, name, body string) string {
	t.Helper()
	res := catalog.Resource{
		Hash:       catalog.HashContent([]byte(body)),
		SourceType: catalog.SourceLocal,
		Suffix:     ".txt",
		Content:    []byte(body),
		Metadata:   &catalog.Metadata{SourceType: catalog.SourceLocal, Title: name},
	}
	_, err := cat.Persist(res, "uploads")
	require.NoError(t, err)
	return res.Hash
}

func TestSyncAddsAndRemoves(t *testing.T) {
	idx, cat := openTestIndex(t)
	ctx := context.Background()

	h1 := addDoc(t, cat, "one", "alpha alpha alpha document about the first topic")
	h2 := addDoc(t, cat, "two", "beta beta beta document about the second topic")

	res, err := idx.Sync(ctx, cat)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Added)
	assert.True(t, idx.IndexedResources()[h1])
	assert.True(t, idx.IndexedResources()[h2])

	// Unchanged catalog: nothing to do.
	res, err = idx.Sync(ctx, cat)
	require.NoError(t, err)
	assert.Equal(t, SyncResult{}, res)

	cat.SoftDelete(h2)
	res, err = idx.Sync(ctx, cat)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Removed)
	assert.False(t, idx.IndexedResources()[h2])
}

func TestSyncSurvivesReopen(t *testing.T) {
	cfg := testDataManager(t)
	cat, err := catalog.NewStore(t.TempDir())
	require.NoError(t, err)
	h := addDoc(t, cat, "doc", "gamma rays and detectors")

	idx, err := Open(cfg, keywordEmbedder{})
	require.NoError(t, err)
	_, err = idx.Sync(context.Background(), cat)
	require.NoError(t, err)
	require.NoError(t, idx.Close())

	idx2, err := Open(cfg, keywordEmbedder{})
	require.NoError(t, err)
	defer idx2.Close()
	assert.True(t, idx2.IndexedResources()[h])
}

func TestOpenRejectsDimensionMismatch(t *testing.T) {
	cfg := testDataManager(t)
	cfg.EmbeddingDim = 8
	_, err := Open(cfg, keywordEmbedder{})
	assert.ErrorContains(t, err, "dimension mismatch")
}

func TestSearchEmptyCorpus(t *testing.T) {
	idx, _ := openTestIndex(t)
	docs, err := idx.HybridSearch(context.Background(), "anything", 5, nil, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, docs)
	assert.Empty(t, idx.LexicalSearch("anything", 5, nil))
}

func TestHybridSearchRanksMatchingDocFirst(t *testing.T) {
	idx, cat := openTestIndex(t)
	ctx := context.Background()

	want := addDoc(t, cat, "alpha-doc", "alpha alpha detector calibration notes")
	addDoc(t, cat, "beta-doc", "beta magnet installation guide")
	_, err := idx.Sync(ctx, cat)
	require.NoError(t, err)

	docs, err := idx.HybridSearch(ctx, "alpha calibration", 2, nil, 0, 0)
	require.NoError(t, err)
	require.NotEmpty(t, docs)
	assert.Equal(t, want, docs[0].ResourceID)
}

func TestSearchHonorsFilter(t *testing.T) {
	idx, cat := openTestIndex(t)
	ctx := context.Background()

	blocked := addDoc(t, cat, "blocked", "alpha secret notes")
	allowed := addDoc(t, cat, "allowed", "alpha public notes")
	_, err := idx.Sync(ctx, cat)
	require.NoError(t, err)

	docs, err := idx.HybridSearch(ctx, "alpha notes", 5, AllowedSet(map[string]bool{allowed: true}), 0, 0)
	require.NoError(t, err)
	require.NotEmpty(t, docs)
	for _, d := range docs {
		assert.NotEqual(t, blocked, d.ResourceID)
	}
}
