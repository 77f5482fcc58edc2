package index

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/docsage/docsage/internal/catalog"
	"github.com/docsage/docsage/internal/config"
	"github.com/docsage/docsage/internal/providers"
)

// chunkRow is the unit held in the store and the in-memory mirror.
type chunkRow struct {
	ResourceID string
	ChunkIndex int
	Text       string
	Vector     []float32
	Metadata   map[string]string
}

// Index maintains the searchable representation of the catalog: chunk rows
// persisted in sqlite with an in-memory mirror for scoring. Writes are
// serialized per resource; readers take a snapshot under the read lock.
type Index struct {
	cfg      config.DataManager
	embedder providers.Embedder
	store    *chunkStore

	mu     sync.RWMutex
	chunks []chunkRow
	bm25   *bm25Corpus
}

// SyncResult summarizes one sync run.
type SyncResult struct {
	Added   int
	Removed int
	Skipped int
}

// Open loads the index at cfg.IndexPath and rebuilds the in-memory mirror.
func Open(cfg config.DataManager, embedder providers.Embedder) (*Index, error) {
	if embedder != nil && embedder.Dim() != cfg.EmbeddingDim {
		return nil, fmt.Errorf("embedding dimension mismatch: index configured for %d, embedder produces %d",
			cfg.EmbeddingDim, embedder.Dim())
	}
	store, err := openChunkStore(cfg.IndexPath)
	if err != nil {
		return nil, err
	}
	idx := &Index{cfg: cfg, embedder: embedder, store: store}
	if err := idx.reload(); err != nil {
		store.Close()
		return nil, err
	}
	return idx, nil
}

func (x *Index) Close() error { return x.store.Close() }

func (x *Index) reload() error {
	chunks, err := x.store.loadAll()
	if err != nil {
		return err
	}
	x.mu.Lock()
	x.chunks = chunks
	x.bm25 = buildBM25(chunks, x.cfg.BM25K1, x.cfg.BM25B, x.cfg.Stemming)
	x.mu.Unlock()
	return nil
}

// Reset drops all chunks. Only runs when reset_collection is set.
func (x *Index) Reset() error {
	if !x.cfg.ResetCollection {
		return fmt.Errorf("reset requested but reset_collection is not set")
	}
	if err := x.store.reset(); err != nil {
		return err
	}
	return x.reload()
}

// IndexedResources returns the set of resource ids currently carrying chunks.
func (x *Index) IndexedResources() map[string]bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make(map[string]bool)
	for _, c := range x.chunks {
		out[c.ResourceID] = true
	}
	return out
}

// Sync reconciles the index with the catalog: new live resources are loaded,
// chunked, and embedded; removed or soft-deleted resources lose their chunks.
// Re-running on an unchanged catalog performs no writes. A loader failure
// skips that resource; an embedding failure after retries marks it un-indexed
// for this run. A dimension mismatch aborts before any write.
func (x *Index) Sync(ctx context.Context, cat *catalog.Store) (SyncResult, error) {
	var res SyncResult

	live := cat.LiveHashes()
	indexed := x.IndexedResources()

	var toAdd, toRemove []string
	for hash := range live {
		if !indexed[hash] {
			toAdd = append(toAdd, hash)
		}
	}
	for hash := range indexed {
		if !live[hash] {
			toRemove = append(toRemove, hash)
		}
	}
	if len(toAdd) == 0 && len(toRemove) == 0 {
		return res, nil
	}

	if len(toAdd) > 0 && x.embedder == nil {
		return res, fmt.Errorf("sync: no embedder configured")
	}

	for _, hash := range toRemove {
		if err := x.store.deleteResource(hash); err != nil {
			return res, fmt.Errorf("sync: remove %s: %w", hash, err)
		}
		res.Removed++
	}

	workers := x.cfg.ParallelWorkers
	if workers < 1 {
		workers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	var mu sync.Mutex
	for _, hash := range toAdd {
		hash := hash
		g.Go(func() error {
			rows, err := x.buildResource(gctx, cat, hash)
			if err != nil {
				if isFatal(err) {
					return err
				}
				slog.Warn("index sync: skipping resource", "hash", hash, "error", err)
				mu.Lock()
				res.Skipped++
				mu.Unlock()
				return nil
			}
			if err := x.store.replaceResource(hash, rows); err != nil {
				return fmt.Errorf("sync: store %s: %w", hash, err)
			}
			mu.Lock()
			res.Added++
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}

	if err := x.reload(); err != nil {
		return res, err
	}
	slog.Info("index sync complete", "added", res.Added, "removed", res.Removed, "skipped", res.Skipped)
	return res, nil
}

type fatalError struct{ err error }

func (e fatalError) Error() string { return e.err.Error() }
func (e fatalError) Unwrap() error { return e.err }

func isFatal(err error) bool {
	_, ok := err.(fatalError)
	return ok
}

// buildResource loads, chunks, and embeds one catalog resource.
func (x *Index) buildResource(ctx context.Context, cat *catalog.Store, hash string) ([]chunkRow, error) {
	rel, content, meta, err := cat.Lookup(hash)
	if err != nil {
		return nil, fmt.Errorf("lookup: %w", err)
	}

	text, err := LoaderFor(filepath.Ext(rel))(content)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", rel, err)
	}

	pieces := SplitText(text, x.cfg.ChunkSize, x.cfg.ChunkOverlap)
	if len(pieces) == 0 {
		return nil, fmt.Errorf("load %s: empty after chunking", rel)
	}

	md := map[string]string{"path": rel}
	if meta != nil {
		md["source_type"] = meta.SourceType
		if meta.SourceURL != "" {
			md["source_url"] = meta.SourceURL
		}
		if meta.Title != "" {
			md["title"] = meta.Title
		}
	}

	vectors, err := x.embedBatched(ctx, pieces)
	if err != nil {
		return nil, fmt.Errorf("embed %s: %w", rel, err)
	}

	rows := make([]chunkRow, len(pieces))
	for i, piece := range pieces {
		if len(vectors[i]) != x.cfg.EmbeddingDim {
			return nil, fatalError{fmt.Errorf(
				"embedding dimension mismatch: got %d, index configured for %d",
				len(vectors[i]), x.cfg.EmbeddingDim)}
		}
		rows[i] = chunkRow{
			ResourceID: hash,
			ChunkIndex: i,
			Text:       piece,
			Vector:     vectors[i],
			Metadata:   md,
		}
	}
	return rows, nil
}

const embedBatchSize = 64

func (x *Index) embedBatched(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		vectors, err := x.embedder.Embed(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vectors...)
	}
	return out, nil
}

// Documents returns a snapshot of every indexed document, for listings.
func (x *Index) Documents() []Document {
	x.mu.RLock()
	defer x.mu.RUnlock()
	docs := make([]Document, len(x.chunks))
	for i, c := range x.chunks {
		docs[i] = Document{ResourceID: c.ResourceID, ChunkIndex: c.ChunkIndex, Text: c.Text, Metadata: c.Metadata}
	}
	return docs
}

// Stats reports basic index size numbers.
func (x *Index) Stats() (resources, chunks int) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	seen := make(map[string]bool)
	for _, c := range x.chunks {
		seen[c.ResourceID] = true
	}
	return len(seen), len(x.chunks)
}
