package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docsage/docsage/internal/catalog"
	"github.com/docsage/docsage/internal/config"
	"github.com/docsage/docsage/internal/index"
)

type countEmbedder struct{}

func (countEmbedder) Dim() int { return 2 }

func (countEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = []float32{float32(len(text)), 1}
	}
	return out, nil
}

func testManager(t *testing.T) (*Manager, *catalog.Store, *index.Index) {
	t.Helper()
	cat, err := catalog.NewStore(t.TempDir())
	require.NoError(t, err)
	idx, err := index.Open(config.DataManager{
		EmbeddingDim:    2,
		ChunkSize:       500,
		ChunkOverlap:    50,
		DistanceMetric:  "cosine",
		ParallelWorkers: 1,
		IndexPath:       filepath.Join(t.TempDir(), "index.db"),
	}, countEmbedder{})
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return NewManager(cat, idx), cat, idx
}

func TestRunSourceUnknown(t *testing.T) {
	mgr, _, _ := testManager(t)
	_, err := mgr.RunSource(context.Background(), "nope")
	assert.ErrorContains(t, err, "unknown source")
}

func TestRunSourceCommitsThenSyncs(t *testing.T) {
	dir := t.TempDir()
	body := "user manual for the beam monitor"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "manual.txt"), []byte(body), 0o644))

	mgr, cat, idx := testManager(t)
	cfg := config.Default()
	cfg.Sources.Uploads = config.UploadsConfig{Dir: dir}
	mgr.Configure(cfg)
	assert.Equal(t, []string{"uploads"}, mgr.Sources())

	stats, err := mgr.RunSource(context.Background(), "uploads")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Collected)

	hash := catalog.HashContent([]byte(body))
	assert.True(t, idx.IndexedResources()[hash])

	// The catalog index hit disk before the sync: a fresh open sees the row.
	reopened, err := catalog.NewStore(cat.Root())
	require.NoError(t, err)
	_, _, _, err = reopened.Lookup(hash)
	assert.NoError(t, err)

	st := mgr.Status()
	require.Len(t, st, 1)
	assert.Equal(t, "uploads", st[0].Name)
	assert.NotNil(t, st[0].LastRun)
	assert.Empty(t, st[0].LastError)
}

type blockingCollector struct {
	release chan struct{}
	started chan struct{}
	once    sync.Once
}

func (c *blockingCollector) Name() string   { return "slow" }
func (c *blockingCollector) Subdir() string { return subdirUploads }
func (c *blockingCollector) Reset() bool    { return false }
func (c *blockingCollector) Cron() string   { return "" }

func (c *blockingCollector) Collect(ctx context.Context, cat *catalog.Store) (CollectStats, error) {
	c.once.Do(func() { close(c.started) })
	select {
	case <-c.release:
	case <-ctx.Done():
	}
	return CollectStats{}, nil
}

func TestRunSourceSingleFlight(t *testing.T) {
	mgr, _, _ := testManager(t)
	c := &blockingCollector{release: make(chan struct{}), started: make(chan struct{})}
	mgr.mu.Lock()
	mgr.collectors[c.Name()] = c
	mgr.status[c.Name()] = &SourceStatus{Name: c.Name()}
	mgr.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		_, err := mgr.RunSource(context.Background(), "slow")
		done <- err
	}()

	<-c.started
	_, err := mgr.RunSource(context.Background(), "slow")
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	close(c.release)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("first pass never finished")
	}

	// The slot is free again.
	_, err = mgr.RunSource(context.Background(), "slow")
	assert.NoError(t, err)
}

func TestBuildCollectorsSplitsGitPrefixedLinks(t *testing.T) {
	cfg := config.Default()
	cfg.Sources.Links = []config.LinkSource{{
		Name: "docs",
		URLs: []string{"https://example.org/manual", "git-https://github.com/org/repo.git"},
	}}
	collectors := BuildCollectors(cfg)

	var names []string
	for _, c := range collectors {
		names = append(names, c.Name())
	}
	joined := strings.Join(names, ",")
	assert.Contains(t, joined, "docs")
	assert.Contains(t, joined, "repo")
}
