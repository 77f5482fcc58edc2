package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docsage/docsage/internal/catalog"
	"github.com/docsage/docsage/internal/config"
)

// UploadCollector sweeps a drop directory of user-supplied files. Hashes
// derive from file content, so the same document uploaded twice under
// different names lands once.
type UploadCollector struct {
	src config.UploadsConfig
}

func NewUploadCollector(src config.UploadsConfig) *UploadCollector {
	return &UploadCollector{src: src}
}

func (c *UploadCollector) Name() string   { return "uploads" }
func (c *UploadCollector) Subdir() string { return subdirUploads }
func (c *UploadCollector) Reset() bool    { return c.src.Reset }
func (c *UploadCollector) Cron() string   { return c.src.Cron }

func (c *UploadCollector) Collect(ctx context.Context, cat *catalog.Store) (CollectStats, error) {
	var stats CollectStats
	err := filepath.WalkDir(c.src.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == c.src.Dir {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		content, err := os.ReadFile(path)
		if err != nil {
			stats.Failed++
			return nil
		}
		hash := catalog.HashContent(content)
		ext := strings.ToLower(filepath.Ext(path))
		res := catalog.Resource{
			Hash:        hash,
			DisplayName: catalog.ShortHash(hash) + ext,
			SourceType:  catalog.SourceLocal,
			Suffix:      ext,
			Content:     content,
			Metadata: &catalog.Metadata{
				SourceType:  catalog.SourceLocal,
				CollectedAt: time.Now().UTC(),
				Title:       d.Name(),
				Extra:       map[string]string{"original_name": d.Name()},
			},
		}
		if _, err := cat.Persist(res, subdirUploads); err != nil {
			stats.Failed++
			return nil
		}
		stats.Collected++
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("walk uploads: %w", err)
	}
	return stats, nil
}
