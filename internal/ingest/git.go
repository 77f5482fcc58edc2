package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/docsage/docsage/internal/catalog"
	"github.com/docsage/docsage/internal/config"
)

// GitCollector shallow-clones a repository and persists its documentation
// files. Flags narrow what counts as documentation: readme_only keeps only
// README files, mkdocs keeps the docs/ tree, code additionally admits source
// files. Resource hashes derive from repo URL plus path, so renames churn
// and edits-in-place stay stable.
type GitCollector struct {
	src config.GitSource
}

func NewGitCollector(src config.GitSource) *GitCollector {
	return &GitCollector{src: src}
}

func (c *GitCollector) Name() string   { return "git:" + c.src.Name }
func (c *GitCollector) Subdir() string { return subdirGit }
func (c *GitCollector) Reset() bool    { return c.src.Reset }
func (c *GitCollector) Cron() string   { return c.src.Cron }

var codeExts = map[string]bool{
	".go": true, ".py": true, ".c": true, ".h": true, ".cpp": true,
	".java": true, ".js": true, ".ts": true, ".sh": true, ".yaml": true, ".yml": true,
}

var docExts = map[string]bool{
	".md": true, ".rst": true, ".txt": true, ".html": true,
}

func (c *GitCollector) Collect(ctx context.Context, cat *catalog.Store) (CollectStats, error) {
	var stats CollectStats

	dir, err := os.MkdirTemp("", "docsage-git-*")
	if err != nil {
		return stats, fmt.Errorf("temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	args := []string{"clone", "--depth", "1", "--quiet"}
	if c.src.Branch != "" {
		args = append(args, "--branch", c.src.Branch)
	}
	args = append(args, c.src.URL, dir)
	cmd := exec.CommandContext(ctx, "git", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return stats, fmt.Errorf("clone %s: %w: %s", c.src.URL, err, strings.TrimSpace(stderr.String()))
	}

	commit := headCommit(ctx, dir)
	now := time.Now().UTC()

	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if !c.wants(rel) {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			stats.Failed++
			return nil
		}

		res := catalog.Resource{
			Hash:       catalog.HashURL(c.src.URL + ":" + rel),
			SourceType: catalog.SourceGit,
			URL:        c.src.URL,
			GitCommit:  commit,
			Suffix:     strings.ToLower(filepath.Ext(rel)),
			Content:    content,
			Metadata: &catalog.Metadata{
				SourceURL:   c.src.URL,
				SourceType:  catalog.SourceGit,
				CollectedAt: now,
				Title:       rel,
				Extra:       map[string]string{"path": rel, "commit": commit},
			},
		}
		if _, err := cat.Persist(res, subdirGit); err != nil {
			stats.Failed++
			return nil
		}
		stats.Collected++
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("walk %s: %w", c.src.URL, err)
	}
	return stats, nil
}

func (c *GitCollector) wants(rel string) bool {
	base := strings.ToLower(filepath.Base(rel))
	if c.src.ReadmeOnly {
		return strings.HasPrefix(base, "readme")
	}
	if c.src.MkDocs {
		return strings.HasPrefix(rel, "docs/") || base == "mkdocs.yml" ||
			strings.HasPrefix(base, "readme")
	}
	ext := strings.ToLower(filepath.Ext(rel))
	if docExts[ext] {
		return true
	}
	return c.src.Code && codeExts[ext]
}

func headCommit(ctx context.Context, dir string) string {
	cmd := exec.CommandContext(ctx, "git", "-C", dir, "rev-parse", "HEAD")
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}
