package ingest

import (
	"context"

	"github.com/docsage/docsage/internal/catalog"
)

// Collector pulls resources from one configured source into the catalog.
// Collectors only persist content; the manager owns the commit point (index
// flush) and the retrieval index sync that follows.
type Collector interface {
	// Name is the unique source name, prefixed by kind ("links:docs").
	Name() string
	// Subdir is the catalog subdirectory this collector writes under.
	Subdir() string
	// Reset reports whether the source is configured to wipe its subdir
	// before collecting.
	Reset() bool
	// Cron is the source's schedule expression, empty for manual-only.
	Cron() string
	// Collect persists current resources. Per-resource failures are counted,
	// not fatal; the error return is for failures that abort the whole pass.
	Collect(ctx context.Context, cat *catalog.Store) (CollectStats, error)
}

// CollectStats summarizes one collection pass.
type CollectStats struct {
	Collected int `json:"collected"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

func (s *CollectStats) add(o CollectStats) {
	s.Collected += o.Collected
	s.Skipped += o.Skipped
	s.Failed += o.Failed
}
