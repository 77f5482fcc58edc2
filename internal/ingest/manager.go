package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/docsage/docsage/internal/catalog"
	"github.com/docsage/docsage/internal/config"
	"github.com/docsage/docsage/internal/index"
)

// SourceStatus is the reported state of one source for the status endpoint.
type SourceStatus struct {
	Name      string       `json:"name"`
	Cron      string       `json:"cron,omitempty"`
	Running   bool         `json:"running"`
	LastRun   *time.Time   `json:"last_run,omitempty"`
	LastError string       `json:"last_error,omitempty"`
	Stats     CollectStats `json:"stats"`
	Synced    *time.Time   `json:"synced,omitempty"`
}

// Manager drives collectors against the catalog and keeps the retrieval
// index in sync. One collection pass per source runs at a time; a trigger
// that arrives while a pass is running is dropped.
type Manager struct {
	cat *catalog.Store
	idx *index.Index

	mu         sync.Mutex
	collectors map[string]Collector
	running    map[string]bool
	status     map[string]*SourceStatus
}

func NewManager(cat *catalog.Store, idx *index.Index) *Manager {
	return &Manager{
		cat:        cat,
		idx:        idx,
		collectors: make(map[string]Collector),
		running:    make(map[string]bool),
		status:     make(map[string]*SourceStatus),
	}
}

// Configure rebuilds the collector set from config. Called at startup and on
// schedule reload.
func (m *Manager) Configure(cfg *config.Config) {
	collectors := BuildCollectors(cfg)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collectors = make(map[string]Collector, len(collectors))
	for _, c := range collectors {
		m.collectors[c.Name()] = c
		if _, ok := m.status[c.Name()]; !ok {
			m.status[c.Name()] = &SourceStatus{Name: c.Name(), Cron: c.Cron()}
		} else {
			m.status[c.Name()].Cron = c.Cron()
		}
	}
	for name := range m.status {
		if _, ok := m.collectors[name]; !ok {
			delete(m.status, name)
		}
	}
}

// Sources returns the configured source names, sorted.
func (m *Manager) Sources() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.collectors))
	for name := range m.collectors {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// RunSource runs one full collection pass for a source: optional reset,
// collect, catalog flush (the commit point), then index sync. Returns
// ErrAlreadyRunning when a pass for the same source is in flight.
func (m *Manager) RunSource(ctx context.Context, name string) (CollectStats, error) {
	m.mu.Lock()
	c, ok := m.collectors[name]
	if !ok {
		m.mu.Unlock()
		return CollectStats{}, fmt.Errorf("unknown source %q", name)
	}
	if m.running[name] {
		m.mu.Unlock()
		return CollectStats{}, ErrAlreadyRunning
	}
	m.running[name] = true
	m.status[name].Running = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.running[name] = false
		m.status[name].Running = false
		m.mu.Unlock()
	}()

	start := time.Now().UTC()
	slog.Info("ingest pass started", "source", name)

	stats, err := m.runPass(ctx, c)

	m.mu.Lock()
	st := m.status[name]
	st.LastRun = &start
	st.Stats = stats
	if err != nil {
		st.LastError = err.Error()
	} else {
		st.LastError = ""
		now := time.Now().UTC()
		st.Synced = &now
	}
	m.mu.Unlock()

	if err != nil {
		slog.Error("ingest pass failed", "source", name, "error", err)
		return stats, err
	}
	slog.Info("ingest pass finished", "source", name,
		"collected", stats.Collected, "skipped", stats.Skipped, "failed", stats.Failed,
		"elapsed", time.Since(start).Round(time.Millisecond))
	return stats, nil
}

func (m *Manager) runPass(ctx context.Context, c Collector) (CollectStats, error) {
	if c.Reset() {
		if err := m.cat.Reset(c.Subdir()); err != nil {
			return CollectStats{}, fmt.Errorf("reset %s: %w", c.Subdir(), err)
		}
	}

	stats, err := c.Collect(ctx, m.cat)
	if err != nil {
		return stats, fmt.Errorf("collect %s: %w", c.Name(), err)
	}

	// Commit point: nothing is visible to the index until the catalog
	// indexes hit disk.
	if err := m.cat.Flush(); err != nil {
		return stats, fmt.Errorf("flush catalog: %w", err)
	}

	res, err := m.idx.Sync(ctx, m.cat)
	if err != nil {
		return stats, fmt.Errorf("sync index: %w", err)
	}
	if res.Added > 0 || res.Removed > 0 {
		slog.Info("index synced", "source", c.Name(),
			"added", res.Added, "removed", res.Removed, "skipped", res.Skipped)
	}
	return stats, nil
}

// RunAll runs every configured source sequentially. Per-source failures are
// logged and aggregated; the pass continues.
func (m *Manager) RunAll(ctx context.Context) (CollectStats, error) {
	var (
		total CollectStats
		errs  []string
	)
	for _, name := range m.Sources() {
		stats, err := m.RunSource(ctx, name)
		total.add(stats)
		if err != nil && err != ErrAlreadyRunning {
			errs = append(errs, fmt.Sprintf("%s: %v", name, err))
		}
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
	}
	if len(errs) > 0 {
		return total, fmt.Errorf("ingest: %s", strings.Join(errs, "; "))
	}
	return total, nil
}

// Status reports all sources for the status endpoint, sorted by name.
func (m *Manager) Status() []SourceStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SourceStatus, 0, len(m.status))
	for _, st := range m.status {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ErrAlreadyRunning is returned when a trigger overlaps an in-flight pass.
var ErrAlreadyRunning = fmt.Errorf("source pass already running")
