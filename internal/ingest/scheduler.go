package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"
)

// Scheduler fires source passes on their cron expressions. The tick
// resolution is one minute, matching standard cron semantics. Overlapping
// triggers for the same source are dropped by the manager's single-flight
// guard.
type Scheduler struct {
	mgr  *Manager
	gron *gronx.Gronx

	mu        sync.Mutex
	schedules map[string]string // source name → cron expr
}

func NewScheduler(mgr *Manager) *Scheduler {
	return &Scheduler{
		mgr:       mgr,
		gron:      gronx.New(),
		schedules: make(map[string]string),
	}
}

// Reload replaces the schedule table from the manager's current collectors.
// Invalid expressions are logged and skipped.
func (s *Scheduler) Reload() {
	next := make(map[string]string)
	s.mgr.mu.Lock()
	for name, c := range s.mgr.collectors {
		if expr := c.Cron(); expr != "" {
			next[name] = expr
		}
	}
	s.mgr.mu.Unlock()

	for name, expr := range next {
		if !s.gron.IsValid(expr) {
			slog.Warn("invalid cron expression, source will not be scheduled",
				"source", name, "cron", expr)
			delete(next, name)
		}
	}

	s.mu.Lock()
	s.schedules = next
	s.mu.Unlock()
	slog.Info("ingest schedules loaded", "scheduled", len(next))
}

// Run blocks, ticking once per minute until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.tick(ctx, now)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	s.mu.Lock()
	due := make([]string, 0, 2)
	for name, expr := range s.schedules {
		ok, err := s.gron.IsDue(expr, now)
		if err != nil {
			slog.Warn("cron evaluation failed", "source", name, "error", err)
			continue
		}
		if ok {
			due = append(due, name)
		}
	}
	s.mu.Unlock()

	for _, name := range due {
		go func(name string) {
			if _, err := s.mgr.RunSource(ctx, name); err != nil {
				if errors.Is(err, ErrAlreadyRunning) {
					slog.Warn("scheduled pass dropped, previous still running", "source", name)
					return
				}
				// RunSource already logged the failure detail.
			}
		}(name)
	}
}
