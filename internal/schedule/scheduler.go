// Package schedule triggers incremental ingestion runs on a cron
// expression, typically nightly after the day's flat files are published.
package schedule

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// RunFunc is one scheduled ingestion task.
type RunFunc func(ctx context.Context) error

// Scheduler wraps a seconds-granularity cron runner. Tasks inherit the
// scheduler's context, so cancelling it skips any not-yet-started runs.
type Scheduler struct {
	cron *cron.Cron
	ctx  context.Context
	log  *slog.Logger
}

// New creates a Scheduler bound to ctx.
func New(ctx context.Context) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithSeconds()),
		ctx:  ctx,
		log:  slog.Default().With("component", "schedule"),
	}
}

// RegisterDaily registers task at the given six-field cron expression.
func (s *Scheduler) RegisterDaily(expr string, task RunFunc) error {
	_, err := s.cron.AddFunc(expr, func() {
		if s.ctx.Err() != nil {
			return
		}
		s.log.Info("scheduled ingestion starting", "cron", expr)
		if err := task(s.ctx); err != nil {
			s.log.Error("scheduled ingestion failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("registering daily task %q: %w", expr, err)
	}
	return nil
}

// Start begins scheduling. Returns immediately.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("scheduler started")
}

// Stop stops scheduling and blocks until a running task finishes.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info("scheduler stopped")
}
