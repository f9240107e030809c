// Package scheduler runs the periodic marketplace jobs: stale task
// reclamation, scheduled task activation, and recurring task
// materialization.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/sajilotask/sajilo/internal/task"
	"github.com/sajilotask/sajilo/pkg/panicerr"
)

// batchSize bounds the items each job touches per tick. Leftovers are
// picked up on the next tick; the jobs' selection predicates make repeats
// harmless.
const batchSize = 100

type Scheduler struct {
	logger   *slog.Logger
	engine   *task.Engine
	interval time.Duration
}

func New(logger *slog.Logger, engine *task.Engine, interval time.Duration) *Scheduler {
	return &Scheduler{
		logger:   logger,
		engine:   engine,
		interval: interval,
	}
}

// Start runs the job loop until ctx is cancelled. A panicking job is
// caught and logged; the loop never dies.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("scheduler started", "interval", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	s.run(ctx, "reclaim_stale", func(ctx context.Context) (int, error) {
		return s.engine.ReclaimStale(ctx, batchSize)
	})
	s.run(ctx, "activate_scheduled", func(ctx context.Context) (int, error) {
		return s.engine.ActivateScheduled(ctx, batchSize)
	})
	s.run(ctx, "materialize_recurring", func(ctx context.Context) (int, error) {
		return s.engine.MaterializeRecurring(ctx, batchSize)
	})
}

func (s *Scheduler) run(ctx context.Context, name string, job func(context.Context) (int, error)) {
	var processed int
	err := panicerr.SafeContext(func(ctx context.Context) error {
		var err error
		processed, err = job(ctx)
		return err
	})(ctx)
	if err != nil {
		s.logger.Error("scheduler job failed", "job", name, "error", err)
		return
	}
	if processed > 0 {
		s.logger.Info("scheduler job done", "job", name, "processed", processed)
	}
}
