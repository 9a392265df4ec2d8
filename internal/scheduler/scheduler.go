// Package scheduler triggers update cycles on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/robfig/cron/v3"

	"github.com/couchcryptid/wind-tile-service/internal/domain"
)

// CycleRunner runs one update cycle.
type CycleRunner interface {
	RunCycle(ctx context.Context, trigger domain.Trigger) domain.CycleResult
}

// Scheduler runs cycles on a standard five-field cron expression, in UTC.
type Scheduler struct {
	scheduler *gocron.Scheduler
	schedule  cron.Schedule
	expr      string
	runner    CycleRunner
	logger    *slog.Logger
}

// New parses expr and prepares a scheduler. Nothing runs until Start.
func New(expr string, runner CycleRunner, logger *slog.Logger) (*Scheduler, error) {
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", expr, err)
	}
	s := gocron.NewScheduler(time.UTC)
	// A slow cycle delays the next tick instead of overlapping it.
	s.SingletonModeAll()
	return &Scheduler{
		scheduler: s,
		schedule:  schedule,
		expr:      expr,
		runner:    runner,
		logger:    logger,
	}, nil
}

// Start registers the recurring job and starts the scheduler. Cycles receive
// ctx, so cancelling it aborts an in-flight scheduled cycle.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.scheduler.Cron(s.expr).Do(func() {
		res := s.runner.RunCycle(ctx, domain.TriggerScheduled)
		// Failures are logged by the pipeline; the next tick supersedes them.
		if res.Err == nil {
			s.logger.Debug("scheduled cycle complete", "release_id", res.ReleaseID)
		}
		s.logger.Info("next update scheduled", "at", s.Next(time.Now()))
	})
	if err != nil {
		return fmt.Errorf("schedule update job: %w", err)
	}

	s.scheduler.StartAsync()
	s.logger.Info("scheduler started", "schedule", s.expr, "next", s.Next(time.Now()))
	return nil
}

// Stop stops future runs. A running cycle is not interrupted.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}

// Next is the first scheduled run strictly after now.
func (s *Scheduler) Next(now time.Time) time.Time {
	return s.schedule.Next(now.UTC())
}

// Expression returns the cron expression the scheduler was built with.
func (s *Scheduler) Expression() string {
	return s.expr
}
