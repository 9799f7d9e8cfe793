package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"
	"github.com/rs/zerolog"
)

// Job is one scheduled run.
type Job func(ctx context.Context) error

// Scheduler runs a job on a cron expression. Runs never overlap: a run that
// outlasts its slot makes the scheduler skip to the next tick after it ends.
type Scheduler struct {
	expr   string
	job    Job
	logger zerolog.Logger

	now   func() time.Time
	after func(time.Duration) <-chan time.Time
}

// NewScheduler validates expr (5-field cron or a gronx tag such as @hourly).
func NewScheduler(expr string, job Job, logger zerolog.Logger) (*Scheduler, error) {
	if expr == "" {
		return nil, fmt.Errorf("empty schedule")
	}
	if !gronx.New().IsValid(expr) {
		return nil, fmt.Errorf("invalid cron expression: %s", expr)
	}
	return &Scheduler{
		expr:   expr,
		job:    job,
		logger: logger.With().Str("component", "scheduler").Str("schedule", expr).Logger(),
		now:    time.Now,
		after:  time.After,
	}, nil
}

// Next returns the first tick strictly after t.
func (s *Scheduler) Next(t time.Time) (time.Time, error) {
	return gronx.NextTickAfter(s.expr, t, false)
}

// Run blocks until ctx ends. Job errors are logged and do not stop the loop.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info().Msg("scheduler started")
	defer s.logger.Info().Msg("scheduler stopped")

	for {
		next, err := s.Next(s.now())
		if err != nil {
			return fmt.Errorf("next tick: %w", err)
		}
		s.logger.Debug().Time("next", next).Msg("waiting for next run")

		select {
		case <-ctx.Done():
			return nil
		case <-s.after(time.Until(next)):
		}

		start := time.Now()
		if err := s.job(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Error().Err(err).Msg("scheduled run failed")
			continue
		}
		s.logger.Info().Dur("took", time.Since(start)).Msg("scheduled run completed")
	}
}
