// Package scheduler fires the rotation sweep on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"
	dserrors "github.com/systmms/kvrotate/internal/errors"
	"github.com/systmms/kvrotate/internal/logging"
)

// Job is the work run on every tick. Its error is logged; the schedule
// continues regardless.
type Job func(ctx context.Context) error

// Scheduler runs a Job at the times matched by a cron expression, evaluated
// in UTC. Runs never overlap: a tick that falls while the job is still
// running is skipped.
type Scheduler struct {
	expr       string
	job        Job
	logger     *logging.Logger
	runOnStart bool
	now        func() time.Time
	newTimer   func(time.Duration) (<-chan time.Time, func() bool)
}

// Option is a functional option for configuring a Scheduler
type Option func(*Scheduler)

// WithRunOnStart runs the job once immediately when Run starts.
func WithRunOnStart(enabled bool) Option {
	return func(s *Scheduler) {
		s.runOnStart = enabled
	}
}

// WithClock overrides the clock and timer, for tests.
func WithClock(now func() time.Time, newTimer func(time.Duration) (<-chan time.Time, func() bool)) Option {
	return func(s *Scheduler) {
		s.now = now
		s.newTimer = newTimer
	}
}

// New validates expr and returns a scheduler for job.
func New(expr string, job Job, logger *logging.Logger, opts ...Option) (*Scheduler, error) {
	if !gronx.New().IsValid(expr) {
		return nil, dserrors.ConfigError{
			Field:      "rotation.schedule",
			Value:      expr,
			Message:    "invalid cron expression",
			Suggestion: "Use five fields, e.g. '0 2 * * *' for daily at 02:00 UTC",
		}
	}

	s := &Scheduler{
		expr:   expr,
		job:    job,
		logger: logger.Named("scheduler"),
		now:    time.Now,
		newTimer: func(d time.Duration) (<-chan time.Time, func() bool) {
			t := time.NewTimer(d)
			return t.C, t.Stop
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Next returns the first scheduled time strictly after t.
func (s *Scheduler) Next(t time.Time) (time.Time, error) {
	next, err := gronx.NextTickAfter(s.expr, t.UTC(), false)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to compute next run for %q: %w", s.expr, err)
	}
	return next, nil
}

// Run blocks until ctx is done, running the job at every scheduled time.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.runOnStart {
		s.runJob(ctx)
	}

	for {
		now := s.now()
		next, err := s.Next(now)
		if err != nil {
			return err
		}
		s.logger.Info("Next sweep at %s", next.Format(time.RFC3339))

		fired, stop := s.newTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			stop()
			return nil
		case <-fired:
		}

		s.runJob(ctx)
	}
}

func (s *Scheduler) runJob(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if err := s.job(ctx); err != nil {
		s.logger.Error("Scheduled sweep failed: %v", err)
	}
}
