// Package scheduler triggers a job once a day at a wall-clock time in a fixed
// zone. Runs never overlap: the next trigger is computed after the previous run
// returns, so triggers missed while a run (or the host) was busy coalesce into
// one. A trigger that fires later than the misfire grace is dropped.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultMisfireGrace is used when Scheduler.MisfireGrace is zero.
const DefaultMisfireGrace = 30 * time.Minute

// ErrNoJob is returned by Run without a job.
var ErrNoJob = errors.New("scheduler: job is required")

// Job is the work run at every trigger. The context is cancelled on shutdown.
type Job func(ctx context.Context) error

// Scheduler fires Job daily at Hour:Minute in Location.
type Scheduler struct {
	Hour, Minute int
	Location     *time.Location
	MisfireGrace time.Duration

	Log zerolog.Logger

	// Clock hooks; nil uses the real clock.
	Now   func() time.Time
	After func(d time.Duration) <-chan time.Time
}

// NextRun returns the first hour:minute in loc strictly after now.
func NextRun(hour, minute int, loc *time.Location, now time.Time) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	y, m, d := local.Date()
	next := time.Date(y, m, d, hour, minute, 0, 0, loc)
	if !next.After(local) {
		next = time.Date(y, m, d+1, hour, minute, 0, 0, loc)
	}
	return next
}

// Run blocks, firing job at each daily trigger until ctx is cancelled. Job
// errors are logged and do not stop the loop.
func (s *Scheduler) Run(ctx context.Context, job Job) error {
	if job == nil {
		return ErrNoJob
	}
	now := s.Now
	if now == nil {
		now = time.Now
	}
	after := s.After
	if after == nil {
		after = time.After
	}
	grace := s.MisfireGrace
	if grace <= 0 {
		grace = DefaultMisfireGrace
	}

	var last time.Time
	for {
		next := NextRun(s.Hour, s.Minute, s.Location, now())
		ev := s.Log.Info().Time("next_run", next)
		if !last.IsZero() {
			ev = ev.Time("last_run", last)
		}
		ev.Msg("scheduler waiting")

		select {
		case <-ctx.Done():
			s.Log.Info().Msg("scheduler stopped")
			return nil
		case <-after(next.Sub(now())):
		}
		if ctx.Err() != nil {
			s.Log.Info().Msg("scheduler stopped")
			return nil
		}

		fired := now()
		if late := fired.Sub(next); late > grace {
			s.Log.Warn().
				Time("scheduled", next).
				Dur("late_by", late).
				Msg("trigger missed its grace period; skipping")
			continue
		}

		runID := uuid.NewString()
		s.Log.Info().Str("schedule_run_id", runID).Time("scheduled", next).Msg("scheduled run starting")
		start := now()
		if err := job(ctx); err != nil {
			s.Log.Error().Err(err).Str("schedule_run_id", runID).Msg("scheduled run failed")
		} else {
			s.Log.Info().Str("schedule_run_id", runID).Dur("took", now().Sub(start)).Msg("scheduled run finished")
		}
		last = fired
	}
}
