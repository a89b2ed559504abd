package scheduler

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc is invoked at every scheduled refresh time.
type TickFunc func(ctx context.Context, day time.Time) error

// TimeOfDay is a wall-clock trigger point.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses an HH:MM string.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parsed, err := time.Parse("15:04", s)
	if err != nil {
		return TimeOfDay{}, err
	}
	return TimeOfDay{Hour: parsed.Hour(), Minute: parsed.Minute()}, nil
}

// Options tune scheduler behaviour.
type Options struct {
	Times    []TimeOfDay
	Location *time.Location
}

// Scheduler drives the daily refresh at fixed wall-clock times.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if len(opts.Times) == 0 {
		panic("scheduler requires at least one trigger time")
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	sort.Slice(opts.Times, func(i, j int) bool {
		if opts.Times[i].Hour != opts.Times[j].Hour {
			return opts.Times[i].Hour < opts.Times[j].Hour
		}
		return opts.Times[i].Minute < opts.Times[j].Minute
	})
	return &Scheduler{opts: opts, logger: logger.With().Str("component", "scheduler").Logger()}
}

// Run blocks, invoking the tick function at each scheduled time until ctx is
// cancelled.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	for {
		next := s.nextTrigger(time.Now().In(s.opts.Location))
		timer := time.NewTimer(time.Until(next))
		s.logger.Debug().Time("next_trigger", next).Msg("waiting for next trigger")

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			timer.Stop()
		}

		s.logger.Info().Time("trigger", next).Msg("executing scheduled refresh")
		if err := tick(ctx, next); err != nil {
			s.logger.Error().Err(err).Time("trigger", next).Msg("scheduled refresh failed")
		}
	}
}

// nextTrigger returns the earliest configured time strictly after now.
func (s *Scheduler) nextTrigger(now time.Time) time.Time {
	for _, tod := range s.opts.Times {
		candidate := time.Date(now.Year(), now.Month(), now.Day(), tod.Hour, tod.Minute, 0, 0, s.opts.Location)
		if candidate.After(now) {
			return candidate
		}
	}
	first := s.opts.Times[0]
	tomorrow := now.AddDate(0, 0, 1)
	return time.Date(tomorrow.Year(), tomorrow.Month(), tomorrow.Day(), first.Hour, first.Minute, 0, 0, s.opts.Location)
}
