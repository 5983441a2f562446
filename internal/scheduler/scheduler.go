package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"price-move-alerts/internal/backoff"
)

// ErrDone may be returned by a TickFunc to end Run without error.
var ErrDone = errors.New("scheduler: done")

// TickFunc is invoked on every interval.
type TickFunc func(ctx context.Context, at time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	Interval     time.Duration
	JitterPct    float64
	StartupDelay time.Duration
	Immediate    bool
}

// Scheduler drives periodic execution of poll jobs.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	return &Scheduler{opts: opts, logger: logger.With().Str("component", "scheduler").Logger()}
}

// Run blocks, invoking the tick function every jittered interval until ctx is
// cancelled or the tick returns ErrDone.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		if err := backoff.Sleep(ctx, s.opts.StartupDelay); err != nil {
			return err
		}
	}

	if s.opts.Immediate {
		if done := s.execute(ctx, tick); done {
			return nil
		}
	}

	for {
		delay := backoff.Jitter(s.opts.Interval, s.opts.JitterPct)
		s.logger.Debug().Dur("delay", delay).Msg("waiting for next tick")

		if err := backoff.Sleep(ctx, delay); err != nil {
			return err
		}
		if done := s.execute(ctx, tick); done {
			return nil
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, tick TickFunc) bool {
	at := time.Now().UTC()
	s.logger.Debug().Time("at", at).Msg("executing scheduled tick")

	err := tick(ctx, at)
	if errors.Is(err, ErrDone) {
		s.logger.Info().Msg("scheduler finished")
		return true
	}
	if err != nil && ctx.Err() == nil {
		s.logger.Error().Err(err).Time("at", at).Msg("tick execution failed")
	}
	return false
}
