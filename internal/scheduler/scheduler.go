package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc is invoked on every interval.
type TickFunc func(ctx context.Context, at time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	Interval       time.Duration
	AlignToStart   bool
	StartupDelay   time.Duration
	RunImmediately bool
	// FailureBackoff is waited after a tick fails or panics before the next tick is scheduled.
	FailureBackoff time.Duration
}

// Scheduler drives periodic execution of a tick until its context ends.
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

// Run blocks, invoking the tick function at each interval until ctx is
// cancelled. Tick failures never stop the loop.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		if err := sleep(ctx, s.opts.StartupDelay); err != nil {
			return err
		}
	}

	if s.opts.RunImmediately {
		if err := s.execute(ctx, tick, time.Now().UTC()); err != nil {
			return err
		}
	}

	next := s.nextTick(time.Now().UTC())
	for {
		delay := time.Until(next)
		if delay < 0 {
			next = s.nextTick(time.Now().UTC())
			delay = time.Until(next)
		}

		s.logger.Debug().Time("next_tick", next).Msg("waiting for next tick")
		if err := sleep(ctx, delay); err != nil {
			return err
		}

		if err := s.execute(ctx, tick, s.bucketStart(next)); err != nil {
			return err
		}
		next = next.Add(s.opts.Interval)
	}
}

// execute runs one tick and applies the failure backoff. It only returns an
// error when ctx ends.
func (s *Scheduler) execute(ctx context.Context, tick TickFunc, at time.Time) error {
	if err := safeTick(ctx, tick, at); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Error().Err(err).Time("at", at).Dur("backoff", s.opts.FailureBackoff).Msg("tick execution failed")
		if s.opts.FailureBackoff > 0 {
			return sleep(ctx, s.opts.FailureBackoff)
		}
	}
	return ctx.Err()
}

func safeTick(ctx context.Context, tick TickFunc, at time.Time) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("tick panicked: %v", rec)
		}
	}()
	return tick(ctx, at)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *Scheduler) nextTick(now time.Time) time.Time {
	if !s.opts.AlignToStart {
		return now.Add(s.opts.Interval)
	}
	bucket := now.Truncate(s.opts.Interval)
	if !bucket.After(now) {
		bucket = bucket.Add(s.opts.Interval)
	}
	return bucket
}

func (s *Scheduler) bucketStart(t time.Time) time.Time {
	if !s.opts.AlignToStart {
		return t
	}
	return t.Truncate(s.opts.Interval)
}
