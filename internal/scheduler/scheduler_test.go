package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestRunKeepsGoingAfterFailuresAndPanics(t *testing.T) {
	s := New(Options{Interval: 10 * time.Millisecond, RunImmediately: true, FailureBackoff: 5 * time.Millisecond}, zerolog.Nop())

	var calls atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(ctx context.Context, at time.Time) error {
			switch calls.Add(1) {
			case 1:
				return errors.New("boom")
			case 2:
				panic("worse")
			case 4:
				cancel()
			}
			return nil
		})
	}()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	if calls.Load() < 4 {
		t.Fatalf("loop should survive failures, calls = %d", calls.Load())
	}
}

func TestFailureBackoffDelaysNextTick(t *testing.T) {
	s := New(Options{Interval: time.Millisecond, RunImmediately: true, FailureBackoff: 150 * time.Millisecond}, zerolog.Nop())

	var stamps []time.Time
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_ = s.Run(ctx, func(ctx context.Context, at time.Time) error {
		stamps = append(stamps, time.Now())
		if len(stamps) == 2 {
			cancel()
			return nil
		}
		return errors.New("fail")
	})

	if len(stamps) != 2 {
		t.Fatalf("expected 2 ticks, got %d", len(stamps))
	}
	if gap := stamps[1].Sub(stamps[0]); gap < 150*time.Millisecond {
		t.Fatalf("gap %v shorter than the failure backoff", gap)
	}
}

func TestStartupDelayHonoursCancellation(t *testing.T) {
	s := New(Options{Interval: time.Second, StartupDelay: time.Hour}, zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := s.Run(ctx, func(context.Context, time.Time) error { return nil }); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestNextTickAligned(t *testing.T) {
	s := New(Options{Interval: 15 * time.Second, AlignToStart: true}, zerolog.Nop())
	now := time.Date(2024, 1, 1, 0, 0, 7, 0, time.UTC)
	if got := s.nextTick(now); !got.Equal(time.Date(2024, 1, 1, 0, 0, 15, 0, time.UTC)) {
		t.Fatalf("nextTick = %v", got)
	}
}
