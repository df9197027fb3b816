package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestScheduler(t *testing.T) {
	ctx := context.Background()
	epoch := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("DisabledJobNeverRuns", func(t *testing.T) {
		calls := 0
		s := New(time.Second, []Job{
			{
				Name:     "initialized",
				Interval: time.Second,
				Enabled:  false,
				Run: func(context.Context) error {
					calls++
					return nil
				},
			},
		})

		s.Sweep(ctx, epoch)
		s.Sweep(ctx, epoch.Add(time.Hour))

		assert.Zero(t, calls, "disabled job must never be invoked")
	})

	t.Run("IntervalGating", func(t *testing.T) {
		calls := 0
		s := New(time.Second, []Job{
			{
				Name:     "initialized",
				Interval: 10 * time.Second,
				Enabled:  true,
				Run: func(context.Context) error {
					calls++
					return nil
				},
			},
		})

		s.Sweep(ctx, epoch)
		assert.Equal(t, 1, calls, "first sweep runs immediately")

		s.Sweep(ctx, epoch.Add(5*time.Second))
		assert.Equal(t, 1, calls, "interval has not elapsed")

		s.Sweep(ctx, epoch.Add(10*time.Second))
		assert.Equal(t, 2, calls, "interval elapsed")
	})

	t.Run("FailingJobDoesNotStarveSiblings", func(t *testing.T) {
		siblingCalls := 0
		s := New(time.Second, []Job{
			{
				Name:     "broken",
				Interval: time.Second,
				Enabled:  true,
				Run: func(context.Context) error {
					return errors.New("sandbox unreachable")
				},
			},
			{
				Name:     "healthy",
				Interval: time.Second,
				Enabled:  true,
				Run: func(context.Context) error {
					siblingCalls++
					return nil
				},
			},
		})

		s.Sweep(ctx, epoch)
		s.Sweep(ctx, epoch.Add(time.Second))

		assert.Equal(t, 2, siblingCalls, "sibling must run on every sweep")
	})

	t.Run("PanickingJobIsContained", func(t *testing.T) {
		siblingCalls := 0
		s := New(time.Second, []Job{
			{
				Name:     "panicky",
				Interval: time.Second,
				Enabled:  true,
				Run: func(context.Context) error {
					panic("nil map write")
				},
			},
			{
				Name:     "healthy",
				Interval: time.Second,
				Enabled:  true,
				Run: func(context.Context) error {
					siblingCalls++
					return nil
				},
			},
		})

		assert.NotPanics(t, func() {
			s.Sweep(ctx, epoch)
			s.Sweep(ctx, epoch.Add(time.Second))
		})

		assert.Equal(t, 2, siblingCalls, "panic in one job must not escape the boundary")
	})

	t.Run("FailedRunStillAdvancesLastRun", func(t *testing.T) {
		calls := 0
		s := New(time.Second, []Job{
			{
				Name:     "broken",
				Interval: time.Minute,
				Enabled:  true,
				Run: func(context.Context) error {
					calls++
					return errors.New("boom")
				},
			},
		})

		s.Sweep(ctx, epoch)
		s.Sweep(ctx, epoch.Add(time.Second))

		assert.Equal(t, 1, calls, "a failed run still counts against the interval")
	})

	t.Run("StartStopsOnCancel", func(t *testing.T) {
		cancelCtx, cancel := context.WithCancel(ctx)

		s := New(10*time.Millisecond, nil)

		done := make(chan struct{})
		go func() {
			s.Start(cancelCtx)
			close(done)
		}()

		cancel()

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("scheduler did not stop on context cancellation")
		}
	})
}
