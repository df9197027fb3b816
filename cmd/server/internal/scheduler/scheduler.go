// Package scheduler runs the pipeline's stage handlers on a fixed tick. One
// loop owns all jobs; a job that fails or panics never stops the loop or
// starves its siblings.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/algoclash/judge-api/judge-api/internal/logger"
)

const name string = "github.com/algoclash/judge-api/judge-api/cmd/server/internal/scheduler"

var tracer = otel.Tracer(name)

// Job is one registered unit of scheduled work. Jobs are registered once at
// construction; there is no dynamic registration.
type Job struct {
	Run      func(ctx context.Context) error
	Name     string
	Interval time.Duration
	Enabled  bool
}

// Scheduler sweeps its job table on every tick, invoking each enabled job
// whose interval has elapsed. Jobs run sequentially within a tick.
type Scheduler struct {
	lastRun map[string]time.Time
	jobs    []Job
	tick    time.Duration
}

func New(tick time.Duration, jobs []Job) *Scheduler {
	return &Scheduler{
		lastRun: make(map[string]time.Time),
		jobs:    jobs,
		tick:    tick,
	}
}

// Start blocks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	logger.Logger.InfoContext(ctx, "starting scheduler",
		"tick", s.tick,
		"jobs", len(s.jobs),
	)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Logger.InfoContext(ctx, "stopping scheduler")
			return
		case <-ticker.C:
			s.Sweep(ctx, time.Now().UTC())
		}
	}
}

// Sweep evaluates every registered job against now once.
func (s *Scheduler) Sweep(ctx context.Context, now time.Time) {
	ctx, span := tracer.Start(ctx, "Scheduler.Sweep")
	defer span.End()

	for _, job := range s.jobs {
		if !job.Enabled {
			continue
		}

		last, ran := s.lastRun[job.Name]
		if ran && now.Sub(last) < job.Interval {
			continue
		}

		s.lastRun[job.Name] = now
		s.runJob(ctx, job)
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "swept jobs")
}

// runJob is the isolation boundary: errors are logged and swallowed, panics
// are recovered. One misbehaving job must never take the process down.
func (s *Scheduler) runJob(ctx context.Context, job Job) {
	ctx, span := tracer.Start(ctx, "Scheduler.runJob")
	defer span.End()

	span.SetAttributes(attribute.String("job", job.Name))

	defer func() {
		if recovered := recover(); recovered != nil {
			err := fmt.Errorf("job panicked: %v", recovered)
			span.RecordError(err)
			span.SetStatus(codes.Error, "job panicked")
			logger.Logger.ErrorContext(ctx, "scheduled job panicked",
				"job", job.Name,
				"panic", recovered,
			)
		}
	}()

	if err := job.Run(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "job returned error")
		logger.Logger.ErrorContext(ctx, "scheduled job failed",
			"job", job.Name,
			"error", err,
		)
		return
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "job completed")
}
