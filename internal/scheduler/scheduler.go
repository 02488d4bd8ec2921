// Package scheduler runs the periodic inbox jobs (score refresh and stale
// annotation sweeps) on top of gocron.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"
)

// slowJob is the run time above which a job run is logged as slow.
const slowJob = 10 * time.Second

// Task is one unit of periodic work. The context is cancelled when the
// scheduler shuts down.
type Task func(ctx context.Context) error

// Scheduler runs named interval jobs. A job never overlaps itself: a run
// that is still going when the next one is due pushes it back.
type Scheduler struct {
	s      gocron.Scheduler
	logger zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a stopped scheduler in UTC.
func New(logger zerolog.Logger) (*Scheduler, error) {
	logger = logger.With().Str("component", "scheduler").Logger()
	s, err := gocron.NewScheduler(
		gocron.WithLocation(time.UTC),
		gocron.WithLogger(NewLogger(logger)),
		gocron.WithStopTimeout(30*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{s: s, logger: logger, ctx: ctx, cancel: cancel}, nil
}

// Every schedules task to run every interval, the first run right after
// Start.
func (s *Scheduler) Every(name string, interval time.Duration, task Task) error {
	switch {
	case name == "":
		return errors.New("empty job name")
	case interval <= 0:
		return fmt.Errorf("job %s: interval must be positive", name)
	case task == nil:
		return fmt.Errorf("job %s: nil task", name)
	}

	run := func() {
		start := time.Now()
		err := task(s.ctx)
		elapsed := time.Since(start)
		switch {
		case err != nil && !errors.Is(err, context.Canceled):
			s.logger.Error().Err(err).Str("job", name).Dur("elapsed", elapsed).Msg("scheduled job failed")
		case elapsed > slowJob:
			s.logger.Warn().Str("job", name).Dur("elapsed", elapsed).Msg("slow scheduled job")
		}
	}

	job, err := s.s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(run),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return fmt.Errorf("schedule job %s: %w", name, err)
	}
	s.logger.Info().Str("job", name).Str("job_id", job.ID().String()).Dur("every", interval).Msg("job scheduled")
	return nil
}

// Start begins running scheduled jobs.
func (s *Scheduler) Start() { s.s.Start() }

// Shutdown cancels running tasks and waits for them to return.
func (s *Scheduler) Shutdown() error {
	s.cancel()
	if err := s.s.Shutdown(); err != nil {
		return fmt.Errorf("shutdown scheduler: %w", err)
	}
	return nil
}

// Run starts the scheduler and blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.Start()
	<-ctx.Done()
	return s.Shutdown()
}
