// Package scheduler runs the ledger's periodic maintenance jobs on cron
// schedules.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is one unit of scheduled work.
type Job interface {
	Run(ctx context.Context) error
	Name() string
}

// Scheduler manages background jobs. Schedules use the standard five-field
// cron format or descriptors such as "@every 5m". A job still running when
// its next tick arrives is skipped for that tick.
type Scheduler struct {
	cron   *cron.Cron
	ctx    context.Context
	logger *slog.Logger
}

// New creates a Scheduler evaluating schedules in loc.
func New(loc *time.Location, logger *slog.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	logger = logger.With(slog.String("component", "scheduler"))
	cl := cronLogger{logger: logger}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		ctx:    context.Background(),
		logger: logger,
	}
}

// AddJob registers job on schedule. Schedule examples:
//   - "0 3 1 * *"  - 03:00 on the first of every month
//   - "@every 5m"  - every five minutes
//   - "@hourly"    - every hour
func (s *Scheduler) AddJob(schedule string, job Job) error {
	_, err := s.cron.AddFunc(schedule, func() {
		if err := s.RunNow(s.ctx, job); err != nil {
			s.logger.Error("scheduler: job failed",
				slog.String("job", job.Name()),
				slog.String("error", err.Error()),
			)
		}
	})
	if err != nil {
		return fmt.Errorf("scheduler: add %s %q: %w", job.Name(), schedule, err)
	}

	s.logger.Info("scheduler: job registered",
		slog.String("schedule", schedule),
		slog.String("job", job.Name()),
	)
	return nil
}

// RunNow executes a job immediately, outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, job Job) error {
	start := time.Now()
	s.logger.DebugContext(ctx, "scheduler: running job", slog.String("job", job.Name()))
	if err := job.Run(ctx); err != nil {
		return err
	}
	s.logger.DebugContext(ctx, "scheduler: job completed",
		slog.String("job", job.Name()),
		slog.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// Run starts the scheduler and blocks until ctx is cancelled, then waits for
// running jobs to finish. Jobs receive ctx.
func (s *Scheduler) Run(ctx context.Context) error {
	s.ctx = ctx
	s.cron.Start()
	s.logger.Info("scheduler: started", slog.Int("jobs", len(s.cron.Entries())))

	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler: stopped")
	return nil
}

// cronLogger routes cron's own messages to slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("scheduler: cron "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("scheduler: cron "+msg, append(keysAndValues, "error", err.Error())...)
}
