// Package scheduler runs the recurring jobs (trading sessions, backups) on
// cron schedules.
package scheduler

import (
	"context"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job is one schedulable unit of work.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Scheduler wraps a cron runner with logging and panic isolation.
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger
}

// New creates a scheduler. Cron expressions use six fields (with seconds).
func New(log zerolog.Logger) *Scheduler {
	logger := log.With().Str("service", "scheduler").Logger()
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithChain(cron.Recover(cronLogger{logger})),
		),
		log: logger,
	}
}

// Register schedules a job. An invalid cron expression is an error.
func (s *Scheduler) Register(spec string, job Job) error {
	_, err := s.cron.AddFunc(spec, func() {
		log := s.log.With().Str("job", job.Name()).Logger()
		log.Info().Msg("Job starting")

		if err := job.Run(context.Background()); err != nil {
			log.Error().Err(err).Msg("Job failed")
			return
		}
		log.Info().Msg("Job finished")
	})
	if err != nil {
		return err
	}

	s.log.Info().Str("job", job.Name()).Str("spec", spec).Msg("Job registered")
	return nil
}

// Start begins running scheduled jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("Scheduler started")
}

// Stop waits for running jobs to finish, then stops the scheduler.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("Scheduler stopped")
}

// cronLogger adapts zerolog to cron's logger interface for panic recovery.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Info().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
