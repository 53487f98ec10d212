// Package scheduler repeats a reconciliation job on a cron spec.
package scheduler

import (
	"context"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job is one scheduled unit of work. Its error is logged; it never stops the
// schedule.
type Job func(ctx context.Context) error

type Scheduler struct {
	cron   *cron.Cron
	spec   string
	job    Job
	logger zerolog.Logger
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate reports whether spec is a five-field cron expression or a
// descriptor such as "@every 24h".
func Validate(spec string) error {
	if _, err := parser.Parse(strings.TrimSpace(spec)); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return nil
}

func New(spec string, job Job, logger zerolog.Logger) (*Scheduler, error) {
	spec = strings.TrimSpace(spec)
	if err := Validate(spec); err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("scheduler requires a job")
	}

	cronLogger := cronLog{logger: logger}
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		spec:   spec,
		job:    job,
		logger: logger,
	}, nil
}

// Run fires the job once immediately, then on every tick until ctx is done.
// It waits for a running job to finish before returning.
func (s *Scheduler) Run(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.spec, func() { s.fire(ctx, "tick") }); err != nil {
		return fmt.Errorf("add cron job: %w", err)
	}

	s.fire(ctx, "startup")
	if ctx.Err() != nil {
		return nil
	}

	s.cron.Start()
	s.logger.Info().Str("spec", s.spec).Msg("scheduler started")

	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info().Msg("scheduler stopped")
	return nil
}

func (s *Scheduler) fire(ctx context.Context, trigger string) {
	if ctx.Err() != nil {
		return
	}
	if err := s.job(ctx); err != nil {
		s.logger.Error().Err(err).Str("trigger", trigger).Msg("scheduled run failed")
		return
	}
	s.logger.Debug().Str("trigger", trigger).Msg("scheduled run finished")
}

// cronLog routes cron's own messages into zerolog.
type cronLog struct {
	logger zerolog.Logger
}

func (l cronLog) Info(msg string, keysAndValues ...any) {
	l.logger.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (l cronLog) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
