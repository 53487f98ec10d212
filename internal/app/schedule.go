package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"horse.fit/jobdedup/internal/cli"
	"horse.fit/jobdedup/internal/posting"
	"horse.fit/jobdedup/internal/reconcile"
	"horse.fit/jobdedup/internal/scheduler"
)

func runSchedule(args []string) int {
	fs := flag.NewFlagSet("schedule", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	batch := addBatchFlags(fs)
	spec := fs.String("spec", "@every 24h", "Cron spec or descriptor for the run schedule")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	if err := batch.validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitUsage
	}
	if err := scheduler.Validate(*spec); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitUsage
	}

	cfg, logger, code := setup(envLoader)
	if code != exitOK {
		return code
	}

	ctx, cancel := signalContext()
	defer cancel()

	rt, err := openRuntime(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("schedule failed to open runtime")
		fmt.Fprintf(os.Stderr, "Failed to open runtime: %v\n", err)
		return exitFailure
	}
	defer rt.Close()

	engine, err := rt.newEngine(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build engine: %v\n", err)
		return exitFailure
	}

	job := func(ctx context.Context) error {
		source := batch.fetcher()
		summary, err := engine.Ingest(ctx, reconcile.NewRunContext(source.Source, time.Now()), source)
		printSummary(os.Stdout, summary)
		if errors.Is(err, posting.ErrRunLocked) {
			logger.Warn().Err(err).Msg("previous run still holds the lock, skipping tick")
			return nil
		}
		return err
	}

	sched, err := scheduler.New(*spec, job, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitUsage
	}
	if err := sched.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Scheduler failed: %v\n", err)
		return exitFailure
	}
	return exitOK
}
