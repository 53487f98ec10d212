package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"horse.fit/jobdedup/internal/cli"
)

func runDeactivate(args []string) int {
	fs := flag.NewFlagSet("deactivate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	olderThan := fs.Duration("older-than", 720*time.Hour, "Deactivate postings not seen for this long")
	timeout := fs.Duration("timeout", time.Minute, "Command timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	if *olderThan <= 0 {
		fmt.Fprintln(os.Stderr, "--older-than must be > 0")
		return exitUsage
	}

	cfg, logger, code := setup(envLoader)
	if code != exitOK {
		return code
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	rt, err := openRuntime(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open store: %v\n", err)
		return exitFailure
	}
	defer rt.Close()

	cutoff := time.Now().UTC().Add(-*olderThan)
	marked, err := rt.store.MarkInactive(ctx, cutoff)
	if err != nil {
		logger.Error().Err(err).Time("cutoff", cutoff).Msg("deactivate failed")
		fmt.Fprintf(os.Stderr, "Deactivate failed: %v\n", err)
		return exitFailure
	}

	logger.Info().Int64("marked", marked).Time("cutoff", cutoff).Msg("stale postings deactivated")
	fmt.Printf("deactivate marked=%d before=%s\n", marked, cutoff.Format(time.RFC3339))
	return exitOK
}
