package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"horse.fit/jobdedup/internal/cli"
	"horse.fit/jobdedup/internal/feed"
	"horse.fit/jobdedup/internal/reconcile"
)

type batchFlags struct {
	file   *string
	source *string
	limit  *int
}

func addBatchFlags(fs *flag.FlagSet) batchFlags {
	return batchFlags{
		file:   fs.String("file", "", "JSON array or JSON-lines file of posting payloads"),
		source: fs.String("source", "", "Source name the payloads came from"),
		limit:  fs.Int("limit", 0, "Read at most this many payloads (0 = all)"),
	}
}

func (b batchFlags) validate() error {
	if strings.TrimSpace(*b.file) == "" {
		return fmt.Errorf("--file is required")
	}
	if strings.TrimSpace(*b.source) == "" {
		return fmt.Errorf("--source is required")
	}
	if *b.limit < 0 {
		return fmt.Errorf("--limit must be >= 0")
	}
	return nil
}

func (b batchFlags) fetcher() *feed.File {
	return &feed.File{
		Path:   strings.TrimSpace(*b.file),
		Source: strings.TrimSpace(*b.source),
		Limit:  *b.limit,
	}
}

func runReconcile(args []string) int {
	fs := flag.NewFlagSet("reconcile", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	batch := addBatchFlags(fs)
	timeout := fs.Duration("timeout", 0, "Abort the run after this long (0 = no limit)")

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

	cfg, logger, code := setup(envLoader)
	if code != exitOK {
		return code
	}

	ctx, cancel := signalContext()
	defer cancel()
	if *timeout > 0 {
		var timeoutCancel context.CancelFunc
		ctx, timeoutCancel = context.WithTimeout(ctx, *timeout)
		defer timeoutCancel()
	}

	rt, err := openRuntime(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("reconcile failed to open runtime")
		fmt.Fprintf(os.Stderr, "Failed to open runtime: %v\n", err)
		return exitFailure
	}
	defer rt.Close()

	engine, err := rt.newEngine(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build engine: %v\n", err)
		return exitFailure
	}

	source := batch.fetcher()
	summary, err := engine.Ingest(ctx, reconcile.NewRunContext(source.Source, time.Now()), source)
	printSummary(os.Stdout, summary)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Reconcile failed: %v\n", err)
		return exitFailure
	}
	return exitOK
}

func printSummary(w io.Writer, s reconcile.Summary) {
	fmt.Fprintf(w,
		"reconcile run_id=%s source=%s status=%s received=%d invalid=%d new=%d merged=%d unchanged=%d rejected=%d failed=%d enriched=%d duration=%s\n",
		s.RunID,
		s.Source,
		s.Status,
		s.Counts.Received,
		s.Counts.Invalid,
		s.Counts.New,
		s.Counts.Merged,
		s.Counts.Unchanged,
		s.Counts.Rejected,
		s.Counts.Failed,
		s.Enrichment.Enriched,
		s.Duration.Round(time.Millisecond),
	)
}
