package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"horse.fit/jobdedup/internal/cli"
	"horse.fit/jobdedup/internal/httpapi"
)

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	addr := fs.String("addr", "", "Listen address (defaults to HTTP_ADDR)")
	readTimeout := fs.Duration("read-timeout", 10*time.Second, "HTTP read timeout")
	writeTimeout := fs.Duration("write-timeout", 30*time.Second, "HTTP write timeout")
	shutdownTimeout := fs.Duration("shutdown-timeout", 10*time.Second, "Graceful shutdown timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "serve does not accept positional arguments")
		return exitUsage
	}

	cfg, logger, code := setup(envLoader)
	if code != exitOK {
		return code
	}

	listen := strings.TrimSpace(*addr)
	if listen == "" {
		listen = cfg.HTTPAddr
	}

	openCtx, openCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer openCancel()

	rt, err := openRuntime(openCtx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("serve failed to open store")
		fmt.Fprintf(os.Stderr, "Failed to open store: %v\n", err)
		return exitFailure
	}
	defer rt.Close()

	ctx, cancel := signalContext()
	defer cancel()

	srv := httpapi.NewServer(rt.store, logger, httpapi.Options{
		Addr:               listen,
		CORSAllowedOrigins: cfg.CORSAllowedOriginsList(),
		ReadTimeout:        *readTimeout,
		WriteTimeout:       *writeTimeout,
		ShutdownTimeout:    *shutdownTimeout,
	})

	if err := srv.Start(ctx); err != nil {
		logger.Error().Err(err).Str("addr", listen).Msg("server failed")
		fmt.Fprintf(os.Stderr, "Server failed: %v\n", err)
		return exitFailure
	}
	return exitOK
}
