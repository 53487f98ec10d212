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

func runHealth(args []string) int {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 5*time.Second, "Store and redis ping timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
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
		logger.Error().Err(err).Msg("health check failed")
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		return exitFailure
	}
	defer rt.Close()

	if err := rt.store.Ping(ctx); err != nil {
		logger.Error().Err(err).Msg("store ping failed")
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		return exitFailure
	}

	redisState := "off"
	if rt.redis != nil {
		if err := rt.redis.Ping(ctx).Err(); err != nil {
			logger.Error().Err(err).Msg("redis ping failed")
			fmt.Fprintf(os.Stderr, "Health check failed: redis: %v\n", err)
			return exitFailure
		}
		redisState = "ok"
	}

	logger.Info().
		Dur("timeout", *timeout).
		Str("store", cfg.StoreBackend).
		Str("redis", redisState).
		Msg("health check passed")
	fmt.Printf("health status=ok store=%s redis=%s gemini=%t\n", cfg.StoreBackend, redisState, cfg.GeminiAPIKey != "")
	return exitOK
}
