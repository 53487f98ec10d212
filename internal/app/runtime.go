package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	lingua "github.com/pemistahl/lingua-go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"horse.fit/jobdedup/internal/cache"
	"horse.fit/jobdedup/internal/cli"
	"horse.fit/jobdedup/internal/config"
	"horse.fit/jobdedup/internal/db"
	"horse.fit/jobdedup/internal/enrich"
	"horse.fit/jobdedup/internal/langdetect"
	"horse.fit/jobdedup/internal/llm"
	"horse.fit/jobdedup/internal/logging"
	"horse.fit/jobdedup/internal/match"
	"horse.fit/jobdedup/internal/posting"
	"horse.fit/jobdedup/internal/reconcile"
	"horse.fit/jobdedup/internal/runlock"
	"horse.fit/jobdedup/internal/store"
	"horse.fit/jobdedup/internal/trust"
)

const (
	redisKeyPrefix  = "jobdedup:"
	enrichFreshness = 30 * 24 * time.Hour
)

// Languages the detector chooses between.
var detectorLanguages = []lingua.Language{
	lingua.English,
	lingua.Spanish,
	lingua.French,
	lingua.German,
	lingua.Portuguese,
	lingua.Italian,
	lingua.Dutch,
	lingua.Chinese,
	lingua.Japanese,
	lingua.Hindi,
}

// setup loads the env file, config and logger. A non-zero code means the
// command must exit with it.
func setup(envLoader *cli.EnvLoader) (*config.Config, zerolog.Logger, int) {
	if envLoader != nil {
		if _, err := envLoader.Load(); err != nil && !errors.Is(err, cli.ErrNoEnvFile) {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return nil, zerolog.Nop(), exitUsage
	}

	logger, err := logging.New(os.Stderr, cfg.Environment, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return nil, zerolog.Nop(), exitUsage
	}
	return cfg, logger, exitOK
}

// runtime holds the long-lived collaborators of one process.
type runtime struct {
	cfg    *config.Config
	logger zerolog.Logger
	tuning config.Tuning

	store  store.Store
	cache  cache.Cache
	locker runlock.Locker
	redis  *redis.Client

	closers []func() error
}

func openRuntime(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*runtime, error) {
	tuning, err := config.LoadTuning(cfg.TuningFile)
	if err != nil {
		return nil, err
	}
	tuning.Trust.ExpectedLanguage = cfg.ExpectedLanguage

	rt := &runtime{cfg: cfg, logger: logger, tuning: tuning}

	switch cfg.StoreBackend {
	case config.StoreBackendMemory:
		rt.store = store.NewMemory()
		rt.locker = runlock.NewMemory()
	default:
		pool, err := db.NewPool(ctx, cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		rt.closers = append(rt.closers, pool.Close)
		rt.store = store.NewPostgres(pool)
		rt.locker = runlock.NewPostgres(pool)
	}

	if cfg.RedisURL != "" {
		client, err := cache.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.redis = client
		rt.closers = append(rt.closers, client.Close)
		rt.cache = cache.NewRedis(client, redisKeyPrefix, logger)
		rt.locker = runlock.NewRedis(client)
	} else {
		rt.cache = cache.NewMemoryWithOptions(cache.MemoryOptions{
			Size:   cfg.MemoryCacheSize,
			MaxTTL: max(cfg.ClassifyCacheTTL, cfg.EnrichCacheTTL),
		})
	}

	logger.Debug().
		Str("store", cfg.StoreBackend).
		Bool("redis", rt.redis != nil).
		Bool("gemini", cfg.GeminiAPIKey != "").
		Msg("runtime opened")
	return rt, nil
}

// Close releases everything in reverse order of opening.
func (r *runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			r.logger.Warn().Err(err).Msg("close runtime resource failed")
		}
	}
	r.closers = nil
}

// newEngine wires the reconciliation engine. Without a Gemini key the
// heuristic classifier stands in and enrichment is off.
func (r *runtime) newEngine(ctx context.Context) (*reconcile.Engine, error) {
	var (
		classifier trust.Classifier = trust.HeuristicClassifier{}
		dispatcher *enrich.Dispatcher
	)

	if r.cfg.GeminiAPIKey != "" {
		gemini, err := llm.NewGemini(ctx, r.cfg.GeminiAPIKey, r.cfg.GeminiModel)
		if err != nil {
			return nil, err
		}
		r.closers = append(r.closers, gemini.Close)

		classifier = llm.NewClassifier(gemini)
		enricher := enrich.NewCached(llm.NewEnricher(gemini), r.cache, r.cfg.EnrichCacheTTL, r.logger)
		dispatcher = enrich.NewDispatcher(enricher, r.store, enrich.DispatcherOptions{
			Concurrency: r.cfg.EnrichConcurrency,
			Timeout:     r.cfg.EnrichTimeout,
			FreshFor:    enrichFreshness,
		}, r.logger)
	}

	filter := trust.NewFilter(r.tuning.Trust, trust.Options{
		Classifier:  classifier,
		Cache:       r.cache,
		CacheTTL:    r.cfg.ClassifyCacheTTL,
		Timeout:     r.cfg.ClassifierTimeout,
		Concurrency: r.cfg.ClassifierConcurrency,
	}, r.logger)

	return reconcile.NewEngine(reconcile.Deps{
		Store:      r.store,
		Matcher:    match.New(r.tuning.Matcher),
		Normalizer: posting.NewNormalizer(r.tuning.Vocabulary),
		Filter:     filter,
		Locker:     r.locker,
		Detector:   langdetect.New(detectorLanguages...),
		Enrichment: dispatcher,
		Logger:     r.logger,
	}, reconcile.Options{
		Workers:    r.cfg.ReconcileWorkers,
		MaxRetries: r.cfg.ReconcileMaxRetries,
		LockTTL:    r.cfg.RunLockTTL,
	})
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigCh)
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
