package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"horse.fit/jobdedup/internal/langdetect"
)

const (
	StoreBackendPostgres = "postgres"
	StoreBackendMemory   = "memory"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	StoreBackend string `envconfig:"STORE_BACKEND" default:"postgres"`
	DatabaseURL  string `envconfig:"DATABASE_URL"`
	DBMinConns   int32  `envconfig:"JD_DB_MIN_CONNS" default:"1"`
	DBMaxConns   int32  `envconfig:"JD_DB_MAX_CONNS" default:"8"`

	RedisURL   string        `envconfig:"REDIS_URL" default:""`
	RunLockTTL time.Duration `envconfig:"RUN_LOCK_TTL" default:"30m"`

	GeminiAPIKey string `envconfig:"GEMINI_API_KEY" default:""`
	GeminiModel  string `envconfig:"GEMINI_MODEL" default:"gemini-1.5-flash"`

	ClassifierTimeout     time.Duration `envconfig:"CLASSIFIER_TIMEOUT" default:"15s"`
	ClassifierConcurrency int64         `envconfig:"CLASSIFIER_CONCURRENCY" default:"4"`
	ClassifyCacheTTL      time.Duration `envconfig:"CLASSIFY_CACHE_TTL" default:"720h"`
	EnrichCacheTTL        time.Duration `envconfig:"ENRICH_CACHE_TTL" default:"168h"`
	EnrichConcurrency     int64         `envconfig:"ENRICH_CONCURRENCY" default:"2"`
	EnrichTimeout         time.Duration `envconfig:"ENRICH_TIMEOUT" default:"20s"`
	MemoryCacheSize       int           `envconfig:"MEMORY_CACHE_SIZE" default:"10000"`

	ReconcileWorkers    int `envconfig:"RECONCILE_WORKERS" default:"4"`
	ReconcileMaxRetries int `envconfig:"RECONCILE_MAX_RETRIES" default:"3"`

	TuningFile       string `envconfig:"TUNING_FILE" default:""`
	ExpectedLanguage string `envconfig:"EXPECTED_LANGUAGE" default:"en"`

	HTTPAddr           string `envconfig:"HTTP_ADDR" default:":8080"`
	CORSAllowedOrigins string `envconfig:"CORS_ALLOWED_ORIGINS" default:""`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.StoreBackend {
	case StoreBackendPostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_BACKEND=postgres")
		}
	case StoreBackendMemory:
	default:
		return fmt.Errorf("STORE_BACKEND must be %q or %q, got %q", StoreBackendPostgres, StoreBackendMemory, c.StoreBackend)
	}
	if c.DBMinConns < 0 {
		return fmt.Errorf("JD_DB_MIN_CONNS must be >= 0")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("JD_DB_MAX_CONNS must be >= 1")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("JD_DB_MIN_CONNS (%d) cannot exceed JD_DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.ClassifierTimeout <= 0 {
		return fmt.Errorf("CLASSIFIER_TIMEOUT must be > 0")
	}
	if c.ClassifierConcurrency < 1 {
		return fmt.Errorf("CLASSIFIER_CONCURRENCY must be >= 1")
	}
	if c.EnrichConcurrency < 1 {
		return fmt.Errorf("ENRICH_CONCURRENCY must be >= 1")
	}
	if c.EnrichTimeout <= 0 {
		return fmt.Errorf("ENRICH_TIMEOUT must be > 0")
	}
	if c.ClassifyCacheTTL <= 0 || c.EnrichCacheTTL <= 0 {
		return fmt.Errorf("CLASSIFY_CACHE_TTL and ENRICH_CACHE_TTL must be > 0")
	}
	if c.MemoryCacheSize < 1 {
		return fmt.Errorf("MEMORY_CACHE_SIZE must be >= 1")
	}
	if strings.TrimSpace(c.ExpectedLanguage) != "" && langdetect.PrimaryCode(c.ExpectedLanguage) == "" {
		return fmt.Errorf("EXPECTED_LANGUAGE %q is not a language tag", c.ExpectedLanguage)
	}
	if c.ReconcileWorkers < 1 {
		return fmt.Errorf("RECONCILE_WORKERS must be >= 1")
	}
	if c.ReconcileMaxRetries < 1 {
		return fmt.Errorf("RECONCILE_MAX_RETRIES must be >= 1")
	}
	if c.RunLockTTL < time.Minute {
		return fmt.Errorf("RUN_LOCK_TTL must be >= 1m")
	}
	return nil
}

func (c *Config) CORSAllowedOriginsList() []string {
	if c == nil {
		return nil
	}

	parts := strings.Split(c.CORSAllowedOrigins, ",")
	origins := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		origin := strings.TrimSpace(part)
		if origin == "" {
			continue
		}
		if _, exists := seen[origin]; exists {
			continue
		}
		seen[origin] = struct{}{}
		origins = append(origins, origin)
	}
	return origins
}
