package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	AutoMigrate bool

	JobStore      string
	BadgerPath    string
	QuotaBackend  string
	RedisURL      string
	TiersFile     string
	DefaultTier   string
	MaxItemsJob   int
	JobParallel   int
	SnapshotEvery time.Duration

	StorageBackend string
	StoragePath    string
	StorageBaseURL string
	S3Bucket       string
	S3Region       string

	GeminiAPIKey      string
	GeminiModel       string
	GeminiImageModel  string
	GeminiBaseURL     string
	NutritionBaseURL  string
	NutritionAPIKey   string
	PlaceholderURL    string
	ConceptRPS        float64
	NutritionRPS      float64
	ImageRPS          float64
	AdapterTimeout    time.Duration
	ImageTimeout      time.Duration
	DedupeScope       string
	DedupeThreshold   int
	RetryMaxAttempts  int
	RetryBaseDelay    time.Duration
	RetryMaxDelay     time.Duration
	StageDeadline     time.Duration
	BreakerWindow     int
	BreakerMinSamples int
	BreakerFailRate   float64
	BreakerCooldown   time.Duration
	BreakerMaxCool    time.Duration

	HealingEnabled    bool
	HealingSchedule   string
	HealingStaleAfter time.Duration
	HealingBatch      int
	HealingRegenerate bool

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
	CORSOrigins      []string
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	port := getEnv("PORT", "8080")
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        port,
		DatabaseURL: os.Getenv("DATABASE_URL"),
		AutoMigrate: getEnvBool("DB_AUTO_MIGRATE", false),

		JobStore:      strings.ToLower(getEnv("JOB_STORE", "")),
		BadgerPath:    getEnv("BADGER_PATH", "./data/jobs"),
		QuotaBackend:  strings.ToLower(getEnv("QUOTA_BACKEND", "")),
		RedisURL:      os.Getenv("REDIS_URL"),
		TiersFile:     os.Getenv("TIERS_FILE"),
		DefaultTier:   getEnv("DEFAULT_TIER", "free"),
		MaxItemsJob:   getEnvInt("MAX_ITEMS_PER_JOB", 20),
		JobParallel:   getEnvInt("JOB_PARALLELISM", 5),
		SnapshotEvery: getEnvDuration("SNAPSHOT_INTERVAL", 5*time.Second),

		StorageBackend: strings.ToLower(getEnv("STORAGE_BACKEND", "filesystem")),
		StoragePath:    getEnv("STORAGE_PATH", "./storage"),
		StorageBaseURL: getEnv("STORAGE_BASE_URL", "http://localhost:"+port+"/static"),
		S3Bucket:       os.Getenv("S3_BUCKET"),
		S3Region:       getEnv("S3_REGION", "us-east-1"),

		GeminiAPIKey:      os.Getenv("GEMINI_API_KEY"),
		GeminiModel:       getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		GeminiImageModel:  getEnv("GEMINI_IMAGE_MODEL", "gemini-2.5-flash-image"),
		GeminiBaseURL:     getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		NutritionBaseURL:  os.Getenv("NUTRITION_BASE_URL"),
		NutritionAPIKey:   os.Getenv("NUTRITION_API_KEY"),
		PlaceholderURL:    getEnv("PLACEHOLDER_IMAGE_URL", "https://static.mealgen.app/placeholders/recipe.png"),
		ConceptRPS:        getEnvFloat("CONCEPT_RPS", 5),
		NutritionRPS:      getEnvFloat("NUTRITION_RPS", 10),
		ImageRPS:          getEnvFloat("IMAGE_RPS", 2),
		AdapterTimeout:    getEnvDuration("ADAPTER_TIMEOUT", 30*time.Second),
		ImageTimeout:      getEnvDuration("IMAGE_TIMEOUT", 90*time.Second),
		DedupeScope:       strings.ToLower(getEnv("DEDUPE_SCOPE", "account")),
		DedupeThreshold:   getEnvInt("DEDUPE_THRESHOLD", 6),
		RetryMaxAttempts:  getEnvInt("RETRY_MAX_ATTEMPTS", 3),
		RetryBaseDelay:    getEnvDuration("RETRY_BASE_DELAY", 500*time.Millisecond),
		RetryMaxDelay:     getEnvDuration("RETRY_MAX_DELAY", 10*time.Second),
		StageDeadline:     getEnvDuration("STAGE_DEADLINE", 3*time.Minute),
		BreakerWindow:     getEnvInt("BREAKER_WINDOW", 20),
		BreakerMinSamples: getEnvInt("BREAKER_MIN_SAMPLES", 5),
		BreakerFailRate:   getEnvFloat("BREAKER_FAILURE_RATE", 0.5),
		BreakerCooldown:   getEnvDuration("BREAKER_COOLDOWN", 15*time.Second),
		BreakerMaxCool:    getEnvDuration("BREAKER_MAX_COOLDOWN", 5*time.Minute),

		HealingEnabled:    getEnvBool("HEALING_ENABLED", true),
		HealingSchedule:   getEnv("HEALING_SCHEDULE", "*/5 * * * *"),
		HealingStaleAfter: getEnvDuration("HEALING_STALE_AFTER", 10*time.Minute),
		HealingBatch:      getEnvInt("HEALING_BATCH", 50),
		HealingRegenerate: getEnvBool("HEALING_REGENERATE", true),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		CORSOrigins:      splitList(getEnv("CORS_ORIGINS", "*")),
	}

	if cfg.JobStore == "" {
		cfg.JobStore = "memory"
		if cfg.DatabaseURL != "" {
			cfg.JobStore = "postgres"
		}
	}
	if cfg.QuotaBackend == "" {
		cfg.QuotaBackend = "memory"
		if cfg.DatabaseURL != "" {
			cfg.QuotaBackend = "postgres"
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.JobStore {
	case "memory", "badger":
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when JOB_STORE=postgres")
		}
	default:
		return fmt.Errorf("unsupported JOB_STORE %q", c.JobStore)
	}
	switch c.QuotaBackend {
	case "memory":
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when QUOTA_BACKEND=postgres")
		}
	case "redis":
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when QUOTA_BACKEND=redis")
		}
	default:
		return fmt.Errorf("unsupported QUOTA_BACKEND %q", c.QuotaBackend)
	}
	switch c.StorageBackend {
	case "filesystem":
	case "s3":
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when STORAGE_BACKEND=s3")
		}
	default:
		return fmt.Errorf("unsupported STORAGE_BACKEND %q", c.StorageBackend)
	}
	switch c.DedupeScope {
	case "account", "global":
	default:
		return fmt.Errorf("DEDUPE_SCOPE must be account or global")
	}
	if c.JobParallel <= 0 {
		return fmt.Errorf("JOB_PARALLELISM must be positive")
	}
	if c.RetryMaxAttempts <= 0 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be positive")
	}
	if c.BreakerFailRate <= 0 || c.BreakerFailRate >= 1 {
		return fmt.Errorf("BREAKER_FAILURE_RATE must be in (0, 1)")
	}
	return nil
}

// UsesPostgres reports whether any component needs a database pool.
func (c *Config) UsesPostgres() bool {
	return c.JobStore == "postgres" || c.QuotaBackend == "postgres"
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
