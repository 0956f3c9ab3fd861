package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port int
	Env  string

	// CORS
	AllowedOrigins []string

	// AdminToken guards /api/v1/admin routes; empty leaves them open.
	AdminToken string

	// Connection URLs
	PostgresURL   string
	RabbitMQURL   string
	RedisURL      string
	ClickHouseURL string

	// Upstream stats API
	OverFastBaseURL       string
	OverFastTimeout       time.Duration
	RequestsPerSecond     int
	FetchMaxRetries       int
	FetchBaseDelay        time.Duration
	FetchBatchConcurrency int

	// Queue consumers
	ConsumerCount   int
	ConsumerPrefix  string
	Prefetch        int
	MessageTTL      time.Duration
	IngestTimeout   time.Duration
	PublishTimeout  time.Duration
	ShutdownTimeout time.Duration

	// Recalculation
	RecalcCooldown     time.Duration
	AggregationTimeout time.Duration

	// Query cache
	CacheTTL      time.Duration
	MinGamesFloor int

	// ClickHouse snapshot archive
	ArchiveBatchSize     int
	ArchiveQueueSize     int
	ArchiveFlushInterval time.Duration

	// Scheduled jobs
	RefreshSchedule     string
	RefreshStaleAfter   time.Duration
	RefreshBatchLimit   int
	AggregationSchedule string
}

// Load loads configuration from a .env file (if present) and the environment.
// It returns an error if critical configuration is missing.
func Load() (*Config, error) {
	// A missing .env file is normal outside local development.
	_ = godotenv.Load()

	cfg := &Config{
		Port: getEnvInt("PORT", 8080),
		Env:  getEnv("ENV", "development"),

		AdminToken: getEnv("ADMIN_TOKEN", ""),

		OverFastBaseURL:       strings.TrimRight(getEnv("OVERFAST_BASE_URL", "https://overfast-api.tekrop.fr"), "/"),
		OverFastTimeout:       getEnvDuration("OVERFAST_TIMEOUT", 30*time.Second),
		RequestsPerSecond:     getEnvInt("OVERFAST_REQUESTS_PER_SECOND", 5),
		FetchMaxRetries:       getEnvInt("FETCH_MAX_RETRIES", 3),
		FetchBaseDelay:        getEnvDuration("FETCH_BASE_DELAY", time.Second),
		FetchBatchConcurrency: getEnvInt("REFRESH_CONCURRENCY", 4),

		ConsumerCount:   getEnvInt("CONSUMER_COUNT", 4),
		ConsumerPrefix:  getEnv("CONSUMER_PREFIX", "owstats-ingest"),
		Prefetch:        getEnvInt("CONSUMER_PREFETCH", 10),
		MessageTTL:      getEnvDuration("QUEUE_MESSAGE_TTL", time.Hour),
		IngestTimeout:   getEnvDuration("INGEST_TIMEOUT", 30*time.Second),
		PublishTimeout:  getEnvDuration("PUBLISH_TIMEOUT", 5*time.Second),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 15*time.Second),

		RecalcCooldown:     getEnvDuration("RECALC_COOLDOWN", 2*time.Minute),
		AggregationTimeout: getEnvDuration("AGGREGATION_TIMEOUT", 2*time.Minute),

		CacheTTL:      getEnvDuration("CACHE_TTL", 5*time.Minute),
		MinGamesFloor: getEnvInt("MIN_GAMES_FLOOR", 10),

		ArchiveBatchSize:     getEnvInt("ARCHIVE_BATCH_SIZE", 200),
		ArchiveQueueSize:     getEnvInt("ARCHIVE_QUEUE_SIZE", 1000),
		ArchiveFlushInterval: getEnvDuration("ARCHIVE_FLUSH_INTERVAL", 2*time.Second),

		RefreshSchedule:     getEnv("REFRESH_SCHEDULE", "@every 30m"),
		RefreshStaleAfter:   getEnvDuration("REFRESH_STALE_AFTER", 4*time.Hour),
		RefreshBatchLimit:   getEnvInt("REFRESH_BATCH_LIMIT", 50),
		AggregationSchedule: getEnv("AGGREGATION_SCHEDULE", "@every 4h"),

		ClickHouseURL: getEnv("CLICKHOUSE_URL", ""),
	}

	// CORS
	origins := getEnv("ALLOWED_ORIGINS", "http://localhost:3000")
	for _, o := range strings.Split(origins, ",") {
		if trimmed := strings.TrimSpace(o); trimmed != "" {
			cfg.AllowedOrigins = append(cfg.AllowedOrigins, trimmed)
		}
	}

	// Critical configuration - fail if missing
	var err error
	if cfg.PostgresURL, err = getEnvRequired("POSTGRES_URL"); err != nil {
		return nil, err
	}
	if cfg.RabbitMQURL, err = getEnvRequired("RABBITMQ_URL"); err != nil {
		return nil, err
	}
	if cfg.RedisURL, err = getEnvRequired("REDIS_URL"); err != nil {
		return nil, err
	}

	if cfg.RequestsPerSecond <= 0 {
		return nil, fmt.Errorf("OVERFAST_REQUESTS_PER_SECOND must be positive, got %d", cfg.RequestsPerSecond)
	}

	return cfg, nil
}

// IsProduction reports whether the service runs with production logging.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvRequired(key string) (string, error) {
	if value := os.Getenv(key); value != "" {
		return value, nil
	}
	return "", fmt.Errorf("missing required environment variable: %s", key)
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
