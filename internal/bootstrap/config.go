package bootstrap

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ServerAddr string
	LogLevel   string
	Version    string

	DatabaseDSN string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	PartitionCount int
	ReadBatchSize  int
	PollInterval   time.Duration
	ProcessTimeout time.Duration

	RateLimitWindow      time.Duration
	RateLimitMax         int
	BatchQuotaMultiplier int

	IngestAuthRequired bool

	AggregationWindow  time.Duration
	FlushTimeout       time.Duration
	FlushRetryAttempts uint

	SnapshotTTL       time.Duration
	AggregateCacheTTL time.Duration
}

func LoadConfig() *Config {
	// Missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	return &Config{
		ServerAddr: getEnv("SERVER_ADDR", ":8080"),
		LogLevel:   getEnv("LOG_LEVEL", "info"),
		Version:    getEnv("VERSION", "dev"),

		DatabaseDSN: getEnv("DATABASE_DSN", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		PartitionCount: getEnvInt("PARTITION_COUNT", 4),
		ReadBatchSize:  getEnvInt("READ_BATCH_SIZE", 64),
		PollInterval:   getEnvDuration("POLL_INTERVAL", 100*time.Millisecond),
		ProcessTimeout: getEnvDuration("PROCESS_TIMEOUT", 5*time.Second),

		RateLimitWindow:      getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		RateLimitMax:         getEnvInt("RATE_LIMIT_MAX", 100),
		BatchQuotaMultiplier: getEnvInt("BATCH_QUOTA_MULTIPLIER", 10),

		IngestAuthRequired: getEnvBool("INGEST_AUTH_REQUIRED", false),

		AggregationWindow:  getEnvDuration("AGGREGATION_WINDOW", time.Minute),
		FlushTimeout:       getEnvDuration("FLUSH_TIMEOUT", 30*time.Second),
		FlushRetryAttempts: uint(getEnvInt("FLUSH_RETRY_ATTEMPTS", 5)),

		SnapshotTTL:       getEnvDuration("SNAPSHOT_TTL", 5*time.Minute),
		AggregateCacheTTL: getEnvDuration("AGGREGATE_CACHE_TTL", time.Hour),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
