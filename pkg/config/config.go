package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds process configuration.
type Config struct {
	LogLevel      string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	Stream        string
	ConsumerGroup string
	BatchSize     int
	BlockTimeout  time.Duration
	PollRate      float64

	DataDir       string
	SnapshotEvery uint64

	OTLPEndpoint     string
	TelemetryEnabled bool
}

// Load loads configuration from environment variables.
func Load() *Config {
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		// Default to local generic postgres
		dbURL = "postgres://credit@localhost:5432/creditcore?sslmode=disable"
	}

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}

	stream := os.Getenv("CREDIT_STREAM")
	if stream == "" {
		stream = "credit.events"
	}

	group := os.Getenv("CONSUMER_GROUP")
	if group == "" {
		group = "credit-core"
	}

	dataDir := os.Getenv("DATA_DIR")
	if dataDir == "" {
		dataDir = "./data"
	}

	return &Config{
		LogLevel:         logLevel,
		DatabaseURL:      dbURL,
		RedisAddr:        redisAddr,
		RedisPassword:    os.Getenv("REDIS_PASSWORD"),
		RedisDB:          envInt("REDIS_DB", 0),
		Stream:           stream,
		ConsumerGroup:    group,
		BatchSize:        envInt("BATCH_SIZE", 64),
		BlockTimeout:     envDuration("BLOCK_TIMEOUT", 5*time.Second),
		PollRate:         envFloat("POLL_RATE", 0),
		DataDir:          dataDir,
		SnapshotEvery:    uint64(envInt("SNAPSHOT_EVERY", 1000)),
		OTLPEndpoint:     os.Getenv("OTLP_ENDPOINT"),
		TelemetryEnabled: os.Getenv("TELEMETRY_ENABLED") == "true",
	}
}

func envInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func envFloat(key string, fallback float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return v
}

func envDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return v
}
