package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// The push channel URL falls back to the local dev socket service when
// unset.
const (
	DefaultPushURL = "ws://localhost:6001/v1/ws"
	DefaultRESTURL = "http://localhost:6002/api/v1"
)

type Config struct {
	Push struct {
		URL       string
		AuthToken string
	}
	REST struct {
		URL       string
		AuthToken string
	}
	Backoff struct {
		Base time.Duration
		Cap  time.Duration
	}
	Dedup struct {
		Window time.Duration
		Cap    int
	}
	Redis struct {
		Enabled  bool
		Host     string
		Port     int
		Password string
		DB       int
	}
	Kafka struct {
		Enabled bool
		Brokers []string
		GroupID string
		Topics  []string
	}
}

func Load(devMode bool) *Config {
	if devMode {
		if err := godotenv.Load(); err != nil {
			log.Debug().Err(err).Msg("No .env file loaded")
		}
	}

	cfg := &Config{}
	cfg.Push.URL = getEnv("REALTIME_WS_URL", DefaultPushURL)
	cfg.Push.AuthToken = getEnv("REALTIME_WS_TOKEN", "")
	cfg.REST.URL = getEnv("REALTIME_REST_URL", DefaultRESTURL)
	cfg.REST.AuthToken = getEnv("REALTIME_REST_TOKEN", cfg.Push.AuthToken)

	cfg.Backoff.Base = getEnvAsDuration("REALTIME_BACKOFF_BASE", time.Second)
	cfg.Backoff.Cap = getEnvAsDuration("REALTIME_BACKOFF_CAP", 30*time.Second)

	cfg.Dedup.Window = getEnvAsDuration("REALTIME_DEDUP_WINDOW", 5*time.Minute)
	cfg.Dedup.Cap = getEnvAsInt("REALTIME_DEDUP_CAP", 1024)

	cfg.Redis.Host = getEnv("REDIS_HOST", "")
	cfg.Redis.Enabled = cfg.Redis.Host != ""
	cfg.Redis.Port = getEnvAsInt("REDIS_PORT", 6379)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvAsInt("REDIS_DB", 0)

	brokers := getEnv("KAFKA_BROKERS", "")
	if brokers != "" {
		cfg.Kafka.Enabled = true
		cfg.Kafka.Brokers = splitCSV(brokers)
	}
	cfg.Kafka.GroupID = getEnv("KAFKA_GROUP_ID", "realtime-core")
	cfg.Kafka.Topics = splitCSV(getEnv("KAFKA_TOPICS", "realtime.events"))

	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
