// config.go — Service configuration loaded from environment variables.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// schemaRE restricts DB_SCHEMA to a safe SQL identifier.
var schemaRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Config holds all configuration for the API server and the worker runtime.
type Config struct {
	// Service
	ServiceName string
	Environment string
	LogLevel    string
	LogFormat   string
	SentryDSN   string

	// HTTP
	APIPort string

	// Database
	DatabaseURL  string
	DBSchema     string
	DBPoolSize   int
	DBAutoCreate bool

	// Redis (cache + queue)
	RedisURL       string
	QueueName      string
	ResultTTL      time.Duration
	MemoryCacheMax int
	MemoryCacheTTL time.Duration

	// Extraction
	ExtractionTimeout  time.Duration
	RetryMaxAttempts   int
	RetryBackoffFactor float64
	ProxyURLs          string // comma-separated
	ProxyAuth          string // user:pass injected into proxy URLs lacking credentials
	ProxyCooldown      time.Duration
	ProxyMaxFailures   int

	// Rate limiting
	RateLimitRPM      int
	RateLimitBurst    int
	RateLimitFailOpen bool

	// Security
	APIKey           string
	APIKeyHeaderName string
	JWTSecret        string
	AllowedOrigins   []string

	// Workers
	WorkerConcurrency int
	WorkerDBPoolSize  int

	// Webhooks
	WebhookSecret     string
	WebhookTimeout    time.Duration
	WebhookMaxRetries int
}

// Load reads configuration from environment variables with sensible defaults.
// DATABASE_URL is required; everything else has a default. An invalid
// DB_SCHEMA is rejected rather than interpolated into DDL.
func Load() (*Config, error) {
	cfg := &Config{
		ServiceName: getEnv("SERVICE_NAME", "youtube-subtitles-api"),
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", "json"),
		SentryDSN:   os.Getenv("SENTRY_DSN"),

		APIPort: getEnv("API_PORT", "8010"),

		DatabaseURL:  os.Getenv("DATABASE_URL"),
		DBSchema:     getEnv("DB_SCHEMA", "youtube_subtitles"),
		DBPoolSize:   getInt("DB_POOL_SIZE", 10),
		DBAutoCreate: getBool("DB_AUTO_CREATE", true),

		RedisURL:       getEnv("REDIS_URL", "redis://localhost:6379/2"),
		QueueName:      getEnv("REDIS_QUEUE_NAME", "youtube-extraction"),
		ResultTTL:      getSeconds("REDIS_RESULT_TTL", 86400),
		MemoryCacheMax: getInt("MEMORY_CACHE_SIZE", 1024),
		MemoryCacheTTL: getSeconds("MEMORY_CACHE_TTL", 300),

		ExtractionTimeout:  getSeconds("YT_EXTRACTION_TIMEOUT", 30),
		RetryMaxAttempts:   getInt("YT_RETRY_MAX_ATTEMPTS", 3),
		RetryBackoffFactor: getFloat("YT_RETRY_BACKOFF_FACTOR", 2.0),
		ProxyURLs:          os.Getenv("YT_PROXY_URLS"),
		ProxyAuth:          os.Getenv("YT_PROXY_AUTH"),
		ProxyCooldown:      getSeconds("PROXY_COOLDOWN_SECONDS", 60),
		ProxyMaxFailures:   getInt("PROXY_MAX_FAILURES", 3),

		RateLimitRPM:      getInt("RATE_LIMIT_REQUESTS_PER_MINUTE", 30),
		RateLimitBurst:    getInt("RATE_LIMIT_BURST_SIZE", 5),
		RateLimitFailOpen: getBool("RATE_LIMIT_FAIL_OPEN", false),

		APIKey:           os.Getenv("API_KEY"),
		APIKeyHeaderName: getEnv("API_KEY_HEADER_NAME", "X-API-Key"),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		AllowedOrigins:   parseOrigins(os.Getenv("ALLOWED_ORIGINS")),

		WorkerConcurrency: getInt("WORKER_CONCURRENCY", 2),
		WorkerDBPoolSize:  getInt("WORKER_DB_POOL_SIZE", 5),

		WebhookSecret:     os.Getenv("WEBHOOK_SECRET"),
		WebhookTimeout:    getSeconds("WEBHOOK_TIMEOUT", 10),
		WebhookMaxRetries: getInt("WEBHOOK_MAX_RETRIES", 3),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if !schemaRE.MatchString(cfg.DBSchema) {
		return nil, fmt.Errorf("DB_SCHEMA %q is not a valid identifier", cfg.DBSchema)
	}
	return cfg, nil
}

// QueueJobTimeout is the deadline the queue enforces per job: the extraction
// timeout plus headroom for persistence and webhook delivery.
func (c *Config) QueueJobTimeout() time.Duration {
	return c.ExtractionTimeout + 10*time.Second
}

// parseOrigins interprets ALLOWED_ORIGINS as a comma-separated list.
// Empty means deny all; "*" allows every origin.
func parseOrigins(raw string) []string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}
	if s == "*" {
		return []string{"*"}
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		switch strings.ToLower(v) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}

func getSeconds(key string, fallback int) time.Duration {
	return time.Duration(getInt(key, fallback)) * time.Second
}
