// Package config handles loading and validating configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the search deployment control plane.
type Config struct {
	// Server
	Port     string
	LogLevel string

	// Elasticsearch
	ElasticsearchURL    string
	ElasticsearchAPIKey string // Empty = unauthenticated cluster

	// Redis (optional; powers the ingest rate limiter)
	RedisHost     string
	RedisPort     int
	RedisPassword string

	// Ingest rate limiting
	RateLimitPerMinute int  // 0 disables the limiter entirely
	RateLimitFailOpen  bool // If true, allow ingest when a Redis check fails

	// Session lifecycle
	SessionTimeout time.Duration
	SweepInterval  time.Duration

	// Request body cap for batch ingest, in bytes.
	MaxBodyBytes int64
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Port:     getEnv("PORT", "3000"),
		LogLevel: getEnv("SEARCHOPS_LOG_LEVEL", "info"),

		ElasticsearchURL:    getEnv("ELASTICSEARCH_URL", "http://localhost:9200"),
		ElasticsearchAPIKey: os.Getenv("ELASTICSEARCH_API_KEY"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		RateLimitFailOpen: getEnv("SEARCHOPS_RATE_LIMIT_FAIL_OPEN", "true") == "true",

		MaxBodyBytes: 100 << 20,
	}

	redisPort, err := strconv.Atoi(getEnv("REDIS_PORT", "6379"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_PORT: %w", err)
	}
	cfg.RedisPort = redisPort

	ratePerMin, err := strconv.Atoi(getEnv("SEARCHOPS_RATE_LIMIT_PER_MIN", "600"))
	if err != nil || ratePerMin < 0 {
		return nil, fmt.Errorf("invalid SEARCHOPS_RATE_LIMIT_PER_MIN: %v", err)
	}
	cfg.RateLimitPerMinute = ratePerMin

	sessionTimeout, err := time.ParseDuration(getEnv("SEARCHOPS_SESSION_TIMEOUT", "1h"))
	if err != nil {
		return nil, fmt.Errorf("invalid SEARCHOPS_SESSION_TIMEOUT: %w", err)
	}
	cfg.SessionTimeout = sessionTimeout

	sweepInterval, err := time.ParseDuration(getEnv("SEARCHOPS_SWEEP_INTERVAL", "5m"))
	if err != nil {
		return nil, fmt.Errorf("invalid SEARCHOPS_SWEEP_INTERVAL: %w", err)
	}
	cfg.SweepInterval = sweepInterval

	if !strings.HasPrefix(cfg.ElasticsearchURL, "http://") && !strings.HasPrefix(cfg.ElasticsearchURL, "https://") {
		return nil, fmt.Errorf("invalid ELASTICSEARCH_URL %q: must be an http(s) URL", cfg.ElasticsearchURL)
	}

	return cfg, nil
}

// RedisAddr returns the Redis address in host:port format.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// RedactedElasticsearchURL masks embedded credentials for safe logging.
func (c *Config) RedactedElasticsearchURL() string {
	at := strings.LastIndex(c.ElasticsearchURL, "@")
	if at == -1 {
		return c.ElasticsearchURL
	}
	scheme := ""
	rest := c.ElasticsearchURL
	if i := strings.Index(rest, "://"); i != -1 {
		scheme = rest[:i+3]
		rest = rest[i+3:]
		at = strings.LastIndex(rest, "@")
		if at == -1 {
			return c.ElasticsearchURL
		}
	}
	return scheme + "***@" + rest[at+1:]
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
