package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port string

	// Auth (optional; empty disables bearer auth)
	APIKey string

	// Outbound fetching
	UserAgent     string
	FetchTimeout  time.Duration
	FetchRetries  int
	FetchBackoff  time.Duration
	FetchRPS      float64
	MaxFetchBytes int64

	// Cache
	CacheBackend string
	CacheDir     string
	CacheTTL     time.Duration

	// Redis (only when CacheBackend == "redis")
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Source-bundle conversion
	PandocPath        string
	PandocTimeout     time.Duration
	MaxConcurrentConv int

	// Digest store
	DigestTTL       time.Duration
	MaxDisplayBytes int
}

const (
	BackendMemory     = "memory"
	BackendFilesystem = "filesystem"
	BackendRedis      = "redis"
)

func Load() Config {
	cfg := Config{
		Port: envOr("PORT", "8080"),

		APIKey: os.Getenv("ARXIVMD_API_KEY"),

		UserAgent:     envOr("ARXIVMD_USER_AGENT", "arxivmd/0.1 (+https://github.com/dgallion1/arxivmd)"),
		FetchTimeout:  envDuration("FETCH_TIMEOUT", 10*time.Second),
		FetchRetries:  envInt("FETCH_MAX_RETRIES", 2),
		FetchBackoff:  envDuration("FETCH_BACKOFF", 500*time.Millisecond),
		FetchRPS:      envFloat("FETCH_RPS", 2.0),
		MaxFetchBytes: envInt64("MAX_FETCH_BYTES", 52428800), // 50MB

		CacheBackend: envOr("CACHE_BACKEND", BackendMemory),
		CacheDir:     envOr("CACHE_DIR", ".arxivmd_cache"),
		CacheTTL:     envDuration("CACHE_TTL", 24*time.Hour),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       envInt("REDIS_DB", 0),

		PandocPath:        envOr("PANDOC_PATH", "pandoc"),
		PandocTimeout:     envDuration("PANDOC_TIMEOUT", 300*time.Second),
		MaxConcurrentConv: envInt("MAX_CONCURRENT_CONVERSIONS", 2),

		DigestTTL:       envDuration("DIGEST_TTL", 1*time.Hour),
		MaxDisplayBytes: envInt("MAX_DISPLAY_BYTES", 300000),
	}

	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 10 * time.Second
	}
	if cfg.FetchRetries < 0 {
		cfg.FetchRetries = 2
	}
	if cfg.FetchBackoff <= 0 {
		cfg.FetchBackoff = 500 * time.Millisecond
	}
	if cfg.FetchRPS <= 0 {
		cfg.FetchRPS = 2.0
	}
	if cfg.MaxFetchBytes <= 0 {
		cfg.MaxFetchBytes = 52428800
	}
	if cfg.PandocTimeout <= 0 {
		cfg.PandocTimeout = 300 * time.Second
	}
	if cfg.MaxConcurrentConv <= 0 {
		cfg.MaxConcurrentConv = 2
	}
	if cfg.DigestTTL <= 0 {
		cfg.DigestTTL = 1 * time.Hour
	}
	if cfg.MaxDisplayBytes <= 0 {
		cfg.MaxDisplayBytes = 300000
	}

	return cfg
}

func (c Config) Validate() error {
	switch c.CacheBackend {
	case BackendMemory:
	case BackendFilesystem:
		if c.CacheDir == "" {
			return fmt.Errorf("CACHE_DIR is required for the filesystem cache backend")
		}
	case BackendRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required for the redis cache backend")
		}
	default:
		return fmt.Errorf("unknown CACHE_BACKEND %q (want memory, filesystem, or redis)", c.CacheBackend)
	}
	if c.PandocPath == "" {
		return fmt.Errorf("PANDOC_PATH must not be empty")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
